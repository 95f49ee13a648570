package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// OpenAI calls the chat completions API with an inline image.
type OpenAI struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewOpenAI(apiKey, model, baseURL string, timeout time.Duration) *OpenAI {
	return &OpenAI{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *OpenAI) Name() string { return "openai" }

type openAIContent struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string          `json:"role"`
	Content []openAIContent `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *OpenAI) Identify(ctx context.Context, image []byte, mimeType string) (*models.Classification, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))
	body := openAIRequest{
		Model: o.model,
		Messages: []openAIMessage{{
			Role: "user",
			Content: []openAIContent{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &openAIImageURL{URL: dataURL}},
			},
		}},
		MaxTokens: 500,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "classifier.OpenAI.Marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "classifier.OpenAI.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, appErrors.ErrUpstreamUnavailable(errors.Wrap(err, "openai request"))
	}
	defer resp.Body.Close()

	slurp, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.ErrUpstreamUnavailable(errors.Wrap(err, "openai read"))
	}
	if resp.StatusCode/100 != 2 {
		return nil, appErrors.ErrUpstreamUnavailable(fmt.Errorf("openai non-2xx: status=%d", resp.StatusCode))
	}

	var ai openAIResponse
	if err := json.Unmarshal(slurp, &ai); err != nil {
		return nil, appErrors.ErrUpstreamUnavailable(errors.Wrap(err, "bad openai response"))
	}
	if len(ai.Choices) == 0 {
		return nil, appErrors.ErrUpstreamUnavailable(errors.New("no choices from openai"))
	}
	return parseContent(ai.Choices[0].Message.Content, o.Name()), nil
}
