package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wildid/wildid-server/internal/models"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// Gemini calls the generateContent API with inline image data.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGemini(apiKey, model, baseURL string, timeout time.Duration) *Gemini {
	return &Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Identify(ctx context.Context, image []byte, mimeType string) (*models.Classification, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{
			{Text: prompt},
			{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
		}}},
	}
	body.GenerationConfig.Temperature = 0.1
	body.GenerationConfig.MaxOutputTokens = 500

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "classifier.Gemini.Marshal")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "classifier.Gemini.NewRequest")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		// The URL carries the key; never surface it.
		return nil, appErrors.ErrUpstreamUnavailable(errors.New("gemini request failed"))
	}
	defer resp.Body.Close()

	slurp, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, appErrors.ErrUpstreamUnavailable(errors.Wrap(err, "gemini read"))
	}
	if resp.StatusCode/100 != 2 {
		return nil, appErrors.ErrUpstreamUnavailable(fmt.Errorf("gemini non-2xx: status=%d", resp.StatusCode))
	}

	var out geminiResponse
	if err := json.Unmarshal(slurp, &out); err != nil {
		return nil, appErrors.ErrUpstreamUnavailable(errors.Wrap(err, "bad gemini response"))
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, appErrors.ErrUpstreamUnavailable(errors.New("no candidates from gemini"))
	}
	return parseContent(out.Candidates[0].Content.Parts[0].Text, g.Name()), nil
}
