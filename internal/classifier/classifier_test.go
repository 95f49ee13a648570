package classifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildid/wildid-server/internal/models"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

const turtleJSON = `{"is_animal":true,"species":"Chelonia mydas","common_name":"Green sea turtle","animal_type":"reptile","conservation_status":"Endangered","confidence":"High","description":"Smooth carapace","notes":""}`

func TestParseContent(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		c := parseContent(turtleJSON, "openai")
		assert.Equal(t, "Chelonia mydas", c.Species)
		assert.Equal(t, models.ConfidenceHigh, c.Confidence)
		assert.Equal(t, "openai", c.Provider)
	})

	t.Run("fenced json", func(t *testing.T) {
		c := parseContent("```json\n"+turtleJSON+"\n```", "gemini")
		assert.Equal(t, "Green sea turtle", c.CommonName)
	})

	t.Run("free text falls back to low confidence", func(t *testing.T) {
		c := parseContent("Looks like a turtle to me.", "openai")
		assert.Equal(t, "Unknown", c.Species)
		assert.Equal(t, models.ConfidenceLow, c.Confidence)
		assert.Equal(t, "Looks like a turtle to me.", c.Description)
	})

	t.Run("unknown confidence is low", func(t *testing.T) {
		c := parseContent(`{"species":"x","confidence":"certain"}`, "openai")
		assert.Equal(t, models.ConfidenceLow, c.Confidence)
	})
}

func TestOpenAI_Identify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages[0].Content, 2)
		assert.Contains(t, req.Messages[0].Content[1].ImageURL.URL, "data:image/png;base64,")

		content, _ := json.Marshal(turtleJSON)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":`+string(content)+`}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI("sk-test", "gpt-4o", srv.URL, 5*time.Second).Identify(context.Background(), []byte("img"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "Chelonia mydas", c.Species)
}

func TestOpenAI_Non2xxIsUpstreamUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAI("sk-test", "gpt-4o", srv.URL, 5*time.Second).Identify(context.Background(), []byte("img"), "image/png")
	assert.Equal(t, appErrors.CodeUpstreamUnavailable, appErrors.CodeOf(err))
}

func TestOpenAI_TimeoutIsUpstreamUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewOpenAI("sk-test", "gpt-4o", srv.URL, 50*time.Millisecond).Identify(context.Background(), []byte("img"), "image/png")
	assert.Equal(t, appErrors.CodeUpstreamUnavailable, appErrors.CodeOf(err))
}

func TestGemini_Identify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.URL.Query().Get("key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "image/jpeg", req.Contents[0].Parts[1].InlineData.MimeType)

		text, _ := json.Marshal(turtleJSON)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":`+string(text)+`}]}}]}`)
	}))
	defer srv.Close()

	c, err := NewGemini("g-key", "gemini-1.5-flash", srv.URL, 5*time.Second).Identify(context.Background(), []byte("img"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Provider)
}

type stubClassifier struct {
	name string
	err  error
}

func (s stubClassifier) Name() string { return s.name }

func (s stubClassifier) Identify(context.Context, []byte, string) (*models.Classification, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Classification{Species: s.name, Provider: s.name}, nil
}

func TestSet_Routing(t *testing.T) {
	set := NewSet(nil, stubClassifier{name: "openai"}, stubClassifier{name: "gemini"})
	ctx := context.Background()

	c, err := set.Identify(ctx, "Gemini", nil, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "gemini", c.Provider)

	c, err = set.Identify(ctx, "", nil, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Provider, "first registered is the default")

	c, err = set.Identify(ctx, "claude", nil, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Provider)
}

func TestSet_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewSet(nil).Identify(ctx, "openai", nil, "image/png")
	assert.Equal(t, appErrors.CodeUpstreamUnavailable, appErrors.CodeOf(err))

	_, err = NewSet(nil, stubClassifier{name: "openai", err: io.ErrUnexpectedEOF}).Identify(ctx, "", nil, "image/png")
	assert.Equal(t, appErrors.CodeUpstreamUnavailable, appErrors.CodeOf(err))
}
