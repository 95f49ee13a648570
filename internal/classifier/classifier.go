// Package classifier sends images to hosted vision models and normalises
// their answers into a Classification.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/wildid/wildid-server/internal/metrics"
	"github.com/wildid/wildid-server/internal/models"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// Classifier identifies the animal in an image.
type Classifier interface {
	Name() string
	Identify(ctx context.Context, image []byte, mimeType string) (*models.Classification, error)
}

const prompt = `Identify the animal in this image.
Provide the scientific name, common name, the kind of animal (mammal, bird, reptile, amphibian, fish, insect or other),
its IUCN conservation status if known, and a brief description of the key identifying features.
If the image does not show an animal, or you cannot identify the species clearly, say so.
Respond with JSON only, using this structure:
{
  "is_animal": true,
  "species": "scientific name",
  "common_name": "common name",
  "animal_type": "mammal|bird|reptile|amphibian|fish|insect|other",
  "conservation_status": "IUCN status or Unknown",
  "confidence": "high|medium|low",
  "description": "key identifying features",
  "notes": "any additional notes"
}`

// parseContent decodes the model's text answer. Markdown code fences are
// stripped; text that is not JSON is kept as a low-confidence description.
func parseContent(content, provider string) *models.Classification {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var c models.Classification
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return &models.Classification{
			IsAnimal:    true,
			Species:     "Unknown",
			CommonName:  "Unknown",
			Confidence:  models.ConfidenceLow,
			Description: strings.TrimSpace(content),
			Notes:       "Response was not in expected JSON format",
			Provider:    provider,
		}
	}

	switch c.Confidence = strings.ToLower(strings.TrimSpace(c.Confidence)); c.Confidence {
	case models.ConfidenceHigh, models.ConfidenceMedium, models.ConfidenceLow:
	default:
		c.Confidence = models.ConfidenceLow
	}
	c.Provider = provider
	return &c
}

// Set routes requests to a named provider, falling back to the default.
type Set struct {
	providers map[string]Classifier
	fallback  string
	metrics   *metrics.Metrics
}

// NewSet registers the given classifiers; the first one is the default.
func NewSet(m *metrics.Metrics, classifiers ...Classifier) *Set {
	s := &Set{providers: make(map[string]Classifier), metrics: m}
	for _, c := range classifiers {
		if c == nil {
			continue
		}
		if s.fallback == "" {
			s.fallback = c.Name()
		}
		s.providers[c.Name()] = c
	}
	return s
}

// Names lists the configured provider names.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.providers))
	for name := range s.providers {
		out = append(out, name)
	}
	return out
}

// Identify runs the preferred provider, or the default when the preferred
// one is not configured.
func (s *Set) Identify(ctx context.Context, preferred string, image []byte, mimeType string) (*models.Classification, error) {
	c, ok := s.providers[strings.ToLower(strings.TrimSpace(preferred))]
	if !ok {
		c, ok = s.providers[s.fallback]
	}
	if !ok {
		return nil, appErrors.ErrUpstreamUnavailable(errors.New("no classifier configured"))
	}

	start := time.Now()
	result, err := c.Identify(ctx, image, mimeType)
	s.metrics.ClassifierCall(c.Name(), err == nil, time.Since(start))
	if err != nil {
		if _, isApp := appErrors.As(err); isApp {
			return nil, err
		}
		return nil, appErrors.ErrUpstreamUnavailable(err)
	}
	return result, nil
}
