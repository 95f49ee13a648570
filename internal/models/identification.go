package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Confidence levels reported by the classifier.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Feedback values a user can attach to an identification.
const (
	FeedbackCorrect   = "correct"
	FeedbackIncorrect = "incorrect"
)

// Classification is the normalised answer of the vision model.
type Classification struct {
	IsAnimal           bool   `json:"is_animal"`
	Species            string `json:"species"`
	CommonName         string `json:"common_name"`
	AnimalType         string `json:"animal_type"`
	ConservationStatus string `json:"conservation_status"`
	Confidence         string `json:"confidence"`
	Description        string `json:"description"`
	Notes              string `json:"notes"`
	Provider           string `json:"provider"`
}

// Identification is a stored classification owned by a user.
type Identification struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	CreatedAt          time.Time       `json:"created_at"`
	Species            string          `json:"species"`
	CommonName         string          `json:"common_name"`
	AnimalType         string          `json:"animal_type"`
	ConservationStatus string          `json:"conservation_status"`
	Confidence         string          `json:"confidence"`
	Description        string          `json:"description"`
	Notes              string          `json:"notes"`
	ImageData          string          `json:"image_data,omitempty"`
	ImageMime          string          `json:"image_mime,omitempty"`
	ResultJSON         json.RawMessage `json:"result,omitempty"`
	UserFeedback       *string         `json:"user_feedback,omitempty"`
	FeedbackComment    *string         `json:"feedback_comment,omitempty"`
	FeedbackAt         *time.Time      `json:"feedback_at,omitempty"`
}

// IdentifyResponse is returned by the identify endpoints.
type IdentifyResponse struct {
	Classification
	IdentificationID *uuid.UUID `json:"identification_id,omitempty"`
}

// FeedbackRequest attaches a verdict to an identification.
type FeedbackRequest struct {
	Feedback string `json:"feedback"`
	Comment  string `json:"comment"`
}

// IdentificationEvent is published after an identification is stored.
type IdentificationEvent struct {
	IdentificationID uuid.UUID `json:"identification_id"`
	UserID           uuid.UUID `json:"user_id"`
	Species          string    `json:"species"`
	AnimalType       string    `json:"animal_type"`
	Confidence       string    `json:"confidence"`
	CreatedAt        time.Time `json:"created_at"`
}
