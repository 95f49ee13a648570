package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an account created on first successful magic-link login.
type User struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	IsActive  bool       `json:"is_active"`
}

// LoginToken is a single-use magic-link credential. Only the SHA-256 of the
// plaintext token is stored.
type LoginToken struct {
	ID        uuid.UUID  `json:"id"`
	Email     string     `json:"email"`
	TokenHash string     `json:"-"`
	RequestIP string     `json:"request_ip"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Used      bool       `json:"used"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// LoginRequest represents a magic-link request payload.
type LoginRequest struct {
	Email string `json:"email"`
}

// Claims holds the custom claims carried by the auth cookie.
type Claims struct {
	UserID string    `json:"user_id"`
	Email  string    `json:"email"`
	JTI    string    `json:"-"`
	Expiry time.Time `json:"-"`
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
