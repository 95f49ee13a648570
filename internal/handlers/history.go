package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/auth"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	maxCommentLength = 1000
)

// HistoryHandler serves a user's past identifications and account removal.
// Every route requires auth.RequireUser.
type HistoryHandler struct {
	history repository.IdentificationRepository
	users   repository.UserRepository
	issuer  *auth.Issuer
	log     zerolog.Logger
	now     func() time.Time
}

func NewHistoryHandler(history repository.IdentificationRepository, users repository.UserRepository, issuer *auth.Issuer, log zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, users: users, issuer: issuer, log: log, now: time.Now}
}

func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	items, err := h.history.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if items == nil {
		items = []models.Identification{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *HistoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, appErrors.ErrRecordNotFound)
		return
	}

	ident, err := h.history.Get(r.Context(), id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.log, appErrors.ErrRecordNotFound)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, ident)
}

func (h *HistoryHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log, appErrors.ErrRecordNotFound)
		return
	}

	var req models.FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.Feedback != models.FeedbackCorrect && req.Feedback != models.FeedbackIncorrect {
		writeError(w, h.log, appErrors.ErrInvalidFeedback)
		return
	}
	comment := truncateRunes(strings.TrimSpace(req.Comment), maxCommentLength)

	err = h.history.SetFeedback(r.Context(), id, userID, req.Feedback, comment, h.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.log, appErrors.ErrRecordNotFound)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "saved"})
}

// DeleteAccount removes the user and their history, then ends the login.
func (h *HistoryHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.GetClaims(r.Context())
	userID, idOK := auth.UserID(r.Context())
	if !ok || !idOK {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}

	err := h.users.Delete(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.log, appErrors.ErrUserNotFound)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.issuer.Revoke(r.Context(), claims); err != nil {
		h.log.Error().Err(err).Msg("failed to revoke auth token after account deletion")
	}
	h.issuer.ClearCookie(w)
	h.log.Info().Str("user_id", userID.String()).Msg("account deleted")
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "deleted"})
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
