package handlers

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/auth"
	"github.com/wildid/wildid-server/internal/mail"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	"github.com/wildid/wildid-server/internal/tokens"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// AuthHandler implements magic-link login.
type AuthHandler struct {
	tokens *tokens.Service
	users  repository.UserRepository
	issuer *auth.Issuer
	mailer mail.Sender
	log    zerolog.Logger

	baseURL        string
	afterLoginPath string
	now            func() time.Time
}

func NewAuthHandler(tokenSvc *tokens.Service, users repository.UserRepository, issuer *auth.Issuer, mailer mail.Sender, baseURL, afterLoginPath string, log zerolog.Logger) *AuthHandler {
	if afterLoginPath == "" {
		afterLoginPath = "/"
	}
	return &AuthHandler{
		tokens:         tokenSvc,
		users:          users,
		issuer:         issuer,
		mailer:         mailer,
		log:            log,
		baseURL:        strings.TrimRight(baseURL, "/"),
		afterLoginPath: afterLoginPath,
		now:            time.Now,
	}
}

// Login sends a magic link. The answer is the same whether or not the
// address belongs to an account.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.log, err)
			return
		}
	} else {
		req.Email = r.PostFormValue("email")
	}

	state := stateFrom(r)
	plaintext, err := h.tokens.Generate(r.Context(), req.Email, state.ClientIP)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	link := h.baseURL + "/auth/verify?token=" + url.QueryEscape(plaintext)
	email := tokens.NormalizeEmail(req.Email)
	minutes := int(h.tokens.TTL() / time.Minute)
	if err := h.mailer.SendMagicLink(r.Context(), email, link, minutes); err != nil {
		h.log.Error().Err(err).Msg("failed to send magic link")
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{
		Status:  "sent",
		Message: "If that address can receive mail, a login link is on its way.",
	})
}

// Verify redeems a magic link, creating the user on first login.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	email, err := h.tokens.Verify(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	now := h.now().UTC()
	user, err := h.users.GetOrCreateByEmail(r.Context(), email, now)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if !user.IsActive {
		writeError(w, h.log, appErrors.Unauthorized("This account is disabled"))
		return
	}
	if err := h.users.RecordLogin(r.Context(), user.ID, now); err != nil {
		h.log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to record login")
	} else {
		user.LastLogin = &now
	}

	token, err := h.issuer.Issue(user)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	h.issuer.SetCookie(w, token)
	h.log.Info().Str("user_id", user.ID.String()).Msg("user logged in")

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
		return
	}
	http.Redirect(w, r, h.afterLoginPath, http.StatusSeeOther)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, ok := auth.GetClaims(r.Context()); ok {
		if err := h.issuer.Revoke(r.Context(), claims); err != nil {
			h.log.Error().Err(err).Msg("failed to revoke auth token")
		}
	}
	h.issuer.ClearCookie(w)
	writeJSON(w, http.StatusOK, models.StatusResponse{Status: "logged_out"})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}
	user, err := h.users.GetByID(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, h.log, appErrors.ErrNotLoggedIn)
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user})
}
