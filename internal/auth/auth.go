// Package auth issues the signed cookie that identifies a logged-in user
// after a magic-link login, and revokes it on logout.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// CookieName is the auth cookie.
const CookieName = "wildid_auth"

type contextKey string

// ClaimsContextKey is the key used to store claims in the request context.
const ClaimsContextKey contextKey = "claims"

type tokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Issuer signs, parses and revokes auth tokens.
type Issuer struct {
	key       []byte
	ttl       time.Duration
	secure    bool
	blacklist repository.TokenBlacklist
	log       zerolog.Logger
	now       func() time.Time
}

func NewIssuer(key []byte, ttl time.Duration, secureCookie bool, blacklist repository.TokenBlacklist, log zerolog.Logger) *Issuer {
	return &Issuer{
		key:       key,
		ttl:       ttl,
		secure:    secureCookie,
		blacklist: blacklist,
		log:       log,
		now:       time.Now,
	}
}

// Issue signs a token for user.
func (i *Issuer) Issue(user *models.User) (string, error) {
	now := i.now()
	claims := &tokenClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", errors.Wrap(err, "auth.Issue.Sign")
	}
	return signed, nil
}

// Parse validates a token and checks it against the blacklist.
func (i *Issuer) Parse(ctx context.Context, tokenStr string) (*models.Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &tokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid || tc.ID == "" || tc.ExpiresAt == nil {
		return nil, errors.New("invalid token claims")
	}

	revoked, err := i.blacklist.IsRevoked(ctx, tc.ID)
	if err != nil {
		return nil, errors.Wrap(err, "auth.Parse.IsRevoked")
	}
	if revoked {
		return nil, errors.New("token revoked")
	}

	return &models.Claims{
		UserID: tc.UserID,
		Email:  tc.Email,
		JTI:    tc.ID,
		Expiry: tc.ExpiresAt.Time,
	}, nil
}

// Revoke blacklists the token for the rest of its lifetime.
func (i *Issuer) Revoke(ctx context.Context, claims *models.Claims) error {
	return i.blacklist.Revoke(ctx, claims.JTI, claims.Expiry.Sub(i.now()))
}

func (i *Issuer) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.secure,
		MaxAge:   int(i.ttl / time.Second),
	})
}

func (i *Issuer) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.secure,
		MaxAge:   -1,
	})
}

// LoadUser attaches claims for a valid auth cookie or bearer token. Requests
// without one pass through anonymously.
func (i *Issuer) LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := i.Parse(r.Context(), tokenStr)
		if err != nil {
			i.log.Debug().Err(err).Msg("ignoring invalid auth token")
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetClaims(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(models.ErrorResponse{
				Error:   string(appErrors.CodeUnauthenticated),
				Message: appErrors.ErrNotLoggedIn.Error(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) (*models.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey).(*models.Claims)
	return claims, ok
}

// UserID returns the authenticated user id, if any.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
