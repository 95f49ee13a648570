package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/repository"
)

func newTestIssuer() *Issuer {
	return NewIssuer([]byte("test-key-test-key-test-key-12345"), time.Hour, false, repository.NewMemoryBlacklist(), zerolog.Nop())
}

var testUser = &models.User{ID: uuid.MustParse("7d1f3c8e-8a9b-4f4e-9d55-2f1e0d7b6a11"), Email: "ranger@example.com"}

func TestIssuer_IssueAndParse(t *testing.T) {
	iss := newTestIssuer()

	token, err := iss.Issue(testUser)
	require.NoError(t, err)

	claims, err := iss.Parse(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, testUser.ID.String(), claims.UserID)
	assert.Equal(t, testUser.Email, claims.Email)
	assert.NotEmpty(t, claims.JTI)
}

func TestIssuer_RejectsForeignKeyAndExpiry(t *testing.T) {
	iss := newTestIssuer()
	token, err := iss.Issue(testUser)
	require.NoError(t, err)

	other := NewIssuer([]byte("another-key-another-key-12345678"), time.Hour, false, repository.NewMemoryBlacklist(), zerolog.Nop())
	_, err = other.Parse(context.Background(), token)
	assert.Error(t, err)

	iss.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = iss.Parse(context.Background(), token)
	assert.Error(t, err)
}

func TestIssuer_RevokedTokenIsRejected(t *testing.T) {
	iss := newTestIssuer()
	ctx := context.Background()
	token, err := iss.Issue(testUser)
	require.NoError(t, err)

	claims, err := iss.Parse(ctx, token)
	require.NoError(t, err)
	require.NoError(t, iss.Revoke(ctx, claims))

	_, err = iss.Parse(ctx, token)
	assert.ErrorContains(t, err, "revoked")
}

func TestLoadUserAndRequireUser(t *testing.T) {
	iss := newTestIssuer()
	token, err := iss.Issue(testUser)
	require.NoError(t, err)

	protected := iss.LoadUser(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := UserID(r.Context())
		assert.True(t, ok)
		assert.Equal(t, testUser.ID, id)
		w.WriteHeader(http.StatusNoContent)
	})))

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.JSONEq(t, `{"error":"unauthenticated","message":"Please log in to continue"}`, rec.Body.String())
	})

	t.Run("garbage token passes as anonymous", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		r.AddCookie(&http.Cookie{Name: CookieName, Value: "not.a.jwt"})
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, r)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCookies(t *testing.T) {
	iss := newTestIssuer()

	rec := httptest.NewRecorder()
	iss.SetCookie(rec, "tok")
	c := rec.Result().Cookies()[0]
	assert.Equal(t, CookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, 3600, c.MaxAge)

	rec = httptest.NewRecorder()
	iss.ClearCookie(rec)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}
