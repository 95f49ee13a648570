// Package session binds every request to a cookie session that carries the
// browser fingerprint and the CSRF secret.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

const (
	// CookieName is the name of the session cookie.
	CookieName = "wildid_session"

	keyFingerprint = "fingerprint"
	keyCSRF        = "csrf_token"
	keyPermanent   = "permanent"
)

type contextKey string

const stateContextKey contextKey = "session_state"

// State is what handlers see of the session.
type State struct {
	Fingerprint string
	CSRFToken   string
	ClientIP    string
}

// Key is the identity trust records are stored under. It combines address
// and fingerprint so a cleared cookie does not reset the browser's history.
func (s State) Key() string {
	return s.ClientIP + ":" + s.Fingerprint
}

// FromContext returns the State stored by the binder.
func FromContext(ctx context.Context) (State, bool) {
	s, ok := ctx.Value(stateContextKey).(State)
	return s, ok
}

// WithState returns ctx carrying s.
func WithState(ctx context.Context, s State) context.Context {
	return context.WithValue(ctx, stateContextKey, s)
}

// NewCookieStore creates the encrypted cookie store. Cookies are accepted for
// lifetime; new sessions start as browser-session cookies until the binder
// marks them permanent.
func NewCookieStore(hashKey, blockKey []byte, lifetime time.Duration, secure bool) *sessions.CookieStore {
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.MaxAge(int(lifetime / time.Second))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   0,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// Binder attaches State to each request.
type Binder struct {
	store    sessions.Store
	lifetime time.Duration
	log      zerolog.Logger
}

func NewBinder(store sessions.Store, lifetime time.Duration, log zerolog.Logger) *Binder {
	return &Binder{store: store, lifetime: lifetime, log: log}
}

// Middleware loads or creates the session, assigns the fingerprint and CSRF
// secret on first sight, and never blocks the request.
func (b *Binder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := b.store.Get(r, CookieName)
		if err != nil {
			b.log.Debug().Err(err).Msg("discarding undecodable session cookie")
		}
		if sess == nil {
			sess = sessions.NewSession(b.store, CookieName)
		}

		changed := false
		fingerprint, _ := sess.Values[keyFingerprint].(string)
		if fingerprint == "" {
			fingerprint = Fingerprint(r)
			sess.Values[keyFingerprint] = fingerprint
			sess.Values[keyPermanent] = true
			changed = true
		}

		csrfToken, _ := sess.Values[keyCSRF].(string)
		if csrfToken == "" {
			if csrfToken, err = newCSRFToken(); err != nil {
				b.log.Error().Err(err).Msg("generate csrf token")
			} else {
				sess.Values[keyCSRF] = csrfToken
				changed = true
			}
		}

		if permanent, _ := sess.Values[keyPermanent].(bool); permanent {
			sess.Options.MaxAge = int(b.lifetime / time.Second)
		}

		if changed {
			if err := sess.Save(r, w); err != nil {
				b.log.Warn().Err(err).Msg("save session")
			}
		}

		state := State{
			Fingerprint: fingerprint,
			CSRFToken:   csrfToken,
			ClientIP:    clientIP(r),
		}
		next.ServeHTTP(w, r.WithContext(WithState(r.Context(), state)))
	})
}

// clientIP returns the host part of RemoteAddr. Proxy headers are honoured
// only when a RealIP middleware has already rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
