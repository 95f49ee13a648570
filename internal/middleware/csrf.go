package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/wildid/wildid-server/internal/session"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// CSRFHeader is the header clients echo the session token in.
const CSRFHeader = "X-CSRFToken"

// multipartMemory keeps parsed uploads off disk; bodies are already capped
// by MaxBodySize.
const multipartMemory = 32 << 20

// CSRF rejects state-changing requests whose token does not match the
// session's. It must run after the session binder.
func CSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		state, ok := session.FromContext(r.Context())
		got, err := requestCSRFToken(r)
		if IsBodyTooLarge(err) {
			writeError(w, mustApp(appErrors.ErrPayloadTooLarge))
			return
		}
		if !ok || state.CSRFToken == "" || got == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(state.CSRFToken)) != 1 {
			writeError(w, mustApp(appErrors.ErrCSRFMismatch))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestCSRFToken(r *http.Request) (string, error) {
	if tok := r.Header.Get(CSRFHeader); tok != "" {
		return tok, nil
	}
	if tok := r.Header.Get("X-CSRF-Token"); tok != "" {
		return tok, nil
	}

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	return r.PostFormValue("csrf_token"), err
}
