package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/middleware"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/session"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the error's code and safe message. Anything that
// is not an AppError is logged and reported as an internal error.
func writeError(w http.ResponseWriter, log zerolog.Logger, err error) {
	if middleware.IsBodyTooLarge(err) {
		err = appErrors.ErrPayloadTooLarge
	}
	appErr, ok := appErrors.As(err)
	if !ok {
		log.Error().Err(err).Msg("request failed")
		appErr, _ = appErrors.As(appErrors.Internal(err))
	} else if appErr.Cause != nil {
		log.Warn().Err(appErr.Cause).Str("code", string(appErr.Code)).Msg("request failed")
	}
	writeJSON(w, appErr.Code.HTTPStatus(), models.ErrorResponse{
		Error:   string(appErr.Code),
		Message: appErr.Message,
	})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if middleware.IsBodyTooLarge(err) {
			return appErrors.ErrPayloadTooLarge
		}
		return appErrors.InvalidArg("invalid request body")
	}
	return nil
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(strings.ToLower(r.Header.Get("Content-Type")), "application/json")
}

// stateFrom returns the bound session state. Requests that bypassed the
// binder get a state computed from the request alone.
func stateFrom(r *http.Request) session.State {
	if s, ok := session.FromContext(r.Context()); ok {
		return s
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return session.State{Fingerprint: session.Fingerprint(r), ClientIP: host}
}
