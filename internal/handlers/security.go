package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/wildid/wildid-server/internal/captcha"
	"github.com/wildid/wildid-server/internal/models"
	"github.com/wildid/wildid-server/internal/trust"
	appErrors "github.com/wildid/wildid-server/pkg/errors"
)

// SecurityHandler exposes the trust state and the CAPTCHA flow.
type SecurityHandler struct {
	trust   *trust.Service
	captcha *captcha.Manager
	log     zerolog.Logger
}

func NewSecurityHandler(trustSvc *trust.Service, mgr *captcha.Manager, log zerolog.Logger) *SecurityHandler {
	return &SecurityHandler{trust: trustSvc, captcha: mgr, log: log}
}

func (h *SecurityHandler) Status(w http.ResponseWriter, r *http.Request) {
	state := stateFrom(r)
	rec, err := h.trust.Status(r.Context(), state.Key(), state.Fingerprint)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, h.trust.ToStatus(rec, state.CSRFToken))
}

func (h *SecurityHandler) Captcha(w http.ResponseWriter, r *http.Request) {
	state := stateFrom(r)
	resp, err := h.captcha.Create(r.Context(), captcha.Session{Key: state.Key(), Fingerprint: state.Fingerprint})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SecurityHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req models.CaptchaVerifyRequest
	if isJSON(r) {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, h.log, err)
			return
		}
	} else {
		req.CaptchaID = r.PostFormValue("captcha_id")
		req.Answer = r.PostFormValue("answer")
	}
	// A blank answer is a wrong answer and spends an attempt.
	if strings.TrimSpace(req.CaptchaID) == "" {
		writeError(w, h.log, appErrors.InvalidArg("Missing captcha_id"))
		return
	}

	state := stateFrom(r)
	sess := captcha.Session{Key: state.Key(), Fingerprint: state.Fingerprint}
	rec, err := h.captcha.Verify(r.Context(), sess, req.CaptchaID, req.Answer)
	if err != nil {
		appErr, ok := appErrors.As(err)
		if !ok {
			writeError(w, h.log, err)
			return
		}
		resp := models.CaptchaVerifyResponse{
			Success: false,
			Error:   string(appErr.Code),
			Message: appErr.Message,
		}
		if current, statusErr := h.trust.Status(r.Context(), state.Key(), state.Fingerprint); statusErr == nil {
			resp.Status = h.trust.ToStatus(current, state.CSRFToken)
		}
		writeJSON(w, appErr.Code.HTTPStatus(), resp)
		return
	}

	writeJSON(w, http.StatusOK, models.CaptchaVerifyResponse{
		Success: true,
		Message: "Verification successful",
		Status:  h.trust.ToStatus(rec, state.CSRFToken),
	})
}
