package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.CaptchaIssued()
	m.CaptchaIssued()
	m.CaptchaVerified("success")
	m.CaptchaVerified("incorrect_answer")
	m.CaptchaVerified("incorrect_answer")
	m.Admission(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.captchaIssued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.captchaVerify.WithLabelValues("incorrect_answer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("denied")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CaptchaIssued()
		m.CaptchaVerified("success")
		m.Admission(true)
		m.ClassifierCall("openai", true, time.Second)
		m.LoginToken("issued")
		m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveHTTP("POST", "/identify", 200, 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `wildid_http_request_seconds_count{method="POST",route="/identify",status="200"} 1`)
}
