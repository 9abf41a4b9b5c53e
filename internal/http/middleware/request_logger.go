package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

// RequestLogger emits structured logs for every HTTP request. Webhook calls
// additionally carry the SMS provider derived from the route, so provider
// outages show up without grepping paths.
func RequestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			fields := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", reqID,
				"remote_ip", r.RemoteAddr,
			}
			if provider := webhookProvider(r.URL.Path); provider != "" {
				fields = append(fields, "provider", provider)
			}
			logger.Info("request started", fields...)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Info("request completed",
				append(fields,
					"status", rec.status,
					"duration_ms", time.Since(start).Milliseconds(),
				)...,
			)
		})
	}
}

// webhookProvider extracts the provider segment from an inbound webhook path
// such as /api/v1/webhooks/twilio/sms. Non-webhook paths return "".
func webhookProvider(path string) string {
	const marker = "/webhooks/"
	i := strings.Index(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
