package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hadirot/renewal-engine/pkg/logging"
)

// Limiter throttles repeated alerts. conversation's reply limiters satisfy
// this interface.
type Limiter interface {
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Service sends operational alerts to the Hadirot admin. Alerts are always
// written to the log; email delivery is best-effort and throttled so a
// misbehaving number cannot flood the inbox.
type Service struct {
	email      EmailSender
	adminEmail string
	limiter    Limiter
	interval   time.Duration
	logger     *logging.Logger
}

func NewService(email EmailSender, adminEmail string, limiter Limiter, interval time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Service{
		email:      email,
		adminEmail: adminEmail,
		limiter:    limiter,
		interval:   interval,
		logger:     logger,
	}
}

// NotifyAdmin records an alert and emails the admin unless an identical
// alert went out recently. It never returns an error: alerting failures must
// not affect message processing.
func (s *Service) NotifyAdmin(ctx context.Context, subject, details string) {
	s.logger.Warn("admin alert", "subject", subject, "details", details)

	if s.email == nil || s.adminEmail == "" {
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, alertKey(subject, details), s.interval)
		if err != nil {
			s.logger.Error("alert throttle check failed", "error", err, "subject", subject)
			return
		}
		if !allowed {
			s.logger.Debug("admin alert suppressed by throttle", "subject", subject)
			return
		}
	}

	err := s.email.Send(ctx, EmailMessage{
		To:      s.adminEmail,
		ToName:  "Hadirot Admin",
		Subject: "[Hadirot] " + subject,
		Body:    details,
	})
	if err != nil {
		s.logger.Error("admin alert email failed", "error", err, "subject", subject)
	}
}

// alertKey buckets alerts by subject plus a digest of the details, so
// repeats of the same incident are throttled but distinct incidents get
// through.
func alertKey(subject, details string) string {
	sum := sha256.Sum256([]byte(details))
	return "alert:" + subject + ":" + hex.EncodeToString(sum[:8])
}
