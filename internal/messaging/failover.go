package messaging

import (
	"context"
	"errors"

	"github.com/hadirot/renewal-engine/internal/conversation"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

// FailoverMessenger attempts a primary send, then falls back to a secondary
// provider on error.
type FailoverMessenger struct {
	primary       conversation.ReplyMessenger
	secondary     conversation.ReplyMessenger
	primaryName   string
	secondaryName string
	logger        *logging.Logger
}

func NewFailoverMessenger(primary conversation.ReplyMessenger, primaryName string, secondary conversation.ReplyMessenger, secondaryName string, logger *logging.Logger) *FailoverMessenger {
	if logger == nil {
		logger = logging.Default()
	}
	return &FailoverMessenger{
		primary:       primary,
		secondary:     secondary,
		primaryName:   primaryName,
		secondaryName: secondaryName,
		logger:        logger,
	}
}

var _ conversation.ReplyMessenger = (*FailoverMessenger)(nil)

// SendReply tries the primary provider first, then the secondary on failure.
func (f *FailoverMessenger) SendReply(ctx context.Context, reply conversation.OutboundReply) error {
	if f == nil || f.primary == nil {
		return errors.New("messaging: failover primary sender not configured")
	}
	err := f.primary.SendReply(ctx, reply)
	if err == nil {
		return nil
	}
	if f.secondary == nil {
		return err
	}

	f.logger.Warn("primary sms send failed; attempting fallback",
		"provider", f.primaryName,
		"fallback", f.secondaryName,
		"error", err,
		"to", reply.To,
	)
	if fallbackErr := f.secondary.SendReply(ctx, reply); fallbackErr != nil {
		f.logger.Error("fallback sms send failed",
			"provider", f.secondaryName,
			"error", fallbackErr,
			"to", reply.To,
		)
		return fallbackErr
	}
	return nil
}
