package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/herald/internal/email"
	"github.com/foxzi/herald/internal/models"
)

// Error messages recorded for precondition failures
const (
	MessageInvalidAddress   = "invalid recipient address"
	MessageConfigIncomplete = "smtp configuration incomplete"
)

// Gateway validates a send, builds the message and hands it to a Transport.
// Send never returns an error and never panics.
type Gateway struct {
	transport Transport
	logger    *slog.Logger
	now       func() time.Time
}

// NewGateway creates a gateway over transport
func NewGateway(transport Transport, logger *slog.Logger) *Gateway {
	return &Gateway{
		transport: transport,
		logger:    logger,
		now:       time.Now,
	}
}

// Send delivers msg using settings
func (g *Gateway) Send(ctx context.Context, settings models.SMTPSettings, msg Message) (result Result) {
	if !email.IsValid(msg.To) {
		return Result{Status: models.SendStatusFailed, Error: MessageInvalidAddress, Reason: models.ReasonInvalidAddress}
	}
	if !settings.Complete() {
		return Result{Status: models.SendStatusSkipped, Error: MessageConfigIncomplete, Reason: models.ReasonConfigIncomplete}
	}

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("transport panicked", "to", msg.To, "panic", r)
			result = Result{
				Status: models.SendStatusFailed,
				Error:  fmt.Sprint(r),
				Reason: models.ReasonTransportError,
			}
		}
	}()

	msg.To = email.Normalize(msg.To)
	messageID := newMessageID(settings.From)
	env := &Envelope{
		From:      envelopeFrom(settings.From),
		To:        []string{msg.To},
		MessageID: messageID,
		Data:      buildEmailData(settings.From, messageID, msg, g.now()),
	}

	if err := g.transport.Deliver(ctx, settings, env); err != nil {
		g.logger.Warn("delivery failed", "to", msg.To, "error", err)
		return Result{Status: models.SendStatusFailed, Error: err.Error(), Reason: models.ReasonTransportError}
	}

	g.logger.Debug("message delivered", "to", msg.To, "message_id", messageID)
	return Result{Status: models.SendStatusSent, ProviderMessageID: messageID}
}
