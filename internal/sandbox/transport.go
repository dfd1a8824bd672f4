// Package sandbox captures outgoing mail in a local store instead of
// delivering it.
package sandbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"mime"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/transport"
)

// SimulatedError represents a simulated delivery error
type SimulatedError struct {
	Message string
}

func (e *SimulatedError) Error() string {
	return e.Message
}

// Transport stores every message it is asked to deliver
type Transport struct {
	storage          *Storage
	logger           *slog.Logger
	simulateErrors   bool
	errorProbability float64 // 0.0 to 1.0
	now              func() time.Time
}

// NewTransport creates a capturing transport over storage
func NewTransport(storage *Storage, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		storage:          storage,
		logger:           logger,
		errorProbability: 0.1,
		now:              time.Now,
	}
}

// SetErrorSimulation makes a share of deliveries fail after capture
func (t *Transport) SetErrorSimulation(enabled bool, probability float64) {
	t.simulateErrors = enabled
	if probability > 0 && probability <= 1 {
		t.errorProbability = probability
	}
}

// Deliver captures env. SMTP settings are not used beyond the log line.
func (t *Transport) Deliver(ctx context.Context, settings models.SMTPSettings, env *transport.Envelope) error {
	capture := &Capture{
		ID:         uuid.New().String(),
		MessageID:  env.MessageID,
		From:       env.From,
		To:         env.To,
		Subject:    extractSubject(env.Data),
		Data:       env.Data,
		CapturedAt: t.now().UTC(),
	}

	var simErr error
	if t.simulateErrors && rand.Float64() < t.errorProbability {
		simErr = &SimulatedError{Message: "550 simulated delivery failure"}
		capture.SimulatedError = simErr.Error()
	}

	if err := t.storage.Save(ctx, capture); err != nil {
		return &transport.DeliveryError{Stage: "sandbox", Message: err.Error()}
	}

	t.logger.Info("sandbox: captured message",
		"id", capture.ID,
		"to", env.To,
		"relay", settings.Host,
		"simulated_error", capture.SimulatedError,
	)

	return simErr
}

// extractSubject returns the decoded Subject header of raw message data
func extractSubject(data []byte) string {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	subject := msg.Header.Get("Subject")
	decoded, err := new(mime.WordDecoder).DecodeHeader(subject)
	if err != nil {
		return subject
	}
	return decoded
}
