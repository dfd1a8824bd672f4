// Package transport delivers rendered messages and converts every outcome
// into a structured result.
package transport

import (
	"context"
	"fmt"

	"github.com/foxzi/herald/internal/models"
)

// Transport puts a built message on the wire
type Transport interface {
	Deliver(ctx context.Context, settings models.SMTPSettings, env *Envelope) error
}

// DeliveryError represents a delivery error with the SMTP stage it happened in
type DeliveryError struct {
	Stage   string
	Message string
}

func (e *DeliveryError) Error() string {
	if e.Stage == "" {
		return e.Message
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

// Result is the outcome of one send attempt
type Result struct {
	Status            string `json:"status"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Error             string `json:"error,omitempty"`
	Reason            string `json:"reason,omitempty"`
}

// OK reports whether the message was handed to the transport
func (r Result) OK() bool {
	return r.Status == models.SendStatusSent
}
