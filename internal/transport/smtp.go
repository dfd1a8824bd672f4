package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/foxzi/herald/internal/dkim"
	"github.com/foxzi/herald/internal/models"
)

// SMTPTransport submits messages to the configured relay
type SMTPTransport struct {
	hostname string
	timeout  time.Duration
	signer   *dkim.Signer
	rootCAs  *x509.CertPool
	logger   *slog.Logger
}

// NewSMTPTransport creates a new SMTP transport
func NewSMTPTransport(hostname string, timeout time.Duration, logger *slog.Logger) *SMTPTransport {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if hostname == "" {
		hostname = "localhost"
	}
	return &SMTPTransport{
		hostname: hostname,
		timeout:  timeout,
		logger:   logger,
	}
}

// SetDKIMSigner sets the DKIM signer for outgoing messages
func (t *SMTPTransport) SetDKIMSigner(signer *dkim.Signer) {
	t.signer = signer
}

// Deliver sends env through the relay described by settings
func (t *SMTPTransport) Deliver(ctx context.Context, settings models.SMTPSettings, env *Envelope) error {
	if err := ctx.Err(); err != nil {
		return &DeliveryError{Stage: "connect", Message: err.Error()}
	}

	addr := net.JoinHostPort(settings.Host, strconv.Itoa(settings.Port))

	client, err := t.dial(ctx, addr, settings)
	if err != nil {
		return err
	}
	defer client.Close()

	// Abort the session when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	if settings.User != "" || settings.Pass != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return &DeliveryError{Stage: "AUTH", Message: "server does not support AUTH"}
		}
		if err := client.Auth(sasl.NewPlainClient("", settings.User, settings.Pass)); err != nil {
			return &DeliveryError{Stage: "AUTH", Message: err.Error()}
		}
	}

	data := t.sign(env.Data)

	if err := client.SendMail(env.From, env.To, bytes.NewReader(data)); err != nil {
		if ctx.Err() != nil {
			return &DeliveryError{Stage: "DATA", Message: ctx.Err().Error()}
		}
		return &DeliveryError{Stage: "DATA", Message: err.Error()}
	}

	client.Quit()

	t.logger.Info("message submitted",
		"relay", addr,
		"to", env.To,
		"message_id", env.MessageID,
	)
	return nil
}

// sign returns data signed with DKIM, or data unchanged when signing is
// off or fails
func (t *SMTPTransport) sign(data []byte) []byte {
	if t.signer == nil {
		return data
	}
	signed, err := t.signer.Sign(data)
	if err != nil {
		t.logger.Warn("DKIM signing failed, sending unsigned",
			"domain", t.signer.Domain(),
			"error", err,
		)
		return data
	}
	t.logger.Debug("DKIM signed",
		"domain", t.signer.Domain(),
		"selector", t.signer.Selector(),
	)
	return signed
}

// dial opens a session to addr. Secure relays get implicit TLS; others are
// upgraded with STARTTLS when the relay advertises it.
func (t *SMTPTransport) dial(ctx context.Context, addr string, settings models.SMTPSettings) (*smtp.Client, error) {
	tlsConfig := t.tlsConfig(settings.Host)
	dialer := &net.Dialer{Timeout: t.timeout}

	if settings.Secure {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: tlsConfig}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &DeliveryError{Stage: "connect", Message: fmt.Sprintf("%s: %v", addr, err)}
		}
		return t.greet(smtp.NewClient(conn))
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DeliveryError{Stage: "connect", Message: fmt.Sprintf("%s: %v", addr, err)}
	}
	client, err := t.greet(smtp.NewClient(conn))
	if err != nil {
		return nil, err
	}
	if ok, _ := client.Extension("STARTTLS"); !ok {
		return client, nil
	}

	// go-smtp only upgrades a fresh session, so reconnect for STARTTLS
	client.Quit()
	client.Close()

	conn, err = dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &DeliveryError{Stage: "connect", Message: fmt.Sprintf("%s: %v", addr, err)}
	}
	upgraded, err := smtp.NewClientStartTLS(conn, tlsConfig)
	if err != nil {
		return nil, &DeliveryError{Stage: "STARTTLS", Message: err.Error()}
	}
	return t.greet(upgraded)
}

// greet applies the transport timeouts and introduces the transport by its
// hostname
func (t *SMTPTransport) greet(client *smtp.Client) (*smtp.Client, error) {
	client.CommandTimeout = t.timeout
	client.SubmissionTimeout = t.timeout
	if err := client.Hello(t.hostname); err != nil {
		client.Close()
		return nil, &DeliveryError{Stage: "HELO", Message: err.Error()}
	}
	return client, nil
}

func (t *SMTPTransport) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
		RootCAs:    t.rootCAs,
	}
}
