package transport

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/herald/internal/email"
)

// Message is a rendered single-recipient message
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
	Headers map[string]string
}

// Envelope is what a Transport puts on the wire
type Envelope struct {
	From      string // bare address for MAIL FROM
	To        []string
	MessageID string
	Data      []byte
}

// envelopeFrom returns the bare address of a From header value
func envelopeFrom(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address
	}
	return strings.TrimSpace(from)
}

// newMessageID returns a Message-ID in the sender's domain
func newMessageID(from string) string {
	domain := email.ExtractDomainOrDefault(from, "localhost")
	return fmt.Sprintf("<%s@%s>", uuid.New().String(), domain)
}

// buildEmailData constructs RFC 5322 email data
func buildEmailData(from, messageID string, msg Message, now time.Time) []byte {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("From: %s\r\n", sanitizeHeader(from)))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeHeader(msg.To)))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	for k, v := range msg.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, sanitizeHeader(v)))
	}

	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.Text != "" {
		boundary := uuid.New().String()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
		buf.WriteString("\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		writePart(&buf, "text/plain", msg.Text)

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		writePart(&buf, "text/html", msg.HTML)

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		writePart(&buf, "text/html", msg.HTML)
	}

	return buf.Bytes()
}

func writePart(buf *bytes.Buffer, contentType, body string) {
	buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=utf-8\r\n", contentType))
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(buf)
	qp.Write([]byte(body))
	qp.Close()
	buf.WriteString("\r\n")
}

// sanitizeHeader drops line breaks so values cannot inject headers
func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(v)
}
