// Package tls loads the certificate served by the admin API listener
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"
)

// Certificate is a loaded key pair plus the leaf details used at startup
type Certificate struct {
	Config   *tls.Config
	Subject  string
	DNSNames []string
	NotAfter time.Time
}

// Load reads a PEM certificate chain and key
func Load(certFile, keyFile string) (*Certificate, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{
		Config: &tls.Config{
			Certificates: []tls.Certificate{pair},
			MinVersion:   tls.VersionTLS12,
		},
		Subject:  leaf.Subject.CommonName,
		DNSNames: leaf.DNSNames,
		NotAfter: leaf.NotAfter,
	}, nil
}

// DaysLeft returns whole days until expiry, negative once expired
func (c *Certificate) DaysLeft(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}
