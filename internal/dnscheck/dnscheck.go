// Package dnscheck verifies the DNS records a sending domain needs for
// relayed mail to authenticate: SPF, DKIM and DMARC, plus MX for bounces.
package dnscheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Check statuses
const (
	StatusOK       = "ok"
	StatusWarning  = "warning"
	StatusError    = "error"
	StatusNotFound = "not_found"
)

// ErrInvalidDomain is returned for names that are not valid hostnames
var ErrInvalidDomain = errors.New("invalid domain name")

var (
	domainRegex   = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
	selectorRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// Resolver is the subset of net.Resolver the checks use
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// ValidateDomain checks if domain name is valid
func ValidateDomain(domain string) error {
	if domain == "" || len(domain) > 253 || !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}
	return nil
}

// ValidateSelector checks if DKIM selector is a valid DNS label
func ValidateSelector(selector string) error {
	if len(selector) > 63 || !selectorRegex.MatchString(selector) {
		return fmt.Errorf("invalid selector %q", selector)
	}
	return nil
}

// Result is a single record check
type Result struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message,omitempty"`
}

// Report holds every check for one domain
type Report struct {
	Domain  string   `json:"domain"`
	Results []Result `json:"results"`
}

// OK reports whether no check ended in error or not_found
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if res.Status == StatusError || res.Status == StatusNotFound {
			return false
		}
	}
	return true
}

// Checker runs record checks against a resolver
type Checker struct {
	resolver Resolver
}

// New creates a checker. A nil resolver uses net.DefaultResolver.
func New(resolver Resolver) *Checker {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Checker{resolver: resolver}
}

// CheckDomain runs MX, SPF, DMARC and, when selector is set, DKIM checks
func (c *Checker) CheckDomain(ctx context.Context, domain, selector string) (*Report, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}
	if selector != "" {
		if err := ValidateSelector(selector); err != nil {
			return nil, err
		}
	}

	report := &Report{Domain: domain}
	report.Results = append(report.Results, c.CheckMX(ctx, domain), c.CheckSPF(ctx, domain))
	if selector != "" {
		report.Results = append(report.Results, c.CheckDKIM(ctx, domain, selector))
	}
	report.Results = append(report.Results, c.CheckDMARC(ctx, domain))
	return report, nil
}

// CheckMX checks that the domain accepts mail, so bounces have somewhere to go
func (c *Checker) CheckMX(ctx context.Context, domain string) Result {
	res := Result{Type: "MX", Name: domain}

	records, err := c.resolver.LookupMX(ctx, domain)
	if err != nil {
		return lookupFailed(res, err, "No MX records found")
	}
	if len(records) == 0 {
		res.Status = StatusNotFound
		res.Message = "No MX records found"
		return res
	}

	values := make([]string, len(records))
	for i, mx := range records {
		values[i] = fmt.Sprintf("%s (priority %d)", strings.TrimSuffix(mx.Host, "."), mx.Pref)
	}
	res.Status = StatusOK
	res.Value = strings.Join(values, ", ")
	return res
}

// CheckSPF checks the SPF policy of the domain
func (c *Checker) CheckSPF(ctx context.Context, domain string) Result {
	res := Result{Type: "SPF", Name: domain}

	txts, err := c.resolver.LookupTXT(ctx, domain)
	if err != nil {
		return lookupFailed(res, err, "No SPF record found")
	}

	var found []string
	for _, txt := range txts {
		if strings.HasPrefix(strings.ToLower(txt), "v=spf1") {
			found = append(found, txt)
		}
	}

	switch {
	case len(found) == 0:
		res.Status = StatusNotFound
		res.Message = "No SPF record found"
	case len(found) > 1:
		res.Status = StatusError
		res.Value = strings.Join(found, " | ")
		res.Message = "Multiple SPF records, receivers treat this as permerror"
	default:
		res.Value = found[0]
		res.Status = StatusOK
		switch {
		case strings.Contains(found[0], "+all"):
			res.Status = StatusWarning
			res.Message = "+all allows any sender"
		case strings.Contains(found[0], "?all"):
			res.Status = StatusWarning
			res.Message = "?all is neutral and gives no protection"
		}
	}
	return res
}

// CheckDKIM checks the public key record for selector
func (c *Checker) CheckDKIM(ctx context.Context, domain, selector string) Result {
	name := selector + "._domainkey." + domain
	res := Result{Type: "DKIM", Name: name}

	txts, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		return lookupFailed(res, err, "No DKIM record found for selector "+selector)
	}

	// Long keys are split across several strings
	record := strings.Join(txts, "")
	res.Value = truncate(record, 100)

	tags := parseTags(record)
	switch {
	case record == "":
		res.Status = StatusNotFound
		res.Message = "No DKIM record found for selector " + selector
	case tags["v"] != "" && tags["v"] != "DKIM1":
		res.Status = StatusError
		res.Message = "Unexpected version " + tags["v"]
	case tags["p"] == "":
		res.Status = StatusError
		res.Message = "Public key (p=) is empty or missing, the key is revoked"
	default:
		res.Status = StatusOK
	}
	return res
}

// CheckDMARC checks the DMARC policy of the domain
func (c *Checker) CheckDMARC(ctx context.Context, domain string) Result {
	name := "_dmarc." + domain
	res := Result{Type: "DMARC", Name: name}

	txts, err := c.resolver.LookupTXT(ctx, name)
	if err != nil {
		return lookupFailed(res, err, "No DMARC record found")
	}

	record := strings.Join(txts, "")
	if !strings.HasPrefix(record, "v=DMARC1") {
		res.Status = StatusNotFound
		res.Value = record
		res.Message = "No DMARC record found"
		return res
	}

	res.Value = record
	switch parseTags(record)["p"] {
	case "reject", "quarantine":
		res.Status = StatusOK
	case "none":
		res.Status = StatusWarning
		res.Message = "p=none only monitors"
	default:
		res.Status = StatusError
		res.Message = "Missing or invalid policy (p=)"
	}
	return res
}

func lookupFailed(res Result, err error, notFound string) Result {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		res.Status = StatusNotFound
		res.Message = notFound
		return res
	}
	res.Status = StatusError
	res.Message = fmt.Sprintf("Lookup failed: %v", err)
	return res
}

// parseTags splits a "k=v; k=v" record
func parseTags(record string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(record, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		tags[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return tags
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
