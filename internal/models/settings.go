package models

// MailConfig is the singleton mail configuration
type MailConfig struct {
	SMTP        SMTPSettings    `json:"smtp"`
	Automations AutomationFlags `json:"automations"`
}

// SMTPSettings holds outgoing SMTP server settings
type SMTPSettings struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"` // implicit TLS
	User   string `json:"user"`
	Pass   string `json:"pass"`
	From   string `json:"from"`
}

// Complete reports whether every field required for a send attempt is set
func (s SMTPSettings) Complete() bool {
	return s.Host != "" && s.Port > 0 && s.User != "" && s.Pass != "" && s.From != ""
}

// AutomationFlags switches automation categories on and off
type AutomationFlags struct {
	OnRegister         bool `json:"onRegister"`
	OnPayment          bool `json:"onPayment"`
	OnWorkspaceAction  bool `json:"onWorkspaceAction"`
	OnInvitation       bool `json:"onInvitation"`
	OnWorkspaceWelcome bool `json:"onWorkspaceWelcome"`
}

// DefaultMailConfig returns the config created when none is stored
func DefaultMailConfig() MailConfig {
	return MailConfig{
		SMTP: SMTPSettings{Port: 587},
		Automations: AutomationFlags{
			OnRegister:         true,
			OnPayment:          true,
			OnWorkspaceAction:  true,
			OnInvitation:       true,
			OnWorkspaceWelcome: true,
		},
	}
}

// RedactedPassword replaces the SMTP password in outgoing copies
const RedactedPassword = "********"

// Redacted returns a copy with the SMTP password masked
func (c MailConfig) Redacted() MailConfig {
	if c.SMTP.Pass != "" {
		c.SMTP.Pass = RedactedPassword
	}
	return c
}
