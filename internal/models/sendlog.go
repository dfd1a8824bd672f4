package models

import "time"

// Send log statuses
const (
	SendStatusSent    = "sent"
	SendStatusFailed  = "failed"
	SendStatusSkipped = "skipped"
)

// SendLogEntry records one send attempt. Entries are never modified.
type SendLogEntry struct {
	ID                string         `json:"id"`
	To                string         `json:"to"`
	Subject           string         `json:"subject"`
	Status            string         `json:"status"`
	Category          string         `json:"category"`
	TemplateID        string         `json:"templateId,omitempty"`
	TemplateName      string         `json:"templateName,omitempty"`
	AutomationKey     string         `json:"automationKey,omitempty"`
	CampaignID        string         `json:"campaignId,omitempty"`
	CampaignName      string         `json:"campaignName,omitempty"`
	UserID            string         `json:"userId,omitempty"`
	ProviderMessageID string         `json:"providerMessageId,omitempty"`
	Variables         map[string]any `json:"variables,omitempty"`
	ErrorMessage      string         `json:"errorMessage,omitempty"`
	SentAt            *time.Time     `json:"sentAt,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// SendLogFilter for listing send log entries
type SendLogFilter struct {
	Status        string
	Category      string
	CampaignID    string
	AutomationKey string
	To            string
	FromDate      *time.Time
	ToDate        *time.Time
	Limit         int
	Offset        int
}

// SendLogStats aggregated statistics
type SendLogStats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Outcome reasons carried on send results
const (
	ReasonInvalidAddress     = "invalid-address"
	ReasonConfigIncomplete   = "config-incomplete"
	ReasonTemplateNotFound   = "template-not-found"
	ReasonAutomationDisabled = "automation-disabled"
	ReasonTransportError     = "transport-error"
	ReasonAudienceEmpty      = "audience-empty"
	ReasonDispatchCancelled  = "dispatch-cancelled"
)
