package models

import "time"

// Campaign statuses
const (
	CampaignStatusDraft   = "draft"
	CampaignStatusSending = "sending"
	CampaignStatusSent    = "sent"
	CampaignStatusFailed  = "failed"
)

// Campaign is a bulk message authored once and sent to a resolved audience
type Campaign struct {
	ID                 string        `json:"id"`
	Name               string        `json:"name"`
	Subject            string        `json:"subject"`
	Body               string        `json:"body"`
	Audience           AudienceSpec  `json:"audience"`
	Status             string        `json:"status"`
	Stats              CampaignStats `json:"stats"`
	RecipientsSnapshot []Recipient   `json:"recipientsSnapshot"`
	LastError          string        `json:"lastError,omitempty"`
	SentAt             *time.Time    `json:"sentAt,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

// CampaignStats holds aggregate counters of a dispatch
type CampaignStats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Consistent reports whether total matches the sum of outcomes
func (s CampaignStats) Consistent() bool {
	return s.Total == s.Sent+s.Failed+s.Skipped
}

// CampaignListFilter for filtering campaigns
type CampaignListFilter struct {
	Status string
	Search string
	Limit  int
	Offset int
}
