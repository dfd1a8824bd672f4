package models

import "time"

// Template categories
const (
	CategoryAutomation = "automation"
	CategoryCampaign   = "campaign"
	CategorySystem     = "system"
	CategoryTest       = "test" // send logs only
)

// Template is a stored message template
type Template struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Subject       string    `json:"subject"`
	Body          string    `json:"body"`
	Category      string    `json:"category"`                // automation, campaign, system
	AutomationKey string    `json:"automationKey,omitempty"` // only for category=automation
	VariableNames []string  `json:"variableNames"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TemplateListFilter for filtering template list
type TemplateListFilter struct {
	Category string
	Search   string
	Limit    int
	Offset   int
}

// IsValidTemplateCategory reports whether c may be stored on a template
func IsValidTemplateCategory(c string) bool {
	switch c {
	case CategoryAutomation, CategoryCampaign, CategorySystem:
		return true
	}
	return false
}
