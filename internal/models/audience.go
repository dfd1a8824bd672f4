package models

// Audience types
const (
	AudienceAllUsers             = "all_users"
	AudienceAdmins               = "admins"
	AudienceNotificationsEnabled = "notifications_enabled"
	AudienceRecentUsers          = "recent_users"
	AudienceCustomEmails         = "custom_emails"
)

// DefaultRecentDays is the signup window used when daysSinceSignup is unset
const DefaultRecentDays = 30

// AudienceSpec selects the recipients of a campaign. Exactly one Type is active;
// DaysSinceSignup and CustomEmails are only read for their own type.
type AudienceSpec struct {
	Type              string   `json:"type"`
	DaysSinceSignup   int      `json:"daysSinceSignup,omitempty"`
	CustomEmails      []string `json:"customEmails,omitempty"`
	LastResolvedCount int      `json:"lastResolvedCount"`
}

// IsValidAudienceType reports whether t is one of the known audience types
func IsValidAudienceType(t string) bool {
	switch t {
	case AudienceAllUsers, AudienceAdmins, AudienceNotificationsEnabled,
		AudienceRecentUsers, AudienceCustomEmails:
		return true
	}
	return false
}
