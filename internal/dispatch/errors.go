package dispatch

import "errors"

var (
	// ErrCampaignNotFound is returned when a campaign id does not exist
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrDispatchInProgress is returned when the campaign is already sending
	ErrDispatchInProgress = errors.New("campaign dispatch already in progress")

	// ErrInvalidCampaign wraps campaign validation failures
	ErrInvalidCampaign = errors.New("invalid campaign")

	// ErrInvalidTemplate wraps template validation failures
	ErrInvalidTemplate = errors.New("invalid template")

	// ErrInvalidAudience wraps audience validation failures
	ErrInvalidAudience = errors.New("invalid audience")
)

// Messages recorded on log entries and campaigns
const (
	MessageTemplateNotFound = "template not found"
	MessageNoRecipients     = "no recipients resolved for audience"
	MessageCancelled        = "dispatch cancelled"
)
