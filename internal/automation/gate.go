// Package automation maps automation keys to their configuration switches and
// owns the built-in templates every automation key falls back to.
package automation

import "github.com/foxzi/herald/internal/models"

// Automation keys
const (
	KeyWelcome          = "welcome"
	KeyPayment          = "payment"
	KeyWorkspaceAction  = "workspace_action"
	KeyInvitation       = "invitation"
	KeyWorkspaceWelcome = "workspace_welcome"
)

// DisabledReason is recorded on skipped log entries
const DisabledReason = "automation disabled"

var flagByKey = map[string]func(models.AutomationFlags) bool{
	KeyWelcome:          func(f models.AutomationFlags) bool { return f.OnRegister },
	KeyPayment:          func(f models.AutomationFlags) bool { return f.OnPayment },
	KeyWorkspaceAction:  func(f models.AutomationFlags) bool { return f.OnWorkspaceAction },
	KeyInvitation:       func(f models.AutomationFlags) bool { return f.OnInvitation },
	KeyWorkspaceWelcome: func(f models.AutomationFlags) bool { return f.OnWorkspaceWelcome },
}

// Keys returns the closed set of automation keys in a stable order
func Keys() []string {
	return []string{KeyWelcome, KeyPayment, KeyWorkspaceAction, KeyInvitation, KeyWorkspaceWelcome}
}

// IsKnown reports whether key belongs to the closed automation set
func IsKnown(key string) bool {
	_, ok := flagByKey[key]
	return ok
}

// Enabled reports whether the automation identified by key may send.
// Keys without a mapped flag are enabled so new automations work before
// they get a switch.
func Enabled(flags models.AutomationFlags, key string) bool {
	flag, ok := flagByKey[key]
	if !ok {
		return true
	}
	return flag(flags)
}
