package automation

import (
	"github.com/foxzi/herald/internal/models"
	"github.com/foxzi/herald/internal/template"
)

type seedTemplate struct {
	name    string
	subject string
	body    string
}

var seeds = map[string]seedTemplate{
	KeyWelcome: {
		name:    "Welcome",
		subject: "Welcome to {{appName}}, {{firstName}}!",
		body: `<h1>Welcome, {{firstName}}!</h1>
<p>Your account for {{email}} is ready.</p>
<p><a href="{{{appUrl}}}">Open {{appName}}</a></p>`,
	},
	KeyPayment: {
		name:    "Payment confirmed",
		subject: "Payment received: {{amount}} {{currency}}",
		body: `<p>Hi {{firstName}},</p>
<p>We received your payment of <strong>{{amount}} {{currency}}</strong> for {{planName}}.</p>
<p><a href="{{{invoiceUrl}}}">View invoice</a></p>`,
	},
	KeyWorkspaceAction: {
		name:    "Workspace activity",
		subject: "{{actorName}} {{action}} in {{workspaceName}}",
		body: `<p>Hi {{firstName}},</p>
<p>{{actorName}} {{action}} <em>{{itemName}}</em> in {{workspaceName}}.</p>
<p><a href="{{{itemUrl}}}">Open</a></p>`,
	},
	KeyInvitation: {
		name:    "Workspace invitation",
		subject: "{{inviterName}} invited you to {{workspaceName}}",
		body: `<p>Hello,</p>
<p>{{inviterName}} invited you to join <strong>{{workspaceName}}</strong>.</p>
<p><a href="{{{inviteUrl}}}">Accept invitation</a></p>`,
	},
	KeyWorkspaceWelcome: {
		name:    "Workspace welcome",
		subject: "You joined {{workspaceName}}",
		body: `<p>Hi {{firstName}},</p>
<p>You are now a member of <strong>{{workspaceName}}</strong>.</p>
<p><a href="{{{workspaceUrl}}}">Go to workspace</a></p>`,
	},
}

// DefaultTemplate returns the built-in template for an automation key, or nil
// for unknown keys. The returned template has no ID.
func DefaultTemplate(key string) *models.Template {
	s, ok := seeds[key]
	if !ok {
		return nil
	}
	return &models.Template{
		Name:          s.name,
		Subject:       s.subject,
		Body:          s.body,
		Category:      models.CategoryAutomation,
		AutomationKey: key,
		VariableNames: template.ExtractVariableNames(s.subject, s.body),
	}
}
