// Package template renders message templates with {{name}} (escaped) and
// {{{name}}} (raw) placeholders.
package template

// RenderResult contains rendered template output
type RenderResult struct {
	Subject string `json:"subject"`
	HTML    string `json:"html,omitempty"`
	Text    string `json:"text,omitempty"`
}

// Vars is a loosely typed variable bag. Nested maps are reachable with
// dotted names such as user.firstName.
type Vars = map[string]any

// Merge returns a new bag with later bags taking priority.
func Merge(bags ...Vars) Vars {
	result := make(Vars)
	for _, bag := range bags {
		for k, v := range bag {
			result[k] = v
		}
	}
	return result
}
