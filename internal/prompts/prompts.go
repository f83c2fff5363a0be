// Package prompts holds the built-in system prompt and the helpers that
// assemble message text for the model. The prompt is a template: the live
// allowlist is spliced into its fenced block at startup so the model and
// the policy engine always agree on what may run.
package prompts

import (
	_ "embed"
	"fmt"
	"strings"
)

//go:embed system_shellpilot.txt
var baseSystemPrompt string

const allowlistMarker = "{{ALLOWED_COMMANDS}}"

// Base renders the built-in system prompt with the allowed commands.
func Base(allowed []string) string {
	prompt := strings.TrimSpace(baseSystemPrompt)
	return strings.ReplaceAll(prompt, allowlistMarker, strings.Join(allowed, ", "))
}

// Combine joins the rendered built-in prompt with an optional user-provided
// extension from the config file.
func Combine(allowed []string, user string) string {
	sections := []string{Base(allowed)}
	if trimmed := strings.TrimSpace(user); trimmed != "" {
		sections = append(sections, trimmed)
	}
	return strings.Join(sections, "\n\n")
}

// WithWorkingDirectory appends the shell's current directory to a user
// message so the model knows where the next command will run.
func WithWorkingDirectory(input, cwd string) string {
	return fmt.Sprintf("%s\n\nCurrent working directory: `%s`", input, cwd)
}
