package toolregistry

import (
	"regexp"

	"github.com/agentcore/nexus/internal/models"
)

// DefaultMaxResultChars bounds an individual tool result's text content
// before it is appended to the transcript, preventing one runaway tool
// from blowing out the context window or on-disk session file.
const DefaultMaxResultChars = 64 * 1024

// builtinSecretPatterns catches common credential shapes so they never
// round-trip through a tool result into the transcript or the model.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ResultGuard truncates oversized tool output and redacts likely secrets
// before a ToolResult is returned to the Invoker's caller.
type ResultGuard struct {
	MaxChars        int
	SanitizeSecrets bool
}

// DefaultResultGuard truncates at DefaultMaxResultChars and redacts secrets.
func DefaultResultGuard() ResultGuard {
	return ResultGuard{MaxChars: DefaultMaxResultChars, SanitizeSecrets: true}
}

// Apply redacts and truncates every text block in result.Content in place.
func (g ResultGuard) Apply(result models.ToolResult) models.ToolResult {
	if g.MaxChars <= 0 && !g.SanitizeSecrets {
		return result
	}
	for i, block := range result.Content {
		if block.Text == nil {
			continue
		}
		text := block.Text.Text
		if g.SanitizeSecrets {
			for _, re := range builtinSecretPatterns {
				text = re.ReplaceAllString(text, "[REDACTED]")
			}
		}
		if g.MaxChars > 0 && len(text) > g.MaxChars {
			text = text[:g.MaxChars] + "...[truncated]"
		}
		result.Content[i] = models.TextBlock(text)
	}
	return result
}
