// Package toolcall implements the regexp-based parser that extracts tool
// calls from a VLM reply's free text, grounded on the same line-oriented
// scan the teacher's command dispatcher uses on operator chat input.
package toolcall

import (
	"regexp"
	"strings"

	"github.com/vizloop/enginecore/internal/domain/entity"
)

// callPattern matches `name(arg1, arg2, ...)` anywhere in the text, one
// call per match. Names are restricted to the same identifier shape the
// tool allowlist uses; args are split on commas and trimmed.
var callPattern = regexp.MustCompile(`(?m)([a-zA-Z_][a-zA-Z0-9_]*)\s*\(([^()]*)\)`)

// Parser extracts ToolCalls from vlm_text. It does not itself enforce the
// allowlist or the >=2-calls hygiene rule. EngineLoop applies the
// >=2-calls rule; neither the parser nor EngineLoop checks parsed names
// against the allowlist, whose snapshot is handed to the executor as
// allowed_tools instead.
type Parser struct{}

// New returns a stateless Parser.
func New() *Parser { return &Parser{} }

// Parse implements service.ToolCallParser.
func (p *Parser) Parse(vlmText string) []entity.ToolCall {
	matches := callPattern.FindAllStringSubmatchIndex(vlmText, -1)
	calls := make([]entity.ToolCall, 0, len(matches))
	for _, m := range matches {
		name := vlmText[m[2]:m[3]]
		argsRaw := vlmText[m[4]:m[5]]
		calls = append(calls, entity.ToolCall{
			Name:       name,
			Args:       splitArgs(argsRaw),
			SourceSpan: [2]int{m[0], m[1]},
		})
	}
	return calls
}

func splitArgs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(strings.TrimSpace(part), `"'`)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
