package providers

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	toolBlockRe = regexp.MustCompile(`(?s)<tool>\s*(\{.*?\})\s*</tool>`)
	// Garbled variants some quantized models emit: missing closing tag or
	// stray whitespace inside the tag name.
	toolOpenRe  = regexp.MustCompile(`(?s)<\s*tool\s*>\s*(\{.*)$`)
	thinkSpanRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

// toolEnvelope is the JSON payload inside a <tool> block.
type toolEnvelope struct {
	Name   string                 `json:"name"`
	Tool   string                 `json:"tool"` // older convention
	Params map[string]interface{} `json:"params"`
	Args   map[string]interface{} `json:"arguments"` // older convention
}

// ParseToolSyntax extracts a <tool>{json}</tool> call from free-text model
// output. Returns the call, the text with the block removed, and whether a
// valid call was found. Malformed JSON inside the block is treated as no call
// so the text reaches the user instead of vanishing.
func ParseToolSyntax(text string) (ToolCall, string, bool) {
	m := toolBlockRe.FindStringSubmatchIndex(text)
	var payload string
	if m != nil {
		payload = text[m[2]:m[3]]
	} else if om := toolOpenRe.FindStringSubmatchIndex(text); om != nil {
		// Unclosed block: try the longest JSON object from the brace on.
		payload = balancedJSON(text[om[2]:om[3]])
		if payload == "" {
			return ToolCall{}, text, false
		}
		m = []int{om[0], len(text)}
	} else {
		return ToolCall{}, text, false
	}

	var env toolEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return ToolCall{}, text, false
	}
	name := env.Name
	if name == "" {
		name = env.Tool
	}
	if name == "" {
		return ToolCall{}, text, false
	}
	params := env.Params
	if params == nil {
		params = env.Args
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	rest := strings.TrimSpace(text[:m[0]] + text[m[1]:])
	return ToolCall{Name: name, Arguments: params}, rest, true
}

// StripToolSyntax removes any residual tool blocks from final text.
func StripToolSyntax(text string) string {
	out := toolBlockRe.ReplaceAllString(text, "")
	out = toolOpenRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// CleanThink removes <think> spans from model output. When the remainder is
// empty the think body itself is returned, so a reply that was entirely
// "thought" still reaches the user. An unclosed <think> swallows the tail.
func CleanThink(text string) string {
	if !strings.Contains(text, "<think>") && !strings.Contains(text, "</think>") {
		return strings.TrimSpace(text)
	}

	// Stray close tag without an open: keep what follows the last close.
	if !strings.Contains(text, "<think>") {
		idx := strings.LastIndex(text, "</think>")
		return strings.TrimSpace(text[idx+len("</think>"):])
	}

	cleaned := thinkSpanRe.ReplaceAllString(text, "")

	// Unclosed open tag: drop from the tag to the end.
	if idx := strings.Index(cleaned, "<think>"); idx >= 0 {
		cleaned = cleaned[:idx]
	}

	cleaned = strings.TrimSpace(cleaned)
	if cleaned != "" {
		return cleaned
	}

	// Nothing outside the think spans: fall back to their contents.
	var inner []string
	for _, m := range thinkSpanRe.FindAllString(text, -1) {
		body := strings.TrimSuffix(strings.TrimPrefix(m, "<think>"), "</think>")
		if body = strings.TrimSpace(body); body != "" {
			inner = append(inner, body)
		}
	}
	if len(inner) == 0 {
		if idx := strings.Index(text, "<think>"); idx >= 0 {
			return strings.TrimSpace(text[idx+len("<think>"):])
		}
	}
	return strings.TrimSpace(strings.Join(inner, "\n"))
}

// balancedJSON returns the shortest prefix of s that is a balanced JSON
// object, or "" if braces never balance.
func balancedJSON(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[:i+1]
				}
			}
		}
	}
	return ""
}
