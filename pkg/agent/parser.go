package agent

import (
	"encoding/json"
	"strings"
)

// ExtractToolCall pulls a single tool call out of a model response. It tries
// progressively looser extractions: a ```json fence, any code fence, a
// brace-matched object, then a bracket-matched array. Arrays keep only the
// first element. Returns nil when the response carries no tool call, which
// the caller treats as a direct answer.
func ExtractToolCall(response string) *ToolCall {
	// 1. ```json fences
	if strings.Contains(response, "```json") {
		blocks := strings.Split(response, "```json")
		for _, block := range blocks[1:] {
			fenced := strings.TrimSpace(strings.SplitN(block, "```", 2)[0])
			if call := parseToolCallJSON(fenced); call != nil {
				return call
			}
		}
	}

	// 2. Any code fence
	if strings.Contains(response, "```") {
		blocks := strings.Split(response, "```")
		for i := 1; i < len(blocks); i += 2 {
			if call := parseToolCallJSON(strings.TrimSpace(blocks[i])); call != nil {
				return call
			}
		}
	}

	// 3. Brace-matched object anywhere in the text
	if fragment := matchDelimited(response, '{', '}'); fragment != "" {
		if call := parseToolCallObject([]byte(fragment)); call != nil {
			return call
		}
	}

	// 4. Bracket-matched array anywhere in the text
	if fragment := matchDelimited(response, '[', ']'); fragment != "" {
		if call := parseToolCallArray([]byte(fragment)); call != nil {
			return call
		}
	}

	return nil
}

// parseToolCallJSON accepts either a single object or an array of calls
func parseToolCallJSON(s string) *ToolCall {
	if s == "" {
		return nil
	}
	if call := parseToolCallObject([]byte(s)); call != nil {
		return call
	}
	return parseToolCallArray([]byte(s))
}

func parseToolCallObject(data []byte) *ToolCall {
	var call ToolCall
	if err := json.Unmarshal(data, &call); err != nil {
		return nil
	}
	if call.Name == "" {
		return nil
	}
	if call.Parameters == nil {
		call.Parameters = map[string]interface{}{}
	}
	return &call
}

func parseToolCallArray(data []byte) *ToolCall {
	var calls []ToolCall
	if err := json.Unmarshal(data, &calls); err != nil {
		return nil
	}
	if len(calls) == 0 || calls[0].Name == "" {
		return nil
	}
	call := calls[0]
	if call.Parameters == nil {
		call.Parameters = map[string]interface{}{}
	}
	return &call
}

// matchDelimited returns the first balanced open..close fragment, or ""
func matchDelimited(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return ""
}
