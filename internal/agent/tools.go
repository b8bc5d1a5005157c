package agent

import (
	"encoding/json"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
)

// ToolCall represents a request to execute a tool.
type ToolCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// signature identifies a call by name and canonical arguments.
func (c *ToolCall) signature() string {
	var v any
	if err := json.Unmarshal(c.Args, &v); err == nil {
		if canon, err := json.Marshal(v); err == nil {
			return c.Name + ":" + string(canon)
		}
	}
	return c.Name + ":" + string(c.Args)
}

// knownTools are recognised in the alternate <name>...</name> form, mapped to
// the argument a bare value is assigned to.
var knownTools = map[string]string{
	"ask_user":      "question",
	"feedback_user": "message",
	"web_search":    "query",
	"scrape":        "url",
	"directions":    "coordinates",
	"calendar":      "eventName",
}

// ParseToolCalls extracts tool calls from LLM response text.
// Looks for patterns like: <tool>tool_name</tool><params>{"key": "value"}</params>
// Also handles alternate format: <tool_name>params</tool_name>
func ParseToolCalls(response string) ([]*ToolCall, string) {
	calls, cleanedResponse := parseCanonicalToolCalls(response)

	// If no canonical calls found, try alternate formats
	if len(calls) == 0 {
		calls, cleanedResponse = parseAlternateToolCalls(cleanedResponse)
	}

	return calls, strings.TrimSpace(cleanedResponse)
}

// parseCanonicalToolCalls parses the canonical format: <tool>name</tool><params>{...}</params>
func parseCanonicalToolCalls(response string) ([]*ToolCall, string) {
	var calls []*ToolCall
	cleanedResponse := response

	for {
		toolStart := strings.Index(cleanedResponse, "<tool>")
		if toolStart == -1 {
			break
		}

		toolEnd := strings.Index(cleanedResponse[toolStart:], "</tool>")
		if toolEnd == -1 {
			break
		}
		toolEnd += toolStart

		paramsStart := strings.Index(cleanedResponse[toolEnd:], "<params>")
		if paramsStart == -1 {
			break
		}
		paramsStart += toolEnd

		paramsEnd := strings.Index(cleanedResponse[paramsStart:], "</params>")
		if paramsEnd == -1 {
			break
		}
		paramsEnd += paramsStart

		toolName := cleanedResponse[toolStart+len("<tool>") : toolEnd]
		paramsJSON := cleanedResponse[paramsStart+len("<params>") : paramsEnd]

		calls = append(calls, &ToolCall{
			Name: strings.TrimSpace(toolName),
			Args: normalizeArgs(paramsJSON),
		})

		// Remove the tool call from response
		cleanedResponse = cleanedResponse[:toolStart] + cleanedResponse[paramsEnd+len("</params>"):]
	}

	return calls, cleanedResponse
}

// normalizeArgs turns whatever the model wrote between <params> tags into a
// JSON object, falling back to {} when nothing can be recovered.
func normalizeArgs(raw string) json.RawMessage {
	// Clean up common LLM output errors: a stray > before </params>, or < after <params>.
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSpace(s)

	if isObject(s) {
		return json.RawMessage(s)
	}

	// Try to extract just the JSON object if there's extra content
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			if inner := s[start : end+1]; isObject(inner) {
				return json.RawMessage(inner)
			}
		}
	}

	if s != "" {
		if repaired, err := jsonrepair.RepairJSON(s); err == nil && isObject(repaired) {
			return json.RawMessage(repaired)
		}
	}
	return json.RawMessage("{}")
}

func isObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// parseAlternateToolCalls parses alternate format: <tool_name>params</tool_name>
// This handles cases where LLMs output <web_search>query="..."</web_search>
func parseAlternateToolCalls(response string) ([]*ToolCall, string) {
	var calls []*ToolCall
	cleanedResponse := response

	for _, toolName := range []string{"ask_user", "feedback_user", "web_search", "scrape", "directions", "calendar"} {
		openTag := "<" + toolName + ">"
		closeTag := "</" + toolName + ">"

		for {
			start := strings.Index(cleanedResponse, openTag)
			if start == -1 {
				break
			}

			end := strings.Index(cleanedResponse[start:], closeTag)
			if end == -1 {
				break
			}
			end += start

			paramsContent := strings.TrimSpace(cleanedResponse[start+len(openTag) : end])

			var args json.RawMessage
			if strings.HasPrefix(paramsContent, "{") {
				args = normalizeArgs(paramsContent)
			} else {
				args = keyValueArgs(paramsContent, knownTools[toolName])
			}

			calls = append(calls, &ToolCall{Name: toolName, Args: args})

			cleanedResponse = cleanedResponse[:start] + cleanedResponse[end+len(closeTag):]
		}
	}

	return calls, cleanedResponse
}

// keyValueArgs parses key="value" pairs. Content without any key is assigned
// to the tool's main argument.
func keyValueArgs(content, mainArg string) json.RawMessage {
	params := make(map[string]string)
	if !strings.Contains(content, "=") {
		if v := strings.Trim(content, "\"'"); v != "" && mainArg != "" {
			params[mainArg] = v
		}
	} else {
		for _, part := range splitQuoted(content) {
			if idx := strings.Index(part, "="); idx > 0 {
				params[strings.TrimSpace(part[:idx])] = strings.Trim(strings.TrimSpace(part[idx+1:]), "\"'")
			}
		}
	}

	out, err := json.Marshal(params)
	if err != nil {
		return json.RawMessage("{}")
	}
	return out
}

// splitQuoted splits on spaces outside double quotes.
func splitQuoted(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ' ' && !inQuote:
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
