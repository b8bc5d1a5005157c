package agent

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hiroaki404/trip-ai/internal/tools"
)

// MaxResultRunes caps the tool output echoed back to the model.
const MaxResultRunes = 24000

// FormatToolResult renders a tool result as the block the model reads on
// its next turn. Failed results carry their error; output longer than
// MaxResultRunes is cut and marked.
func FormatToolResult(result *tools.ToolResult) string {
	status := "Success"
	if !result.Success {
		status = "Failed"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n[Tool Result: %s]\nStatus: %s\n", result.Tool, status)
	if !result.Success && result.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", result.Error)
	}
	if out := clip(result.Output, MaxResultRunes); out != "" {
		fmt.Fprintf(&b, "Output:\n%s\n", out)
	}
	b.WriteString("[End Tool Result]\n")
	return b.String()
}

func clip(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "\n[output truncated]"
}
