package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ANSI color codes.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

// Formatter renders errors for a terminal.
type Formatter struct {
	// Color enables ANSI colors.
	Color bool
}

func (f Formatter) paint(code, text string) string {
	if !f.Color {
		return text
	}
	return code + text + colorReset
}

// Format returns a multi-line report of e.
func (f Formatter) Format(e *Error) string {
	var b strings.Builder

	b.WriteString(f.paint(colorRed+colorBold, "error"))
	if e.Code != "" {
		b.WriteString(f.paint(colorBold, " "+e.Code))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	b.WriteString("\n")

	if e.Location != nil {
		fmt.Fprintf(&b, "  --> %s\n", f.paint(colorCyan, e.Location.String()))
		start := e.contextStart()
		for i, line := range e.Context {
			n := start + i
			marker := "  "
			if n == e.Location.Line {
				marker = f.paint(colorRed, "> ")
			}
			fmt.Fprintf(&b, "  %s%4d %s %s\n", marker, n, f.paint(colorGray, "|"), line)
		}
	}

	if e.Detail != "" {
		for _, line := range wrapText(e.Detail, 72) {
			b.WriteString("  ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  cause: %v\n", e.Wrapped)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s %s\n", f.paint(colorCyan, "hint:"), e.Suggestion)
	}
	return b.String()
}

// FormatCompact returns a single-line form of e.
func FormatCompact(e *Error) string {
	var b strings.Builder
	if e.Location != nil {
		b.WriteString(e.Location.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Error())
	if e.Wrapped != nil {
		b.WriteString(": ")
		b.WriteString(e.Wrapped.Error())
	}
	return b.String()
}

type jsonError struct {
	Code       string   `json:"code,omitempty"`
	Category   Category `json:"category,omitempty"`
	Message    string   `json:"message"`
	Detail     string   `json:"detail,omitempty"`
	File       string   `json:"file,omitempty"`
	Line       int      `json:"line,omitempty"`
	Suggestion string   `json:"suggestion,omitempty"`
	Cause      string   `json:"cause,omitempty"`
}

// FormatJSON returns e as a JSON object.
func FormatJSON(e *Error) string {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
	}
	if e.Location != nil {
		out.File, out.Line = e.Location.File, e.Location.Line
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	data, _ := json.Marshal(out)
	return string(data)
}

// Print writes err to w, formatted when it is an *Error.
func (f Formatter) Print(w io.Writer, err error) {
	var e *Error
	if errors.As(err, &e) {
		fmt.Fprint(w, f.Format(e))
		return
	}
	fmt.Fprintf(w, "%s: %v\n", f.paint(colorRed+colorBold, "error"), err)
}

func wrapText(text string, width int) []string {
	var lines []string
	var current strings.Builder
	for _, word := range strings.Fields(text) {
		if current.Len() > 0 && current.Len()+len(word)+1 > width {
			lines = append(lines, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		lines = append(lines, current.String())
	}
	return lines
}
