package lsp

import (
	"fmt"
	"sort"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityHint    Severity = "hint"
)

// Diagnostic is one issue reported by a language server. Line and Character
// are 0-indexed.
type Diagnostic struct {
	Message   string   `json:"message"`
	Line      int      `json:"line"`
	Character int      `json:"character"`
	Severity  Severity `json:"severity"`
	Source    string   `json:"source,omitempty"`
	Code      string   `json:"code,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

func severityFrom(s protocol.DiagnosticSeverity) Severity {
	switch s {
	case protocol.SeverityError:
		return SeverityError
	case protocol.SeverityWarning:
		return SeverityWarning
	case protocol.SeverityHint:
		return SeverityHint
	default:
		return SeverityInfo
	}
}

func fromProtocol(d protocol.Diagnostic) Diagnostic {
	out := Diagnostic{
		Message:   d.Message,
		Line:      int(d.Range.Start.Line),
		Character: int(d.Range.Start.Character),
		Severity:  severityFrom(d.Severity),
		Source:    d.Source,
	}
	if d.Code != nil {
		switch code := d.Code.(type) {
		case float64:
			out.Code = fmt.Sprintf("%d", int64(code))
		default:
			out.Code = fmt.Sprint(code)
		}
	}
	for _, tag := range d.Tags {
		switch tag {
		case protocol.Unnecessary:
			out.Tags = append(out.Tags, "unnecessary")
		case protocol.Deprecated:
			out.Tags = append(out.Tags, "deprecated")
		}
	}
	return out
}

func convertDiagnostics(in []protocol.Diagnostic) []Diagnostic {
	out := make([]Diagnostic, 0, len(in))
	for _, d := range in {
		out = append(out, fromProtocol(d))
	}
	return out
}

const maxFormattedDiagnostics = 10

func severityLabel(s Severity) string {
	switch s {
	case SeverityError:
		return "Error"
	case SeverityWarning:
		return "Warn"
	case SeverityHint:
		return "Hint"
	default:
		return "Info"
	}
}

func formatDiagnostic(path string, d Diagnostic) string {
	code := ""
	if d.Code != "" {
		code = "[" + d.Code + "]"
	}
	tags := ""
	if len(d.Tags) > 0 {
		tags = fmt.Sprintf(" (%s)", strings.Join(d.Tags, ", "))
	}
	return fmt.Sprintf("%s: %s:%d:%d [%s]%s%s %s",
		severityLabel(d.Severity),
		path,
		d.Line+1,
		d.Character+1,
		d.Source,
		code,
		tags,
		d.Message)
}

// FormatDiagnostics renders diagnostics for tool output, errors first and
// capped at ten lines, followed by a summary. It returns "" when there is
// nothing to report.
func FormatDiagnostics(path string, diagnostics []Diagnostic) string {
	if len(diagnostics) == 0 {
		return ""
	}

	lines := make([]string, 0, len(diagnostics))
	for _, d := range diagnostics {
		lines = append(lines, formatDiagnostic(path, d))
	}
	sort.Slice(lines, func(i, j int) bool {
		iIsError := strings.HasPrefix(lines[i], "Error")
		jIsError := strings.HasPrefix(lines[j], "Error")
		if iIsError != jIsError {
			return iIsError
		}
		return lines[i] < lines[j]
	})

	var b strings.Builder
	b.WriteString("\n<file_diagnostics>\n")
	if len(lines) > maxFormattedDiagnostics {
		b.WriteString(strings.Join(lines[:maxFormattedDiagnostics], "\n"))
		fmt.Fprintf(&b, "\n... and %d more diagnostics", len(lines)-maxFormattedDiagnostics)
	} else {
		b.WriteString(strings.Join(lines, "\n"))
	}
	b.WriteString("\n</file_diagnostics>\n")

	b.WriteString("\n<diagnostic_summary>\n")
	fmt.Fprintf(&b, "Current file: %d errors, %d warnings\n",
		CountSeverity(diagnostics, SeverityError),
		CountSeverity(diagnostics, SeverityWarning))
	b.WriteString("</diagnostic_summary>\n")

	output := b.String()
	logging.Debug("Diagnostics", "output", output)
	return output
}

func CountSeverity(diagnostics []Diagnostic, severity Severity) int {
	count := 0
	for _, d := range diagnostics {
		if d.Severity == severity {
			count++
		}
	}
	return count
}
