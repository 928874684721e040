package lsp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityFrom(t *testing.T) {
	assert.Equal(t, SeverityError, severityFrom(protocol.SeverityError))
	assert.Equal(t, SeverityWarning, severityFrom(protocol.SeverityWarning))
	assert.Equal(t, SeverityInfo, severityFrom(protocol.SeverityInformation))
	assert.Equal(t, SeverityHint, severityFrom(protocol.SeverityHint))
	assert.Equal(t, SeverityInfo, severityFrom(0), "missing severity")
}

func TestFromProtocol_Codes(t *testing.T) {
	d := protocol.Diagnostic{Message: "m", Code: float64(2304)}
	assert.Equal(t, "2304", fromProtocol(d).Code)

	d.Code = "E501"
	assert.Equal(t, "E501", fromProtocol(d).Code)

	d.Code = nil
	assert.Empty(t, fromProtocol(d).Code)
}

func TestFormatDiagnostics_Empty(t *testing.T) {
	assert.Empty(t, FormatDiagnostics("/a.go", nil))
	assert.Empty(t, FormatDiagnostics("/a.go", []Diagnostic{}))
}

func TestFormatDiagnostics_ErrorsFirst(t *testing.T) {
	diags := []Diagnostic{
		{Message: "unused variable", Line: 0, Character: 4, Severity: SeverityWarning, Source: "vet", Tags: []string{"unnecessary"}},
		{Message: "undefined: x", Line: 9, Character: 0, Severity: SeverityError, Source: "compiler", Code: "UndeclaredName"},
	}

	out := FormatDiagnostics("/p/main.go", diags)
	errLine := "Error: /p/main.go:10:1 [compiler][UndeclaredName] undefined: x"
	warnLine := "Warn: /p/main.go:1:5 [vet] (unnecessary) unused variable"
	require.Contains(t, out, errLine)
	require.Contains(t, out, warnLine)
	assert.Less(t, strings.Index(out, errLine), strings.Index(out, warnLine))
	assert.Contains(t, out, "<file_diagnostics>")
	assert.Contains(t, out, "Current file: 1 errors, 1 warnings")
}

func TestFormatDiagnostics_Truncates(t *testing.T) {
	var diags []Diagnostic
	for i := range 13 {
		diags = append(diags, Diagnostic{Message: fmt.Sprintf("problem %02d", i), Line: i, Severity: SeverityHint})
	}

	out := FormatDiagnostics("/x.py", diags)
	assert.Equal(t, maxFormattedDiagnostics, strings.Count(out, "Hint: "))
	assert.Contains(t, out, "... and 3 more diagnostics")
	assert.Contains(t, out, "Current file: 0 errors, 0 warnings")
}

func TestCountSeverity(t *testing.T) {
	diags := []Diagnostic{{Severity: SeverityError}, {Severity: SeverityError}, {Severity: SeverityInfo}}
	assert.Equal(t, 2, CountSeverity(diags, SeverityError))
	assert.Equal(t, 1, CountSeverity(diags, SeverityInfo))
	assert.Zero(t, CountSeverity(diags, SeverityWarning))
}
