package lsp

import "context"

// Service is the surface the rest of the application uses for language
// server diagnostics.
type Service interface {
	GetDiagnostics(ctx context.Context, path string, content string) []Diagnostic
	GetDiagnosticsForFile(ctx context.Context, path string) []Diagnostic

	EnsureScanned(ctx context.Context, root string) error
	ScanProject(ctx context.Context, root string) error

	ActiveLSPs() []string
	Providers() []ProviderInfo
	ConnectionErrors() map[string]string
	OnActiveChange(listener func(active []string)) (unsubscribe func())

	DisposeProvider(ctx context.Context, serverID, root string)
	DisposeAll(ctx context.Context)
}

var _ Service = (*Manager)(nil)
