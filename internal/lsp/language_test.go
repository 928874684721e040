package lsp

import (
	"testing"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
	"github.com/stretchr/testify/assert"
)

func TestDetectLanguageID(t *testing.T) {
	tests := []struct {
		path string
		want protocol.LanguageKind
	}{
		{"/src/main.go", protocol.LangGo},
		{"/src/App.TSX", protocol.LangTypeScriptReact},
		{"/src/index.ts", protocol.LangTypeScript},
		{"/src/tool.py", protocol.LangPython},
		{"/src/Makefile", protocol.LangMakefile},
		{"/src/Dockerfile", protocol.LangDockerfile},
		{"/src/notes.unknown", ""},
		{"/src/LICENSE", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectLanguageID(tt.path))
		})
	}
}

func TestLanguageIDFor(t *testing.T) {
	cfg := registry.LanguageServerConfig{
		ID:          "vue",
		LanguageIDs: map[string]string{".vue": "vue-html", ".ts": ""},
	}

	assert.Equal(t, "vue-html", languageIDFor(cfg, "/a/App.vue"))
	assert.Equal(t, "typescript", languageIDFor(cfg, "/a/main.ts"), "empty mapping falls through to the table")
	assert.Equal(t, "vue", languageIDFor(cfg, "/a/file.zzz"))
}
