package probe

import (
	"os"
	"path/filepath"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

const (
	typescriptServerBin = "typescript-language-server"
	// TSServerEnv points the language server at a co-located tsserver.js.
	TSServerEnv = "TSSERVER_PATH"
)

// TypeScriptServer is a located TypeScript language server.
type TypeScriptServer struct {
	Command      string
	Args         []string
	Env          map[string]string
	TSServerPath string
}

// FindTypeScriptServer looks for typescript-language-server in the project's
// node_modules, the host install root, global npm prefixes and finally PATH.
// When a tsserver.js is found next to the server (or in the project), its path
// is returned in Env under TSSERVER_PATH.
func (p *Probe) FindTypeScriptServer(projectRoot string) (*TypeScriptServer, bool) {
	type candidate struct {
		bin     string
		modules string // node_modules directory the server was installed into
	}

	var candidates []candidate
	if projectRoot != "" {
		modules := filepath.Join(projectRoot, "node_modules")
		candidates = append(candidates, candidate{filepath.Join(modules, ".bin", typescriptServerBin), modules})
	}
	if p.installRoot != "" {
		modules := filepath.Join(p.installRoot, "node_modules")
		candidates = append(candidates, candidate{filepath.Join(modules, ".bin", typescriptServerBin), modules})
	}
	for _, prefix := range globalPrefixes() {
		candidates = append(candidates, candidate{
			bin:     filepath.Join(prefix, "bin", typescriptServerBin),
			modules: filepath.Join(prefix, "lib", "node_modules"),
		})
	}
	managed := filepath.Join(p.binDir, "node_modules")
	candidates = append(candidates, candidate{filepath.Join(managed, ".bin", typescriptServerBin), managed})

	var found *candidate
	for i := range candidates {
		if isExecutable(candidates[i].bin) {
			found = &candidates[i]
			break
		}
	}

	server := &TypeScriptServer{Args: []string{"--stdio"}, Env: map[string]string{}}
	switch {
	case found != nil:
		server.Command = found.bin
		server.TSServerPath = tsserverIn(found.modules)
	default:
		path, ok := p.ResolveCommand(typescriptServerBin)
		if !ok {
			return nil, false
		}
		server.Command = path
	}

	if server.TSServerPath == "" && projectRoot != "" {
		server.TSServerPath = tsserverIn(filepath.Join(projectRoot, "node_modules"))
	}
	if server.TSServerPath != "" {
		server.Env[TSServerEnv] = server.TSServerPath
	}

	logging.Debug("Found TypeScript language server", "command", server.Command, "tsserver", server.TSServerPath)
	return server, true
}

func tsserverIn(modules string) string {
	path := filepath.Join(modules, "typescript", "lib", "tsserver.js")
	if isFile(path) {
		return path
	}
	return ""
}

// globalPrefixes lists npm-style install prefixes, each with bin/ and
// lib/node_modules/ underneath.
func globalPrefixes() []string {
	var prefixes []string
	if prefix := os.Getenv("NPM_CONFIG_PREFIX"); prefix != "" {
		prefixes = append(prefixes, prefix)
	}
	if home, err := os.UserHomeDir(); err == nil {
		prefixes = append(prefixes,
			filepath.Join(home, ".npm-global"),
			filepath.Join(home, ".bun", "install", "global"),
		)
	}
	prefixes = append(prefixes, "/usr/local", "/opt/homebrew")
	return prefixes
}
