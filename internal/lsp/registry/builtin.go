package registry

import (
	"maps"
	"slices"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/install"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/probe"
)

// builtinServer is one language family the registry knows how to start.
// Commands are tried in order; the first one found wins.
type builtinServer struct {
	ID          string
	Name        string
	Extensions  []string
	RootMarkers []string
	LanguageIDs map[string]string
	Commands    [][]string
	Install     install.Recipe
	InitOptions map[string]any

	// locate replaces the Commands lookup when set.
	locate func(p *probe.Probe, root string) (command string, args []string, env map[string]string, ok bool)
}

var builtinServers = []builtinServer{
	{
		ID:          "go",
		Name:        "gopls",
		Extensions:  []string{".go"},
		RootMarkers: []string{"go.mod", "go.work"},
		LanguageIDs: map[string]string{".go": "go"},
		Commands:    [][]string{{"gopls"}},
		Install:     install.Recipe{Strategy: install.StrategyGoInstall, Package: "golang.org/x/tools/gopls@latest"},
		InitOptions: map[string]any{
			"codelenses": map[string]any{
				"generate":           true,
				"regenerate_cgo":     true,
				"test":               true,
				"tidy":               true,
				"upgrade_dependency": true,
				"vendor":             true,
				"vulncheck":          false,
			},
		},
	},
	{
		ID:          "typescript",
		Name:        "typescript-language-server",
		Extensions:  []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts"},
		RootMarkers: []string{"package.json", "tsconfig.json", "jsconfig.json"},
		LanguageIDs: map[string]string{
			".ts":  "typescript",
			".tsx": "typescriptreact",
			".js":  "javascript",
			".jsx": "javascriptreact",
			".mjs": "javascript",
			".cjs": "javascript",
			".mts": "typescript",
			".cts": "typescript",
		},
		Install: install.Recipe{Strategy: install.StrategyNpm, Package: "typescript-language-server typescript"},
		locate: func(p *probe.Probe, root string) (string, []string, map[string]string, bool) {
			server, ok := p.FindTypeScriptServer(root)
			if !ok {
				return "", nil, nil, false
			}
			return server.Command, server.Args, server.Env, true
		},
	},
	{
		ID:          "python",
		Name:        "Python",
		Extensions:  []string{".py", ".pyi"},
		RootMarkers: []string{"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt", "Pipfile"},
		LanguageIDs: map[string]string{".py": "python", ".pyi": "python"},
		Commands:    [][]string{{"pyright-langserver", "--stdio"}, {"basedpyright-langserver", "--stdio"}, {"pylsp"}},
		Install:     install.Recipe{Strategy: install.StrategyNpm, Package: "pyright"},
	},
	{
		ID:          "rust",
		Name:        "rust-analyzer",
		Extensions:  []string{".rs"},
		RootMarkers: []string{"Cargo.toml"},
		LanguageIDs: map[string]string{".rs": "rust"},
		Commands:    [][]string{{"rust-analyzer"}},
	},
	{
		ID:          "c",
		Name:        "clangd",
		Extensions:  []string{".c", ".cpp", ".cc", ".cxx", ".c++", ".h", ".hpp", ".hh", ".hxx", ".h++"},
		RootMarkers: []string{"compile_commands.json", "CMakeLists.txt", "Makefile"},
		LanguageIDs: map[string]string{".c": "c", ".h": "c"},
		Commands:    [][]string{{"clangd"}},
	},
	{
		ID:          "bash",
		Name:        "bash-language-server",
		Extensions:  []string{".sh", ".bash", ".zsh", ".ksh"},
		LanguageIDs: map[string]string{".sh": "shellscript", ".bash": "shellscript", ".zsh": "shellscript", ".ksh": "shellscript"},
		Commands:    [][]string{{"bash-language-server", "start"}},
		Install:     install.Recipe{Strategy: install.StrategyNpm, Package: "bash-language-server"},
	},
	{
		ID:          "yaml",
		Name:        "yaml-language-server",
		Extensions:  []string{".yaml", ".yml"},
		LanguageIDs: map[string]string{".yaml": "yaml", ".yml": "yaml"},
		Commands:    [][]string{{"yaml-language-server", "--stdio"}},
		Install:     install.Recipe{Strategy: install.StrategyNpm, Package: "yaml-language-server"},
	},
	{
		ID:          "lua",
		Name:        "lua-language-server",
		Extensions:  []string{".lua"},
		RootMarkers: []string{".luarc.json", ".luarc.jsonc", "stylua.toml"},
		LanguageIDs: map[string]string{".lua": "lua"},
		Commands:    [][]string{{"lua-language-server"}},
		Install:     install.Recipe{Strategy: install.StrategyGitHubRelease, Repo: "LuaLS/lua-language-server"},
	},
	{
		ID:          "ruby",
		Name:        "ruby-lsp",
		Extensions:  []string{".rb", ".rake", ".gemspec", ".ru"},
		RootMarkers: []string{"Gemfile"},
		LanguageIDs: map[string]string{".rb": "ruby", ".rake": "ruby", ".gemspec": "ruby", ".ru": "ruby"},
		Commands:    [][]string{{"ruby-lsp"}, {"solargraph", "stdio"}},
	},
	{
		ID:          "java",
		Name:        "jdtls",
		Extensions:  []string{".java"},
		RootMarkers: []string{"pom.xml", "build.gradle", "build.gradle.kts"},
		LanguageIDs: map[string]string{".java": "java"},
		Commands:    [][]string{{"jdtls"}},
	},
	{
		ID:          "php",
		Name:        "intelephense",
		Extensions:  []string{".php"},
		RootMarkers: []string{"composer.json"},
		LanguageIDs: map[string]string{".php": "php"},
		Commands:    [][]string{{"intelephense", "--stdio"}},
		Install:     install.Recipe{Strategy: install.StrategyNpm, Package: "intelephense"},
	},
	{
		ID:          "zig",
		Name:        "zls",
		Extensions:  []string{".zig", ".zon"},
		RootMarkers: []string{"build.zig"},
		LanguageIDs: map[string]string{".zig": "zig", ".zon": "zig"},
		Commands:    [][]string{{"zls"}},
	},
	{
		ID:          "kotlin",
		Name:        "kotlin-lsp",
		Extensions:  []string{".kt", ".kts"},
		RootMarkers: []string{"settings.gradle.kts", "build.gradle.kts"},
		LanguageIDs: map[string]string{".kt": "kotlin", ".kts": "kotlin"},
		Commands:    [][]string{{"kotlin-lsp"}, {"kotlin-language-server"}},
	},
	{
		ID:          "elixir",
		Name:        "elixir-ls",
		Extensions:  []string{".ex", ".exs"},
		RootMarkers: []string{"mix.exs"},
		LanguageIDs: map[string]string{".ex": "elixir", ".exs": "elixir"},
		Commands:    [][]string{{"elixir-ls"}, {"language_server.sh"}},
	},
	{
		ID:          "haskell",
		Name:        "haskell-language-server",
		Extensions:  []string{".hs", ".lhs"},
		RootMarkers: []string{"stack.yaml", "cabal.project"},
		LanguageIDs: map[string]string{".hs": "haskell", ".lhs": "lhaskell"},
		Commands:    [][]string{{"haskell-language-server-wrapper", "--lsp"}},
	},
	{
		ID:          "dart",
		Name:        "Dart",
		Extensions:  []string{".dart"},
		RootMarkers: []string{"pubspec.yaml"},
		LanguageIDs: map[string]string{".dart": "dart"},
		Commands:    [][]string{{"dart", "language-server", "--protocol=lsp"}},
	},
	{
		ID:          "swift",
		Name:        "sourcekit-lsp",
		Extensions:  []string{".swift"},
		RootMarkers: []string{"Package.swift"},
		LanguageIDs: map[string]string{".swift": "swift"},
		Commands:    [][]string{{"sourcekit-lsp"}},
	},
	{
		ID:          "csharp",
		Name:        "csharp-ls",
		Extensions:  []string{".cs"},
		LanguageIDs: map[string]string{".cs": "csharp"},
		Commands:    [][]string{{"csharp-ls"}},
	},
	{
		ID:          "terraform",
		Name:        "terraform-ls",
		Extensions:  []string{".tf", ".tfvars"},
		RootMarkers: []string{".terraform.lock.hcl"},
		LanguageIDs: map[string]string{".tf": "terraform", ".tfvars": "terraform-vars"},
		Commands:    [][]string{{"terraform-ls", "serve"}},
		Install:     install.Recipe{Strategy: install.StrategyGitHubRelease, Repo: "hashicorp/terraform-ls"},
	},
	{
		ID:          "ocaml",
		Name:        "ocamllsp",
		Extensions:  []string{".ml", ".mli"},
		RootMarkers: []string{"dune-project"},
		LanguageIDs: map[string]string{".ml": "ocaml", ".mli": "ocaml.interface"},
		Commands:    [][]string{{"ocamllsp"}},
	},
	{
		ID:          "nix",
		Name:        "nixd",
		Extensions:  []string{".nix"},
		RootMarkers: []string{"flake.nix"},
		LanguageIDs: map[string]string{".nix": "nix"},
		Commands:    [][]string{{"nixd"}, {"nil"}},
	},
	{
		ID:          "gleam",
		Name:        "Gleam",
		Extensions:  []string{".gleam"},
		RootMarkers: []string{"gleam.toml"},
		LanguageIDs: map[string]string{".gleam": "gleam"},
		Commands:    [][]string{{"gleam", "lsp"}},
	},
}

// BuiltinExtensions lists every extension a built-in server claims, whether
// or not that server is installed.
func BuiltinExtensions() []string {
	var exts []string
	for _, b := range builtinServers {
		for _, ext := range b.Extensions {
			if !slices.Contains(exts, ext) {
				exts = append(exts, ext)
			}
		}
	}
	return exts
}

// BuiltinIDs lists the ids of the built-in table in order.
func BuiltinIDs() []string {
	ids := make([]string, 0, len(builtinServers))
	for _, b := range builtinServers {
		ids = append(ids, b.ID)
	}
	return ids
}

// builtinMarkers lists every root marker of the built-in table.
func builtinMarkers() []string {
	var markers []string
	for _, b := range builtinServers {
		for _, m := range b.RootMarkers {
			if !slices.Contains(markers, m) {
				markers = append(markers, m)
			}
		}
	}
	return markers
}

// InstallTarget returns how the built-in server with this id can be installed.
func InstallTarget(id string) (install.Target, bool) {
	for _, b := range builtinServers {
		if b.ID != id {
			continue
		}
		target := install.Target{ID: b.ID, Recipe: b.Install}
		switch {
		case len(b.Commands) > 0:
			target.Binary = b.Commands[0][0]
		case b.locate != nil:
			target.Binary = b.Name
		}
		return target, true
	}
	return install.Target{}, false
}

// detectBuiltins returns a config for every built-in server whose binary is
// present for this root, in table order.
func detectBuiltins(p *probe.Probe, root string) []LanguageServerConfig {
	var configs []LanguageServerConfig
	for _, b := range builtinServers {
		command, args, env, ok := b.find(p, root)
		if !ok {
			continue
		}
		cfg := LanguageServerConfig{
			ID:          b.ID,
			Name:        b.Name,
			Extensions:  slices.Clone(b.Extensions),
			RootMarkers: slices.Clone(b.RootMarkers),
			Transport:   TransportStdio,
			Command:     command,
			Args:        args,
			Env:         env,
			LanguageIDs: maps.Clone(b.LanguageIDs),
		}
		if b.InitOptions != nil {
			cfg.InitializationOptions = cloneValue(b.InitOptions).(map[string]any)
		}
		configs = append(configs, cfg)
	}
	return configs
}

func (b builtinServer) find(p *probe.Probe, root string) (string, []string, map[string]string, bool) {
	if b.locate != nil {
		return b.locate(p, root)
	}
	for _, candidate := range b.Commands {
		if path, ok := p.ResolveCommand(candidate[0]); ok {
			return path, slices.Clone(candidate[1:]), nil, true
		}
	}
	return "", nil, nil, false
}
