package lsp

import (
	"path/filepath"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/protocol"
	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
)

var languageByExtension = map[string]protocol.LanguageKind{
	".bib":        protocol.LangBibTeX,
	".bibtex":     protocol.LangBibTeX,
	".c":          protocol.LangC,
	".h":          protocol.LangC,
	".cpp":        protocol.LangCPP,
	".cxx":        protocol.LangCPP,
	".cc":         protocol.LangCPP,
	".c++":        protocol.LangCPP,
	".hpp":        protocol.LangCPP,
	".hh":         protocol.LangCPP,
	".hxx":        protocol.LangCPP,
	".h++":        protocol.LangCPP,
	".cs":         protocol.LangCSharp,
	".css":        protocol.LangCSS,
	".clj":        protocol.LangClojure,
	".cljs":       protocol.LangClojure,
	".cljc":       protocol.LangClojure,
	".edn":        protocol.LangClojure,
	".coffee":     protocol.LangCoffeescript,
	".d":          protocol.LangD,
	".dart":       protocol.LangDart,
	".diff":       protocol.LangDiff,
	".patch":      protocol.LangDiff,
	".dockerfile": protocol.LangDockerfile,
	".ex":         protocol.LangElixir,
	".exs":        protocol.LangElixir,
	".erl":        protocol.LangErlang,
	".hrl":        protocol.LangErlang,
	".fs":         protocol.LangFSharp,
	".fsi":        protocol.LangFSharp,
	".fsx":        protocol.LangFSharp,
	".go":         protocol.LangGo,
	".groovy":     protocol.LangGroovy,
	".gleam":      protocol.LangGleam,
	".hbs":        protocol.LangHandlebars,
	".handlebars": protocol.LangHandlebars,
	".hs":         protocol.LangHaskell,
	".lhs":        protocol.LangHaskell,
	".html":       protocol.LangHTML,
	".htm":        protocol.LangHTML,
	".ini":        protocol.LangIni,
	".java":       protocol.LangJava,
	".js":         protocol.LangJavaScript,
	".mjs":        protocol.LangJavaScript,
	".cjs":        protocol.LangJavaScript,
	".jsx":        protocol.LangJavaScriptReact,
	".json":       protocol.LangJSON,
	".kt":         protocol.LangKotlin,
	".kts":        protocol.LangKotlin,
	".tex":        protocol.LangLaTeX,
	".latex":      protocol.LangLaTeX,
	".less":       protocol.LangLess,
	".lua":        protocol.LangLua,
	".mk":         protocol.LangMakefile,
	".md":         protocol.LangMarkdown,
	".markdown":   protocol.LangMarkdown,
	".m":          protocol.LangObjectiveC,
	".mm":         protocol.LangObjectiveCPP,
	".ml":         protocol.LangOCaml,
	".mli":        protocol.LangOCaml,
	".pl":         protocol.LangPerl,
	".php":        protocol.LangPHP,
	".ps1":        protocol.LangPowershell,
	".psm1":       protocol.LangPowershell,
	".prisma":     protocol.LangPrisma,
	".py":         protocol.LangPython,
	".pyi":        protocol.LangPython,
	".r":          protocol.LangR,
	".cshtml":     protocol.LangRazor,
	".razor":      protocol.LangRazor,
	".rb":         protocol.LangRuby,
	".rake":       protocol.LangRuby,
	".gemspec":    protocol.LangRuby,
	".ru":         protocol.LangRuby,
	".erb":        protocol.LangERB,
	".rs":         protocol.LangRust,
	".scss":       protocol.LangSCSS,
	".sass":       protocol.LangSASS,
	".scala":      protocol.LangScala,
	".sh":         protocol.LangShellScript,
	".bash":       protocol.LangShellScript,
	".zsh":        protocol.LangShellScript,
	".ksh":        protocol.LangShellScript,
	".sql":        protocol.LangSQL,
	".svelte":     protocol.LangSvelte,
	".swift":      protocol.LangSwift,
	".ts":         protocol.LangTypeScript,
	".mts":        protocol.LangTypeScript,
	".cts":        protocol.LangTypeScript,
	".tsx":        protocol.LangTypeScriptReact,
	".tf":         protocol.LangTerraform,
	".tfvars":     protocol.LangTerraformVars,
	".hcl":        protocol.LangHCL,
	".typ":        protocol.LangTypst,
	".typc":       protocol.LangTypst,
	".xml":        protocol.LangXML,
	".yaml":       protocol.LangYAML,
	".yml":        protocol.LangYAML,
	".vue":        protocol.LangVue,
	".zig":        protocol.LangZig,
	".zon":        protocol.LangZig,
	".astro":      protocol.LangAstro,
	".nix":        protocol.LangNix,
}

// DetectLanguageID maps a file path to its LSP languageId by extension. It
// returns an empty kind for unknown extensions.
func DetectLanguageID(path string) protocol.LanguageKind {
	base := strings.ToLower(filepath.Base(path))
	switch base {
	case "makefile", "gnumakefile":
		return protocol.LangMakefile
	case "dockerfile":
		return protocol.LangDockerfile
	}
	return languageByExtension[strings.ToLower(filepath.Ext(path))]
}

// languageIDFor picks the languageId sent in didOpen: the config's own
// mapping first, then the extension table, then the server id.
func languageIDFor(cfg registry.LanguageServerConfig, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if id, ok := cfg.LanguageIDs[ext]; ok && id != "" {
		return id
	}
	if kind := DetectLanguageID(path); kind != "" {
		return string(kind)
	}
	return cfg.ID
}
