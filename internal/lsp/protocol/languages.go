package protocol

// LanguageKind is a textDocument languageId.
type LanguageKind string

// Language identifiers as defined by the LSP specification.
const (
	LangBibTeX          LanguageKind = "bibtex"
	LangC               LanguageKind = "c"
	LangCPP             LanguageKind = "cpp"
	LangCSharp          LanguageKind = "csharp"
	LangCSS             LanguageKind = "css"
	LangClojure         LanguageKind = "clojure"
	LangCoffeescript    LanguageKind = "coffeescript"
	LangD               LanguageKind = "d"
	LangDart            LanguageKind = "dart"
	LangDiff            LanguageKind = "diff"
	LangDockerfile      LanguageKind = "dockerfile"
	LangElixir          LanguageKind = "elixir"
	LangErlang          LanguageKind = "erlang"
	LangFSharp          LanguageKind = "fsharp"
	LangGo              LanguageKind = "go"
	LangGroovy          LanguageKind = "groovy"
	LangHTML            LanguageKind = "html"
	LangHandlebars      LanguageKind = "handlebars"
	LangHaskell         LanguageKind = "haskell"
	LangIni             LanguageKind = "ini"
	LangJSON            LanguageKind = "json"
	LangJava            LanguageKind = "java"
	LangJavaScript      LanguageKind = "javascript"
	LangJavaScriptReact LanguageKind = "javascriptreact"
	LangLaTeX           LanguageKind = "latex"
	LangLess            LanguageKind = "less"
	LangLua             LanguageKind = "lua"
	LangMakefile        LanguageKind = "makefile"
	LangMarkdown        LanguageKind = "markdown"
	LangObjectiveC      LanguageKind = "objective-c"
	LangObjectiveCPP    LanguageKind = "objective-cpp"
	LangPHP             LanguageKind = "php"
	LangPerl            LanguageKind = "perl"
	LangPowershell      LanguageKind = "powershell"
	LangPython          LanguageKind = "python"
	LangR               LanguageKind = "r"
	LangRazor           LanguageKind = "razor"
	LangRuby            LanguageKind = "ruby"
	LangRust            LanguageKind = "rust"
	LangSASS            LanguageKind = "sass"
	LangSCSS            LanguageKind = "scss"
	LangSQL             LanguageKind = "sql"
	LangScala           LanguageKind = "scala"
	LangShellScript     LanguageKind = "shellscript"
	LangSwift           LanguageKind = "swift"
	LangTypeScript      LanguageKind = "typescript"
	LangTypeScriptReact LanguageKind = "typescriptreact"
	LangXML             LanguageKind = "xml"
	LangYAML            LanguageKind = "yaml"
)

// Additional LanguageKind constants not in the LSP specification.
const (
	LangKotlin        LanguageKind = "kotlin"
	LangVue           LanguageKind = "vue"
	LangSvelte        LanguageKind = "svelte"
	LangAstro         LanguageKind = "astro"
	LangZig           LanguageKind = "zig"
	LangOCaml         LanguageKind = "ocaml"
	LangTerraform     LanguageKind = "terraform"
	LangTerraformVars LanguageKind = "terraform-vars"
	LangHCL           LanguageKind = "hcl"
	LangNix           LanguageKind = "nix"
	LangTypst         LanguageKind = "typst"
	LangGleam         LanguageKind = "gleam"
	LangERB           LanguageKind = "erb"
	LangPrisma        LanguageKind = "prisma"
)
