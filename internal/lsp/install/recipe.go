// Package install fetches language-server binaries into the managed bin
// directory on explicit request.
package install

import "fmt"

// Strategy defines how an LSP server binary is obtained.
type Strategy int

const (
	StrategyNone          Strategy = iota // Must be pre-installed on PATH
	StrategyNpm                           // npm install --prefix <dir> <package>
	StrategyGoInstall                     // go install <pkg>@latest
	StrategyGitHubRelease                 // Download from GitHub releases
)

func (s Strategy) String() string {
	switch s {
	case StrategyNpm:
		return "npm"
	case StrategyGoInstall:
		return "go"
	case StrategyGitHubRelease:
		return "github"
	default:
		return "manual"
	}
}

// Recipe describes how to install one server.
type Recipe struct {
	Strategy Strategy
	Package  string // npm package list or go module path
	Repo     string // GitHub owner/repo for release downloads
}

// Target is the server to install: its id, the binary the installation must
// produce, and the recipe to follow.
type Target struct {
	ID     string
	Binary string
	Recipe Recipe
}

func (t Target) validate() error {
	if t.Binary == "" {
		return fmt.Errorf("no binary configured for %s", t.ID)
	}
	switch t.Recipe.Strategy {
	case StrategyNpm, StrategyGoInstall:
		if t.Recipe.Package == "" {
			return fmt.Errorf("no package configured for %s", t.ID)
		}
	case StrategyGitHubRelease:
		if t.Recipe.Repo == "" {
			return fmt.Errorf("no GitHub repo configured for %s", t.ID)
		}
	default:
		return fmt.Errorf("%s must be installed manually", t.ID)
	}
	return nil
}
