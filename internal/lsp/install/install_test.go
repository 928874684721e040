package install

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{"manual", Target{ID: "clangd", Binary: "clangd"}, "installed manually"},
		{"npm without package", Target{ID: "yaml", Binary: "yaml-language-server", Recipe: Recipe{Strategy: StrategyNpm}}, "no package"},
		{"github without repo", Target{ID: "lua", Binary: "lua-language-server", Recipe: Recipe{Strategy: StrategyGitHubRelease}}, "no GitHub repo"},
		{"no binary", Target{ID: "x", Recipe: Recipe{Strategy: StrategyGoInstall, Package: "example.com/x@latest"}}, "no binary"},
		{"valid", Target{ID: "gopls", Binary: "gopls", Recipe: Recipe{Strategy: StrategyGoInstall, Package: "golang.org/x/tools/gopls@latest"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindMatchingAsset(t *testing.T) {
	assets := []releaseAsset{
		{Name: "terraform-ls_0.1_darwin_arm64.zip", BrowserDownloadURL: "https://x/darwin-arm64"},
		{Name: "terraform-ls_0.1_linux_amd64.zip", BrowserDownloadURL: "https://x/linux-amd64"},
		{Name: "lua-language-server-3.0-linux-x64.tar.gz", BrowserDownloadURL: "https://x/linux-x64"},
	}

	assert.Equal(t, "https://x/linux-amd64", findMatchingAsset(assets, "linux", "amd64"))
	assert.Equal(t, "https://x/darwin-arm64", findMatchingAsset(assets, "darwin", "arm64"))
	assert.Empty(t, findMatchingAsset(assets, "windows", "amd64"))
}

func TestInstall_GitHubRawBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/fake-ls/releases/latest":
			fmt.Fprintf(w, `{"assets":[{"name":"fake-ls-%s-%s","browser_download_url":"%s/download/fake-ls"}]}`,
				runtime.GOOS, runtime.GOARCH, srv.URL)
		case "/download/fake-ls":
			fmt.Fprint(w, "#!/bin/sh\necho fake-ls 1.2.3\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	inst := New(t.TempDir())
	inst.GitHubAPI = srv.URL
	inst.HTTPClient = srv.Client()

	path, err := inst.Install(context.Background(), Target{
		ID:     "fake",
		Binary: "fake-ls",
		Recipe: Recipe{Strategy: StrategyGitHubRelease, Repo: "acme/fake-ls"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(inst.BinDir, "fake-ls"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
	assert.Equal(t, "fake-ls 1.2.3", ServerVersion(context.Background(), path))
}

func TestInstall_GitHubMissingRelease(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	inst := New(t.TempDir())
	inst.GitHubAPI = srv.URL

	_, err := inst.Install(context.Background(), Target{
		ID:     "fake",
		Binary: "fake-ls",
		Recipe: Recipe{Strategy: StrategyGitHubRelease, Repo: "acme/fake-ls"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
