package install

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
)

const defaultGitHubAPI = "https://api.github.com"

// Installer places server binaries under BinDir, the directory the runtime
// probe searches after PATH.
type Installer struct {
	BinDir     string
	HTTPClient *http.Client
	GitHubAPI  string
}

func New(binDir string) *Installer {
	return &Installer{
		BinDir:     binDir,
		HTTPClient: http.DefaultClient,
		GitHubAPI:  defaultGitHubAPI,
	}
}

// Install runs the target's recipe and returns the path of the installed binary.
func (i *Installer) Install(ctx context.Context, target Target) (string, error) {
	if err := target.validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(i.BinDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create bin directory: %w", err)
	}

	logging.Info("Installing LSP server", "name", target.ID, "strategy", target.Recipe.Strategy)

	var err error
	switch target.Recipe.Strategy {
	case StrategyNpm:
		err = i.installNpm(ctx, target)
	case StrategyGoInstall:
		err = i.installGo(ctx, target)
	case StrategyGitHubRelease:
		err = i.installGitHubRelease(ctx, target)
	}
	if err != nil {
		return "", fmt.Errorf("install failed for %s: %w", target.ID, err)
	}

	for _, candidate := range []string{
		filepath.Join(i.BinDir, target.Binary),
		filepath.Join(i.BinDir, "node_modules", ".bin", target.Binary),
	} {
		if _, err := os.Stat(candidate); err == nil {
			logging.Info("LSP server installed", "name", target.ID, "path", candidate, "version", ServerVersion(ctx, candidate))
			return candidate, nil
		}
	}
	return "", fmt.Errorf("binary %q still not found after install for %s", target.Binary, target.ID)
}

// ServerVersion asks a server binary for its version, returning "" if it
// does not answer to any of the usual flags.
func ServerVersion(ctx context.Context, binaryPath string) string {
	for _, flag := range []string{"--version", "version", "-v"} {
		output, err := exec.CommandContext(ctx, binaryPath, flag).Output()
		if err != nil {
			continue
		}
		if version := strings.TrimSpace(strings.Split(string(output), "\n")[0]); version != "" {
			return version
		}
	}
	return ""
}

func (i *Installer) installNpm(ctx context.Context, target Target) error {
	npmPath, err := exec.LookPath("npm")
	if err != nil {
		return fmt.Errorf("npm not found in PATH, cannot install %s", target.ID)
	}

	args := append([]string{"install", "--prefix", i.BinDir}, strings.Fields(target.Recipe.Package)...)
	cmd := exec.CommandContext(ctx, npmPath, args...)
	cmd.Dir = i.BinDir
	cmd.Env = os.Environ()

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("npm install failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

func (i *Installer) installGo(ctx context.Context, target Target) error {
	goPath, err := exec.LookPath("go")
	if err != nil {
		return fmt.Errorf("go not found in PATH, cannot install %s", target.ID)
	}

	cmd := exec.CommandContext(ctx, goPath, "install", target.Recipe.Package)
	cmd.Env = append(os.Environ(), "GOBIN="+i.BinDir)

	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("go install failed: %w\noutput: %s", err, string(output))
	}
	return nil
}

type releaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

func (i *Installer) installGitHubRelease(ctx context.Context, target Target) error {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(i.GitHubAPI, "/"), target.Recipe.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := i.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub API returned status %d for %s", resp.StatusCode, target.Recipe.Repo)
	}

	var release struct {
		Assets []releaseAsset `json:"assets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return fmt.Errorf("failed to decode release info: %w", err)
	}

	asset := findMatchingAsset(release.Assets, runtime.GOOS, runtime.GOARCH)
	if asset == "" {
		return fmt.Errorf("no matching release asset found for %s on %s/%s", target.ID, runtime.GOOS, runtime.GOARCH)
	}

	logging.Info("Downloading LSP server", "name", target.ID, "url", asset)
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
	if err != nil {
		return err
	}

	dl, err := i.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download release: %w", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", dl.StatusCode)
	}

	tmpFile, err := os.CreateTemp(i.BinDir, "lsp-download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := io.Copy(tmpFile, dl.Body); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to download: %w", err)
	}
	tmpFile.Close()

	downloadName := filepath.Base(asset)
	switch {
	case strings.HasSuffix(downloadName, ".tar.gz") || strings.HasSuffix(downloadName, ".tgz"):
		return extractTarGz(ctx, tmpFile.Name(), i.BinDir, target.Binary)
	case strings.HasSuffix(downloadName, ".zip"):
		return extractZip(ctx, tmpFile.Name(), i.BinDir, target.Binary)
	default:
		// Assume it's a raw binary
		dest := filepath.Join(i.BinDir, target.Binary)
		if err := os.Rename(tmpFile.Name(), dest); err != nil {
			return err
		}
		return os.Chmod(dest, 0o755)
	}
}

func findMatchingAsset(assets []releaseAsset, goos, goarch string) string {
	osNames := []string{goos}
	archNames := []string{goarch}

	switch goos {
	case "darwin":
		osNames = append(osNames, "macos", "osx", "apple")
	case "windows":
		osNames = append(osNames, "win")
	}

	switch goarch {
	case "amd64":
		archNames = append(archNames, "x86_64", "x64")
	case "arm64":
		archNames = append(archNames, "aarch64")
	}

	containsAny := func(s string, subs []string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}

	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if containsAny(name, osNames) && containsAny(name, archNames) {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

func extractTarGz(ctx context.Context, src, destDir, binaryName string) error {
	output, err := exec.CommandContext(ctx, "tar", "xzf", src, "-C", destDir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("tar extraction failed: %w\noutput: %s", err, string(output))
	}
	return chmodBinary(destDir, binaryName)
}

func extractZip(ctx context.Context, src, destDir, binaryName string) error {
	output, err := exec.CommandContext(ctx, "unzip", "-o", src, "-d", destDir).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unzip failed: %w\noutput: %s", err, string(output))
	}
	return chmodBinary(destDir, binaryName)
}

// chmodBinary marks the extracted binary executable and links it into
// destDir when the archive nested it in a subdirectory.
func chmodBinary(destDir, binaryName string) error {
	binary := filepath.Join(destDir, binaryName)
	if _, err := os.Stat(binary); err == nil {
		return os.Chmod(binary, 0o755)
	}

	var nested string
	err := filepath.WalkDir(destDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || nested != "" {
			return err
		}
		if d.Name() == binaryName {
			nested = path
		}
		return nil
	})
	if err != nil {
		return err
	}
	if nested == "" {
		return fmt.Errorf("binary %q not found in archive", binaryName)
	}
	if err := os.Chmod(nested, 0o755); err != nil {
		return err
	}
	return os.Symlink(nested, binary)
}
