package registry

import (
	"os"
	"path/filepath"
	"slices"
)

// FindProjectRoot walks up from the file's directory to the nearest directory
// holding a root marker, falling back to the working directory. The home
// directory itself never counts as a root.
func (r *Registry) FindProjectRoot(path string) string {
	path = r.absolute(path)
	dir := path
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		dir = filepath.Dir(path)
	}

	markers := r.rootMarkers()
	home, _ := os.UserHomeDir()
	for {
		if dir != home && hasAnyMarker(dir, markers) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return r.workingDir
		}
		dir = parent
	}
}

func (r *Registry) rootMarkers() []string {
	markers := append(builtinMarkers(), ".git", ProjectConfigFile)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.custom {
		for _, m := range cfg.RootMarkers {
			if !slices.Contains(markers, m) {
				markers = append(markers, m)
			}
		}
	}
	return markers
}

func hasAnyMarker(dir string, markers []string) bool {
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

// HasMarker reports whether any of the config's root markers exists in dir.
func HasMarker(dir string, cfg LanguageServerConfig) bool {
	return len(cfg.RootMarkers) > 0 && hasAnyMarker(dir, cfg.RootMarkers)
}
