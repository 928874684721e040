// Package registry decides which language servers apply to a project: the
// built-in servers found on this machine, merged with the project's own
// overrides and any configs registered at runtime.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// TransportMode selects how a server is reached.
type TransportMode string

const (
	TransportStdio TransportMode = "stdio"
	TransportTCP   TransportMode = "tcp"
)

// LanguageServerConfig describes one language server. Values handed out by
// the registry are copies; merges always produce a new value.
type LanguageServerConfig struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Extensions  []string          `json:"extensions"`
	RootMarkers []string          `json:"rootMarkers,omitempty"`
	LanguageIDs map[string]string `json:"languageIds,omitempty"`
	Transport   TransportMode     `json:"transport"`

	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	InitializationOptions map[string]any `json:"initializationOptions,omitempty"`
}

// Clone returns a deep copy.
func (c LanguageServerConfig) Clone() LanguageServerConfig {
	out := c
	out.Extensions = slices.Clone(c.Extensions)
	out.RootMarkers = slices.Clone(c.RootMarkers)
	out.Args = slices.Clone(c.Args)
	out.LanguageIDs = maps.Clone(c.LanguageIDs)
	out.Env = maps.Clone(c.Env)
	if c.InitializationOptions != nil {
		out.InitializationOptions = cloneValue(c.InitializationOptions).(map[string]any)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(v))
		for k, e := range v {
			m[k] = cloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(v))
		for i, e := range v {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Handles reports whether the config claims the file's extension.
func (c LanguageServerConfig) Handles(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext != "" && slices.Contains(c.Extensions, ext)
}

// DisplayName falls back to the id when no name is set.
func (c LanguageServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Validate checks that a config can be started: it needs extensions plus a
// command for stdio, or a host and port for tcp.
func (c LanguageServerConfig) Validate() error {
	if c.ID == "" {
		return errors.New("server config requires an id")
	}
	if len(c.Extensions) == 0 {
		return fmt.Errorf("server %s declares no extensions", c.ID)
	}
	switch c.Transport {
	case TransportStdio, "":
		if c.Command == "" {
			return fmt.Errorf("server %s requires a command", c.ID)
		}
	case TransportTCP:
		if c.Host == "" || c.Port <= 0 {
			return fmt.Errorf("server %s requires host and port", c.ID)
		}
	default:
		return fmt.Errorf("server %s has unknown transport %q", c.ID, c.Transport)
	}
	return nil
}

// normalizeExtensions lowercases extensions and adds a missing leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if !slices.Contains(out, ext) {
			out = append(out, ext)
		}
	}
	return out
}
