package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencode-ai/opencode-lsp/internal/logging"
	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ProjectConfigFile is the project-local config file carrying the "lsp" key.
const ProjectConfigFile = ".opencode.json"

// ServerOverride is one entry of the project's "lsp" section. Nil fields were
// not set and leave the base config untouched.
type ServerOverride struct {
	Disabled bool

	Name        *string
	Transport   *TransportMode
	Command     *string
	Args        []string
	Env         map[string]string
	Host        *string
	Port        *int
	Extensions  []string
	RootMarkers []string

	LanguageIDs           map[string]string
	InitializationOptions map[string]any
}

// UserConfig is the parsed "lsp" section of a project.
type UserConfig struct {
	// Disabled is set by "lsp": false.
	Disabled bool
	Servers  map[string]ServerOverride
	// Order keeps the ids in file order.
	Order []string
	// Source is the file the section was read from, empty when none was found.
	Source string
}

// Override returns the override for id, if any.
func (u UserConfig) Override(id string) (ServerOverride, bool) {
	o, ok := u.Servers[id]
	return o, ok
}

// loadUserConfig reads the first "lsp" section found in the project root:
// .opencode.json, then package.json under "opencode", then pyproject.toml
// under [tool.opencode]. Unreadable or malformed files count as absent.
func loadUserConfig(root string) UserConfig {
	sources := []struct {
		file string
		read func(data []byte) (gjson.Result, error)
	}{
		{ProjectConfigFile, func(data []byte) (gjson.Result, error) {
			return jsonSection(data, "lsp")
		}},
		{"package.json", func(data []byte) (gjson.Result, error) {
			return jsonSection(data, "opencode.lsp")
		}},
		{"pyproject.toml", pyprojectSection},
	}

	for _, src := range sources {
		path := filepath.Join(root, src.file)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		section, err := src.read(data)
		if err != nil {
			logging.Debug("Ignoring malformed LSP config", "file", path, "error", err)
			continue
		}
		if !section.Exists() {
			continue
		}
		cfg := parseUserConfig(section)
		cfg.Source = path
		return cfg
	}
	return UserConfig{}
}

func jsonSection(data []byte, path string) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, errors.New("invalid JSON")
	}
	return gjson.GetBytes(data, path), nil
}

func pyprojectSection(data []byte) (gjson.Result, error) {
	var doc struct {
		Tool struct {
			Opencode map[string]any `toml:"opencode"`
		} `toml:"tool"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return gjson.Result{}, err
	}
	lsp, ok := doc.Tool.Opencode["lsp"]
	if !ok {
		return gjson.Result{}, nil
	}
	raw, err := json.Marshal(lsp)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

func parseUserConfig(section gjson.Result) UserConfig {
	cfg := UserConfig{Servers: map[string]ServerOverride{}}
	switch {
	case section.Type == gjson.False:
		cfg.Disabled = true
		return cfg
	case !section.IsObject():
		return cfg
	}

	section.ForEach(func(key, value gjson.Result) bool {
		id := key.String()
		o, ok := parseOverride(value)
		if !ok {
			logging.Debug("Ignoring LSP config entry", "id", id)
			return true
		}
		if _, seen := cfg.Servers[id]; !seen {
			cfg.Order = append(cfg.Order, id)
		}
		cfg.Servers[id] = o
		return true
	})
	return cfg
}

// parseOverride reads the known keys of one entry. Keys with the wrong JSON
// type are ignored rather than coerced.
func parseOverride(v gjson.Result) (ServerOverride, bool) {
	if v.Type == gjson.False {
		return ServerOverride{Disabled: true}, true
	}
	if !v.IsObject() {
		return ServerOverride{}, false
	}

	var o ServerOverride
	o.Disabled = v.Get("disabled").Type == gjson.True
	o.Name = stringField(v, "name")
	o.Command = stringField(v, "command")
	o.Host = stringField(v, "host")
	if t := stringField(v, "transport"); t != nil {
		mode := TransportMode(strings.ToLower(*t))
		o.Transport = &mode
	}
	if p := v.Get("port"); p.Type == gjson.Number {
		port := int(p.Int())
		o.Port = &port
	}
	o.Args = stringList(v.Get("args"))
	o.Extensions = stringList(v.Get("extensions"))
	if o.Extensions != nil {
		o.Extensions = normalizeExtensions(o.Extensions)
	}
	o.RootMarkers = stringList(v.Get("rootMarkers"))
	o.Env = stringMap(v.Get("env"))
	o.LanguageIDs = stringMap(v.Get("languageIds"))
	if opts := v.Get("initializationOptions"); opts.IsObject() {
		o.InitializationOptions, _ = opts.Value().(map[string]any)
	}
	return o, true
}

func stringField(v gjson.Result, key string) *string {
	f := v.Get(key)
	if f.Type != gjson.String {
		return nil
	}
	s := f.String()
	return &s
}

func stringList(v gjson.Result) []string {
	if !v.IsArray() {
		return nil
	}
	out := []string{}
	for _, item := range v.Array() {
		if item.Type == gjson.String {
			out = append(out, item.String())
		}
	}
	return out
}

func stringMap(v gjson.Result) map[string]string {
	if !v.IsObject() {
		return nil
	}
	out := map[string]string{}
	v.ForEach(func(key, value gjson.Result) bool {
		if value.Type == gjson.String {
			out[key.String()] = value.String()
		}
		return true
	})
	return out
}

// setServerDisabled flips lsp.<id>.disabled in the project's .opencode.json,
// creating the file or section as needed and leaving everything else as is.
func setServerDisabled(root, id string, disabled bool) (string, error) {
	path := filepath.Join(root, ProjectConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = []byte("{}")
	case err != nil:
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	case !gjson.ValidBytes(data):
		return "", fmt.Errorf("%s is not valid JSON", path)
	}

	if lsp := gjson.GetBytes(data, "lsp"); lsp.Exists() && !lsp.IsObject() {
		if data, err = sjson.SetBytes(data, "lsp", map[string]any{}); err != nil {
			return "", fmt.Errorf("failed to reset lsp section: %w", err)
		}
	}
	if data, err = sjson.SetBytes(data, "lsp."+escapePathKey(id)+".disabled", disabled); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

// escapePathKey escapes the gjson/sjson path metacharacters in a key.
func escapePathKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
