package registry

import (
	"maps"
	"slices"
)

// mergeOverride applies o on top of base and returns a new config. Scalar and
// list fields replace; languageIds and initializationOptions merge key by
// key. The id is never overridden.
func mergeOverride(base LanguageServerConfig, o ServerOverride) LanguageServerConfig {
	out := base.Clone()

	if o.Name != nil {
		out.Name = *o.Name
	}
	if o.Transport != nil {
		out.Transport = *o.Transport
	}
	if o.Command != nil {
		out.Command = *o.Command
	}
	if o.Args != nil {
		out.Args = slices.Clone(o.Args)
	}
	if o.Env != nil {
		out.Env = maps.Clone(o.Env)
	}
	if o.Host != nil {
		out.Host = *o.Host
	}
	if o.Port != nil {
		out.Port = *o.Port
	}
	if o.Extensions != nil {
		out.Extensions = slices.Clone(o.Extensions)
	}
	if o.RootMarkers != nil {
		out.RootMarkers = slices.Clone(o.RootMarkers)
	}

	if len(o.LanguageIDs) > 0 {
		if out.LanguageIDs == nil {
			out.LanguageIDs = make(map[string]string, len(o.LanguageIDs))
		}
		maps.Copy(out.LanguageIDs, o.LanguageIDs)
	}
	if len(o.InitializationOptions) > 0 {
		if out.InitializationOptions == nil {
			out.InitializationOptions = make(map[string]any, len(o.InitializationOptions))
		}
		for k, v := range o.InitializationOptions {
			out.InitializationOptions[k] = cloneValue(v)
		}
	}
	return out
}

// customConfig builds a standalone server from an override that matched no
// known config. It reports false when the entry is incomplete.
func customConfig(id string, o ServerOverride) (LanguageServerConfig, bool) {
	if o.Disabled {
		return LanguageServerConfig{}, false
	}
	cfg := mergeOverride(LanguageServerConfig{ID: id, Transport: TransportStdio}, o)
	if cfg.Transport == TransportTCP {
		cfg.Command, cfg.Args, cfg.Env = "", nil, nil
	} else {
		cfg.Host, cfg.Port = "", 0
	}
	if err := cfg.Validate(); err != nil {
		return LanguageServerConfig{}, false
	}
	return cfg, true
}
