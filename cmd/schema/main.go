package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opencode-ai/opencode-lsp/internal/lsp/registry"
)

func main() {
	schema := generateSchema()

	// Pretty print the schema
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(schema); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding schema: %v\n", err)
		os.Exit(1)
	}
}

func stringArray(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"description": description,
		"items":       map[string]any{"type": "string"},
	}
}

func stringMap(description string) map[string]any {
	return map[string]any{
		"type":                 "object",
		"description":          description,
		"additionalProperties": map[string]any{"type": "string"},
	}
}

func milliseconds(description string, def int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description + " in milliseconds",
		"minimum":     0,
		"default":     def,
	}
}

func generateSchema() map[string]any {
	schema := map[string]any{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "OpenCode LSP Configuration",
		"description": "Configuration schema for .opencode.json as read by opencode-lsp",
		"type":        "object",
		"properties":  map[string]any{},
		"definitions": map[string]any{
			"server": serverSchema(),
		},
	}
	properties := schema["properties"].(map[string]any)

	properties["data"] = map[string]any{
		"type":        "object",
		"description": "Storage configuration",
		"properties": map[string]any{
			"directory": map[string]any{
				"type":        "string",
				"description": "Directory where application data and debug logs are stored",
				"default":     ".opencode",
			},
		},
	}

	properties["wd"] = map[string]any{
		"type":        "string",
		"description": "Working directory for the application",
	}

	properties["debug"] = map[string]any{
		"type":        "boolean",
		"description": "Enable debug mode",
		"default":     false,
	}

	properties["debugLSP"] = map[string]any{
		"type":        "boolean",
		"description": "Log every JSON-RPC frame exchanged with language servers",
		"default":     false,
	}

	properties["disableLSP"] = map[string]any{
		"type":        "boolean",
		"description": "Disable all language servers",
		"default":     false,
	}

	properties["installRoot"] = map[string]any{
		"type":        "string",
		"description": "Install root of the host application, searched for a bundled TypeScript",
	}

	properties["lspTimeouts"] = map[string]any{
		"type":        "object",
		"description": "Timing of language server communication",
		"properties": map[string]any{
			"request":       milliseconds("JSON-RPC request timeout", 30_000),
			"diagnostics":   milliseconds("How long to wait for published diagnostics", 30_000),
			"startupSettle": milliseconds("How long a spawned server must stay up before it counts as started", 200),
			"tcpConnect":    milliseconds("TCP connect timeout per attempt", 5_000),
			"tcpRetryDelay": milliseconds("Delay between TCP connect attempts", 1_000),
			"tcpRetries": map[string]any{
				"type":        "integer",
				"description": "Total TCP connect attempts",
				"minimum":     1,
				"default":     3,
			},
		},
	}

	properties["scan"] = map[string]any{
		"type":        "object",
		"description": "Project scan that pre-warms language servers",
		"properties": map[string]any{
			"maxDepth": map[string]any{
				"type":        "integer",
				"description": "Directory levels visited below the project root",
				"minimum":     1,
				"default":     6,
			},
			"ignore": stringArray("Glob patterns, relative to the project root, skipped by scan and watch"),
		},
	}

	properties["configTTL"] = milliseconds("How long detected built-in servers stay cached", 10_000)

	builtins := map[string]any{}
	for _, id := range registry.BuiltinIDs() {
		builtins[id] = map[string]any{
			"oneOf": []map[string]any{
				{"type": "boolean", "const": false},
				{"$ref": "#/definitions/server"},
			},
		}
	}
	properties["lsp"] = map[string]any{
		"description": "Language servers: false disables all of them, otherwise overrides and custom servers by id",
		"oneOf": []map[string]any{
			{"type": "boolean", "const": false},
			{
				"type":       "object",
				"properties": builtins,
				"additionalProperties": map[string]any{
					"oneOf": []map[string]any{
						{"type": "boolean", "const": false},
						{"$ref": "#/definitions/server"},
					},
				},
			},
		},
	}

	return schema
}

func serverSchema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Language server override or custom server",
		"properties": map[string]any{
			"disabled": map[string]any{
				"type":        "boolean",
				"description": "Disable this server",
				"default":     false,
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Display name",
			},
			"transport": map[string]any{
				"type":        "string",
				"description": "How to reach the server",
				"enum":        []string{string(registry.TransportStdio), string(registry.TransportTCP)},
				"default":     string(registry.TransportStdio),
			},
			"command": map[string]any{
				"type":        "string",
				"description": "Executable to spawn (stdio)",
			},
			"args": stringArray("Command arguments (stdio)"),
			"env":  stringMap("Extra environment variables (stdio)"),
			"host": map[string]any{
				"type":        "string",
				"description": "Server host (tcp)",
			},
			"port": map[string]any{
				"type":        "integer",
				"description": "Server port (tcp)",
				"minimum":     1,
				"maximum":     65535,
			},
			"extensions":  stringArray("File extensions handled by the server"),
			"rootMarkers": stringArray("Files or directories that mark a project root"),
			"languageIds": stringMap("languageId sent in didOpen, by extension"),
			"initializationOptions": map[string]any{
				"type":        "object",
				"description": "Options sent in initialize and answered to workspace/configuration",
			},
		},
	}
}
