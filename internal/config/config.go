package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppSpec describes one application of the batch. Exactly one of Builtin,
// Script and ScriptFile is set.
type AppSpec struct {
	Name       string   `yaml:"name" json:"name"`
	Builtin    string   `yaml:"builtin,omitempty" json:"builtin,omitempty"`
	Script     string   `yaml:"script,omitempty" json:"script,omitempty"`
	ScriptFile string   `yaml:"script_file,omitempty" json:"script_file,omitempty"`
	Args       []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// Kind returns "builtin" or "script".
func (a AppSpec) Kind() string {
	if a.Builtin != "" {
		return "builtin"
	}
	return "script"
}

// KernelConfig holds configuration for one kernel boot.
type KernelConfig struct {
	Apps      []AppSpec `yaml:"apps"`
	LogLevel  string    `yaml:"log_level"`  // Log level: debug, info, warn, error
	LogFormat string    `yaml:"log_format"` // Log format: text, json
	DBPath    string    `yaml:"db_path"`    // SQLite database path; empty disables run recording
	Quiet     bool      `yaml:"quiet"`      // Discard application console output
	TraceFile string    `yaml:"trace_file"` // OpenTelemetry span output; "-" for stdout, empty disables
}

// DefaultKernelConfig returns sensible defaults.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// LoadKernelConfig reads a YAML manifest over the defaults. Relative
// script_file paths are resolved against the manifest's directory.
func LoadKernelConfig(path string) (KernelConfig, error) {
	cfg := DefaultKernelConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	for i := range cfg.Apps {
		f := cfg.Apps[i].ScriptFile
		if f != "" && !filepath.IsAbs(f) {
			cfg.Apps[i].ScriptFile = filepath.Join(dir, f)
		}
	}
	return cfg, cfg.Validate()
}

// ParseAppFlag parses the --app flag form "builtin:name[,arg...]" or
// "script:path[,arg...]".
func ParseAppFlag(s string) (AppSpec, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return AppSpec{}, fmt.Errorf("app %q: want builtin:<name> or script:<path>", s)
	}
	parts := strings.Split(rest, ",")
	spec := AppSpec{Args: parts[1:]}
	switch kind {
	case "builtin":
		spec.Builtin = parts[0]
		spec.Name = parts[0]
	case "script":
		spec.ScriptFile = parts[0]
		spec.Name = strings.TrimSuffix(filepath.Base(parts[0]), filepath.Ext(parts[0]))
	default:
		return AppSpec{}, fmt.Errorf("app %q: unknown kind %q", s, kind)
	}
	return spec, nil
}

// Validate checks the application list. It does not resolve builtin names.
func (c KernelConfig) Validate() error {
	var errs []error
	for i, app := range c.Apps {
		n := 0
		for _, src := range []string{app.Builtin, app.Script, app.ScriptFile} {
			if src != "" {
				n++
			}
		}
		if n != 1 {
			errs = append(errs, fmt.Errorf("apps[%d]: exactly one of builtin, script, script_file is required", i))
		}
		if app.Name == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: name is required", i))
		}
	}
	return errors.Join(errs...)
}

// ServerConfig holds configuration for the introspection server.
type ServerConfig struct {
	Addr      string // Listen address (default ":8080")
	LogLevel  string // Log level: debug, info, warn, error
	LogFormat string // Log format: text, json
	DBPath    string // SQLite database path (default ~/.os3/os3.db, ":memory:" for testing)

	RunTimeout time.Duration // Upper bound on a run started over the API
	// AllowScriptFiles lets API clients name script files on the server's disk.
	AllowScriptFiles bool
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:       ":8080",
		LogLevel:   "info",
		LogFormat:  "text",
		RunTimeout: 30 * time.Second,
	}
}

// DefaultDBPath returns ~/.os3/os3.db.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "os3.db"
	}
	return filepath.Join(home, ".os3", "os3.db")
}
