package config

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/dshills/lspbridge/internal/lsp"
)

// Config is the complete lspbridge configuration.
type Config struct {
	Log     LogConfig     `toml:"log" yaml:"log"`
	LSP     LSPConfig     `toml:"lsp" yaml:"lsp"`
	Servers []ServerEntry `toml:"servers" yaml:"servers"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "text" or "json"
}

// LSPConfig tunes the client.
type LSPConfig struct {
	// FlushDelay is the idle time before batched edits are sent.
	FlushDelay Duration `toml:"flush_delay" yaml:"flush_delay"`

	// ShutdownGrace bounds the wait for a server to exit.
	ShutdownGrace Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`

	// ReadyTimeout bounds the CLI's wait for initialize.
	ReadyTimeout Duration `toml:"ready_timeout" yaml:"ready_timeout"`

	// ClangdLogLevel is passed to clangd as --log.
	ClangdLogLevel string `toml:"clangd_log_level" yaml:"clangd_log_level"`
}

// ServerEntry declares an additional language server.
type ServerEntry struct {
	Name       string            `toml:"name" yaml:"name"`
	Command    string            `toml:"command" yaml:"command"`
	Args       []string          `toml:"args" yaml:"args"`
	FileTypes  []string          `toml:"file_types" yaml:"file_types"`
	Extensions []string          `toml:"extensions" yaml:"extensions"`
	Env        map[string]string `toml:"env" yaml:"env"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LSP: LSPConfig{
			FlushDelay:     Duration(lsp.DefaultFlushDelay),
			ShutdownGrace:  Duration(lsp.DefaultShutdownGrace),
			ReadyTimeout:   Duration(10 * time.Second),
			ClangdLogLevel: "error",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, &ValidationError{Path: "log.level", Message: err.Error()})
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, &ValidationError{Path: "log.format", Message: fmt.Sprintf("unknown format %q", c.Log.Format)})
	}

	durations := []struct {
		path string
		d    Duration
	}{
		{"lsp.flush_delay", c.LSP.FlushDelay},
		{"lsp.shutdown_grace", c.LSP.ShutdownGrace},
		{"lsp.ready_timeout", c.LSP.ReadyTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			errs = append(errs, &ValidationError{Path: d.path, Message: "must not be negative"})
		}
	}

	for i, s := range c.Servers {
		path := fmt.Sprintf("servers[%d]", i)
		if s.Name == "" {
			errs = append(errs, &ValidationError{Path: path + ".name", Message: "required"})
		}
		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, &ValidationError{Path: path + ".command", Message: "required"})
		}
		if len(s.FileTypes) == 0 {
			errs = append(errs, &ValidationError{Path: path + ".file_types", Message: "at least one file type required"})
		}
	}
	return joinValidation(errs)
}

// ServerConfigs returns the configured servers followed by the built-in
// ones.
func (c *Config) ServerConfigs() []lsp.ServerConfig {
	out := make([]lsp.ServerConfig, 0, len(c.Servers)+3)
	for _, s := range c.Servers {
		out = append(out, s.ServerConfig())
	}
	return append(out,
		lsp.ClangdConfig{LogLevel: c.LSP.ClangdLogLevel},
		lsp.PylspConfig{},
		lsp.OmniSharpConfig{},
	)
}

// ServerConfig converts the entry.
func (s ServerEntry) ServerConfig() lsp.GenericConfig {
	env := make([]string, 0, len(s.Env))
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		env = append(env, k+"="+s.Env[k])
	}
	return lsp.GenericConfig{
		ServerName: s.Name,
		Command:    append([]string{s.Command}, s.Args...),
		FileTypes:  s.FileTypes,
		Ext:        s.Extensions,
		Environ:    env,
	}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// Duration is a time.Duration read from strings such as "300ms".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String implements fmt.Stringer.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
