package config

import (
	"errors"
	"fmt"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LSPBRIDGE_"

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// envOverride maps one variable onto a setting.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string) error
}

var envOverrides = []envOverride{
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
	{"FLUSH_DELAY", func(c *Config, v string) error { return c.LSP.FlushDelay.UnmarshalText([]byte(v)) }},
	{"SHUTDOWN_GRACE", func(c *Config, v string) error { return c.LSP.ShutdownGrace.UnmarshalText([]byte(v)) }},
	{"READY_TIMEOUT", func(c *Config, v string) error { return c.LSP.ReadyTimeout.UnmarshalText([]byte(v)) }},
	{"CLANGD_LOG", func(c *Config, v string) error { c.LSP.ClangdLogLevel = v; return nil }},
}

// ApplyEnv overrides cfg from LSPBRIDGE_* variables found by lookup.
// Empty values are treated as set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, o.name, err))
		}
	}
	return errors.Join(errs...)
}
