package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspbridge/internal/lsp"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lspbridge.toml", `
[log]
level = "debug"

[lsp]
flush_delay = "120ms"
clangd_log_level = "verbose"

[[servers]]
name = "gopls"
command = "gopls"
args = ["serve"]
file_types = ["go"]
env = { GOFLAGS = "-mod=mod" }
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 120*time.Millisecond, cfg.LSP.FlushDelay.Std())
	assert.Equal(t, lsp.DefaultShutdownGrace, cfg.LSP.ShutdownGrace.Std(), "unset keys keep defaults")
	require.Len(t, cfg.Servers, 1)

	gc := cfg.Servers[0].ServerConfig()
	assert.Equal(t, []string{"gopls", "serve"}, gc.Argv())
	assert.Equal(t, []string{"GOFLAGS=-mod=mod"}, gc.Env())
	assert.True(t, gc.IsFileTypeSupported("go"))
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "lspbridge.yaml", `
lsp:
  shutdown_grace: 1s
servers:
  - name: rust-analyzer
    command: rust-analyzer
    file_types: [rust]
    extensions: [switchSourceHeader]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, time.Second, cfg.LSP.ShutdownGrace.Std())
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, []string{lsp.ExtSwitchSourceHeader}, cfg.Servers[0].ServerConfig().Extensions())
}

func TestLoad_ParseError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.toml", "[lsp\nflush_delay = ")

	_, err := Load(path)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, path, pe.Path)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, t.TempDir(), "typo.yml", "lsp:\n  flush_dely: 1s\n")

	_, err := Load(path)
	var pe *ParseError
	assert.ErrorAs(t, err, &pe)
}

func TestParse_UnsupportedFormat(t *testing.T) {
	err := Parse("settings.ini", []byte("x=1"), Default())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.LSP.FlushDelay = Duration(-time.Second)
	cfg.Servers = []ServerEntry{{Name: "x"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)

	var ve ValidationErrors
	require.True(t, errors.As(err, &ve))
	paths := make([]string, 0, len(ve))
	for _, v := range ve {
		paths = append(paths, v.Path)
	}
	assert.ElementsMatch(t, []string{
		"log.level",
		"lsp.flush_delay",
		"servers[0].command",
		"servers[0].file_types",
	}, paths)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LSPBRIDGE_LOG_LEVEL":   "warn",
		"LSPBRIDGE_FLUSH_DELAY": "50ms",
		"LSPBRIDGE_CLANGD_LOG":  "info",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, lookup))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 50*time.Millisecond, cfg.LSP.FlushDelay.Std())
	assert.Equal(t, "info", cfg.LSP.ClangdLogLevel)

	env["LSPBRIDGE_READY_TIMEOUT"] = "soon"
	assert.Error(t, ApplyEnv(cfg, lookup))
}

func TestConfig_ServerConfigsOrder(t *testing.T) {
	cfg := Default()
	cfg.Servers = []ServerEntry{{Name: "ccls", Command: "ccls", FileTypes: []string{"cpp"}}}

	configs := cfg.ServerConfigs()
	require.Len(t, configs, 4)
	assert.Equal(t, "ccls", configs[0].Name(), "configured entries win over built-ins")
	assert.Equal(t, "clangd", configs[1].Name())
	assert.Contains(t, configs[1].Argv(), "--log=error")
}

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"debug", "info", "", "warn", "warning", "error", " ERROR "} {
		_, err := ParseLevel(name)
		assert.NoError(t, err, name)
	}
	_, err := ParseLevel("trace")
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "lspbridge.toml", "[log]\nlevel = \"info\"\n")

	reloaded := make(chan *Config, 4)
	w, err := NewWatcher(path, func(cfg *Config, err error) {
		if err == nil {
			reloaded <- cfg
		}
	}, WithDebounce(10*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\n"), 0o644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
}
