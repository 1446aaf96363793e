// Package config loads lspbridge settings.
//
// Settings come from three places, later ones winning:
//
//   - Built-in defaults (Default)
//   - A TOML or YAML file, chosen by extension
//   - LSPBRIDGE_* environment variables
//
// A Watcher reloads the file when it changes. The configuration is
// read-only; nothing is ever written back.
//
// Example file (lspbridge.toml):
//
//	[log]
//	level = "debug"
//
//	[lsp]
//	flush_delay = "200ms"
//	clangd_log_level = "info"
//
//	[[servers]]
//	name = "gopls"
//	command = "gopls"
//	file_types = ["go"]
package config
