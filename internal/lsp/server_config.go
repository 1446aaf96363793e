package lsp

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
)

// ServerConfig describes how to run one kind of language server.
type ServerConfig interface {
	// Name identifies the server; servers are shared per project root and
	// name.
	Name() string

	// Argv is the command line, binary first.
	Argv() []string

	// Env holds extra KEY=VALUE entries for the server environment.
	Env() []string

	// IsFileTypeSupported reports whether the server handles fileType, a
	// language identifier such as "cpp".
	IsFileTypeSupported(fileType string) bool

	// Extensions lists the non-standard features the server provides
	// (ExtSwitchSourceHeader, ExtFileStatus, ExtInlineCodeActions).
	Extensions() []string
}

// ClangdConfig runs clangd for the C family.
type ClangdConfig struct {
	// LogLevel is passed as --log; empty means "error".
	LogLevel string
}

// Name implements ServerConfig.
func (ClangdConfig) Name() string { return "clangd" }

// Argv implements ServerConfig.
func (c ClangdConfig) Argv() []string {
	level := c.LogLevel
	if level == "" {
		level = "error"
	}
	return []string{
		"clangd",
		"--log=" + level,
		"--offset-encoding=utf-16",
		"--pretty",
		"--header-insertion-decorators=false",
		"--pch-storage=memory",
	}
}

// Env implements ServerConfig.
func (ClangdConfig) Env() []string { return nil }

// IsFileTypeSupported implements ServerConfig.
func (ClangdConfig) IsFileTypeSupported(fileType string) bool {
	switch fileType {
	case "c", "cpp", "objc", "objcpp":
		return true
	}
	return false
}

// Extensions implements ServerConfig.
func (ClangdConfig) Extensions() []string {
	return []string{ExtSwitchSourceHeader, ExtFileStatus, ExtInlineCodeActions}
}

// PylspConfig runs the python-lsp-server.
type PylspConfig struct{}

func (PylspConfig) Name() string                             { return "pylsp" }
func (PylspConfig) Argv() []string                           { return []string{"pylsp", "-v"} }
func (PylspConfig) Env() []string                            { return nil }
func (PylspConfig) IsFileTypeSupported(fileType string) bool { return fileType == "python" }
func (PylspConfig) Extensions() []string                     { return nil }

// OmniSharpConfig runs OmniSharp in LSP mode.
type OmniSharpConfig struct{}

func (OmniSharpConfig) Name() string                             { return "omnisharp" }
func (OmniSharpConfig) Argv() []string                           { return []string{"omnisharp", "-lsp"} }
func (OmniSharpConfig) Env() []string                            { return nil }
func (OmniSharpConfig) IsFileTypeSupported(fileType string) bool { return fileType == "csharp" }
func (OmniSharpConfig) Extensions() []string                     { return nil }

// GenericConfig is a server declared in the configuration file.
type GenericConfig struct {
	ServerName string
	Command    []string
	FileTypes  []string
	Ext        []string
	Environ    []string
}

func (c GenericConfig) Name() string         { return c.ServerName }
func (c GenericConfig) Argv() []string       { return slices.Clone(c.Command) }
func (c GenericConfig) Env() []string        { return slices.Clone(c.Environ) }
func (c GenericConfig) Extensions() []string { return slices.Clone(c.Ext) }

func (c GenericConfig) IsFileTypeSupported(fileType string) bool {
	return slices.Contains(c.FileTypes, fileType)
}

// DefaultConfigs returns the built-in server configurations.
func DefaultConfigs() []ServerConfig {
	return []ServerConfig{ClangdConfig{}, PylspConfig{}, OmniSharpConfig{}}
}

// AvailableConfigs keeps the configurations whose binary is on PATH, in
// order. With no arguments it checks DefaultConfigs.
func AvailableConfigs(configs ...ServerConfig) []ServerConfig {
	if len(configs) == 0 {
		configs = DefaultConfigs()
	}
	var out []ServerConfig
	for _, c := range configs {
		argv := c.Argv()
		if len(argv) == 0 {
			continue
		}
		if _, err := exec.LookPath(argv[0]); err == nil {
			out = append(out, c)
		}
	}
	return out
}

var languageIDs = map[string]string{
	"c":     "c",
	"h":     "cpp",
	"cc":    "cpp",
	"cpp":   "cpp",
	"cxx":   "cpp",
	"c++":   "cpp",
	"hh":    "cpp",
	"hpp":   "cpp",
	"hxx":   "cpp",
	"inl":   "cpp",
	"ipp":   "cpp",
	"m":     "objc",
	"mm":    "objcpp",
	"py":    "python",
	"pyi":   "python",
	"cs":    "csharp",
	"csx":   "csharp",
	"go":    "go",
	"rs":    "rust",
	"ts":    "typescript",
	"js":    "javascript",
	"java":  "java",
	"lua":   "lua",
	"sh":    "shellscript",
	"json":  "json",
	"yaml":  "yaml",
	"yml":   "yaml",
	"toml":  "toml",
	"cmake": "cmake",
}

// LanguageIDForPath returns the language identifier for a file, or "".
func LanguageIDForPath(path string) string {
	base := filepath.Base(path)
	if base == "CMakeLists.txt" {
		return "cmake"
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	return languageIDs[ext]
}

var projectMarkers = []string{
	"compile_commands.json",
	".git",
	"pyproject.toml",
	"setup.py",
	"*.sln",
	"CMakeLists.txt",
	"Makefile",
}

// DetectProjectRoot walks up from path to the nearest directory containing
// a project marker. Without one it returns the directory of path.
func DetectProjectRoot(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	start := abs
	if fi, err := os.Stat(abs); err != nil || !fi.IsDir() {
		start = filepath.Dir(abs)
	}

	for dir := start; ; {
		if hasMarker(dir) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

func hasMarker(dir string) bool {
	for _, m := range projectMarkers {
		if strings.ContainsAny(m, "*?[") {
			if matches, _ := filepath.Glob(filepath.Join(dir, m)); len(matches) > 0 {
				return true
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}
