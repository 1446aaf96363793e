package lsp

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageIDForPath(t *testing.T) {
	tests := map[string]string{
		"/src/main.cpp":        "cpp",
		"/src/util.h":          "cpp",
		"/src/legacy.c":        "c",
		"/src/VIEW.HPP":        "cpp",
		"/src/app.mm":          "objcpp",
		"/proj/CMakeLists.txt": "cmake",
		"/proj/setup.py":       "python",
		"/proj/Program.cs":     "csharp",
		"/proj/README":         "",
		"/proj/notes.txt":      "",
	}
	for path, want := range tests {
		assert.Equal(t, want, LanguageIDForPath(path), path)
	}
}

func TestDetectProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "lib")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	file := filepath.Join(nested, "a.cpp")
	require.NoError(t, os.WriteFile(file, []byte("int x;\n"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(root, "compile_commands.json"), []byte("[]"), 0o644))
	assert.Equal(t, root, DetectProjectRoot(file))
	assert.Equal(t, root, DetectProjectRoot(nested), "directories are searched from themselves")

	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "App.sln"), nil, 0o644))
	assert.Equal(t, filepath.Join(root, "src"), DetectProjectRoot(file), "glob markers match")

	require.NoError(t, os.Mkdir(filepath.Join(nested, ".git"), 0o755))
	assert.Equal(t, nested, DetectProjectRoot(file))
}

func TestDetectProjectRoot_MissingFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "Makefile"), nil, 0o644))
	assert.Equal(t, root, DetectProjectRoot(filepath.Join(root, "new.c")))
}

func TestAvailableConfigs(t *testing.T) {
	missing := GenericConfig{ServerName: "missing", Command: []string{"lspbridge-no-such-server"}}
	empty := GenericConfig{ServerName: "empty"}
	assert.Empty(t, AvailableConfigs(missing, empty))

	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	cat := GenericConfig{ServerName: "cat", Command: []string{"cat"}, FileTypes: []string{"text"}}
	got := AvailableConfigs(missing, cat)
	require.Len(t, got, 1)
	assert.Equal(t, "cat", got[0].Name())
}

func TestServerConfigs(t *testing.T) {
	clangd := ClangdConfig{}
	assert.True(t, clangd.IsFileTypeSupported("cpp"))
	assert.True(t, clangd.IsFileTypeSupported("objc"))
	assert.False(t, clangd.IsFileTypeSupported("python"))
	assert.Contains(t, clangd.Argv(), "--log=error")
	assert.Contains(t, clangd.Argv(), "--offset-encoding=utf-16")
	assert.Contains(t, ClangdConfig{LogLevel: "verbose"}.Argv(), "--log=verbose")
	assert.Contains(t, clangd.Extensions(), ExtSwitchSourceHeader)

	g := GenericConfig{ServerName: "gopls", Command: []string{"gopls"}, FileTypes: []string{"go"}, Environ: []string{"A=1"}}
	assert.True(t, g.IsFileTypeSupported("go"))
	assert.Equal(t, []string{"A=1"}, g.Env())

	argv := g.Argv()
	argv[0] = "changed"
	assert.Equal(t, []string{"gopls"}, g.Argv(), "argv is copied")

	names := make([]string, 0, 3)
	for _, c := range DefaultConfigs() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"clangd", "pylsp", "omnisharp"}, names)
}
