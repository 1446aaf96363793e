package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lspbridge/internal/lsp"
	"github.com/dshills/lspbridge/internal/textbuf"
)

func TestDiffSpan(t *testing.T) {
	tests := []struct {
		name       string
		a, b       string
		start      int
		aEnd, bEnd int
	}{
		{"identical", "abc", "abc", 3, 3, 3},
		{"insert", "ac", "abc", 1, 1, 2},
		{"delete", "abc", "ac", 1, 2, 1},
		{"replace middle", "foo(1)", "foo(22)", 4, 5, 6},
		{"append", "ab", "abcd", 2, 2, 4},
		{"multibyte kept whole", "xéy", "xèy", 1, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, aEnd, bEnd := diffSpan(tt.a, tt.b)
			assert.Equal(t, tt.start, start, "start")
			assert.Equal(t, tt.aEnd, aEnd, "aEnd")
			assert.Equal(t, tt.bEnd, bEnd, "bEnd")
			assert.Equal(t, tt.b, tt.a[:start]+tt.b[start:bEnd]+tt.a[aEnd:])
		})
	}
}

func TestConsoleUI_Output(t *testing.T) {
	var out bytes.Buffer
	buf := textbuf.New("int main() {\n  retrun 0;\n}\n")
	ui := newConsoleUI(&out, buf, slog.Default())

	ui.ReportDiagnostics([]lsp.DiagnosticEntry{{
		Start:    15,
		End:      21,
		Severity: lsp.DiagnosticSeverityError,
		Source:   "clang",
		Message:  "unknown type name 'retrun'",
		Fixes:    []string{"change 'retrun' to 'return'"},
	}})
	assert.Empty(t, out.String(), "diagnostics are held until printed")
	ui.printDiagnostics()
	assert.Contains(t, out.String(), "2:3: error: unknown type name 'retrun' [clang]")
	assert.Contains(t, out.String(), "fix 0: change 'retrun' to 'return'")

	out.Reset()
	ui.ShowSignatureHelp("\001 1 of 2 \002 f(int a, int b)", 20, 25)
	assert.Equal(t, "< 1 of 2 > f(int a, [int b])\n", out.String())

	out.Reset()
	ui.ReportDocumentSymbols([]lsp.SymbolNode{{
		Name:     "main",
		Start:    0,
		Children: []lsp.SymbolNode{{Name: "x", Start: 15}},
	}})
	assert.Equal(t, "main (1:1)\n  x (2:3)\n", out.String())
	assert.Equal(t, 3, ui.shown)
}

func TestFileWorkspace_ApplyFileEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "util.h")
	require.NoError(t, os.WriteFile(path, []byte("int foo();\nint foo2();\n"), 0o600))

	ws := fileWorkspace{logger: slog.Default()}
	err := ws.ApplyFileEdits(path, []lsp.TextEdit{
		{Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 4}, End: lsp.Position{Line: 0, Character: 7}}, NewText: "bar"},
		{Range: lsp.Range{Start: lsp.Position{Line: 1, Character: 4}, End: lsp.Position{Line: 1, Character: 7}}, NewText: "bar"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "int bar();\nint bar2();\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}
