package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dshills/lspbridge/internal/lsp"
	"github.com/dshills/lspbridge/internal/textbuf"
)

// consoleUI prints session results as plain text. Its methods run on the
// loop; their state is read elsewhere only after a loop barrier.
type consoleUI struct {
	out    io.Writer
	buf    *textbuf.Buffer
	logger *slog.Logger
	stream bool

	shown     int
	diags     []lsp.DiagnosticEntry
	diagnosed chan struct{}
}

func newConsoleUI(out io.Writer, buf *textbuf.Buffer, logger *slog.Logger) *consoleUI {
	return &consoleUI{
		out:       out,
		buf:       buf,
		logger:    logger,
		diagnosed: make(chan struct{}, 1),
	}
}

// location formats offset as 1-based line:col.
func (u *consoleUI) location(offset int) string {
	line, col := u.buf.PositionAt(offset)
	return fmt.Sprintf("%d:%d", line+1, col+1)
}

func (u *consoleUI) ShowTooltip(text string) {
	u.shown++
	fmt.Fprintln(u.out, strings.TrimRight(text, "\n"))
}

func (u *consoleUI) ShowCompletionList(items []lsp.CompletionEntry) {
	u.shown++
	for _, it := range items {
		if it.Detail != "" {
			fmt.Fprintf(u.out, "%s\t%s\n", it.Label, it.Detail)
			continue
		}
		fmt.Fprintln(u.out, it.Label)
	}
}

func (u *consoleUI) CancelCompletionList() {}

// ShowSignatureHelp brackets the active parameter.
func (u *consoleUI) ShowSignatureHelp(text string, hlStart, hlEnd int) {
	u.shown++
	text = strings.NewReplacer("\001", "<", "\002", ">").Replace(text)
	if hlStart >= 0 && hlStart < hlEnd && hlEnd <= len(text) {
		text = text[:hlStart] + "[" + text[hlStart:hlEnd] + "]" + text[hlEnd:]
	}
	fmt.Fprintln(u.out, text)
}

func (u *consoleUI) HideSignatureHelp() {}

func (u *consoleUI) NavigateToFile(path string, pos lsp.Position) {
	u.shown++
	fmt.Fprintf(u.out, "%s:%d:%d\n", path, pos.Line+1, pos.Character+1)
}

// ReportDiagnostics keeps the latest set. With stream set it also prints
// every update.
func (u *consoleUI) ReportDiagnostics(diags []lsp.DiagnosticEntry) {
	u.diags = diags
	if u.stream {
		u.printDiagnostics()
	}
	select {
	case u.diagnosed <- struct{}{}:
	default:
	}
}

func (u *consoleUI) printDiagnostics() {
	u.shown++
	for _, d := range u.diags {
		fmt.Fprintf(u.out, "%s: %s: %s", u.location(d.Start), d.Severity, d.Message)
		if d.Source != "" {
			fmt.Fprintf(u.out, " [%s]", d.Source)
		}
		fmt.Fprintln(u.out)
		for i, fix := range d.Fixes {
			fmt.Fprintf(u.out, "    fix %d: %s\n", i, fix)
		}
	}
}

func (u *consoleUI) ReportDocumentSymbols(symbols []lsp.SymbolNode) {
	u.shown++
	u.printSymbols(symbols, 0)
}

func (u *consoleUI) printSymbols(symbols []lsp.SymbolNode, depth int) {
	for _, sym := range symbols {
		fmt.Fprintf(u.out, "%s%s", strings.Repeat("  ", depth), sym.Name)
		if sym.Detail != "" {
			fmt.Fprintf(u.out, " %s", sym.Detail)
		}
		fmt.Fprintf(u.out, " (%s)\n", u.location(sym.Start))
		u.printSymbols(sym.Children, depth+1)
	}
}

func (u *consoleUI) ReportFileStatus(status string) {
	u.logger.Debug("file status", "status", status)
}

// fileWorkspace applies edits to files on disk.
type fileWorkspace struct {
	logger *slog.Logger
}

// ApplyFileEdits implements lsp.Workspace.
func (w fileWorkspace) ApplyFileEdits(path string, edits []lsp.TextEdit) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	buf := textbuf.New(string(data))
	lsp.ApplyEditsToBuffer(buf, edits)
	if err := os.WriteFile(path, []byte(buf.Text()), info.Mode().Perm()); err != nil {
		return err
	}
	w.logger.Info("edited file", "path", path, "edits", len(edits))
	return nil
}
