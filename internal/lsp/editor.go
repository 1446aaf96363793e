package lsp

// TextBuffer is the host editor's text storage. Offsets are byte offsets
// into the buffer's UTF-8 text; columns are UTF-16 code units.
type TextBuffer interface {
	// Text returns the full document text.
	Text() string

	// ApplyEdit replaces [start, end) with text and returns the caret
	// offset after the inserted text.
	ApplyEdit(start, end int, text string) int

	CaretOffset() int
	Selection() (start, end int)
	SetSelection(start, end int)

	// OffsetAt converts a line and UTF-16 column to a byte offset.
	OffsetAt(line, utf16Col int) int
	// PositionAt converts a byte offset to a line and UTF-16 column.
	PositionAt(offset int) (line, utf16Col int)

	BeginUndoGroup()
	EndUndoGroup()
}

// EditorUI is the surface a Session reports results to.
type EditorUI interface {
	ShowTooltip(text string)
	ShowCompletionList(items []CompletionEntry)
	CancelCompletionList()
	ShowSignatureHelp(text string, highlightStart, highlightEnd int)
	HideSignatureHelp()
	NavigateToFile(path string, pos Position)
	ReportDiagnostics(diags []DiagnosticEntry)
	ReportDocumentSymbols(symbols []SymbolNode)
	ReportFileStatus(status string)
}

// Workspace applies edits to files that have no open Session.
type Workspace interface {
	ApplyFileEdits(path string, edits []TextEdit) error
}

// CompletionEntry is one completion candidate in buffer addressing.
type CompletionEntry struct {
	Label  string
	Detail string
	Kind   CompletionItemKind
	Start  int
	End    int
}

// DiagnosticEntry is one diagnostic in buffer addressing. Fixes holds the
// titles of the candidate code actions, in ApplyFix index order.
type DiagnosticEntry struct {
	Start    int
	End      int
	Severity DiagnosticSeverity
	Source   string
	Message  string
	Fixes    []string
}

// SymbolNode is one entry of a document outline.
type SymbolNode struct {
	Name     string
	Detail   string
	Kind     SymbolKind
	Start    int
	End      int
	Children []SymbolNode
}

// textEditApplier is implemented by documents that can apply server edits
// to their own buffer.
type textEditApplier interface {
	ApplyTextEdits(edits []TextEdit)
}
