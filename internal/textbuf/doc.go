// Package textbuf provides an in-memory text buffer with a caret, a
// selection and grouped undo. It implements lsp.TextBuffer for the CLI and
// for tests.
//
// Offsets are byte offsets into the UTF-8 text. Line/column conversion uses
// UTF-16 code units for columns, which is what language servers expect:
//
//	buf := textbuf.New("héllo\nwörld")
//	off := buf.OffsetAt(1, 2) // byte offset of 'r'
//	line, col := buf.PositionAt(off)
//
// A Buffer is safe for concurrent use.
package textbuf
