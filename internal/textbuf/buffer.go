package textbuf

import (
	"strings"
	"sync"
)

// Buffer is a text document with a caret and selection.
type Buffer struct {
	mu sync.RWMutex

	text  string
	lines []lineInfo

	selStart int
	selEnd   int

	history history
	revision uint64
}

// lineInfo stores a line's byte range and UTF-16 length.
type lineInfo struct {
	byteOffset int // Byte offset of line start
	byteLen    int // Length in bytes, without the newline
	utf16Len   int // Length in UTF-16 code units
}

// New creates a buffer holding text with the caret at offset 0.
func New(text string) *Buffer {
	b := &Buffer{text: text}
	b.buildLineIndex()
	return b
}

// buildLineIndex creates an index of all lines for position lookup.
func (b *Buffer) buildLineIndex() {
	b.lines = b.lines[:0]
	start := 0
	for {
		nl := strings.IndexByte(b.text[start:], '\n')
		if nl < 0 {
			break
		}
		b.lines = append(b.lines, newLineInfo(b.text, start, start+nl))
		start += nl + 1
	}
	b.lines = append(b.lines, newLineInfo(b.text, start, len(b.text)))
}

func newLineInfo(text string, start, end int) lineInfo {
	return lineInfo{
		byteOffset: start,
		byteLen:    end - start,
		utf16Len:   utf16Len(text[start:end]),
	}
}

// Text returns the full text.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// Len returns the length in bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.text)
}

// LineCount returns the number of lines.
func (b *Buffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Revision increments on every change, undo included.
func (b *Buffer) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// ApplyEdit replaces [start, end) with text, records it for undo and moves
// the caret after the inserted text, which it returns. Offsets are clamped
// to the buffer.
func (b *Buffer) ApplyEdit(start, end int, text string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, end = b.clampRange(start, end)
	old := b.text[start:end]
	b.replace(start, end, text)
	b.history.record(edit{offset: start, oldText: old, newText: text})

	caret := start + len(text)
	b.selStart, b.selEnd = caret, caret
	return caret
}

func (b *Buffer) replace(start, end int, text string) {
	b.text = b.text[:start] + text + b.text[end:]
	b.buildLineIndex()
	b.revision++
}

func (b *Buffer) clampRange(start, end int) (int, int) {
	start = b.clamp(start)
	end = b.clamp(end)
	if end < start {
		start, end = end, start
	}
	return start, end
}

func (b *Buffer) clamp(off int) int {
	return min(max(off, 0), len(b.text))
}

// CaretOffset returns the caret, the moving end of the selection.
func (b *Buffer) CaretOffset() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selEnd
}

// Selection returns the selection ordered start <= end.
func (b *Buffer) Selection() (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return min(b.selStart, b.selEnd), max(b.selStart, b.selEnd)
}

// SetSelection sets the anchor and caret. Equal offsets place the caret.
func (b *Buffer) SetSelection(anchor, caret int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selStart, b.selEnd = b.clamp(anchor), b.clamp(caret)
}

// OffsetAt converts a line and UTF-16 column to a byte offset. Lines past
// the end map to the end of the buffer; columns past the end of the line
// map to the end of the line.
func (b *Buffer) OffsetAt(line, utf16Col int) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if line < 0 {
		return 0
	}
	if line >= len(b.lines) {
		return len(b.text)
	}
	li := b.lines[line]
	content := b.text[li.byteOffset : li.byteOffset+li.byteLen]
	return li.byteOffset + utf16ToByteOffset(content, utf16Col)
}

// PositionAt converts a byte offset to a line and UTF-16 column.
func (b *Buffer) PositionAt(offset int) (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	offset = b.clamp(offset)
	line := b.lineFor(offset)
	li := b.lines[line]
	content := b.text[li.byteOffset : li.byteOffset+li.byteLen]
	return line, byteToUTF16Offset(content, offset-li.byteOffset)
}

// lineFor returns the line containing offset by binary search.
func (b *Buffer) lineFor(offset int) int {
	lo, hi := 0, len(b.lines)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if b.lines[mid].byteOffset <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// LineContent returns a line without its newline.
func (b *Buffer) LineContent(line int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if line < 0 || line >= len(b.lines) {
		return ""
	}
	li := b.lines[line]
	return b.text[li.byteOffset : li.byteOffset+li.byteLen]
}

// --- UTF-16 conversion helpers ---

// utf16Len returns the length in UTF-16 code units.
func utf16Len(s string) int {
	count := 0
	for _, r := range s {
		if r >= 0x10000 {
			count += 2 // Surrogate pair
		} else {
			count++
		}
	}
	return count
}

// byteToUTF16Offset converts a byte offset within s to a UTF-16 offset.
func byteToUTF16Offset(s string, byteOff int) int {
	if byteOff <= 0 {
		return 0
	}
	if byteOff >= len(s) {
		return utf16Len(s)
	}
	return utf16Len(s[:byteOff])
}

// utf16ToByteOffset converts a UTF-16 offset within s to a byte offset.
func utf16ToByteOffset(s string, utf16Off int) int {
	if utf16Off <= 0 {
		return 0
	}
	count := 0
	for i, r := range s {
		if count >= utf16Off {
			return i
		}
		if r >= 0x10000 {
			count += 2
		} else {
			count++
		}
	}
	return len(s)
}
