package lsp

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	if a.Line < b.Line {
		return -1
	}
	if a.Line > b.Line {
		return 1
	}
	if a.Character < b.Character {
		return -1
	}
	if a.Character > b.Character {
		return 1
	}
	return 0
}

// RangeContains returns true if outer contains inner.
func RangeContains(outer, inner Range) bool {
	return ComparePositions(inner.Start, outer.Start) >= 0 &&
		ComparePositions(inner.End, outer.End) <= 0
}

// ByteRange is a half-open byte range in the host buffer.
type ByteRange struct {
	Start int
	End   int
}

// Contains reports whether offset falls inside r. An empty range contains
// its own start.
func (r ByteRange) Contains(offset int) bool {
	if r.Start == r.End {
		return offset == r.Start
	}
	return offset >= r.Start && offset <= r.End
}

// toByteRange converts an LSP range using the buffer's addressing.
func toByteRange(buf TextBuffer, rng Range) ByteRange {
	start := buf.OffsetAt(rng.Start.Line, rng.Start.Character)
	end := buf.OffsetAt(rng.End.Line, rng.End.Character)
	if end < start {
		start, end = end, start
	}
	return ByteRange{Start: start, End: end}
}

// toPosition converts a byte offset using the buffer's addressing.
func toPosition(buf TextBuffer, offset int) Position {
	line, col := buf.PositionAt(offset)
	return Position{Line: line, Character: col}
}

// utf16ToByteOffset converts a UTF-16 code unit offset into s to a byte
// offset. Offsets past the end clamp to len(s).
func utf16ToByteOffset(s string, units int) int {
	n := 0
	for i, r := range s {
		if n >= units {
			return i
		}
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return len(s)
}
