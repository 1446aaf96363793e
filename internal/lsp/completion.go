package lsp

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// completionState is the list shown for the last completion request.
type completionState struct {
	offset int
	items  []completionCandidate
}

// completionCandidate is one item with its edit in buffer addressing.
type completionCandidate struct {
	item  CompletionItem
	label string
	start int
	end   int
	text  string
}

// ParseCompletionResult decodes a completion result, which is null, an
// array of items or a CompletionList.
func ParseCompletionResult(data json.RawMessage) (*CompletionList, error) {
	r := gjson.ParseBytes(data)
	switch {
	case len(data) == 0 || r.Type == gjson.Null:
		return &CompletionList{}, nil
	case r.IsArray():
		var items []CompletionItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, &MalformedResponseError{Method: MethodCompletion, Err: err}
		}
		return &CompletionList{Items: items}, nil
	case r.IsObject():
		if !r.Get("items").IsArray() {
			return nil, &MalformedResponseError{Method: MethodCompletion, Field: "items"}
		}
		var list CompletionList
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, &MalformedResponseError{Method: MethodCompletion, Err: err}
		}
		return &list, nil
	default:
		return nil, &MalformedResponseError{Method: MethodCompletion, Field: "items"}
	}
}

// RequestCompletion flushes pending changes and asks for completions at the
// byte offset. Any list already shown is cancelled first.
func (s *Session) RequestCompletion(offset int) {
	s.requestCompletion(offset, "")
}

func (s *Session) requestCompletion(offset int, trigger string) {
	if !s.ready(CapCompletion) {
		return
	}
	s.CancelCompletion()

	ctx := &CompletionContext{TriggerKind: CompletionTriggerKindInvoked}
	if trigger != "" {
		ctx = &CompletionContext{
			TriggerKind:      CompletionTriggerKindTriggerCharacter,
			TriggerCharacter: trigger,
		}
	}
	params := CompletionParams{
		TextDocumentPositionParams: s.positionParams(offset),
		Context:                    ctx,
	}
	s.request(MethodCompletion, params, func(result json.RawMessage) {
		s.handleCompletion(offset, result)
	})
}

func (s *Session) handleCompletion(offset int, result json.RawMessage) {
	list, err := ParseCompletionResult(result)
	if err != nil {
		s.logger.Warn("bad completion result", "error", err)
		return
	}

	wordStart := identifierStart(s.buf.Text(), offset)
	state := &completionState{offset: offset}
	for _, it := range list.Items {
		c := completionCandidate{
			item:  it,
			label: strings.TrimLeft(it.Label, " \t•"),
		}
		if it.TextEdit != nil {
			br := toByteRange(s.buf, it.TextEdit.Range)
			c.start, c.end, c.text = br.Start, br.End, it.TextEdit.NewText
		} else {
			c.start, c.end = wordStart, offset
			c.text = it.InsertText
			if c.text == "" {
				c.text = c.label
			}
		}
		state.items = append(state.items, c)
	}

	if len(state.items) == 0 {
		return
	}
	s.completion = state

	entries := make([]CompletionEntry, 0, len(state.items))
	for _, c := range state.items {
		entries = append(entries, CompletionEntry{
			Label:  c.label,
			Detail: c.item.Detail,
			Kind:   c.item.Kind,
			Start:  c.start,
			End:    c.end,
		})
	}
	s.ui.ShowCompletionList(entries)
}

// CompletionActive reports whether a completion list is pending.
func (s *Session) CompletionActive() bool {
	return s.completion != nil
}

// CancelCompletion hides the list and forgets it.
func (s *Session) CancelCompletion() {
	if s.completion == nil {
		return
	}
	s.completion = nil
	s.ui.CancelCompletionList()
}

// SelectedCompletion applies the item with label, places the caret at its
// first snippet marker or after the inserted text, and clears the list.
// The character before the marker is then handled as if typed.
// It returns false if no such item is pending.
func (s *Session) SelectedCompletion(label string) bool {
	if s.completion == nil {
		return false
	}
	var c *completionCandidate
	trimmed := strings.TrimLeft(label, " \t•")
	for i := range s.completion.items {
		if s.completion.items[i].label == trimmed {
			c = &s.completion.items[i]
			break
		}
	}
	if c == nil {
		return false
	}

	text, marker := expandSnippet(c.text, c.item.InsertTextFormat == InsertTextFormatSnippet)

	// The user may have typed on after the list was shown.
	start := c.start
	end := max(c.end, s.buf.CaretOffset(), s.completion.offset)

	edits := []byteEdit{{start: start, end: end, text: text}}
	shift := 0
	for _, ae := range c.item.AdditionalTextEdits {
		br := toByteRange(s.buf, ae.Range)
		edits = append(edits, byteEdit{start: br.Start, end: br.End, text: ae.NewText})
		if br.End <= start {
			shift += len(ae.NewText) - (br.End - br.Start)
		}
	}
	s.applyByteEdits(edits)

	caret := start + shift + len(text)
	if marker >= 0 {
		caret = start + shift + marker
	}
	s.buf.SetSelection(caret, caret)

	s.CancelCompletion()
	if marker > 0 {
		// Accepting "foo($0)" behaves like typing the '('.
		ch, _ := utf8.DecodeLastRuneInString(text[:marker])
		s.CharAdded(ch)
	}
	return true
}

// expandSnippet strips snippet syntax from text and returns the byte index
// of the first tab stop, or -1. "$0" is removed; a "${" placeholder is
// removed up to the last "}"; remaining "$N" tab stops are removed.
func expandSnippet(text string, snippet bool) (string, int) {
	if !snippet {
		return text, -1
	}
	d := strings.IndexByte(text, '$')
	if d < 0 {
		return text, -1
	}

	rest := text[d+1:]
	switch {
	case strings.HasPrefix(rest, "0"):
		text = text[:d] + text[d+2:]
	case strings.HasPrefix(rest, "{"):
		if last := strings.LastIndexByte(text, '}'); last > d {
			text = text[:d] + text[last+1:]
		} else {
			text = text[:d] + rest
		}
	default:
		text = text[:d] + rest[digitPrefix(rest):]
	}

	// Drop the plain tab stops that follow.
	var b strings.Builder
	b.WriteString(text[:d])
	tail := text[d:]
	for {
		i := strings.IndexByte(tail, '$')
		if i < 0 {
			b.WriteString(tail)
			break
		}
		n := digitPrefix(tail[i+1:])
		if n == 0 {
			b.WriteString(tail[:i+1])
		} else {
			b.WriteString(tail[:i])
		}
		tail = tail[i+1+n:]
	}
	return b.String(), d
}

func digitPrefix(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

// identifierStart returns the start of the identifier ending at offset.
func identifierStart(text string, offset int) int {
	if offset > len(text) {
		offset = len(text)
	}
	i := offset
	for i > 0 && isIdentByte(text[i-1]) {
		i--
	}
	return i
}

func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b >= 0x80
}
