package lsp

import (
	"encoding/json"
	"slices"
	"sort"

	"github.com/tidwall/gjson"
)

// byteEdit is a text edit in buffer addressing.
type byteEdit struct {
	start int
	end   int
	text  string
}

// orderEdits sorts edits whose offsets all refer to the same text so they
// can be applied from the end of the buffer backwards. Edits at the same
// offset keep their relative order.
func orderEdits(edits []byteEdit) []byteEdit {
	ordered := slices.Clone(edits)
	slices.Reverse(ordered)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].start > ordered[j].start
	})
	return ordered
}

func byteEdits(buf TextBuffer, edits []TextEdit) []byteEdit {
	converted := make([]byteEdit, 0, len(edits))
	for _, e := range edits {
		br := toByteRange(buf, e.Range)
		converted = append(converted, byteEdit{start: br.Start, end: br.End, text: e.NewText})
	}
	return converted
}

func (s *Session) applyByteEdits(edits []byteEdit) {
	if len(edits) == 0 {
		return
	}
	s.buf.BeginUndoGroup()
	defer s.buf.EndUndoGroup()
	for _, e := range orderEdits(edits) {
		s.Edit(e.start, e.end, e.text)
		s.buf.ApplyEdit(e.start, e.end, e.text)
	}
}

// ApplyTextEdits applies server edits to this document as one undo step.
func (s *Session) ApplyTextEdits(edits []TextEdit) {
	s.applyByteEdits(byteEdits(s.buf, edits))
}

// ApplyEditsToBuffer applies edits to a buffer that has no session, as one
// undo step.
func ApplyEditsToBuffer(buf TextBuffer, edits []TextEdit) {
	if len(edits) == 0 {
		return
	}
	buf.BeginUndoGroup()
	defer buf.EndUndoGroup()
	for _, e := range orderEdits(byteEdits(buf, edits)) {
		buf.ApplyEdit(e.start, e.end, e.text)
	}
}

// applyWorkspaceEdit applies edits grouped by URI: this document directly,
// other open documents through their sessions, the rest through the
// Workspace collaborator.
func (s *Session) applyWorkspaceEdit(we *WorkspaceEdit) {
	byURI := we.EditsByURI()
	uris := make([]DocumentURI, 0, len(byURI))
	for uri := range byURI {
		uris = append(uris, uri)
	}
	slices.Sort(uris)

	for _, uri := range uris {
		edits := byURI[uri]
		if SameDocument(uri, s.uri) {
			s.ApplyTextEdits(edits)
			continue
		}
		if s.server != nil {
			if doc, ok := s.server.DocumentByURI(uri).(textEditApplier); ok {
				doc.ApplyTextEdits(edits)
				continue
			}
		}
		if s.workspace == nil {
			s.logger.Warn("no workspace to apply edits", "target", uri)
			continue
		}
		if err := s.workspace.ApplyFileEdits(URIToFilePath(uri), edits); err != nil {
			s.logger.Warn("applying file edits failed", "target", uri, "error", err)
		}
	}
}

// Rename renames the symbol at the caret across the workspace.
func (s *Session) Rename(newName string) {
	if !s.ready(CapRename) || newName == "" {
		return
	}
	params := RenameParams{
		TextDocumentPositionParams: s.positionParams(s.buf.CaretOffset()),
		NewName:                    newName,
	}
	s.request(MethodRename, params, func(result json.RawMessage) {
		if gjson.ParseBytes(result).Type == gjson.Null {
			return
		}
		var we WorkspaceEdit
		if err := json.Unmarshal(result, &we); err != nil {
			s.logger.Warn("bad rename result", "error", err)
			return
		}
		s.applyWorkspaceEdit(&we)
	})
}

// Format formats the selection when there is one and the server supports
// range formatting, otherwise the whole document.
func (s *Session) Format() {
	start, end := s.buf.Selection()
	switch {
	case start != end && s.ready(CapRangeFormatting):
		params := DocumentRangeFormattingParams{
			TextDocument: s.ident(),
			Range:        Range{Start: toPosition(s.buf, start), End: toPosition(s.buf, end)},
			Options:      s.formatting,
		}
		s.request(MethodRangeFormatting, params, s.applyFormatting)
	case s.ready(CapFormatting):
		params := DocumentFormattingParams{
			TextDocument: s.ident(),
			Options:      s.formatting,
		}
		s.request(MethodFormatting, params, s.applyFormatting)
	}
}

func (s *Session) applyFormatting(result json.RawMessage) {
	if gjson.ParseBytes(result).Type == gjson.Null {
		return
	}
	var edits []TextEdit
	if err := json.Unmarshal(result, &edits); err != nil {
		s.logger.Warn("bad formatting result", "error", err)
		return
	}
	s.ApplyTextEdits(edits)
}
