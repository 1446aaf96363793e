package lsp

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// --- Hover ---

// Hover shows information for the symbol at the caret.
func (s *Session) Hover() {
	s.HoverAt(s.buf.CaretOffset())
}

// HoverAt shows information for offset. A diagnostic covering the offset is
// shown instead of asking the server.
func (s *Session) HoverAt(offset int) {
	if d, ok := s.DiagnosticAt(offset); ok {
		s.ui.ShowTooltip(d.Message)
		return
	}
	if !s.ready(CapHover) {
		return
	}
	s.request(MethodHover, s.positionParams(offset), func(result json.RawMessage) {
		r := gjson.ParseBytes(result)
		if r.Type == gjson.Null {
			return
		}
		contents := r.Get("contents")
		if !contents.Exists() {
			s.logger.Warn("bad hover result", "error",
				&MalformedResponseError{Method: MethodHover, Field: "contents"})
			return
		}
		if text := strings.TrimSpace(markedText(contents)); text != "" {
			s.ui.ShowTooltip(text)
		}
	})
}

// markedText flattens MarkupContent, MarkedString or an array of them.
func markedText(r gjson.Result) string {
	switch {
	case r.Type == gjson.String:
		return r.Str
	case r.IsArray():
		var parts []string
		for _, p := range r.Array() {
			if t := markedText(p); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	case r.IsObject():
		return r.Get("value").String()
	default:
		return ""
	}
}

// --- Go to ---

// GoToDefinition opens the definition of the symbol at the caret.
func (s *Session) GoToDefinition() {
	s.goTo(CapDefinition, MethodDefinition)
}

// GoToDeclaration opens the declaration of the symbol at the caret.
func (s *Session) GoToDeclaration() {
	s.goTo(CapDeclaration, MethodDeclaration)
}

// GoToImplementation opens the implementation of the symbol at the caret.
func (s *Session) GoToImplementation() {
	s.goTo(CapImplementation, MethodImplementation)
}

func (s *Session) goTo(c Capability, method string) {
	if !s.ready(c) {
		return
	}
	s.request(method, s.positionParams(s.buf.CaretOffset()), func(result json.RawMessage) {
		locs, err := ParseLocationResult(method, result)
		if err != nil {
			s.logger.Warn("bad location result", "method", method, "error", err)
			return
		}
		if len(locs) == 0 {
			return
		}
		s.ui.NavigateToFile(URIToFilePath(locs[0].URI), locs[0].Range.Start)
	})
}

// ParseLocationResult decodes a go-to result: null, a Location, or an array
// of Location or LocationLink.
func ParseLocationResult(method string, data json.RawMessage) ([]Location, error) {
	r := gjson.ParseBytes(data)
	switch {
	case len(data) == 0 || r.Type == gjson.Null:
		return nil, nil
	case r.IsObject():
		loc, err := locationFrom(method, r)
		if err != nil {
			return nil, err
		}
		return []Location{loc}, nil
	case r.IsArray():
		var out []Location
		for _, item := range r.Array() {
			loc, err := locationFrom(method, item)
			if err != nil {
				return nil, err
			}
			out = append(out, loc)
		}
		return out, nil
	default:
		return nil, &MalformedResponseError{Method: method, Field: "uri"}
	}
}

func locationFrom(method string, r gjson.Result) (Location, error) {
	if r.Get("targetUri").Exists() {
		var link LocationLink
		if err := json.Unmarshal([]byte(r.Raw), &link); err != nil {
			return Location{}, &MalformedResponseError{Method: method, Err: err}
		}
		return Location{URI: link.TargetURI, Range: link.TargetSelectionRange}, nil
	}
	if !r.Get("uri").Exists() {
		return Location{}, &MalformedResponseError{Method: method, Field: "uri"}
	}
	var loc Location
	if err := json.Unmarshal([]byte(r.Raw), &loc); err != nil {
		return Location{}, &MalformedResponseError{Method: method, Err: err}
	}
	return loc, nil
}

// SwitchSourceHeader opens the header for a source file or the source for
// a header. It is a clangd extension.
func (s *Session) SwitchSourceHeader() {
	if !s.ready(CapSwitchSourceHeader) {
		return
	}
	s.request(MethodSwitchSourceHeader, s.ident(), func(result json.RawMessage) {
		r := gjson.ParseBytes(result)
		if r.Type != gjson.String || r.Str == "" {
			return
		}
		s.ui.NavigateToFile(URIToFilePath(DocumentURI(r.Str)), Position{})
	})
}

// --- Document links ---

// linkRecord is a document link with its range in buffer addressing.
type linkRecord struct {
	DocumentLink
	span ByteRange
}

func (s *Session) requestDocumentLinks() {
	if !s.ready(CapDocumentLink) {
		return
	}
	s.request(MethodDocumentLink, DocumentLinkParams{TextDocument: s.ident()}, func(result json.RawMessage) {
		var links []DocumentLink
		if gjson.ParseBytes(result).IsArray() {
			if err := json.Unmarshal(result, &links); err != nil {
				s.logger.Warn("bad document links", "error", err)
				return
			}
		}
		recs := make([]linkRecord, 0, len(links))
		for _, l := range links {
			recs = append(recs, linkRecord{DocumentLink: l, span: toByteRange(s.buf, l.Range)})
		}
		s.links = recs
	})
}

// DocumentLinks returns the links from the last documentLink response.
func (s *Session) DocumentLinks() []DocumentLink {
	out := make([]DocumentLink, len(s.links))
	for i, l := range s.links {
		out[i] = l.DocumentLink
	}
	return out
}

// FollowLink opens the target of the link under offset. It returns false if
// there is none.
func (s *Session) FollowLink(offset int) bool {
	for _, l := range s.links {
		if l.span.Contains(offset) && l.Target != "" {
			s.ui.NavigateToFile(URIToFilePath(l.Target), Position{})
			return true
		}
	}
	return false
}

// --- Document symbols ---

// DocumentSymbols requests the document outline and reports it as a tree.
func (s *Session) DocumentSymbols() {
	if !s.ready(CapDocumentSymbol) {
		return
	}
	s.request(MethodDocumentSymbol, DocumentSymbolParams{TextDocument: s.ident()}, func(result json.RawMessage) {
		nodes, err := s.parseSymbols(result)
		if err != nil {
			s.logger.Warn("bad document symbols", "error", err)
			return
		}
		s.ui.ReportDocumentSymbols(nodes)
	})
}

// parseSymbols accepts the hierarchical DocumentSymbol form or the flat
// SymbolInformation form, which is nested by range containment.
func (s *Session) parseSymbols(result json.RawMessage) ([]SymbolNode, error) {
	r := gjson.ParseBytes(result)
	if !r.IsArray() || len(r.Array()) == 0 {
		return nil, nil
	}

	if r.Get("0.location").Exists() {
		var flat []SymbolInformation
		if err := json.Unmarshal(result, &flat); err != nil {
			return nil, &MalformedResponseError{Method: MethodDocumentSymbol, Err: err}
		}
		return s.nestSymbols(flat), nil
	}

	var tree []DocumentSymbol
	if err := json.Unmarshal(result, &tree); err != nil {
		return nil, &MalformedResponseError{Method: MethodDocumentSymbol, Err: err}
	}
	return s.symbolNodes(tree), nil
}

func (s *Session) symbolNodes(syms []DocumentSymbol) []SymbolNode {
	out := make([]SymbolNode, 0, len(syms))
	for _, sym := range syms {
		br := toByteRange(s.buf, sym.Range)
		out = append(out, SymbolNode{
			Name:     sym.Name,
			Detail:   sym.Detail,
			Kind:     sym.Kind,
			Start:    br.Start,
			End:      br.End,
			Children: s.symbolNodes(sym.Children),
		})
	}
	return out
}

func (s *Session) nestSymbols(flat []SymbolInformation) []SymbolNode {
	sort.SliceStable(flat, func(i, j int) bool {
		a, b := flat[i].Location.Range, flat[j].Location.Range
		if c := ComparePositions(a.Start, b.Start); c != 0 {
			return c < 0
		}
		return ComparePositions(a.End, b.End) > 0
	})

	type frame struct {
		rng  Range
		node *SymbolNode
	}
	var roots []*SymbolNode
	var stack []frame
	for _, sym := range flat {
		rng := sym.Location.Range
		for len(stack) > 0 && !RangeContains(stack[len(stack)-1].rng, rng) {
			stack = stack[:len(stack)-1]
		}
		br := toByteRange(s.buf, rng)
		node := SymbolNode{
			Name:   sym.Name,
			Detail: sym.ContainerName,
			Kind:   sym.Kind,
			Start:  br.Start,
			End:    br.End,
		}
		var n *SymbolNode
		if len(stack) == 0 {
			n = &node
			roots = append(roots, n)
		} else {
			// Only the path to the current node is on the stack, so
			// growing the parent's slice never invalidates a live frame.
			parent := stack[len(stack)-1].node
			parent.Children = append(parent.Children, node)
			n = &parent.Children[len(parent.Children)-1]
		}
		stack = append(stack, frame{rng: rng, node: n})
	}

	out := make([]SymbolNode, 0, len(roots))
	for _, r := range roots {
		out = append(out, *r)
	}
	return out
}
