package lsp

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

// callTipState is the signature help shown for one call.
type callTipState struct {
	openParen   int
	signatures  []SignatureInformation
	current     int
	activeParam int
}

// SignatureHelp asks for signature help for the call enclosing the caret.
func (s *Session) SignatureHelp() {
	if !s.ready(CapSignatureHelp) {
		return
	}
	caret := s.buf.CaretOffset()
	paren := findOpenParen(s.buf.Text(), caret)
	if paren < 0 {
		s.CloseCallTip()
		return
	}
	params := SignatureHelpParams{
		TextDocumentPositionParams: s.positionParams(caret),
		Context: &SignatureHelpContext{
			TriggerKind: SignatureHelpTriggerKindInvoked,
			IsRetrigger: s.callTip != nil,
		},
	}
	s.request(MethodSignatureHelp, params, func(result json.RawMessage) {
		s.handleSignatureHelp(paren, result)
	})
}

func (s *Session) handleSignatureHelp(paren int, result json.RawMessage) {
	r := gjson.ParseBytes(result)
	if r.Type == gjson.Null || !r.Get("signatures").IsArray() {
		s.CloseCallTip()
		return
	}
	var help SignatureHelp
	if err := json.Unmarshal(result, &help); err != nil {
		s.logger.Warn("bad signature help", "error", err)
		return
	}
	if len(help.Signatures) == 0 {
		s.CloseCallTip()
		return
	}
	s.callTip = &callTipState{
		openParen:   paren,
		signatures:  help.Signatures,
		current:     min(max(help.ActiveSignature, 0), len(help.Signatures)-1),
		activeParam: help.ActiveParameter,
	}
	s.ContinueCallTip()
}

// ContinueCallTip updates the highlighted parameter after the caret moved
// inside the call, and closes the tip once the caret leaves it.
func (s *Session) ContinueCallTip() {
	ct := s.callTip
	if ct == nil {
		return
	}
	text := s.buf.Text()
	caret := min(s.buf.CaretOffset(), len(text))
	if caret <= ct.openParen {
		s.CloseCallTip()
		return
	}

	depth, commas := 0, 0
	for _, b := range []byte(text[ct.openParen+1 : caret]) {
		switch b {
		case '(', '[', '{':
			depth++
		case ']', '}':
			depth--
		case ')':
			if depth == 0 {
				s.CloseCallTip()
				return
			}
			depth--
		case ',':
			if depth == 0 {
				commas++
			}
		}
	}
	ct.activeParam = commas
	s.updateCallTip()
}

func (s *Session) updateCallTip() {
	ct := s.callTip
	sig := ct.signatures[ct.current]

	prefix := ""
	if len(ct.signatures) > 1 {
		prefix = fmt.Sprintf("\001 %d of %d \002 ", ct.current+1, len(ct.signatures))
	}
	hs, he := paramSpan(sig, ct.activeParam)
	if hs < he {
		hs += len(prefix)
		he += len(prefix)
	}
	s.ui.ShowSignatureHelp(prefix+sig.Label, hs, he)
}

// paramSpan returns the byte range of parameter i within the signature
// label, or 0, 0 when it cannot be located.
func paramSpan(sig SignatureInformation, i int) (int, int) {
	if i < 0 || i >= len(sig.Parameters) {
		return 0, 0
	}
	switch label := sig.Parameters[i].Label.(type) {
	case string:
		if label == "" {
			return 0, 0
		}
		if at := strings.Index(sig.Label, label); at >= 0 {
			return at, at + len(label)
		}
	case []any:
		if len(label) != 2 {
			return 0, 0
		}
		a, okA := label[0].(float64)
		b, okB := label[1].(float64)
		if !okA || !okB || a > b {
			return 0, 0
		}
		return utf16ToByteOffset(sig.Label, int(a)), utf16ToByteOffset(sig.Label, int(b))
	}
	return 0, 0
}

// NextCallTip shows the next overload, wrapping around.
func (s *Session) NextCallTip() {
	s.cycleCallTip(1)
}

// PrevCallTip shows the previous overload, wrapping around.
func (s *Session) PrevCallTip() {
	s.cycleCallTip(-1)
}

func (s *Session) cycleCallTip(step int) {
	ct := s.callTip
	if ct == nil || len(ct.signatures) < 2 {
		return
	}
	n := len(ct.signatures)
	ct.current = (ct.current + step + n) % n
	s.updateCallTip()
}

// CallTipActive reports whether signature help is shown.
func (s *Session) CallTipActive() bool {
	return s.callTip != nil
}

// CloseCallTip hides signature help.
func (s *Session) CloseCallTip() {
	if s.callTip == nil {
		return
	}
	s.callTip = nil
	s.ui.HideSignatureHelp()
}

// CharAdded reacts to a typed character, already inserted before the
// caret: parentheses and commas drive signature help and completion
// trigger characters request completions.
func (s *Session) CharAdded(ch rune) {
	switch ch {
	case '(':
		s.SignatureHelp()
	case ')', ',':
		s.ContinueCallTip()
	}
	if s.state != SessionActive {
		return
	}
	if slices.Contains(s.negotiated.TriggerCharacters, string(ch)) {
		s.requestCompletion(s.buf.CaretOffset(), string(ch))
	}
}

// findOpenParen scans back from offset for an unmatched '(' and returns
// its offset, or -1. The scan stops at a statement or block boundary.
func findOpenParen(text string, offset int) int {
	offset = min(offset, len(text))
	depth := 0
	for i := offset - 1; i >= 0; i-- {
		switch text[i] {
		case ')':
			depth++
		case '(':
			if depth == 0 {
				return i
			}
			depth--
		case ';', '{', '}':
			return -1
		}
	}
	return -1
}
