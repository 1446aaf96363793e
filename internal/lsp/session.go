package lsp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of one open document.
type SessionState int

const (
	SessionUnbound SessionState = iota
	SessionOpening
	SessionActive
	SessionClosing
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionUnbound:
		return "unbound"
	case SessionOpening:
		return "opening"
	case SessionActive:
		return "active"
	case SessionClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// DefaultFlushDelay is the idle time after the last edit before buffered
// changes are sent.
const DefaultFlushDelay = 300 * time.Millisecond

// Session is one open document's interaction with its language server.
// Every method must be called on the Loop.
type Session struct {
	key        string
	path       string
	uri        DocumentURI
	languageID string

	buf       TextBuffer
	ui        EditorUI
	workspace Workspace
	logger    *slog.Logger

	flushDelay time.Duration
	formatting FormattingOptions

	loop       *Loop
	server     *Dispatcher
	negotiated Negotiated
	state      SessionState

	version    int
	changes    []TextDocumentContentChangeEvent
	flushTimer *time.Timer
	timerGen   uint64

	diagnostics    []diagnosticRecord
	diagGen        uint64
	actionJobs     []actionJob
	actionInFlight bool
	links          []linkRecord
	fileStatus     string

	completion *completionState
	callTip    *callTipState
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkspace sets the collaborator for edits to files without a session.
func WithWorkspace(ws Workspace) SessionOption {
	return func(s *Session) {
		s.workspace = ws
	}
}

// WithFlushDelay sets the idle flush delay. Zero disables the idle flush.
func WithFlushDelay(d time.Duration) SessionOption {
	return func(s *Session) {
		s.flushDelay = d
	}
}

// WithFormattingOptions sets the options sent with formatting requests.
func WithFormattingOptions(opts FormattingOptions) SessionOption {
	return func(s *Session) {
		s.formatting = opts
	}
}

// WithDocumentKey overrides the generated document key. Separator
// characters are replaced so the key stays parseable in request ids.
func WithDocumentKey(key string) SessionOption {
	return func(s *Session) {
		if key != "" {
			s.key = strings.ReplaceAll(key, requestIDSeparator, "-")
		}
	}
}

// NewSession creates an unbound session for the file at path.
func NewSession(path, languageID string, buf TextBuffer, ui EditorUI, opts ...SessionOption) *Session {
	if ui == nil {
		ui = nopUI{}
	}
	s := &Session{
		key:        uuid.NewString(),
		path:       path,
		uri:        FilePathToURI(path),
		languageID: languageID,
		buf:        buf,
		ui:         ui,
		logger:     slog.Default(),
		flushDelay: DefaultFlushDelay,
		formatting: FormattingOptions{TabSize: 4, InsertSpaces: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("doc", s.key, "uri", s.uri)
	return s
}

// Key returns the document key used in request ids.
func (s *Session) Key() string { return s.key }

// URI returns the document URI.
func (s *Session) URI() DocumentURI { return s.uri }

// Path returns the file path.
func (s *Session) Path() string { return s.path }

// LanguageID returns the file type identifier.
func (s *Session) LanguageID() string { return s.languageID }

// State returns the lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Version returns the document version counter.
func (s *Session) Version() int { return s.version }

// PendingChanges returns the number of buffered change events.
func (s *Session) PendingChanges() int { return len(s.changes) }

// FileStatus returns the last server-reported file status.
func (s *Session) FileStatus() string { return s.fileStatus }

// Capabilities returns the capability set of the bound server.
func (s *Session) Capabilities() CapabilitySet { return s.negotiated.Capabilities }

// Server returns the bound dispatcher, or nil.
func (s *Session) Server() *Dispatcher { return s.server }

// attach binds the session to a server and registers it for routing.
func (s *Session) attach(d *Dispatcher, loop *Loop) {
	if s.server != nil {
		s.server.Unregister(s.key)
	}
	s.server = d
	s.loop = loop
	s.state = SessionUnbound
	d.Register(s)
}

// Open sends didOpen with the full text, or queues it until the server has
// answered initialize.
func (s *Session) Open() {
	if s.server == nil || s.state != SessionUnbound {
		return
	}
	if s.server.State() == StateReady {
		s.sendDidOpen()
		return
	}
	s.state = SessionOpening
}

func (s *Session) sendDidOpen() {
	s.stopFlushTimer()
	s.changes = nil
	s.negotiated = s.server.Negotiated()
	s.state = SessionActive

	err := s.server.SendNotify(MethodDidOpen, DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        s.uri,
			LanguageID: s.languageID,
			Version:    s.version,
			Text:       s.buf.Text(),
		},
	})
	if err != nil {
		s.logger.Warn("sending didOpen failed", "error", err)
	}
}

// CapabilitiesReady implements DocumentHandler.
func (s *Session) CapabilitiesReady(n Negotiated) {
	s.negotiated = n
	if s.state == SessionOpening {
		s.sendDidOpen()
	}
}

// Edit records a change of [start, end) to text. Call it before the buffer
// is modified, while the offsets still describe the old text. Changes are
// batched until FlushChanges.
func (s *Session) Edit(start, end int, text string) {
	s.version++
	if s.state != SessionActive {
		return
	}
	rng := Range{Start: toPosition(s.buf, start), End: toPosition(s.buf, end)}
	s.changes = append(s.changes, TextDocumentContentChangeEvent{Range: &rng, Text: text})
	s.armFlushTimer()
}

func (s *Session) armFlushTimer() {
	if s.loop == nil || s.flushDelay <= 0 {
		return
	}
	s.stopFlushTimer()
	gen := s.timerGen
	loop := s.loop
	s.flushTimer = time.AfterFunc(s.flushDelay, func() {
		loop.Post(func() {
			if gen == s.timerGen {
				s.FlushChanges()
			}
		})
	})
}

func (s *Session) stopFlushTimer() {
	s.timerGen++
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// FlushChanges sends the buffered changes as one didChange notification.
// Servers that did not ask for change sync (textDocumentSync absent or 0)
// get none; the changes are discarded.
func (s *Session) FlushChanges() {
	if len(s.changes) == 0 {
		return
	}
	changes := s.changes
	s.changes = nil
	s.stopFlushTimer()
	if s.state != SessionActive || s.server == nil {
		return
	}

	switch s.negotiated.SyncKind {
	case TextDocumentSyncKindNone:
		return
	case TextDocumentSyncKindFull:
		changes = []TextDocumentContentChangeEvent{{Text: s.buf.Text()}}
	}
	err := s.server.SendNotify(MethodDidChange, DidChangeTextDocumentParams{
		TextDocument: VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: s.ident(),
			Version:                s.version,
		},
		ContentChanges: changes,
	})
	if err != nil {
		s.logger.Warn("sending didChange failed", "error", err)
	}
}

// Save flushes changes and sends didSave.
func (s *Session) Save() {
	s.FlushChanges()
	if s.state != SessionActive {
		return
	}
	if err := s.server.SendNotify(MethodDidSave, DidSaveTextDocumentParams{TextDocument: s.ident()}); err != nil {
		s.logger.Warn("sending didSave failed", "error", err)
	}
}

// Close flushes changes, sends didClose and detaches from the server.
// Calling it again has no effect.
func (s *Session) Close() {
	if s.state == SessionActive {
		s.FlushChanges()
		s.state = SessionClosing
		if err := s.server.SendNotify(MethodDidClose, DidCloseTextDocumentParams{TextDocument: s.ident()}); err != nil {
			s.logger.Warn("sending didClose failed", "error", err)
		}
	}
	s.resetFeatureState()
	if s.server != nil {
		s.server.Unregister(s.key)
		s.server = nil
	}
	s.state = SessionUnbound
}

// ServerLost implements DocumentHandler. The session reverts to plain
// editing; a later registration binds it to a fresh server.
func (s *Session) ServerLost() {
	s.logger.Info("language server lost, document unbound")
	s.resetFeatureState()
	s.server = nil
	s.negotiated = Negotiated{}
	s.state = SessionUnbound
}

// resetFeatureState drops everything tied to the current server.
func (s *Session) resetFeatureState() {
	s.stopFlushTimer()
	s.changes = nil
	s.CancelCompletion()
	s.CloseCallTip()
	s.actionJobs = nil
	s.actionInFlight = false
	s.links = nil
	s.fileStatus = ""
	if len(s.diagnostics) > 0 {
		s.diagnostics = nil
		s.diagGen++
		s.ui.ReportDiagnostics(nil)
	}
}

// HandleNotification implements DocumentHandler.
func (s *Session) HandleNotification(method string, params json.RawMessage) {
	switch method {
	case MethodPublishDiagnostics:
		s.handleDiagnostics(params)
	case MethodClangdFileStatus:
		s.handleFileStatus(params)
	default:
		s.logger.Debug("ignoring notification", "method", method)
	}
}

func (s *Session) handleFileStatus(params json.RawMessage) {
	var p FileStatusParams
	if err := json.Unmarshal(params, &p); err != nil {
		s.logger.Warn("malformed file status", "error", err)
		return
	}
	s.fileStatus = p.State
	s.ui.ReportFileStatus(p.State)
}

// statusIdle reports whether the server is idle on this file. Servers that
// never report a status are always idle.
func (s *Session) statusIdle() bool {
	return s.fileStatus == "" || s.fileStatus == "idle"
}

// ready reports whether a request needing c may be sent now.
func (s *Session) ready(c Capability) bool {
	return s.state == SessionActive &&
		s.server != nil &&
		s.negotiated.Capabilities.Has(c) &&
		s.statusIdle()
}

func (s *Session) ident() TextDocumentIdentifier {
	return TextDocumentIdentifier{URI: s.uri}
}

func (s *Session) positionParams(offset int) TextDocumentPositionParams {
	return TextDocumentPositionParams{
		TextDocument: s.ident(),
		Position:     toPosition(s.buf, offset),
	}
}

// request flushes pending changes and sends method. handle runs only for
// successful responses.
func (s *Session) request(method string, params any, handle func(json.RawMessage)) bool {
	return s.requestWithError(method, params, func(result json.RawMessage, err error) {
		if err != nil {
			s.logRequestError(method, err)
			return
		}
		handle(result)
	})
}

// requestWithError is request with the error path left to cb. It returns
// false when nothing was sent, in which case cb never runs.
func (s *Session) requestWithError(method string, params any, cb ResponseFunc) bool {
	s.FlushChanges()
	if s.server == nil {
		return false
	}
	if _, err := s.server.SendRequest(s.key, method, params, cb); err != nil {
		s.logger.Warn("sending request failed", "method", method, "error", err)
		return false
	}
	return true
}

func (s *Session) logRequestError(method string, err error) {
	var rpcErr *RPCError
	switch {
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrServerTerminated):
		s.logger.Debug("request ended", "method", method, "error", err)
	case errors.As(err, &rpcErr) && rpcErr.IsCancelled():
		s.logger.Debug("request cancelled by server", "method", method)
	default:
		s.logger.Warn("request failed", "method", method, "error", err)
	}
}

// nopUI discards everything.
type nopUI struct{}

func (nopUI) ShowTooltip(string)                  {}
func (nopUI) ShowCompletionList([]CompletionEntry) {}
func (nopUI) CancelCompletionList()               {}
func (nopUI) ShowSignatureHelp(string, int, int)  {}
func (nopUI) HideSignatureHelp()                  {}
func (nopUI) NavigateToFile(string, Position)     {}
func (nopUI) ReportDiagnostics([]DiagnosticEntry) {}
func (nopUI) ReportDocumentSymbols([]SymbolNode)  {}
func (nopUI) ReportFileStatus(string)             {}
