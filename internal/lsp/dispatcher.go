package lsp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ServerState is the lifecycle state of one language server.
type ServerState int32

const (
	StateUninitialized ServerState = iota
	StateInitializing
	StateReady
	StateShuttingDown
	StateTerminated
)

// String returns a human-readable state name.
func (s ServerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MessageWriter sends one encoded message to the server.
type MessageWriter interface {
	Write(body []byte) error
}

// ResponseFunc receives the result of a request, or the error that ended it.
// It runs on the Loop.
type ResponseFunc func(result json.RawMessage, err error)

// DocumentHandler is a document the Dispatcher routes messages to.
type DocumentHandler interface {
	Key() string
	URI() DocumentURI
	HandleNotification(method string, params json.RawMessage)
	CapabilitiesReady(n Negotiated)
	ServerLost()
}

// PendingRequest is one outstanding request awaiting its response.
type PendingRequest struct {
	ID       RequestID
	Callback ResponseFunc
	SentAt   time.Time

	span trace.Span
}

// Dispatcher correlates requests and responses for one server and routes
// notifications to registered documents. All methods except State, Ready
// and Done must be called on the Loop.
type Dispatcher struct {
	writer MessageWriter
	name   string
	logger *slog.Logger

	extensions []string
	initParams *InitializeParams

	state      atomic.Int32
	negotiated Negotiated
	pending    map[RequestID]*PendingRequest
	docs       map[string]DocumentHandler

	notifications map[string]notificationHandler
	requests      map[string]requestHandler

	ready      chan struct{}
	terminated chan struct{}
	shutdown   chan struct{}
	readyOnce  sync.Once
	shutOnce   sync.Once

	shutdownSent bool

	onTerminate func(error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithServerName sets the name used in logs and metrics.
func WithServerName(name string) DispatcherOption {
	return func(d *Dispatcher) {
		d.name = name
	}
}

// WithExtensions declares server extensions from its configuration.
func WithExtensions(ext []string) DispatcherOption {
	return func(d *Dispatcher) {
		d.extensions = slices.Clone(ext)
	}
}

// WithTerminateHook registers fn to run at the end of Terminate.
func WithTerminateHook(fn func(error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onTerminate = fn
	}
}

// NewDispatcher creates a dispatcher writing to w.
func NewDispatcher(w MessageWriter, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		writer:     w,
		name:       "server",
		logger:     slog.Default(),
		pending:    make(map[RequestID]*PendingRequest),
		docs:       make(map[string]DocumentHandler),
		ready:      make(chan struct{}),
		terminated: make(chan struct{}),
		shutdown:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("server", d.name)
	d.notifications = d.notificationTable()
	d.requests = d.requestTable()
	return d
}

// State returns the server state. Safe from any goroutine.
func (d *Dispatcher) State() ServerState {
	return ServerState(d.state.Load())
}

func (d *Dispatcher) setState(s ServerState) {
	old := ServerState(d.state.Swap(int32(s)))
	if old != s {
		d.logger.Debug("server state changed", "from", old, "to", s)
	}
}

// Ready is closed once the initialize response has been processed.
func (d *Dispatcher) Ready() <-chan struct{} {
	return d.ready
}

// Done is closed when the server is terminated.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.terminated
}

// ShutdownAcknowledged is closed when the server answers shutdown.
func (d *Dispatcher) ShutdownAcknowledged() <-chan struct{} {
	return d.shutdown
}

// Negotiated returns what the server advertised at initialize.
func (d *Dispatcher) Negotiated() Negotiated {
	return d.negotiated
}

// Name returns the server name.
func (d *Dispatcher) Name() string {
	return d.name
}

// Initialize sends the initialize request. The response is handled by the
// dispatcher itself.
func (d *Dispatcher) Initialize(params InitializeParams) error {
	if d.State() != StateUninitialized {
		return fmt.Errorf("initialize in state %s", d.State())
	}
	d.initParams = &params
	body, err := EncodeRequest(RequestID{DocumentKey: bootstrapKey, Method: MethodInitialize}, MethodInitialize, params)
	if err != nil {
		return err
	}
	d.setState(StateInitializing)
	if err := d.writer.Write(body); err != nil {
		return fmt.Errorf("send initialize: %w", err)
	}
	return nil
}

// Shutdown sends shutdown followed by exit. The server is expected to close
// its output, which terminates the dispatcher.
func (d *Dispatcher) Shutdown() error {
	switch d.State() {
	case StateShuttingDown, StateTerminated:
		return nil
	}
	d.setState(StateShuttingDown)
	d.shutdownSent = true

	body, err := EncodeRequest(RequestID{DocumentKey: bootstrapKey, Method: MethodShutdown}, MethodShutdown, nil)
	if err != nil {
		return err
	}
	return errors.Join(d.writer.Write(body), d.SendNotify(MethodExit, nil))
}

// SendRequest sends method with params on behalf of the document key. cb
// runs on the Loop when the response arrives or the request is ended. If a
// request for the same key and method is outstanding, its callback receives
// ErrSuperseded first. When SendRequest returns an error, cb is never called.
func (d *Dispatcher) SendRequest(key, method string, params any, cb ResponseFunc) (RequestID, error) {
	id := RequestID{DocumentKey: key, Method: method}
	switch d.State() {
	case StateTerminated, StateShuttingDown:
		return id, ErrServerTerminated
	case StateUninitialized, StateInitializing:
		return id, ErrNotReady
	}

	body, err := EncodeRequest(id, method, params)
	if err != nil {
		return id, err
	}

	if old, ok := d.pending[id]; ok {
		delete(d.pending, id)
		d.finish(old, nil, ErrSuperseded, outcomeSuperseded)
	}

	p := &PendingRequest{
		ID:       id,
		Callback: cb,
		SentAt:   time.Now(),
		span:     startRequestSpan(d.name, id),
	}
	d.pending[id] = p

	if err := d.writer.Write(body); err != nil {
		delete(d.pending, id)
		endRequestSpan(p.span, outcomeError, err)
		return id, fmt.Errorf("send %s: %w", method, err)
	}
	d.logger.Debug("request sent", "id", id.String())
	return id, nil
}

// SendNotify sends a notification. No response is tracked.
func (d *Dispatcher) SendNotify(method string, params any) error {
	if d.State() == StateTerminated {
		return ErrServerTerminated
	}
	body, err := EncodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := d.writer.Write(body); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}
	return nil
}

// Pending reports whether a request for id is outstanding.
func (d *Dispatcher) Pending(id RequestID) bool {
	_, ok := d.pending[id]
	return ok
}

// PendingCount returns the number of outstanding requests.
func (d *Dispatcher) PendingCount() int {
	return len(d.pending)
}

// Register makes doc reachable for responses and URI-routed notifications.
func (d *Dispatcher) Register(doc DocumentHandler) {
	d.docs[doc.Key()] = doc
}

// Unregister removes the document and silently drops its pending requests.
func (d *Dispatcher) Unregister(key string) {
	delete(d.docs, key)
	for id, p := range d.pending {
		if id.DocumentKey == key {
			delete(d.pending, id)
			recordRequestMetrics(d.name, id.Method, outcomeAbandoned, time.Since(p.SentAt))
			endRequestSpan(p.span, outcomeAbandoned, nil)
		}
	}
}

// Document returns the registered document with key.
func (d *Dispatcher) Document(key string) DocumentHandler {
	return d.docs[key]
}

// DocumentByURI returns the registered document whose URI matches uri.
func (d *Dispatcher) DocumentByURI(uri DocumentURI) DocumentHandler {
	for _, doc := range d.docs {
		if SameDocument(doc.URI(), uri) {
			return doc
		}
	}
	return nil
}

// DocumentCount returns the number of registered documents.
func (d *Dispatcher) DocumentCount() int {
	return len(d.docs)
}

// sortedDocs returns registered documents ordered by key.
func (d *Dispatcher) sortedDocs() []DocumentHandler {
	keys := make([]string, 0, len(d.docs))
	for k := range d.docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]DocumentHandler, 0, len(keys))
	for _, k := range keys {
		out = append(out, d.docs[k])
	}
	return out
}

// Dispatch processes one raw inbound message.
func (d *Dispatcher) Dispatch(raw []byte) {
	if d.State() == StateTerminated {
		return
	}
	msg, err := ParseMessage(raw)
	if err != nil {
		d.logger.Warn("dropping unparseable message", "error", err)
		recordDroppedMessage(d.name, "malformed")
		return
	}

	switch msg.Kind {
	case KindResponse, KindError:
		d.handleResponse(msg)
	case KindNotification:
		d.handleNotification(msg)
	case KindRequest:
		d.handleServerRequest(msg)
	}
}

func (d *Dispatcher) handleResponse(msg *InboundMessage) {
	id, ok := ParseRequestID(msg.ID)
	if !ok {
		d.logger.Warn("dropping response with foreign id", "id", msg.ID)
		recordDroppedMessage(d.name, "foreign_id")
		return
	}

	if id.DocumentKey == bootstrapKey {
		d.handleBootstrap(id.Method, msg)
		return
	}

	p, ok := d.pending[id]
	if !ok {
		d.logger.Debug("dropping response without pending request", "id", msg.ID)
		recordDroppedMessage(d.name, "no_pending")
		return
	}
	delete(d.pending, id)

	if msg.Error != nil {
		d.finish(p, nil, msg.Error, outcomeError)
		return
	}
	d.finish(p, msg.Result, nil, outcomeOK)
}

// finish records the outcome of p and invokes its callback.
func (d *Dispatcher) finish(p *PendingRequest, result json.RawMessage, err error, outcome string) {
	recordRequestMetrics(d.name, p.ID.Method, outcome, time.Since(p.SentAt))
	endRequestSpan(p.span, outcome, err)
	if p.Callback != nil {
		p.Callback(result, err)
	}
}

// handleBootstrap intercepts the lifecycle responses.
func (d *Dispatcher) handleBootstrap(method string, msg *InboundMessage) {
	switch method {
	case MethodInitialize:
		d.completeInitialize(msg)
	case MethodShutdown:
		if msg.Error != nil {
			d.logger.Warn("shutdown request failed", "error", msg.Error)
		}
		d.shutOnce.Do(func() { close(d.shutdown) })
	default:
		d.logger.Debug("dropping unknown bootstrap response", "method", method)
		recordDroppedMessage(d.name, "no_pending")
	}
}

func (d *Dispatcher) completeInitialize(msg *InboundMessage) {
	if d.State() != StateInitializing {
		d.logger.Warn("unexpected initialize response", "state", d.State())
		return
	}
	if msg.Error != nil {
		d.logger.Error("initialize failed", "error", msg.Error)
		d.Terminate(fmt.Errorf("initialize: %w", msg.Error))
		return
	}

	n, err := ParseNegotiated(msg.Result, d.extensions)
	if err != nil {
		d.logger.Error("initialize failed", "error", err)
		d.Terminate(err)
		return
	}

	d.negotiated = n
	d.setState(StateReady)
	if err := d.SendNotify(MethodInitialized, InitializedParams{}); err != nil {
		d.logger.Warn("sending initialized failed", "error", err)
	}
	d.logger.Info("language server ready",
		"name", n.ServerName,
		"version", n.ServerVersion,
		"capabilities", n.Capabilities.String())
	d.readyOnce.Do(func() { close(d.ready) })

	for _, doc := range d.sortedDocs() {
		doc.CapabilitiesReady(n)
	}
}

// shutdownRequested reports whether Shutdown was called.
func (d *Dispatcher) shutdownRequested() bool {
	return d.shutdownSent
}

// Terminate ends every pending request with ErrServerTerminated, tells every
// registered document the server is gone and forgets them.
func (d *Dispatcher) Terminate(cause error) {
	old := ServerState(d.state.Swap(int32(StateTerminated)))
	if old == StateTerminated {
		return
	}
	expected := old == StateShuttingDown
	if expected {
		d.logger.Info("language server exited")
	} else {
		d.logger.Warn("language server terminated", "error", cause)
	}
	recordServerTermination(d.name, expected)

	termErr := ErrServerTerminated
	if cause != nil {
		termErr = fmt.Errorf("%w: %w", ErrServerTerminated, cause)
	}

	pending := d.pending
	d.pending = make(map[RequestID]*PendingRequest)
	for _, p := range pending {
		d.finish(p, nil, termErr, outcomeTerminated)
	}

	docs := d.sortedDocs()
	clear(d.docs)
	for _, doc := range docs {
		doc.ServerLost()
	}

	close(d.terminated)
	if d.onTerminate != nil {
		d.onTerminate(cause)
	}
}
