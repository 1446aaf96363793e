package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/lspbridge/internal/textbuf"
)

const waitTimeout = 2 * time.Second

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// defaultCaps is what the fake server advertises unless a test says
// otherwise. It has no declaration or documentLink support.
const defaultCaps = `{
	"completionProvider": {"triggerCharacters": [".", ">"]},
	"hoverProvider": true,
	"signatureHelpProvider": {"triggerCharacters": ["("]},
	"definitionProvider": true,
	"documentSymbolProvider": true,
	"documentFormattingProvider": true,
	"renameProvider": true,
	"textDocumentSync": 2
}`

// fakeServer plays the server side of a pipe transport. It answers
// initialize and shutdown itself and records everything it receives.
type fakeServer struct {
	t    *testing.T
	caps string

	mu     sync.Mutex
	log    []*InboundMessage
	cursor int

	wmu sync.Mutex
	out *io.PipeWriter

	done chan struct{}
}

func newFakeServer(t *testing.T, caps string) (*fakeServer, *Transport) {
	c2sR, c2sW := io.Pipe()
	s2cR, s2cW := io.Pipe()
	fs := &fakeServer{t: t, caps: caps, out: s2cW, done: make(chan struct{})}
	go fs.serve(c2sR)
	return fs, NewTransport(s2cR, c2sW, WithTransportLogger(testLogger()))
}

func (fs *fakeServer) serve(in *io.PipeReader) {
	defer close(fs.done)
	defer in.Close()
	defer fs.out.Close()

	r := bufio.NewReader(in)
	for {
		body, err := ReadMessage(r)
		if err != nil {
			return
		}
		msg, err := ParseMessage(body)
		if err != nil {
			continue
		}
		fs.mu.Lock()
		fs.log = append(fs.log, msg)
		fs.mu.Unlock()

		switch msg.Method {
		case MethodInitialize:
			_ = fs.write(responseJSON(msg.ID, `{"capabilities":`+fs.caps+`,"serverInfo":{"name":"fake","version":"1.0"}}`))
		case MethodShutdown:
			_ = fs.write(responseJSON(msg.ID, `null`))
		case MethodExit:
			return
		}
	}
}

func responseJSON(id, result string) string {
	quoted, _ := json.Marshal(id)
	return `{"jsonrpc":"2.0","id":` + string(quoted) + `,"result":` + result + `}`
}

func (fs *fakeServer) write(raw string) error {
	fs.wmu.Lock()
	defer fs.wmu.Unlock()
	return WriteMessage(fs.out, []byte(raw))
}

// send writes a raw JSON message to the client.
func (fs *fakeServer) send(raw string) {
	fs.t.Helper()
	require.NoError(fs.t, fs.write(raw))
}

// reply answers the request id with result.
func (fs *fakeServer) reply(id, result string) {
	fs.t.Helper()
	fs.send(responseJSON(id, result))
}

// notify sends a notification.
func (fs *fakeServer) notify(method, params string) {
	fs.t.Helper()
	fs.send(`{"jsonrpc":"2.0","method":"` + method + `","params":` + params + `}`)
}

// crash ends the server output as if the process died.
func (fs *fakeServer) crash() {
	fs.out.Close()
}

// expect returns the next received message with method after the last one
// returned, waiting for it to arrive.
func (fs *fakeServer) expect(method string) *InboundMessage {
	fs.t.Helper()
	var found *InboundMessage
	require.Eventually(fs.t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for i := fs.cursor; i < len(fs.log); i++ {
			if fs.log[i].Method == method {
				found = fs.log[i]
				fs.cursor = i + 1
				return true
			}
		}
		return false
	}, waitTimeout, 2*time.Millisecond, "server never received %s", method)
	return found
}

// count returns how many messages with method were received.
func (fs *fakeServer) count(method string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, m := range fs.log {
		if m.Method == method {
			n++
		}
	}
	return n
}

// sync waits until everything the client wrote so far has been recorded,
// using a notification as a marker.
func (h *harness) sync() {
	h.t.Helper()
	var err error
	h.do(func() { err = h.disp.SendNotify("test/marker", nil) })
	require.NoError(h.t, err)
	h.server.expect("test/marker")
}

// harness runs a dispatcher on a live loop against a fake server.
type harness struct {
	t      *testing.T
	loop   *Loop
	server *fakeServer
	tr     *Transport
	disp   *Dispatcher
}

func newHarness(t *testing.T, caps string, opts ...DispatcherOption) *harness {
	t.Helper()
	loop := NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = loop.Run(ctx)
	}()

	srv, tr := newFakeServer(t, caps)
	opts = append([]DispatcherOption{WithServerName("fake"), WithDispatcherLogger(testLogger())}, opts...)
	d := NewDispatcher(tr, opts...)
	tr.Listen(
		func(body []byte) { loop.Post(func() { d.Dispatch(body) }) },
		func(err error) { loop.Post(func() { d.Terminate(err) }) },
	)

	t.Cleanup(func() {
		_ = tr.Shutdown(time.Second)
		cancel()
		<-stopped
	})
	return &harness{t: t, loop: loop, server: srv, tr: tr, disp: d}
}

// do runs fn on the loop and waits for it.
func (h *harness) do(fn func()) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(h.t, h.loop.Call(ctx, fn))
}

// eventually polls cond on the loop.
func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		ok := false
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = h.loop.Call(ctx, func() { ok = cond() })
		return ok
	}, waitTimeout, 2*time.Millisecond, msg)
}

// initialize performs the handshake and waits for the server to be ready.
func (h *harness) initialize() {
	h.t.Helper()
	var err error
	h.do(func() { err = h.disp.Initialize(InitializeParams{ProcessID: 1, RootURI: "file:///src"}) })
	require.NoError(h.t, err)
	select {
	case <-h.disp.Ready():
	case <-time.After(waitTimeout):
		h.t.Fatal("server never became ready")
	}
	h.server.expect(MethodInitialized)
}

// openSession binds a session over text to the dispatcher and opens it.
func (h *harness) openSession(path, text string, opts ...SessionOption) (*Session, *textbuf.Buffer, *recordingUI) {
	h.t.Helper()
	buf := textbuf.New(text)
	ui := &recordingUI{}
	opts = append([]SessionOption{WithFlushDelay(0), WithSessionLogger(testLogger())}, opts...)
	s := NewSession(path, "cpp", buf, ui, opts...)
	h.do(func() {
		s.attach(h.disp, h.loop)
		s.Open()
	})
	return s, buf, ui
}

// recordingUI records every callback. It is only touched on the loop.
type recordingUI struct {
	tooltips    []string
	completions [][]CompletionEntry
	cancels     int
	sigText     string
	sigStart    int
	sigEnd      int
	sigHidden   int
	navigations []navigation
	diagnostics [][]DiagnosticEntry
	symbols     [][]SymbolNode
	statuses    []string
}

type navigation struct {
	path string
	pos  Position
}

func (u *recordingUI) ShowTooltip(text string) { u.tooltips = append(u.tooltips, text) }

func (u *recordingUI) ShowCompletionList(items []CompletionEntry) {
	u.completions = append(u.completions, items)
}

func (u *recordingUI) CancelCompletionList() { u.cancels++ }

func (u *recordingUI) ShowSignatureHelp(text string, start, end int) {
	u.sigText, u.sigStart, u.sigEnd = text, start, end
}

func (u *recordingUI) HideSignatureHelp() { u.sigHidden++ }

func (u *recordingUI) NavigateToFile(path string, pos Position) {
	u.navigations = append(u.navigations, navigation{path: path, pos: pos})
}

func (u *recordingUI) ReportDiagnostics(diags []DiagnosticEntry) {
	u.diagnostics = append(u.diagnostics, diags)
}

func (u *recordingUI) ReportDocumentSymbols(symbols []SymbolNode) {
	u.symbols = append(u.symbols, symbols)
}

func (u *recordingUI) ReportFileStatus(status string) { u.statuses = append(u.statuses, status) }

func (u *recordingUI) lastDiagnostics() []DiagnosticEntry {
	if len(u.diagnostics) == 0 {
		return nil
	}
	return u.diagnostics[len(u.diagnostics)-1]
}

// newLocalSession returns a session with no server for exercising result
// handling directly.
func newLocalSession(text string) (*Session, *textbuf.Buffer, *recordingUI) {
	buf := textbuf.New(text)
	ui := &recordingUI{}
	s := NewSession("/src/a.cpp", "cpp", buf, ui, WithFlushDelay(0), WithSessionLogger(testLogger()))
	return s, buf, ui
}
