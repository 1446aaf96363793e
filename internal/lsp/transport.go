package lsp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// TransportConfig describes a language server process.
type TransportConfig struct {
	Argv []string
	Dir  string
	Env  []string // appended to the current environment
}

// Transport owns one language server process: its stdin write path and the
// goroutine reading framed messages from its stdout.
type Transport struct {
	reader *bufio.Reader
	rc     io.Closer
	writer io.WriteCloser
	cmd    *exec.Cmd
	logger *slog.Logger

	mu sync.Mutex // serializes writes

	closed    atomic.Bool
	listening atomic.Bool
	done      chan struct{} // closed when the reader goroutine exits
	exited    chan struct{} // closed after the process is reaped

	shutdownOnce sync.Once
	shutdownErr  error
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the logger used for server stderr and read errors.
func WithTransportLogger(logger *slog.Logger) TransportOption {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport creates a transport over existing pipes. If r implements
// io.Closer it is closed when Shutdown has to stop the reader.
func NewTransport(r io.Reader, w io.WriteCloser, opts ...TransportOption) *Transport {
	t := &Transport{
		reader: bufio.NewReaderSize(r, 64*1024),
		writer: w,
		logger: slog.Default(),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		t.rc = c
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTransport spawns the server described by cfg with its stdio
// redirected to pipes. A binary that cannot be found or executed yields a
// *SpawnError.
func StartTransport(ctx context.Context, cfg TransportConfig, opts ...TransportOption) (*Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(cfg.Argv) == 0 {
		return nil, &SpawnError{Err: errors.New("empty command")}
	}

	path, err := exec.LookPath(cfg.Argv[0])
	if err != nil {
		return nil, &SpawnError{Argv: cfg.Argv, Err: err}
	}

	cmd := exec.Command(path, cfg.Argv[1:]...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Argv: cfg.Argv, Err: fmt.Errorf("stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, &SpawnError{Argv: cfg.Argv, Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	t := NewTransport(stdout, stdin, opts...)
	t.cmd = cmd
	cmd.Stderr = &stderrLogger{logger: t.logger.With("server", cfg.Argv[0])}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, &SpawnError{Argv: cfg.Argv, Err: err}
	}
	t.logger.Debug("language server started", "argv", cfg.Argv, "dir", cfg.Dir, "pid", cmd.Process.Pid)
	return t, nil
}

// Listen starts the reader goroutine. deliver receives every decoded message
// in order; died is called exactly once when reading stops, with nil after a
// clean EOF. A framing error kills the process before died is called.
// Listen may only be called once.
func (t *Transport) Listen(deliver func([]byte), died func(error)) {
	if t.listening.Swap(true) {
		return
	}
	go t.readLoop(deliver, died)
}

func (t *Transport) readLoop(deliver func([]byte), died func(error)) {
	var err error
	defer func() {
		if err == io.EOF {
			err = nil
		}
		// A server that sent garbage may still be running; stop it so the
		// reap below cannot block.
		if err != nil && !t.closed.Load() {
			t.forceStop()
		}
		if t.cmd != nil {
			_ = t.cmd.Wait()
			close(t.exited)
		}
		if t.closed.Load() {
			err = errors.Join(ErrTransportClosed, err)
		}
		died(err)
		close(t.done)
	}()

	for {
		var body []byte
		body, err = ReadMessage(t.reader)
		if err != nil {
			if !t.closed.Load() && !errors.Is(err, io.EOF) {
				t.logger.Warn("reading from language server failed", "error", err)
			}
			return
		}
		deliver(body)
	}
}

// Write frames body and writes it. Concurrent writers never interleave.
func (t *Transport) Write(body []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return WriteMessage(t.writer, body)
}

// Shutdown closes the server's stdin, waits up to grace for the reader to
// see EOF, then kills the process and stops the reader. It is idempotent.
func (t *Transport) Shutdown(grace time.Duration) error {
	t.shutdownOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		if err := t.writer.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			t.shutdownErr = fmt.Errorf("close stdin: %w", err)
		}
		t.mu.Unlock()

		if !t.listening.Load() {
			t.forceStop()
			if t.cmd != nil {
				_ = t.cmd.Wait()
			}
			return
		}

		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-t.done:
		case <-timer.C:
			t.logger.Debug("language server did not exit in time, killing", "pid", t.Pid())
			t.forceStop()
			<-t.done
		}

		if t.cmd == nil {
			return
		}
		select {
		case <-t.exited:
		case <-timer.C:
			t.forceStop()
			<-t.exited
		}
	})
	return t.shutdownErr
}

// forceStop kills the process and closes the read side.
func (t *Transport) forceStop() {
	if t.cmd != nil && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	if t.rc != nil {
		_ = t.rc.Close()
	}
}

// Done is closed when the reader goroutine has stopped, after died has
// returned.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// IsClosed returns true if Shutdown has been called.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Pid returns the server process id, or 0 for pipe transports.
func (t *Transport) Pid() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// stderrLogger forwards server stderr lines to the debug log.
type stderrLogger struct {
	logger *slog.Logger
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) > 0 {
			w.logger.Debug("server stderr", "line", string(line))
		}
	}
	return len(p), nil
}
