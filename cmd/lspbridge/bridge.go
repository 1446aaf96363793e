package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/lspbridge/internal/config"
	"github.com/dshills/lspbridge/internal/lsp"
	"github.com/dshills/lspbridge/internal/textbuf"
)

// settleInterval is how often a command polls for outstanding requests.
const settleInterval = 20 * time.Millisecond

// bridge owns the event loop and the server manager for one command.
type bridge struct {
	cfg     *config.Config
	logger  *slog.Logger
	out     io.Writer
	loop    *lsp.Loop
	manager *lsp.Manager

	stopLoop context.CancelFunc
	loopDone chan struct{}
}

func newBridge(cfg *config.Config, logger *slog.Logger, out io.Writer) *bridge {
	ctx, cancel := context.WithCancel(context.Background())
	loop := lsp.NewLoop()
	b := &bridge{
		cfg:      cfg,
		logger:   logger,
		out:      out,
		loop:     loop,
		stopLoop: cancel,
		loopDone: make(chan struct{}),
	}
	go func() {
		defer close(b.loopDone)
		_ = loop.Run(ctx)
	}()

	b.manager = lsp.NewManager(loop,
		lsp.WithLogger(logger),
		lsp.WithConfigs(lsp.AvailableConfigs(cfg.ServerConfigs()...)...),
		lsp.WithShutdownGrace(cfg.LSP.ShutdownGrace.Std()),
		lsp.WithClientInfo("lspbridge", version),
		lsp.WithServerLostHook(func(root, name string, err error) {
			logger.Warn("language server lost", "server", name, "root", root, "error", err)
		}),
	)
	return b
}

// close shuts every server down and stops the loop.
func (b *bridge) close(ctx context.Context) error {
	err := b.manager.Shutdown(ctx)
	b.stopLoop()
	<-b.loopDone
	return err
}

// document is a file opened in a session.
type document struct {
	path    string
	buf     *textbuf.Buffer
	ui      *consoleUI
	session *lsp.Session
}

// open reads path, binds it to its server and waits for the server to
// finish initializing. line and col are 1-based; zero leaves the caret at
// the start of the file.
func (b *bridge) open(ctx context.Context, path string, line, col int) (*document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	lang := lsp.LanguageIDForPath(abs)
	if lang == "" {
		return nil, fmt.Errorf("%s: unrecognised file type", path)
	}

	buf := textbuf.New(string(data))
	if line > 0 {
		off := buf.OffsetAt(line-1, max(col-1, 0))
		buf.SetSelection(off, off)
	}
	ui := newConsoleUI(b.out, buf, b.logger)
	s := lsp.NewSession(abs, lang, buf, ui,
		lsp.WithSessionLogger(b.logger),
		lsp.WithWorkspace(fileWorkspace{logger: b.logger}),
		lsp.WithFlushDelay(b.cfg.LSP.FlushDelay.Std()),
	)

	var (
		bound       bool
		regErr      error
		ready, done <-chan struct{}
	)
	root := lsp.DetectProjectRoot(abs)
	err = b.loop.Call(ctx, func() {
		bound, regErr = b.manager.RegisterTextDocument(ctx, root, s)
		if !bound || regErr != nil {
			return
		}
		s.Open()
		ready, done = s.Server().Ready(), s.Server().Done()
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}
	if !bound {
		return nil, fmt.Errorf("%w %q", lsp.ErrNoServer, lang)
	}

	wait, cancel := context.WithTimeout(ctx, b.cfg.LSP.ReadyTimeout.Std())
	defer cancel()
	select {
	case <-ready:
	case <-done:
		return nil, lsp.ErrServerTerminated
	case <-wait.Done():
		return nil, fmt.Errorf("waiting for %s server: %w", lang, wait.Err())
	}

	b.logger.Debug("document open", "path", abs, "language", lang, "root", root)
	return &document{path: abs, buf: buf, ui: ui, session: s}, nil
}

// settle waits until the document's server has no outstanding requests.
func (b *bridge) settle(ctx context.Context, d *document) error {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()
	for {
		var pending int
		err := b.loop.Call(ctx, func() {
			if srv := d.session.Server(); srv != nil {
				pending = srv.PendingCount()
			}
		})
		if err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// closeDocument sends didClose for d. It also serves as the barrier after
// which d's UI state may be read.
func (b *bridge) closeDocument(ctx context.Context, d *document) error {
	return b.loop.Call(ctx, func() { b.manager.UnregisterTextDocument(d.session) })
}

// shutdown closes the bridge with a bounded wait, logging failures.
func (b *bridge) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.close(ctx); err != nil {
		b.logger.Warn("shutdown", "error", err)
	}
}

// query opens path, runs fn on the loop, waits for the answers and closes
// the document.
func query(ctx context.Context, out io.Writer, path string, line, col int, fn func(d *document)) (*document, error) {
	b := newBridge(cfg, logger, out)
	defer b.shutdown()

	d, err := b.open(ctx, path, line, col)
	if err != nil {
		return nil, err
	}
	if err := b.loop.Call(ctx, func() { fn(d) }); err != nil {
		return nil, err
	}

	wait, cancel := context.WithTimeout(ctx, b.cfg.LSP.ReadyTimeout.Std())
	defer cancel()
	if err := b.settle(wait, d); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if err := b.closeDocument(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}
