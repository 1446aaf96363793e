package lsp

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// SpawnFunc starts a language server and returns its transport. Tests
// substitute one that wires the transport to in-memory pipes.
type SpawnFunc func(ctx context.Context, cfg TransportConfig, opts ...TransportOption) (*Transport, error)

// ServerProcess is one running language server for one project root.
type ServerProcess struct {
	root       string
	config     ServerConfig
	transport  *Transport
	dispatcher *Dispatcher
	logger     *slog.Logger
	grace      time.Duration

	startedAt time.Time
}

// ServerInfo is a snapshot of a managed server.
type ServerInfo struct {
	Name         string
	Root         string
	State        ServerState
	Pid          int
	Documents    int
	Pending      int
	Capabilities CapabilitySet
	StartedAt    time.Time
}

// startServerProcess spawns cfg in root, starts reading its output onto the
// loop and sends initialize. onTerminate runs on the loop once the server
// is gone.
func startServerProcess(ctx context.Context, m *Manager, root string, cfg ServerConfig, onTerminate func(*ServerProcess, error)) (*ServerProcess, error) {
	name := cfg.Name()
	logger := m.logger.With("server", name, "root", root)

	t, err := m.spawn(ctx, TransportConfig{
		Argv: cfg.Argv(),
		Dir:  root,
		Env:  cfg.Env(),
	}, WithTransportLogger(logger))
	if err != nil {
		recordServerSpawn(name, false)
		return nil, &ServerError{Server: name, Root: root, Err: err}
	}
	recordServerSpawn(name, true)

	p := &ServerProcess{
		root:      root,
		config:    cfg,
		transport: t,
		logger:    logger,
		grace:     m.grace,
		startedAt: time.Now(),
	}
	p.dispatcher = NewDispatcher(t,
		WithDispatcherLogger(m.logger.With("root", root)),
		WithServerName(name),
		WithExtensions(cfg.Extensions()),
		WithTerminateHook(func(cause error) {
			onTerminate(p, cause)
			go p.release()
		}),
	)

	loop := m.loop
	t.Listen(
		func(body []byte) {
			loop.Post(func() { p.dispatcher.Dispatch(body) })
		},
		func(err error) {
			loop.Post(func() { p.dispatcher.Terminate(err) })
		},
	)

	if err := p.dispatcher.Initialize(p.initializeParams(m.clientInfo)); err != nil {
		_ = t.Shutdown(0)
		return nil, &ServerError{Server: name, Root: root, Err: err}
	}
	logger.Info("language server spawned", "pid", t.Pid())
	return p, nil
}

func (p *ServerProcess) initializeParams(client ClientInfo) InitializeParams {
	root, err := filepath.Abs(p.root)
	if err != nil {
		root = p.root
	}
	uri := FilePathToURI(root)
	params := InitializeParams{
		ProcessID:    os.Getpid(),
		ClientInfo:   &client,
		RootURI:      uri,
		RootPath:     root,
		Capabilities: DefaultClientCapabilities(),
		WorkspaceFolders: []WorkspaceFolder{
			{URI: uri, Name: filepath.Base(root)},
		},
	}
	applyExtensions(&params, p.config.Extensions())
	return params
}

// release reaps the process after the dispatcher has terminated.
func (p *ServerProcess) release() {
	if err := p.transport.Shutdown(p.grace); err != nil {
		p.logger.Debug("releasing language server", "error", err)
	}
}

// Name returns the configuration name.
func (p *ServerProcess) Name() string { return p.config.Name() }

// Root returns the project root.
func (p *ServerProcess) Root() string { return p.root }

// Config returns the configuration the server was started from.
func (p *ServerProcess) Config() ServerConfig { return p.config }

// Dispatcher returns the server's dispatcher.
func (p *ServerProcess) Dispatcher() *Dispatcher { return p.dispatcher }

// State returns the server state. Safe from any goroutine.
func (p *ServerProcess) State() ServerState { return p.dispatcher.State() }

// WaitReady blocks until the server has answered initialize. It returns
// ErrServerTerminated if the server dies first. It must not be called on
// the loop, which delivers the response.
func (p *ServerProcess) WaitReady(ctx context.Context) error {
	select {
	case <-p.dispatcher.Ready():
		return nil
	case <-p.dispatcher.Done():
		return ErrServerTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// info must be called on the loop.
func (p *ServerProcess) info() ServerInfo {
	return ServerInfo{
		Name:         p.Name(),
		Root:         p.root,
		State:        p.State(),
		Pid:          p.transport.Pid(),
		Documents:    p.dispatcher.DocumentCount(),
		Pending:      p.dispatcher.PendingCount(),
		Capabilities: p.dispatcher.Negotiated().Capabilities,
		StartedAt:    p.startedAt,
	}
}
