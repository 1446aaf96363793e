package lsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultShutdownGrace bounds the wait for a server to exit after exit has
// been sent.
const DefaultShutdownGrace = 150 * time.Millisecond

// serverKey identifies a server: one per project root and configuration.
type serverKey struct {
	root string
	name string
}

// Manager owns the language servers of all open projects. Servers are
// spawned on first use and live until their project is closed or they
// die. All methods except CloseProject, Shutdown and Servers must be called
// on the Loop.
type Manager struct {
	mu      sync.Mutex
	configs []ServerConfig
	servers map[serverKey]*ServerProcess

	loop       *Loop
	spawn      SpawnFunc
	logger     *slog.Logger
	grace      time.Duration
	clientInfo ClientInfo

	onServerLost func(root, name string, err error)
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfigs sets the server configurations, in priority order.
func WithConfigs(configs ...ServerConfig) ManagerOption {
	return func(m *Manager) {
		m.configs = slices.Clone(configs)
	}
}

// WithSpawner replaces process spawning.
func WithSpawner(fn SpawnFunc) ManagerOption {
	return func(m *Manager) {
		if fn != nil {
			m.spawn = fn
		}
	}
}

// WithShutdownGrace sets how long a server may take to exit before it is
// killed.
func WithShutdownGrace(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.grace = d
	}
}

// WithClientInfo sets the client name sent in initialize.
func WithClientInfo(name, version string) ManagerOption {
	return func(m *Manager) {
		m.clientInfo = ClientInfo{Name: name, Version: version}
	}
}

// WithServerLostHook registers fn to run on the loop when a server dies
// unexpectedly. Its documents are already unbound; the host may register
// them again to spawn a fresh server.
func WithServerLostHook(fn func(root, name string, err error)) ManagerOption {
	return func(m *Manager) {
		m.onServerLost = fn
	}
}

// NewManager creates a manager whose servers deliver onto loop.
func NewManager(loop *Loop, opts ...ManagerOption) *Manager {
	m := &Manager{
		servers:    make(map[serverKey]*ServerProcess),
		loop:       loop,
		spawn:      StartTransport,
		logger:     slog.Default(),
		grace:      DefaultShutdownGrace,
		clientInfo: ClientInfo{Name: "lspbridge"},
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := initMetrics(); err != nil {
		m.logger.Warn("metrics unavailable", "error", err)
	}
	return m
}

// Loop returns the loop servers deliver onto.
func (m *Manager) Loop() *Loop {
	return m.loop
}

// ConfigFor returns the first configuration supporting fileType.
func (m *Manager) ConfigFor(fileType string) (ServerConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.configs {
		if c.IsFileTypeSupported(fileType) {
			return c, true
		}
	}
	return nil, false
}

// ApplyConfig replaces the configuration list. Running servers are kept;
// the new list applies to servers spawned afterwards.
func (m *Manager) ApplyConfig(configs []ServerConfig) {
	m.mu.Lock()
	m.configs = slices.Clone(configs)
	m.mu.Unlock()

	names := make([]string, 0, len(configs))
	for _, c := range configs {
		names = append(names, c.Name())
	}
	m.logger.Info("server configuration applied", "servers", names)
}

// GetOrCreateServer returns the server for fileType in root, spawning it
// and sending initialize if needed. It returns ErrNoServer when no
// configuration supports fileType.
func (m *Manager) GetOrCreateServer(ctx context.Context, root, fileType string) (*ServerProcess, error) {
	cfg, ok := m.ConfigFor(fileType)
	if !ok {
		return nil, fmt.Errorf("%w for %q", ErrNoServer, fileType)
	}
	root = cleanRoot(root)
	key := serverKey{root: root, name: cfg.Name()}

	m.mu.Lock()
	p, ok := m.servers[key]
	m.mu.Unlock()
	if ok && p.State() != StateTerminated {
		return p, nil
	}

	p, err := startServerProcess(ctx, m, root, cfg, m.serverTerminated)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.servers[key] = p
	m.mu.Unlock()
	return p, nil
}

// serverTerminated forgets a dead server so the next open spawns a new one.
func (m *Manager) serverTerminated(p *ServerProcess, cause error) {
	key := serverKey{root: p.root, name: p.Name()}

	m.mu.Lock()
	current, ok := m.servers[key]
	if ok && current == p {
		delete(m.servers, key)
	}
	m.mu.Unlock()

	if p.dispatcher.shutdownRequested() {
		return
	}
	if m.onServerLost != nil {
		m.onServerLost(p.root, p.Name(), cause)
	}
}

// RegisterTextDocument binds s to the server for its file type in root.
// It returns false, with no error, when no server handles the file type.
// The caller opens the session afterwards.
func (m *Manager) RegisterTextDocument(ctx context.Context, root string, s *Session) (bool, error) {
	p, err := m.GetOrCreateServer(ctx, root, s.LanguageID())
	if errors.Is(err, ErrNoServer) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.attach(p.dispatcher, m.loop)
	return true, nil
}

// UnregisterTextDocument closes s and detaches it from its server.
func (m *Manager) UnregisterTextDocument(s *Session) {
	s.Close()
}

// Servers returns a snapshot of the running servers sorted by root and
// name. When the loop is running it must not be called from the loop.
func (m *Manager) Servers(ctx context.Context) ([]ServerInfo, error) {
	var infos []ServerInfo
	err := m.onLoop(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, p := range m.servers {
			infos = append(infos, p.info())
		}
	})
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Root != infos[j].Root {
			return infos[i].Root < infos[j].Root
		}
		return infos[i].Name < infos[j].Name
	})
	return infos, err
}

// CloseProject shuts down every server of root.
func (m *Manager) CloseProject(ctx context.Context, root string) error {
	root = cleanRoot(root)
	return m.shutdownWhere(ctx, func(k serverKey) bool { return k.root == root })
}

// Shutdown shuts down every server. Each gets shutdown and exit, then the
// grace period to exit before it is killed.
func (m *Manager) Shutdown(ctx context.Context) error {
	return m.shutdownWhere(ctx, func(serverKey) bool { return true })
}

func (m *Manager) shutdownWhere(ctx context.Context, match func(serverKey) bool) error {
	var procs []*ServerProcess
	var errs []error

	err := m.onLoop(ctx, func() {
		m.mu.Lock()
		for k, p := range m.servers {
			if match(k) {
				procs = append(procs, p)
				delete(m.servers, k)
			}
		}
		m.mu.Unlock()

		for _, p := range procs {
			if err := p.dispatcher.Shutdown(); err != nil {
				errs = append(errs, &ServerError{Server: p.Name(), Root: p.root, Err: err})
			}
		}
	})
	if err != nil {
		return err
	}

	var errMu sync.Mutex
	var g errgroup.Group
	for _, p := range procs {
		g.Go(func() error {
			if err := p.transport.Shutdown(p.grace); err != nil {
				errMu.Lock()
				errs = append(errs, &ServerError{Server: p.Name(), Root: p.root, Err: err})
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Without a running loop the terminations are delivered here.
	if !m.loop.Running() {
		m.loop.RunPending()
	}

	if len(procs) > 0 {
		m.logger.Info("language servers stopped", "count", len(procs))
	}
	return errors.Join(errs...)
}

// onLoop runs fn on the loop when Run is active, otherwise inline.
func (m *Manager) onLoop(ctx context.Context, fn func()) error {
	if m.loop.Running() {
		return m.loop.Call(ctx, fn)
	}
	fn()
	return nil
}

func cleanRoot(root string) string {
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return filepath.Clean(root)
}
