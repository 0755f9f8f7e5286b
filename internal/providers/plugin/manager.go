package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"mediatracker/searchservice/internal/domain"
	"mediatracker/searchservice/internal/metrics"
	"mediatracker/searchservice/internal/providers/common"
)

const (
	defaultCallTimeout = 10 * time.Second
	maxResultsPerCall  = 20
)

var ErrUnknownPlugin = errors.New("unknown plugin")

type remote interface {
	Info() (Info, error)
	Search(ctx context.Context, host Host, req Request) ([]Result, error)
}

type instance struct {
	name string
	path string

	// starting serializes starts of this plugin only; the fields below are
	// guarded by Manager.mu.
	starting sync.Mutex
	client   *goplugin.Client
	remote   remote
	info     Info
}

type launched struct {
	client *goplugin.Client
	remote remote
	info   Info
}

type Config struct {
	Dir        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Guard      common.URLGuard
	Logger     *slog.Logger
}

// Manager owns the plugin subprocesses. Binaries are started on first use and
// restarted after they exit or time out.
type Manager struct {
	dir     string
	timeout time.Duration
	http    *http.Client
	guard   common.URLGuard
	logger  *slog.Logger
	hclog   hclog.Logger
	launch  func(inst *instance) (launched, error)

	mu        sync.Mutex
	instances map[string]*instance
}

// Outcome is one plugin's contribution to a search.
type Outcome struct {
	Plugin string
	Items  []domain.MediaItem
	Err    error
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = common.DefaultClient(timeout)
	}
	m := &Manager{
		dir:     strings.TrimSpace(cfg.Dir),
		timeout: timeout,
		http:    guardedClient(httpClient, cfg.Guard),
		guard:   cfg.Guard,
		logger:  logger,
		hclog: hclog.New(&hclog.LoggerOptions{
			Name:   "plugin",
			Level:  hclog.Warn,
			Output: os.Stderr,
		}),
		instances: make(map[string]*instance),
	}
	m.launch = m.start
	return m
}

// Discover registers every executable file in the plugin directory. A missing
// directory is not an error.
func (m *Manager) Discover() error {
	if m.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read plugin dir: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Mode().Perm()&0o111 == 0 {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, exists := m.instances[name]; exists {
			continue
		}
		m.instances[name] = &instance{name: name, path: filepath.Join(m.dir, entry.Name())}
		m.logger.Info("plugin discovered", slog.String("plugin", name))
	}
	return nil
}

func (m *Manager) attach(name string, r remote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[name] = &instance{name: name, remote: r}
}

func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos reports metadata for plugins that have been started at least once.
func (m *Manager) Infos() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.instances))
	for _, inst := range m.instances {
		info := inst.info
		if info.Name == "" {
			info.Name = inst.name
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Search runs one plugin with the per-call timeout.
func (m *Manager) Search(ctx context.Context, name string, req Request) ([]domain.MediaItem, error) {
	searcher, err := m.ready(name)
	if err != nil {
		metrics.PluginCallsTotal.WithLabelValues(name, "error").Inc()
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	host := &httpHost{ctx: callCtx, plugin: name, client: m.http, guard: m.guard, logger: m.logger}

	started := time.Now()
	results, err := searcher.Search(callCtx, host, req)
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
			m.reset(name)
		}
		metrics.PluginCallsTotal.WithLabelValues(name, status).Inc()
		return nil, fmt.Errorf("plugin %s: %w", name, err)
	}
	metrics.PluginCallsTotal.WithLabelValues(name, "ok").Inc()
	m.logger.Debug("plugin search",
		slog.String("plugin", name),
		slog.String("query", req.Query),
		slog.Int("results", len(results)),
		slog.Int64("durationMs", time.Since(started).Milliseconds()),
	)
	return toMediaItems(name, req, results), nil
}

// SearchAll queries every enabled plugin concurrently. Failures stay in their
// own Outcome.
func (m *Manager) SearchAll(ctx context.Context, req Request, enabled func(name string) bool) []Outcome {
	names := m.Names()
	outcomes := make([]Outcome, 0, len(names))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, name := range names {
		if enabled != nil && !enabled(name) {
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			items, err := m.Search(ctx, name, req)
			if err != nil {
				m.logger.Warn("plugin search failed", slog.String("plugin", name), slog.String("error", err.Error()))
			}
			mu.Lock()
			outcomes = append(outcomes, Outcome{Plugin: name, Items: items, Err: err})
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Plugin < outcomes[j].Plugin })
	return outcomes
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.client != nil {
			inst.client.Kill()
			inst.client = nil
			inst.remote = nil
		}
	}
}

// ready returns a running plugin, starting it when needed. A start can take
// up to the start timeout and runs outside m.mu, so only callers of the same
// plugin wait for it.
func (m *Manager) ready(name string) (remote, error) {
	inst, running, err := m.lookup(name)
	if err != nil || running != nil {
		return running, err
	}

	inst.starting.Lock()
	defer inst.starting.Unlock()
	if _, running, err := m.lookup(name); err != nil || running != nil {
		return running, err
	}

	started, err := m.launch(inst)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	inst.client = started.client
	inst.remote = started.remote
	inst.info = started.info
	return started.remote, nil
}

// lookup returns the live remote of name, or the instance that has to be
// started first.
func (m *Manager) lookup(name string) (*instance, remote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownPlugin, name)
	}
	if inst.remote != nil && (inst.client == nil || !inst.client.Exited()) {
		return inst, inst.remote, nil
	}
	if inst.path == "" {
		return nil, nil, fmt.Errorf("plugin %s is not running", name)
	}
	return inst, nil, nil
}

func (m *Manager) start(inst *instance) (launched, error) {
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(inst.path),
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
		Logger:           m.hclog.Named(inst.name),
		StartTimeout:     m.timeout,
	})
	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return launched{}, fmt.Errorf("start plugin %s: %w", inst.name, err)
	}
	raw, err := rpcClient.Dispense(pluginKey)
	if err != nil {
		client.Kill()
		return launched{}, fmt.Errorf("dispense plugin %s: %w", inst.name, err)
	}
	searcher, ok := raw.(*RPCClient)
	if !ok {
		client.Kill()
		return launched{}, fmt.Errorf("plugin %s: %w", inst.name, ErrPluginExport)
	}
	info, err := searcher.Info()
	if err != nil {
		client.Kill()
		return launched{}, fmt.Errorf("plugin %s info: %w", inst.name, err)
	}
	m.logger.Info("plugin started", slog.String("plugin", inst.name), slog.String("version", info.Version))
	return launched{client: client, remote: searcher, info: info}, nil
}

// reset kills a plugin that overran its deadline so the next call starts fresh.
func (m *Manager) reset(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[name]
	if !ok || inst.client == nil {
		return
	}
	inst.client.Kill()
	inst.client = nil
	inst.remote = nil
}

func toMediaItems(plugin string, req Request, results []Result) []domain.MediaItem {
	source := SourcePrefix + plugin
	fallbackType := domain.ParseMediaType(req.Type)
	out := make([]domain.MediaItem, 0, len(results))
	for _, result := range results {
		title := strings.TrimSpace(result.Title)
		if domain.IsMissing(title) {
			continue
		}
		mediaType := domain.ParseMediaType(result.Type)
		if strings.TrimSpace(result.Type) == "" && fallbackType != domain.MediaTypeAll {
			mediaType = fallbackType
		}
		date, _ := domain.NormalizeDate(result.ReleaseDate)
		out = append(out, domain.MediaItem{
			Title:            title,
			Type:             mediaType,
			ReleaseDate:      date,
			DirectorOrAuthor: strings.TrimSpace(result.DirectorOrAuthor),
			Description:      strings.TrimSpace(result.Description),
			Cast:             append([]string(nil), result.Cast...),
			Rating:           strings.TrimSpace(result.Rating),
			PosterURL:        strings.TrimSpace(result.PosterURL),
			SourceURL:        strings.TrimSpace(result.SourceURL),
			Sources:          []string{source},
			Origin:           domain.TrustCatalog,
		})
		if len(out) == maxResultsPerCall {
			break
		}
	}
	return out
}
