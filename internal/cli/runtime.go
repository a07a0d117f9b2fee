package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rakha/easel/internal/config"
	"github.com/rakha/easel/internal/logger"
	"github.com/rakha/easel/internal/metrics"
	"github.com/rakha/easel/pkg/budget"
	"github.com/rakha/easel/pkg/canvastools"
	"github.com/rakha/easel/pkg/checkpoint"
	"github.com/rakha/easel/pkg/events"
	"github.com/rakha/easel/pkg/hooks"
	"github.com/rakha/easel/pkg/provider"
	"github.com/rakha/easel/pkg/toolengine"
)

// runtime bundles the wired collaborators a command needs.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	chain   *provider.Chain
	canvas  *canvastools.MemoryCanvas
	engine  *toolengine.Engine
	budget  *budget.Manager
	store   checkpoint.Store
	metrics *metrics.Metrics

	watcher *budget.AwarenessWatcher
}

// setupRuntime loads configuration and wires the core components.
func setupRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		MaxSizeMB: cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	profiles := make([]provider.Profile, len(cfg.Providers.Profiles))
	for i, p := range cfg.Providers.Profiles {
		profiles[i] = provider.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		}
	}
	chain, err := provider.NewChain(profiles, &provider.DefaultFactory{}, log.Component("provider"))
	if err != nil {
		return nil, fmt.Errorf("failed to build provider chain: %w", err)
	}

	m := metrics.NewMetrics()
	chain.SetObserver(func(profileID string, genErr error) {
		status := "success"
		if genErr != nil {
			status = "failure"
			if provider.IsRetryable(genErr) {
				m.ProviderFailoversTotal.Inc()
			}
		}
		m.ProviderRequestsTotal.WithLabelValues(profileID, status).Inc()
	})

	policyRules, err := hooks.ParseRules(cfg.Tools.PolicyRules)
	if err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}
	policy, err := hooks.NewManager(hooks.Config{
		Enabled: len(policyRules) > 0,
		Rules:   policyRules,
		Logger:  log.Component("hooks"),
	})
	if err != nil {
		return nil, fmt.Errorf("invalid tool policy: %w", err)
	}

	engineHooks := toolMetricsHooks(policy.Hooks(), m, cfg.Tools)

	canvas := canvastools.NewMemoryCanvas()
	engine := toolengine.New(toolengine.Config{
		Hooks:      engineHooks,
		MaxRetries: cfg.Tools.MaxRetries,
		RetryDelay: time.Duration(cfg.Tools.RetryDelayMs) * time.Millisecond,
		Backend:    canvas,
		Logger:     log.Component("toolengine"),
	})
	if err := canvastools.RegisterCanvasTools(engine); err != nil {
		return nil, fmt.Errorf("failed to register canvas tools: %w", err)
	}

	mgr := budget.NewManager(cfg.Budget.TokenBudget, log.Component("budget"))
	if cfg.Budget.AwarenessMaxAgeSec > 0 {
		mgr.SetAwarenessMaxAge(time.Duration(cfg.Budget.AwarenessMaxAgeSec) * time.Second)
	}
	var watcher *budget.AwarenessWatcher
	if cfg.Budget.AwarenessFile != "" {
		if content, readErr := os.ReadFile(cfg.Budget.AwarenessFile); readErr == nil {
			mgr.SetAwareness(string(content))
		}
		watcher, err = budget.WatchAwareness(cfg.Budget.AwarenessFile, mgr, log.Component("awareness"))
		if err != nil {
			zlog := log.Zerolog()
			zlog.Warn().Err(err).Msg("Awareness watch disabled")
		}
	}

	var store checkpoint.Store
	switch cfg.Checkpoints.Backend {
	case "sqlite":
		store, err = checkpoint.NewSQLiteStore(cfg.Checkpoints.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
	default:
		store = checkpoint.NewMemoryStore()
	}

	return &runtime{
		cfg:     cfg,
		log:     log,
		chain:   chain,
		canvas:  canvas,
		engine:  engine,
		budget:  mgr,
		store:   store,
		metrics: m,
		watcher: watcher,
	}, nil
}

// toolMetricsHooks layers execution metrics on top of the policy hooks.
// The error hook mirrors the engine's default backoff so installing it
// does not change retry behavior.
func toolMetricsHooks(base toolengine.Hooks, m *metrics.Metrics, tools config.ToolsConfig) toolengine.Hooks {
	maxRetries := tools.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	retryDelay := time.Duration(tools.RetryDelayMs) * time.Millisecond
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}

	base.Post = append(base.Post, func(ctx context.Context, toolName string, result toolengine.Result) {
		m.ToolExecutionsTotal.WithLabelValues(toolName, "success").Inc()
		m.ToolExecutionDuration.WithLabelValues(toolName).Observe(float64(result.DurationMs) / 1000)
	})
	base.Error = func(ctx context.Context, toolName string, attempt int, err error) (bool, time.Duration) {
		if attempt >= maxRetries {
			m.ToolExecutionsTotal.WithLabelValues(toolName, "failure").Inc()
			return false, 0
		}
		m.ToolRetriesTotal.WithLabelValues(toolName).Inc()
		return true, retryDelay * time.Duration(1<<attempt)
	}
	return base
}

// close releases runtime resources.
func (r *runtime) close() {
	if r.watcher != nil {
		r.watcher.Close()
	}
	if r.store != nil {
		r.store.Close()
	}
	if r.log != nil {
		r.log.Close()
	}
}

// serveMetrics exposes the Prometheus endpoint when enabled.
func (r *runtime) serveMetrics() {
	if !r.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.metrics.Handler())
	addr := fmt.Sprintf(":%d", r.cfg.Metrics.Port)
	zlog := r.log.Component("metrics")
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			zlog.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}

// serveGateway exposes the event stream over WebSocket when enabled and
// returns the broadcaster, or nil.
func (r *runtime) serveGateway() *events.Broadcaster {
	if !r.cfg.Gateway.Enabled {
		return nil
	}

	broadcaster := events.NewBroadcaster(r.log.Component("gateway"))
	zlog := r.log.Component("gateway")
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			zlog.Warn().Err(err).Msg("WebSocket upgrade failed")
			return
		}
		broadcaster.Attach(conn)
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.Gateway.Host, r.cfg.Gateway.Port)
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			zlog.Error().Err(err).Msg("Gateway server stopped")
		}
	}()
	return broadcaster
}

// consumeEvents prints events and forwards them to the broadcaster until
// the stream closes. Returns a channel closed when the consumer is done.
func consumeEvents(stream *events.Stream, broadcaster *events.Broadcaster, zlog zerolog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range stream.Events() {
			zlog.Info().
				Str("event", string(evt.Type)).
				Fields(evt.Data).
				Msg("Event")
			if broadcaster != nil {
				broadcaster.Broadcast(evt)
			}
		}
	}()
	return done
}
