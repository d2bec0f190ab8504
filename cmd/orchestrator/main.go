// Command orchestrator is the process entry point: it composes the
// Config → Logger → Session Store → Event Bus → Provider Registry →
// Catalog Client → Router → Session Supervisor → Health Monitor →
// Stream Publisher singletons and owns the SIGTERM/SIGINT shutdown
// cascade.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/specifiedcodes/devos-orchestrator/internal/catalog"
	"github.com/specifiedcodes/devos-orchestrator/internal/common/config"
	"github.com/specifiedcodes/devos-orchestrator/internal/common/httpmw"
	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"github.com/specifiedcodes/devos-orchestrator/internal/events/bus"
	"github.com/specifiedcodes/devos-orchestrator/internal/health"
	"github.com/specifiedcodes/devos-orchestrator/internal/provider"
	"github.com/specifiedcodes/devos-orchestrator/internal/registry"
	"github.com/specifiedcodes/devos-orchestrator/internal/router"
	"github.com/specifiedcodes/devos-orchestrator/internal/session"
	"github.com/specifiedcodes/devos-orchestrator/internal/stream"
	"github.com/specifiedcodes/devos-orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	log, err := logger.NewLogger(logger.LoggingConfig(cfg.Logging))
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()

	app, err := bootstrap(cfg, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	app.Run(ctx)
}

// application bundles every long-lived singleton the orchestrator
// composes at startup: the Session Supervisor, the Provider Registry,
// the Catalog Client, and the Router, with well-defined init/teardown
// tied to process signals.
type application struct {
	cfg        *config.Config
	log        *logger.Logger
	redis      *redis.Client
	bus        bus.EventBus
	store      session.Store
	supervisor *session.Supervisor
	publisher  *stream.Publisher
	history    stream.History
	monitor    *health.Monitor
	catalog    *catalog.Client
	registry   *registry.Registry
	router     *router.Router
	httpServer *http.Server
}

func bootstrap(cfg *config.Config, log *logger.Logger) (*application, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Host + ":" + itoa(cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	eventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
	var eb bus.EventBus
	if err != nil {
		log.Warn("NATS unavailable, falling back to in-process event bus", zap.Error(err))
		eb = bus.NewMemoryEventBus(log)
	} else {
		eb = eventBus
	}

	store := session.NewRedisStore(redisClient, cfg.Session.StoreTTL, int64(cfg.Health.ScanPageSize), cfg.Health.ScanMaxResults)

	supervisor := session.NewSupervisor(session.Config{
		MaxConcurrentPerWorkspace: cfg.Session.MaxConcurrentPerWorkspace,
		HeartbeatInterval:         cfg.Session.HeartbeatInterval,
		TerminateGraceWindow:      cfg.Session.TerminateGraceWindow,
		RingBufferSize:            cfg.Session.RingBufferSize,
		StoreTTL:                  cfg.Session.StoreTTL,
	}, store, log)

	publisher := stream.NewPublisher(eb, log, stream.PublisherConfig{})
	history := stream.NewRedisHistory(redisClient, log, cfg.Session.HistoryMaxLines, cfg.Session.StoreTTL)

	monitor := health.NewMonitor(store, supervisor, health.Config{
		CheckInterval:  cfg.Health.CheckInterval,
		StaleThreshold: cfg.Health.StaleThreshold,
	}, log)

	catalogClient := catalog.NewClient(cfg.Catalog.BaseURL, log,
		catalog.WithToken(cfg.Catalog.AuthToken),
		catalog.WithCacheTTL(cfg.Catalog.CacheTTL),
		catalog.WithCacheCapacity(cfg.Catalog.CacheCapacity))

	providerRegistry := registry.New()
	policy := provider.NewPolicy(cfg.Provider.Timeout, cfg.Provider.MaxRetries, cfg.Provider.RetryBaseDelay)
	providerRegistry.Register(provider.NewAnthropicProvider(cfg.Provider.AnthropicBaseURL, policy))
	providerRegistry.Register(provider.NewOpenAIProvider(cfg.Provider.OpenAIBaseURL, policy))
	providerRegistry.Register(provider.NewGoogleProvider(policy))
	providerRegistry.Register(provider.NewDeepSeekProvider(policy))

	taskRouter := router.New(catalogClient, providerRegistry)

	app := &application{
		cfg:        cfg,
		log:        log,
		redis:      redisClient,
		bus:        eb,
		store:      store,
		supervisor: supervisor,
		publisher:  publisher,
		history:    history,
		monitor:    monitor,
		catalog:    catalogClient,
		registry:   providerRegistry,
		router:     taskRouter,
	}
	app.httpServer = app.newHTTPServer()

	return app, nil
}

// Run wires the Supervisor's output fan-out into the Publisher and
// History Buffer, starts the Health Monitor sweep loop and the control
// HTTP server, and blocks until ctx is cancelled by an inbound
// SIGTERM/SIGINT, then drains every component in reverse dependency
// order.
func (a *application) Run(ctx context.Context) {
	stopCh := make(chan struct{})
	defer close(stopCh)

	outputCh := a.supervisor.SubscribeOutput(256)
	go a.pumpOutput(ctx, stopCh, outputCh)

	go a.monitor.Run(ctx)

	go func() {
		a.log.Info("control server listening", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.log.Error("control server exited unexpectedly", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.log.Info("shutdown signal received, draining")
	a.shutdown()
}

func (a *application) pumpOutput(ctx context.Context, stopCh chan struct{}, ch <-chan session.OutputEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			sess, err := a.store.GetSession(ctx, e.SessionID)
			if err != nil || sess == nil {
				continue
			}
			event := stream.Transform(e, sess.ProjectID, sess.WorkspaceID)
			a.publisher.Enqueue(event)
			if err := a.history.Append(ctx, e.SessionID, event); err != nil {
				a.log.Warn("history append failed", zap.String("sessionId", e.SessionID), zap.Error(err))
			}
		}
	}
}

// shutdown runs after ctx cancellation has already stopped the Health
// Monitor: HTTP server first (stop admitting new work), then the
// Publisher's pending batch, then the Supervisor's own sessions, then
// the connections under everything.
func (a *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("control server shutdown error", zap.Error(err))
	}

	a.publisher.Shutdown()

	if err := a.supervisor.TerminateAllSessions(shutdownCtx); err != nil {
		a.log.Warn("error terminating sessions during shutdown", zap.Error(err))
	}

	a.bus.Close()

	if err := a.redis.Close(); err != nil {
		a.log.Warn("redis close error", zap.Error(err))
	}

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("tracing shutdown error", zap.Error(err))
	}
}

func (a *application) newHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)

	return &http.Server{
		Addr:    serverAddr(a.cfg),
		Handler: httpmw.OtelTracing("orchestrator-control", mux),
	}
}

func serverAddr(c *config.Config) string {
	return c.Server.Host + ":" + itoa(c.Server.Port)
}

// handleHealthz reports liveness: the number of session ids in the store
// and whether the event bus is connected. The Health Monitor's sweep
// snapshot is not included.
func (a *application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	sessionIDs, err := a.store.GetAllSessionIDs(ctx)
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"sessionCount": len(sessionIDs),
		"busConnected": a.bus.IsConnected(),
	})
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
