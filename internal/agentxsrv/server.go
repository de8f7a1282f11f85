package agentxsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentxhub/agentx/internal/config"
	"github.com/agentxhub/agentx/internal/observability"
	"github.com/agentxhub/agentx/internal/pluginhost"
	"github.com/agentxhub/agentx/internal/protocol"
	"github.com/agentxhub/agentx/internal/registry"
	"github.com/agentxhub/agentx/internal/router"
)

// Server is one running AgentX process: the four core subsystems wired
// together behind a JSON-RPC listener, plus the shared observability stack.
type Server struct {
	cfg Config

	Observability  *observability.Observability
	TraceManager   *observability.TraceManager
	MetricsManager *observability.MetricsManager
	HealthServer   *observability.HealthServer
	Logger         *slog.Logger

	Registry   *registry.Registry
	PluginHost *pluginhost.Host
	Router     *router.Router
	Engine     *protocol.Engine

	rpcServer *http.Server
	ticker    *metricsTicker
}

// NewServer wires the subsystems leaves-first: registry, then the plugin
// host, then the router, which consumes both, and last the protocol engine,
// whose message handler hands accepted messages to the router.
func NewServer(cfg Config) (*Server, error) {
	obsCfg := observability.DefaultConfig(fmt.Sprintf("agentx-%s", cfg.ComponentName))
	obs, err := observability.NewObservability(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize observability: %w", err)
	}

	metricsManager, err := observability.NewMetricsManager(obs.Meter)
	if err != nil {
		return nil, fmt.Errorf("initialize metrics manager: %w", err)
	}
	traceManager := observability.NewTraceManager(obsCfg.ServiceName)

	healthServer := observability.NewHealthServer(cfg.HealthPort, obsCfg.ServiceName, obsCfg.ServiceVersion)
	healthServer.AddChecker("self", observability.NewBasicHealthChecker("self", func(ctx context.Context) error {
		return nil
	}))

	stateSync, err := newStateSync(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Registry, cfg.ClusterID, stateSync, obs.Logger)

	host := pluginhost.New(cfg.PluginHost, nil, obs.Logger, obs.Tracer)

	rtr, err := router.New(cfg.Router, reg, pluginhost.NewPluginSender(host), obs.Logger, obs.Tracer)
	if err != nil {
		return nil, fmt.Errorf("initialize router: %w", err)
	}
	reg.OnEvict(rtr.UnregisterAgent)
	rtr.SetMetrics(metricsManager)
	rtr.SetHealthServer(healthServer)

	healthServer.AddChecker("router", observability.NewBasicHealthChecker("router", func(ctx context.Context) error {
		return nil
	}))

	s := &Server{
		cfg:            cfg,
		Observability:  obs,
		TraceManager:   traceManager,
		MetricsManager: metricsManager,
		HealthServer:   healthServer,
		Logger:         obs.Logger,
		Registry:       reg,
		PluginHost:     host,
		Router:         rtr,
	}

	engine := protocol.NewEngine(cfg.Protocol, s.routeHandler, obs.Logger, obs.Tracer)
	engine.SetCapabilityLookup(reg.Capabilities)
	engine.SetMetrics(metricsManager)
	s.Engine = engine

	return s, nil
}

func newStateSync(cfg Config) (registry.StateSync, error) {
	if cfg.StateSyncBackend != "redis" {
		return registry.NewMemoryStateSync(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return registry.NewRedisStateSync(client, cfg.ClusterID), nil
}

// routeHandler is the protocol engine's MessageHandler: it hands an
// accepted message to the router for delivery to its target_agent.
func (s *Server) routeHandler(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	ctx, span := s.TraceManager.StartRoutingSpan(ctx, msg.MessageID, msg.TargetAgent())
	defer span.End()
	s.TraceManager.AddComponentAttribute(span, "router")

	result, err := s.Router.RouteMessage(ctx, msg)
	if err != nil {
		s.MetricsManager.IncrementRouteConnectionErrors(ctx)
		s.TraceManager.RecordError(span, err)
		return nil, err
	}
	s.MetricsManager.IncrementMessagesRouted(ctx, result.SelectedAgentID)
	s.TraceManager.AddRoutingResult(span, result.SelectedAgentID, result.SelectedEndpoint, result.Attempts, result.CacheHit)
	s.TraceManager.SetSpanSuccess(span)
	return result.Reply, nil
}

// Start runs the health server and the JSON-RPC listener, blocking until
// the RPC listener stops (normally via Shutdown).
func (s *Server) Start(ctx context.Context) error {
	go func() {
		s.Logger.Info("starting health server", "port", s.cfg.HealthPort)
		if err := s.HealthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			s.Logger.Error("health server failed", "error", err)
		}
	}()

	s.ticker = newMetricsTicker(ctx, s.MetricsManager)
	s.ticker.Start()

	s.Registry.StartSweeper()

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	s.rpcServer = &http.Server{Addr: s.cfg.RPCAddr, Handler: mux}

	s.Logger.Info("agentx server listening",
		"component", s.cfg.ComponentName,
		"rpc_addr", s.cfg.RPCAddr,
		"health_endpoint", fmt.Sprintf("http://localhost:%s/health", s.cfg.HealthPort),
	)

	err := s.rpcServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleRPC is the one transport this repo implements for the JSON-RPC 2.0
// framing: a single POST endpoint, not a REST resource model.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(s.cfg.Protocol.MaxMessageSize)+4096))
	if err != nil {
		http.Error(w, "request body too large or unreadable", http.StatusBadRequest)
		return
	}
	resp := s.Engine.Dispatch(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// Shutdown stops the metrics ticker, the registry sweeper, the router's
// health probes and the engine's workers, then the RPC and health listeners
// and observability. Spawned plugins are not shut down here.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "shutting down agentx server")

	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.Registry.Shutdown()
	s.Router.Shutdown()
	s.Engine.Shutdown()

	if s.rpcServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.rpcServer.Shutdown(shutdownCtx); err != nil {
			s.Logger.ErrorContext(ctx, "rpc server shutdown error", "error", err)
		}
	}
	if err := s.HealthServer.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "health server shutdown error", "error", err)
	}
	if err := s.Observability.Shutdown(ctx); err != nil {
		s.Logger.ErrorContext(ctx, "observability shutdown failed", "error", err)
		return err
	}
	return nil
}

// Run builds a Server from environment configuration and runs it until ctx
// is cancelled.
func Run(ctx context.Context, componentName string) error {
	appCfg := config.Load()
	cfg := FromAppConfig(appCfg, componentName)

	srv, err := NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create agentx server: %w", err)
	}

	go func() {
		<-ctx.Done()
		srv.Logger.Info("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return srv.Start(ctx)
}
