package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/restypanel/restywatch/internal/alerts"
	"github.com/restypanel/restywatch/internal/api"
	"github.com/restypanel/restywatch/internal/auth"
	"github.com/restypanel/restywatch/internal/config"
	"github.com/restypanel/restywatch/internal/gateway"
	"github.com/restypanel/restywatch/internal/health"
	"github.com/restypanel/restywatch/internal/kv"
	"github.com/restypanel/restywatch/internal/monitor"
	"github.com/restypanel/restywatch/internal/topology"
	"github.com/restypanel/restywatch/internal/upstreams"
	"github.com/restypanel/restywatch/internal/window"
	"github.com/restypanel/restywatch/internal/ws"
)

// shutdownTimeout bounds how long in-flight polls and requests may run after
// a signal.
const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("restywatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setLevel(level, cfg.LogLevel)

	slog.Info("config loaded",
		"gateway", cfg.Gateway.URL,
		"metrics_format", cfg.Gateway.MetricsFormat,
		"sample_interval", cfg.Poll.SampleInterval,
		"time_range", cfg.Poll.TimeRange,
		"topology_interval", cfg.Poll.TopologyInterval,
		"storage", cfg.Storage.Backend,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		slog.Error("failed to open storage", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		slog.Error("failed to build gateway client", "err", err)
		os.Exit(1)
	}

	topo := topology.NewStore()
	mgr := upstreams.New(gw, topo, store)
	eng, err := monitor.New(monitor.Options{
		Snapshots:        gw,
		Status:           gw,
		Upstreams:        mgr,
		Window:           window.New(store, window.MaxPoints(cfg.Poll.TimeRange, cfg.Poll.SampleInterval)),
		Topology:         topo,
		SampleInterval:   cfg.Poll.SampleInterval,
		TimeRange:        cfg.Poll.TimeRange,
		TopologyInterval: cfg.Poll.TopologyInterval,
	})
	if err != nil {
		slog.Error("failed to build monitor", "err", err)
		os.Exit(1)
	}
	eng.Restore(ctx)

	// An edit is followed by a topology poll so health reflects it. The
	// manager calls back while holding its lock, and the poll refreshes
	// through the manager.
	mgr.OnChange(func(context.Context) {
		go func() { _ = eng.PollTopology(ctx) }()
	})

	alertEngine := alerts.New(cfg.Alerts)
	reporter := health.New()

	h := api.New(api.Options{
		Engine:       eng,
		Upstreams:    mgr,
		Alerts:       alertEngine,
		RefreshRate:  cfg.Server.RefreshRate,
		RefreshBurst: cfg.Server.RefreshBurst,
	})

	hub := ws.New(func() interface{} { return h.State() })
	go hub.Run(ctx)

	eng.OnTick(func(t monitor.Tick) {
		if event, data := h.TickPayload(t); event != "" {
			hub.Publish(event, data)
		}
		alertEngine.Evaluate(alerts.Collect(eng))
		reporter.Observe(t)
	})

	if err := eng.Start(ctx); err != nil {
		slog.Error("failed to start polling", "err", err)
		os.Exit(1)
	}

	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			reload(ctx, eng, level, updated)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	// gRPC health service with optional API key authentication.
	var grpcSrv *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		grpcSrv = grpc.NewServer(
			grpc.UnaryInterceptor(auth.APIKeyInterceptor(
				cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())),
			grpc.StreamInterceptor(auth.APIKeyStreamInterceptor(
				cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key())),
		)
		reporter.Register(grpcSrv)

		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			slog.Error("failed to listen on gRPC port", "port", cfg.Server.GRPCPort, "err", err)
			os.Exit(1)
		}
		go func() {
			slog.Info("gRPC health listening", "port", cfg.Server.GRPCPort)
			if err := grpcSrv.Serve(lis); err != nil {
				slog.Error("gRPC server stopped", "err", err)
			}
		}()
	}

	// REST API and the WebSocket stream share HTTPPort.
	httpMux := http.NewServeMux()
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/", h)

	protect := auth.Middleware(cfg.Server.Auth.Mode, cfg.Server.Auth.EffectiveHeader(), cfg.Server.Auth.Key(),
		"/metrics", "/api/v1/health")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           protect(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("restywatch shutting down")

	reporter.Shutdown()
	eng.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := eng.Wait(shutdownCtx); err != nil {
		slog.Warn("polls still running at shutdown", "err", err)
	}
	alertEngine.Wait()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "err", err)
	}
}

// openStore returns the configured kv backend and its closer.
func openStore(cfg config.StorageConfig) (kv.Store, func(), error) {
	switch cfg.Backend {
	case "memory":
		slog.Info("storage: in memory, state is lost on restart")
		return kv.NewMemory(), func() {}, nil
	default:
		db, err := kv.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("storage: sqlite", "path", cfg.Path)
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Warn("storage: close", "err", err)
			}
		}, nil
	}
}

// reload applies the parts of a changed config that take effect without a
// restart: poll cadences, the time window and the log level.
func reload(ctx context.Context, eng *monitor.Engine, level *slog.LevelVar, cfg *config.Config) {
	setLevel(level, cfg.LogLevel)

	sample, timeRange, topo := eng.Intervals()
	if cfg.Poll.SampleInterval != sample {
		if err := eng.SetSampleInterval(ctx, cfg.Poll.SampleInterval); err != nil && !errors.Is(err, window.ErrPersistence) {
			slog.Error("config: sample interval not applied", "err", err)
		}
	}
	if cfg.Poll.TimeRange != timeRange {
		if err := eng.SetTimeWindow(ctx, cfg.Poll.TimeRange); err != nil && !errors.Is(err, window.ErrPersistence) {
			slog.Error("config: time range not applied", "err", err)
		}
	}
	if cfg.Poll.TopologyInterval != topo {
		if err := eng.SetTopologyInterval(cfg.Poll.TopologyInterval); err != nil {
			slog.Error("config: topology interval not applied", "err", err)
		}
	}
	slog.Info("config hot-reloaded",
		"sample_interval", cfg.Poll.SampleInterval,
		"time_range", cfg.Poll.TimeRange,
		"topology_interval", cfg.Poll.TopologyInterval,
	)
}

func setLevel(level *slog.LevelVar, name string) {
	if name == "" {
		level.Set(slog.LevelInfo)
		return
	}
	if err := level.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, using info", "log_level", name)
		level.Set(slog.LevelInfo)
	}
}
