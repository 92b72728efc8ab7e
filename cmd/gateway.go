package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ag3nt-dev/gateway/internal/agentconn"
	"github.com/ag3nt-dev/gateway/internal/config"
	"github.com/ag3nt-dev/gateway/internal/errs"
	"github.com/ag3nt-dev/gateway/internal/events"
	"github.com/ag3nt-dev/gateway/internal/httpapi"
	"github.com/ag3nt-dev/gateway/internal/nodeconn"
	"github.com/ag3nt-dev/gateway/internal/nodes"
	"github.com/ag3nt-dev/gateway/internal/pairing"
	"github.com/ag3nt-dev/gateway/internal/ratelimit"
	"github.com/ag3nt-dev/gateway/internal/router"
	"github.com/ag3nt-dev/gateway/internal/sessions"
	"github.com/ag3nt-dev/gateway/internal/store/pg"
	"github.com/ag3nt-dev/gateway/internal/store/sqlite"
	"github.com/ag3nt-dev/gateway/internal/telemetry"
	"github.com/ag3nt-dev/gateway/internal/usage"
)

// runGateway loads configuration, constructs every component, and serves
// the gateway's HTTP/WebSocket surface until interrupted. Grounded on the
// teacher's cmd/gateway.go runGateway (structured logging first, config
// load second, component construction in dependency order, graceful
// shutdown on SIGINT/SIGTERM last), stripped of the teacher's own
// provider/tool/channel-SDK wiring.
func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	shutdownTracing, err := telemetry.Setup(context.Background(), telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Protocol:    telemetry.Protocol(cfg.Telemetry.OTLPProtocol),
		ServiceName: "ag3nt-gateway",
	})
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracer shutdown error", "error", err)
		}
	}()

	bus := events.New()

	sessionStore, messageLog, closeStore := mustOpenStores(cfg)
	if closeStore != nil {
		defer closeStore()
	}

	allowlist := sessions.NewAllowlist()
	if cfg.Sessions.AllowlistPath != "" {
		path := config.ExpandHome(cfg.Sessions.AllowlistPath)
		if err := allowlist.LoadFile(path); err != nil {
			slog.Warn("allowlist load failed, starting empty", "path", path, "error", err)
		}
		if err := allowlist.Watch(); err != nil {
			slog.Warn("allowlist watch unavailable", "error", err)
		} else {
			defer allowlist.StopWatch()
		}
	}

	sessionMgr := sessions.NewManager(sessions.ManagerConfig{
		DMPolicy:       sessions.DMPolicy(cfg.Sessions.DMPolicy),
		PairingCodeTTL: cfg.Sessions.PairingCodeTTL,
	}, sessionStore, allowlist)

	lifecycle := sessions.NewLifecycleManager(sessions.LifecycleConfig{
		SessionTimeout:  cfg.Sessions.SessionTimeout,
		CleanupInterval: cfg.Sessions.CleanupInterval,
		CleanupCron:     cfg.Sessions.CleanupCron,
	}, sessionStore, messageLog, bus)
	lifecycle.Start()
	defer lifecycle.Stop()

	nodeRegistry := nodes.NewRegistry(bus)
	nodePairing := pairing.NewManager(cfg.Nodes.PairingCodeTTL)
	nodeConns := nodeconn.NewManager(nodeRegistry, nodePairing, bus)
	defer nodeConns.Stop()

	agentConn := agentconn.New(agentconn.Config{
		URL:            cfg.Worker.URL,
		Token:          cfg.Worker.Token,
		RequestTimeout: cfg.Worker.RequestTimeout,
		MaxReconnects:  cfg.Worker.MaxReconnects,
		ReconnectBase:  cfg.Worker.ReconnectBase,
		ReconnectMax:   cfg.Worker.ReconnectMax,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agentConn.Connect(ctx); err != nil {
		slog.Warn("initial worker connection failed, will retry in background", "url", cfg.Worker.URL, "error", err)
	}
	defer agentConn.Close()

	usageTracker := usage.New(cfg.Usage.MaxRecords)
	errRegistry := errs.New()

	chatLimiter := ratelimit.New(cfg.Gateway.ChatRateLimitRPM, time.Minute)
	apiLimiter := ratelimit.New(cfg.Gateway.APIRateLimitRPM, time.Minute)

	gatewayRouter := router.New(router.Config{
		ChatLimiter: chatLimiter,
		Sessions:    sessionMgr,
		Lifecycle:   lifecycle,
		Agent:       agentConn,
		Usage:       usageTracker,
		Registry:    errRegistry,
	})
	_ = gatewayRouter // wired into channel adapters by the operator's deployment, per §1's Non-goal on concrete channel SDKs

	srv := httpapi.New(httpapi.Config{
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
		GlobalLimiter:  apiLimiter,
		Usage:          usageTracker,
		Sessions:       sessionMgr,
		NodeConns:      nodeConns,
		Pairing:        nodePairing,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	slog.Info("gateway listening", "addr", addr, "dmPolicy", cfg.Sessions.DMPolicy, "dbMode", cfg.Database.Mode)
	if err := srv.Start(ctx, addr); err != nil && err != http.ErrServerClosed {
		slog.Error("gateway server exited with error", "error", err)
		os.Exit(1)
	}
}

// mustOpenStores resolves cfg.Database.Mode into a concrete sessions.Store +
// sessions.MessageLog pair, exiting the process on a misconfigured
// persistent backend (a bad DSN/path is an operator error worth failing
// loudly on, unlike a transient worker-connection failure above).
func mustOpenStores(cfg *config.Config) (sessions.Store, sessions.MessageLog, func()) {
	switch cfg.Database.Mode {
	case "postgres":
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres store", "error", err)
			os.Exit(1)
		}
		if err := pg.Migrate(cfg.Database.PostgresDSN, "migrations"); err != nil {
			slog.Error("failed to run postgres migrations", "error", err)
			os.Exit(1)
		}
		store := pg.NewStore(db)
		return store, store, func() { closeDB(db) }

	case "sqlite":
		path := cfg.Database.SQLitePath
		if path == "" {
			path = config.ExpandHome("~/.ag3nt/gateway.db")
		}
		store, err := sqlite.Open(path)
		if err != nil {
			slog.Error("failed to open sqlite store", "error", err)
			os.Exit(1)
		}
		return store, store, func() { store.Close() }

	default:
		return sessions.NewMemoryStore(), sessions.NewMemoryMessageLog(), nil
	}
}

func closeDB(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("error closing postgres connection", "error", err)
	}
}
