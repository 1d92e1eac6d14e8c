package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/a2a"
	gwclient "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/gateway"
	cfhttp "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/http"
	cfnats "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/nats"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/natskv"
	cfotel "github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/otel"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/ristretto"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/simulator"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/tiered"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/adapter/ws"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/config"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/domain/capability"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/logger"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/middleware"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/cache"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/port/gateway"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/resilience"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/secrets"
	"github.com/Jonathan7758/linkc-platform-sub000/internal/service"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the Gateway and serve inbound events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, closer := logger.New(cfg.Logging)
	defer closer.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"system_id", cfg.System.ID,
		"port", cfg.Server.Port,
		"gateway", cfg.Gateway.URL,
		"agents", len(cfg.Agents),
		"nats", cfg.NATS.URL != "",
	)

	// --- Telemetry ---
	shutdownOtel, err := cfotel.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			log.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Gateway link ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	breaker.OnStateChange(func(from, to resilience.State) {
		log.Warn("gateway breaker state changed", "from", from.String(), "to", to.String())
	})
	client := gwclient.NewClient(cfg.Gateway, gateway.SystemRegistration{
		SystemID:    cfg.System.ID,
		SystemType:  cfg.System.Type,
		DisplayName: cfg.System.DisplayName,
		Categories:  cfg.System.Categories,
	}, log)
	client.SetBreaker(breaker)

	// --- Services ---
	registry := service.NewRegistryService(log)
	publisher := service.NewEventPublisher(cfg.System.ID, client, cfg.Publisher, log)
	fleet := service.NewFleetService(cfg.System, registry, publisher, client, log)
	if err := fleet.LoadCatalog(capability.All()); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	for _, a := range cfg.Agents {
		if _, err := fleet.AddAgent(a.ID, a.Type, a.Capabilities, simulator.New(a.Steps, a.StepDuration, log)); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
	}
	fleet.SetMetrics(metrics)

	hub := ws.NewHub(log)
	hub.SetSnapshot(func() any { return registry.Agents() })
	fleet.SetBroadcaster(hub)

	// --- Inbound dedup and NATS ---
	l1, err := ristretto.New(cfg.Dedup.MaxCostBytes)
	if err != nil {
		return fmt.Errorf("dedup cache: %w", err)
	}
	defer l1.Close()
	var results cache.Cache = l1

	var queue *cfnats.Queue
	if cfg.NATS.URL != "" {
		queue, err = cfnats.Connect(cfg.NATS.URL, cfg.NATS.Group, log)
		if err != nil {
			return err
		}
		defer func() { _ = queue.Close() }()

		if cfg.NATS.DedupBucket != "" {
			kv, err := queue.KeyValue(ctx, cfg.NATS.DedupBucket, cfg.Dedup.TTL)
			if err != nil {
				return err
			}
			results = tiered.New(l1, natskv.New(kv), cfg.Dedup.TTL, log)
			log.Info("shared dedup enabled", "bucket", cfg.NATS.DedupBucket)
		}
	}
	fleet.Dispatcher().SetResultCache(results, cfg.Dedup.TTL)

	// --- HTTP ---
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(cfhttp.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfotel.HTTPMiddleware(cfg.Telemetry.ServiceName))

	r.Method(http.MethodGet, "/ws", hub)
	a2a.NewHandler(cfg.System, cfg.Server.BaseURL, cfotel.Version(), registry).MountRoutes(r)

	vault, err := secrets.NewVault(secrets.Chain(
		secrets.Static(map[string]string{secrets.KeyInboundToken: cfg.Gateway.InboundToken}),
		secrets.EnvLoader(map[string]string{secrets.KeyInboundToken: "FLEET_INBOUND_TOKEN"}),
		secrets.FileLoader(map[string]string{secrets.KeyInboundToken: cfg.Gateway.InboundTokenFile}),
	))
	if err != nil {
		return err
	}
	go reloadOnHangup(ctx, vault, log)

	opts := cfhttp.RouteOptions{InboundToken: vault.Getter(secrets.KeyInboundToken), Timeout: 30 * time.Second}
	if cfg.Server.InboundRPS > 0 {
		opts.Limiter = middleware.NewRateLimiter(cfg.Server.InboundRPS, cfg.Server.InboundBurst)
		opts.Limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
	}
	cfhttp.MountRoutes(r, &cfhttp.Handlers{Fleet: fleet}, opts)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Run ---
	if err := fleet.Start(ctx); err != nil {
		return fmt.Errorf("fleet start: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if queue != nil {
		unsubscribe, err := queue.Subscribe(gctx, cfg.NATS.Subject, fleet.QueueHandler())
		if err != nil {
			fleet.Stop(context.Background())
			return err
		}
		defer unsubscribe()
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		hub.Close()
		err := srv.Shutdown(sctx)
		if queue != nil {
			if derr := queue.Drain(); derr != nil {
				log.Warn("nats drain", "error", derr)
			}
		}
		fleet.Stop(sctx)
		return err
	})

	return g.Wait()
}

// reloadOnHangup re-reads rotated secrets on SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				log.Error("secret reload failed", "error", err)
				continue
			}
			log.Info("secrets reloaded", "inbound_token", vault.Redacted(secrets.KeyInboundToken))
		}
	}
}
