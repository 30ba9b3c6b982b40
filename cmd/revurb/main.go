package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/revurb-io/revurb/internal/api"
	"github.com/revurb-io/revurb/internal/app"
	"github.com/revurb-io/revurb/internal/config"
	"github.com/revurb-io/revurb/internal/dispatch"
	"github.com/revurb-io/revurb/internal/gateway"
	"github.com/revurb-io/revurb/internal/httputil"
	"github.com/revurb-io/revurb/internal/metrics"
	"github.com/revurb-io/revurb/internal/postgres"
	"github.com/revurb-io/revurb/internal/pubsub"
)

const busDialTimeout = 5 * time.Second

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().Str("env", cfg.ServerEnv).Bool("scaling", cfg.ScalingEnabled).Msg("Starting Revurb")

	ctx := context.Background()

	// Application registry: Postgres when configured, inline otherwise.
	registry, cleanup, err := buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	collectors := metrics.NewCollectors(prometheus.DefaultRegisterer)
	hub := gateway.NewHub(collectors, log.Logger)

	// Scaling bus: two logical connections, publisher and subscriber.
	var bus pubsub.Bus
	if cfg.ScalingEnabled {
		pub, err := pubsub.Connect(ctx, cfg.BusURL, busDialTimeout)
		if err != nil {
			return fmt.Errorf("connect bus publisher: %w", err)
		}
		sub, err := pubsub.Connect(ctx, cfg.BusURL, busDialTimeout)
		if err != nil {
			_ = pub.Close()
			return fmt.Errorf("connect bus subscriber: %w", err)
		}
		redisBus := pubsub.NewRedisBus(pub, sub, log.Logger)
		defer func() { _ = redisBus.Close() }()
		bus = redisBus
		log.Info().Str("channel", cfg.BusChannel).Msg("Scaling bus connected")
	}

	nodeID := uuid.NewString()
	aggregator := metrics.NewAggregator(metrics.NewLocal(hub), bus, cfg.BusChannel, log.Logger)
	dispatcher := dispatch.NewDispatcher(nodeID, hub, hub, bus, cfg.BusChannel, collectors, log.Logger)
	hub.UseDispatcher(dispatcher)

	jobCtx, jobCancel := context.WithCancel(ctx)
	defer jobCancel()

	if cfg.ScalingEnabled {
		bridge := dispatch.NewBridge(nodeID, bus, cfg.BusChannel, dispatcher, aggregator, collectors, log.Logger)
		go func() {
			for {
				if err := bridge.Run(jobCtx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					log.Warn().Err(err).Msg("Bus subscription lost, reconnecting")
					time.Sleep(time.Second)
					continue
				}
				return
			}
		}()
	}

	janitor := gateway.NewJanitor(hub, sweepInterval(ctx, cfg, registry), log.Logger)
	go janitor.Run(jobCtx)

	fiberApp := buildServer(cfg, registry, hub, dispatcher, aggregator)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		jobCancel()
		hub.Shutdown(cfg.DrainInterval)
		_ = fiberApp.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)
	log.Info().Str("addr", addr).Msg("Server listening")

	listenCfg := fiber.ListenConfig{DisableStartupMessage: true}
	if cfg.TLSCertFile != "" {
		listenCfg.CertFile = cfg.TLSCertFile
		listenCfg.CertKeyFile = cfg.TLSKeyFile
	}
	if err := fiberApp.Listen(addr, listenCfg); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildRegistry materialises the application source. The cleanup closes the
// database pool when one was opened.
func buildRegistry(ctx context.Context, cfg *config.Config) (app.Registry, func(), error) {
	if !cfg.UsesDatabaseRegistry() {
		apps := make([]*app.Application, len(cfg.Apps))
		for i := range cfg.Apps {
			apps[i] = &cfg.Apps[i]
		}
		registry, err := app.NewStaticRegistry(apps)
		if err != nil {
			return nil, nil, fmt.Errorf("build registry: %w", err)
		}
		return registry, func() {}, nil
	}

	db, err := postgres.Connect(ctx, cfg.AppsDatabaseURL, cfg.DatabaseMaxConn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := postgres.Migrate(cfg.AppsDatabaseURL); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("Application registry backed by Postgres")
	return app.NewPGRegistry(db, log.Logger), db.Close, nil
}

// sweepInterval picks the janitor cadence: the configured override, or the
// minimum ping interval across applications.
func sweepInterval(ctx context.Context, cfg *config.Config, registry app.Registry) time.Duration {
	if cfg.SweepInterval > 0 {
		return cfg.SweepInterval
	}

	interval := 60 * time.Second
	apps, err := registry.All(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not list applications for sweep interval, using default")
		return interval
	}
	for _, a := range apps {
		if d := time.Duration(a.PingInterval) * time.Second; d > 0 && d < interval {
			interval = d
		}
	}
	return interval
}

// buildServer assembles the fiber app: WebSocket endpoint, control API with
// signature auth, liveness probe, and Prometheus exposition.
func buildServer(cfg *config.Config, registry app.Registry, hub *gateway.Hub, dispatcher *dispatch.Dispatcher, aggregator *metrics.Aggregator) *fiber.App {
	fiberApp := fiber.New(fiber.Config{
		AppName: "revurb",
	})

	fiberApp.Use(requestid.New())
	fiberApp.Use(httputil.RequestLogger(log.Logger))

	root := fiberApp.Group(cfg.PathPrefix)

	root.Get("/up", api.Up)
	root.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ws := api.NewWebSocketHandler(registry, hub, log.Logger)
	root.Get("/app/:key", ws.Upgrade)

	channels := api.NewChannelsHandler(aggregator, log.Logger)
	events := api.NewEventsHandler(dispatcher, log.Logger)
	users := api.NewUsersHandler(dispatcher, log.Logger)

	apps := root.Group("/apps/:app_id", api.Signature(registry, log.Logger))
	apps.Get("/channels", channels.List)
	apps.Get("/channels/:channel", channels.Detail)
	apps.Get("/channels/:channel/users", channels.Users)
	apps.Get("/connections", channels.Connections)
	apps.Post("/events", events.Trigger)
	apps.Post("/batch_events", events.TriggerBatch)
	apps.Delete("/users/:user_id/terminate_connections", users.TerminateConnections)

	return fiberApp
}
