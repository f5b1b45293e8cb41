package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/call-signaling/internal/api/http"
	"github.com/spec-kit/call-signaling/internal/api/http/handlers"
	"github.com/spec-kit/call-signaling/internal/auth"
	"github.com/spec-kit/call-signaling/internal/config"
	"github.com/spec-kit/call-signaling/internal/events"
	"github.com/spec-kit/call-signaling/internal/observability"
	"github.com/spec-kit/call-signaling/internal/persistence"
	"github.com/spec-kit/call-signaling/internal/repository"
	"github.com/spec-kit/call-signaling/internal/service"
	"github.com/spec-kit/call-signaling/internal/signaling"
	"github.com/spec-kit/call-signaling/internal/transport/ws"
	"github.com/spec-kit/call-signaling/internal/worker"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	metrics, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect postgres", zap.Error(err))
		return err
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if _, err := persistence.RunMigrations(ctx, pool, cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Error("failed to run migrations", zap.Error(err))
			return err
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var callRepo repository.VideoCallRepository
	if pool != nil {
		callRepo = repository.NewVideoCallRepository(pool)
	}

	dispatcher := events.NewInMemoryDispatcher(logger)
	var publisher service.Publisher
	if redis.Client != nil {
		publisher = redis
	}
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, publisher, logger, cfg.Notification))

	coordinator := signaling.NewCoordinator(
		signaling.NewRegistry(signaling.WithImplicitRooms(cfg.Signaling.ImplicitRooms)),
		service.NewCallLifecycle(callRepo, dispatcher, logger),
		signaling.CoordinatorConfig{
			ReconnectGrace:     cfg.Signaling.ReconnectGrace,
			CallbackTimeout:    cfg.Signaling.CallbackTimeout,
			CallbackRetryDelay: cfg.Signaling.CallbackRetryDelay,
		},
		logger, metrics,
	)
	router := signaling.NewRouter(coordinator, logger, metrics)
	gateway := ws.NewGateway(router, ws.Config{
		MaxMessageBytes: cfg.Signaling.MaxMessageBytes,
		SendBuffer:      cfg.Signaling.SendBuffer,
		PingInterval:    cfg.Signaling.PingInterval,
		PongWait:        cfg.Signaling.PongWait,
		WriteTimeout:    cfg.Signaling.WriteTimeout,
	}, splitOrigins(cfg.App.AllowedOrigins), logger, metrics)

	callService := service.NewCallService(service.CallDependencies{
		Rooms:      coordinator,
		CallRepo:   callRepo,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	var sweeperDone <-chan struct{}
	if callRepo != nil {
		sweeperDone = worker.StartCallSweeper(ctx, callService, cfg.Signaling.StaleCallSweep, cfg.Signaling.StaleCallAge, logger)
	}

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTLMinutes)
	if cfg.Auth.TicketAPIKeyHash == "" {
		logger.Warn("AUTH_TICKET_API_KEY_HASH not provided; /internal routes will reject every request")
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout(), cfg.App.AllowedOrigins)
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readinessDeps(cfg, pg, redis)),
		Rooms:          handlers.NewRoomsHandler(callService),
		RTC:            handlers.NewRTCHandler(service.NewICEService(cfg.RTC)),
		Gateway:        gateway,
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		ServiceKeyHash: cfg.Auth.TicketAPIKeyHash,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Error("fiber listen", zap.Error(err))
			cancel()
		}
	}()

	waitForShutdown(ctx, logger)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if sweeperDone != nil {
		<-sweeperDone
	}
	if err := coordinator.Wait(shutdownCtx); err != nil {
		logger.Warn("lifecycle callbacks still pending at shutdown", zap.Error(err))
	}
	return nil
}

// readinessDeps lists only the backends that were configured.
func readinessDeps(cfg *config.Config, pg *persistence.Postgres, redis *persistence.Redis) map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{}
	if cfg.Postgres.DSN != "" {
		deps["postgres"] = pg
	}
	if cfg.Redis.Addr != "" {
		deps["redis"] = redis
	}
	return deps
}

func splitOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}

func waitForShutdown(ctx context.Context, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("shutting down", zap.Error(ctx.Err()))
	}
}
