package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/internal/core/services"
	httphandlers "fluxx/internal/handlers/http"
	"fluxx/internal/infrastructure/backup"
	"fluxx/internal/infrastructure/distributed"
	"fluxx/internal/infrastructure/middleware"
	"fluxx/internal/infrastructure/monitoring"
	"fluxx/internal/infrastructure/repositories"
	signalinfra "fluxx/internal/infrastructure/signal"
	pkgbackup "fluxx/pkg/backup"
	"fluxx/pkg/config"
	"fluxx/pkg/logger"
	"fluxx/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const healthCheckInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var adminToken bool

	flagSet := pflag.NewFlagSet("fluxx-signal", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to the YAML config file")
	flagSet.BoolVar(&adminToken, "issue-admin-token", false, "print a moderator token signed with the configured secret and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
	if adminToken {
		return printAdminToken(authService)
	}

	instanceID := uuid.New().String()[:8]

	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.ServiceName = "fluxx-signal"
	tcfg.InstanceID = instanceID
	tcfg.JaegerURL = cfg.Tracing.JaegerURL
	tcfg.Environment = cfg.Tracing.Environment
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tcfg)
	if err != nil {
		return err
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	defer func() {
		if err := repoFactory.Close(); err != nil {
			log.Errorw("Error closing repository factory", "error", err)
		}
	}()

	collector := monitoring.NewPrometheusCollector()
	repoFactory.ObserveBreakers(collector)

	queueRepo := repoFactory.CreateQueueRepository()
	banRepo := repoFactory.CreateBanRepository()
	roomRepo := repoFactory.CreateRoomRepository()
	reportRepo := repoFactory.CreateReportRepository()

	wsServer := signalinfra.NewWebSocketServer(signalinfra.ServerConfigFrom(cfg), log.Named("signal"))
	matchmaker := services.NewMatchmakingService(queueRepo, banRepo, roomRepo, wsServer, collector, log.Named("matchmaking"))
	wsServer.SetMatchmaker(matchmaker)
	if lock := repoFactory.CreatePairingLock(); lock != nil {
		matchmaker.SetLocker(lock)
	}

	var bus *distributed.SignalBus
	if client := repoFactory.RedisClient(); client != nil {
		bus = distributed.NewSignalBus(client, cfg.Redis.SignalChannel, instanceID, 2*cfg.Signal.PongTimeout, collector, log.Named("bus"))
		wsServer.SetRelay(bus)
		log.Infow("Cross-instance signaling enabled", "instance_id", instanceID, "channel", cfg.Redis.SignalChannel)
	}

	health := monitoring.NewHealthChecker()
	health.SetObserver(collector)
	health.AddMatchmakingCheck(queueRepo, roomRepo, healthCheckInterval, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, healthCheckInterval, 2*time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	health.StartBackgroundChecks(ctx)

	snapshotsDone := make(chan struct{})
	if snapshots, err := newBanSnapshots(cfg, repoFactory, banRepo, log); err != nil {
		return err
	} else if snapshots != nil {
		if n, err := snapshots.Restore(ctx); err != nil {
			log.Errorw("Failed to restore ban snapshot", "error", err)
		} else if n > 0 {
			log.Infow("Restored bans", "count", n)
		}
		go func() {
			defer close(snapshotsDone)
			snapshots.Run(ctx)
		}()
	} else {
		close(snapshotsDone)
	}

	if bus != nil {
		go func() {
			if err := bus.Run(ctx, wsServer); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Signal bus stopped", "error", err)
				stop()
			}
		}()
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewAuthHandler(authService, cfg.Auth.AccessTokenTTL).SetupRoutes(router)
	httphandlers.NewAdminHandler(authService, matchmaker, wsServer, log.Named("admin")).SetupRoutes(router)
	reports := services.NewReportService(roomRepo, reportRepo, collector, log.Named("reports"))
	httphandlers.NewReportHandler(authService, reports, log.Named("reports")).SetupRoutes(router)
	router.GET("/ws", middleware.AuthMiddleware(authService), wsServer.HandleWebSocket)

	startTime := time.Now()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
			"checks":      health.LastStatus().Checks,
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting Fluxx signaling server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down Fluxx signaling server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	wsServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	<-snapshotsDone
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("Error flushing traces", "error", err)
	}
	log.Info("Fluxx signaling server stopped")
	return nil
}

// newBanSnapshots returns nil when snapshots are disabled or bans already
// live in Redis.
func newBanSnapshots(cfg *config.Config, factory *repositories.RepositoryFactory, bans ports.BanRepository, log *zap.SugaredLogger) (*backup.BanSnapshots, error) {
	if !cfg.Backup.Enabled || factory.RedisClient() != nil {
		return nil, nil
	}
	store, ok := bans.(backup.BanStore)
	if !ok {
		log.Warn("Ban repository cannot be listed, snapshots disabled")
		return nil, nil
	}
	storage, err := pkgbackup.NewFileStorage(cfg.Backup.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup dir: %w", err)
	}
	return backup.NewBanSnapshots(storage, store, backup.Config{
		Interval: cfg.Backup.Interval,
		Keep:     cfg.Backup.Keep,
	}, log.Named("backup")), nil
}

func printAdminToken(auth services.AuthService) error {
	token, err := auth.GenerateToken(&domain.User{
		ID:          domain.UserID("admin-" + uuid.New().String()[:8]),
		DisplayName: "moderator",
		IsAdmin:     true,
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
