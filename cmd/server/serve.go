package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vanish.share/config"
	"vanish.share/internal/api"
	"vanish.share/internal/bot"
	"vanish.share/internal/delivery"
	"vanish.share/internal/gc"
	"vanish.share/internal/intake"
	"vanish.share/internal/logging"
	"vanish.share/internal/messages"
	"vanish.share/internal/metrics"
	"vanish.share/internal/models"
	"vanish.share/internal/persistence"
	"vanish.share/internal/store"
	"vanish.share/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP hooks and background workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (JWT_SECRET) is required to serve")
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	texts := messages.New(cfg.Links.Locale)
	if !messages.Supported(cfg.Links.Locale) {
		logger.Warn("locale not supported, falling back", zap.String("locale", cfg.Links.Locale), zap.Stringer("using", texts.Language()))
	}
	registry := store.NewMemoryStore(store.WithTokenBytes(cfg.Links.TokenLength))

	var sink transport.Sink
	if cfg.Transport.GatewayURL != "" {
		sink = transport.NewGateway(cfg.Transport.GatewayURL, cfg.Transport.GatewayToken, cfg.Transport.Timeout)
	} else {
		logger.Warn("no gateway_url configured, outbound messages stay in memory")
		sink = transport.NewMemory(transport.WithHistory(cfg.Transport.MemoryHistory))
	}

	var background sync.WaitGroup
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	if backend != nil {
		defer backend.Close()
		codec, err := persistence.NewCodec(cfg.Persistence.Codec, cfg.Persistence.Compression)
		if err != nil {
			return err
		}
		snapshots := persistence.NewSnapshotter(registry, backend, codec, persistence.SnapshotterConfig{
			Interval: cfg.Persistence.Interval,
			Metrics:  m,
			Logger:   logger.Named("persistence"),
		})
		if _, err := snapshots.Restore(ctx); err != nil {
			return fmt.Errorf("restore registry: %w", err)
		}
		background.Add(1)
		go func() {
			defer background.Done()
			snapshots.Run(bgCtx)
		}()
	}

	scheduler := delivery.NewScheduler(sink, texts,
		delivery.WithMetrics(m),
		delivery.WithLogger(logger.Named("delivery")),
	)
	defer scheduler.Close()

	var destructor delivery.Destructor = scheduler
	if cfg.Delivery.Scheduler == "asynq" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Delivery.Redis.Addr,
			Password: cfg.Delivery.Redis.Password,
			DB:       cfg.Delivery.Redis.DB,
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		destructor = delivery.NewQueueDestructor(client, cfg.Delivery.Queue)

		worker := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: cfg.Delivery.Concurrency,
			Queues:      map[string]int{cfg.Delivery.Queue: 1},
		})
		processor := delivery.NewProcessor(sink, texts, m, logger.Named("delivery"))
		if err := worker.Start(processor.Handler()); err != nil {
			return fmt.Errorf("start delivery worker: %w", err)
		}
		defer worker.Shutdown()
	}

	sessions := intake.NewManager(registry, sink, texts, intake.Config{
		LinkFormat: cfg.Links.LinkFormat,
		Metrics:    m,
		Logger:     logger.Named("intake"),
	})

	admins := make([]models.PrincipalID, 0, len(cfg.Links.Admins))
	for _, id := range cfg.Links.Admins {
		admins = append(admins, models.PrincipalID(id))
	}
	b := bot.New(registry, sessions, scheduler, destructor, sink, texts, bot.Config{
		Admins:               admins,
		ForwardMediaToAdmins: cfg.Links.ForwardMediaToAdmins,
		Metrics:              m,
		Logger:               logger.Named("bot"),
	})

	collector := gc.NewCollector(registry, cfg.GC.Interval, nil, m, logger.Named("gc"))
	background.Add(1)
	go func() {
		defer background.Done()
		collector.Run(bgCtx)
	}()

	router := api.SetupRouter(api.Deps{
		Bot:       b,
		Links:     registry,
		Collector: collector,
		Auth:      api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, nil),
		Metrics:   m,
		Logger:    logger.Named("api"),
	}, cfg)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("persistence", cfg.Persistence.Backend),
		zap.String("scheduler", cfg.Delivery.Scheduler),
		zap.Int("admins", len(admins)),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	cancelBackground()
	background.Wait()
	return nil
}

// openBackend returns nil when persistence is disabled.
func openBackend(ctx context.Context, cfg *config.Config) (persistence.Backend, error) {
	p := cfg.Persistence
	switch p.Backend {
	case "file":
		return persistence.NewFileBackend(p.Path)
	case "redis":
		b, err := persistence.NewRedisBackend(&redis.Options{
			Addr:     p.Redis.Addr,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
		}, p.Redis.Key)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return b, nil
	case "s3":
		b, err := persistence.NewS3Backend(persistence.S3Config{
			Endpoint:  p.S3.Endpoint,
			AccessKey: p.S3.AccessKey,
			SecretKey: p.S3.SecretKey,
			UseSSL:    p.S3.UseSSL,
			Region:    p.S3.Region,
			Bucket:    p.S3.Bucket,
			Object:    p.S3.Object,
		})
		if err != nil {
			return nil, err
		}
		if err := b.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return b, nil
	case "postgres":
		pool, err := persistence.Connect(ctx, p.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		b := persistence.NewPostgresBackend(pool, p.Postgres.Name)
		if err := b.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		return b, nil
	}
	return nil, nil
}
