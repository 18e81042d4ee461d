package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"live-academy/config"
	"live-academy/constant"
	jobHandler "live-academy/handler"
	"live-academy/pkg/events"
	"live-academy/pkg/lock"
	"live-academy/pkg/media"
	"live-academy/pkg/provider"
	"live-academy/pkg/rabbitmq"
	"live-academy/pkg/realtime"
	"live-academy/pkg/rtc"
	"live-academy/pkg/storage"
	"live-academy/repository"
	"live-academy/service"
)

const shutdownTimeout = 10 * time.Second

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := zerolog.Ctx(ctx)

	logger.Info().Str("env", cfg.App.Environment).Bool("isProduction", cfg.App.Environment == constant.EnvironmentProduction.String()).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	repo, err := repository.NewRepo(cfg.DB, cfg.DBDriver)
	if err != nil {
		logger.Error().Err(err).Msg("NewRepo")
		return
	}

	store := storage.NewMinio(cfg.Storage, cfg.MinIOBucket)
	if err := store.EnsureBucket(ctx); err != nil {
		logger.Error().Err(err).Str("bucket", cfg.MinIOBucket).Msg("EnsureBucket")
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		locker = lock.NewRedis(client, cfg.Redis.LockTTL)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis session locks")
	}

	var publisher service.EventPublisher = events.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	hub := realtime.NewHub()
	opts := service.Options{
		Repo:   repo,
		Locker: locker,
		Provider: provider.NewClient(provider.Config{
			BaseURL:        cfg.Provider.BaseURL,
			AppId:          cfg.Provider.AppId,
			CustomerKey:    cfg.Provider.CustomerKey,
			CustomerSecret: cfg.Provider.CustomerSecret,
			HTTPClient:     &http.Client{Timeout: cfg.Provider.RequestTimeout},
		}),
		Storage:     store,
		Media:       media.NewFFmpeg(),
		Events:      publisher,
		Broadcaster: hub,
		Recording:   cfg.Recording,
		Bucket:      cfg.MinIOBucket,
	}
	if cfg.RTC.Secret != "" {
		opts.Credentials = rtc.NewIssuer(cfg.RTC.AppId, cfg.RTC.Secret, cfg.RTC.TokenTTL)
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	switch {
	case errors.Is(err, config.ErrQueueDisabled):
		logger.Warn().Msg("rabbitmq disabled, notifications are dropped and finalization stays local")
	case err != nil:
		logger.Error().Err(err).Msg("NewRabbitMQConn")
	default:
		amqpPublisher, err := rabbitmq.NewPublisher(conn, cfg.Queue)
		if err != nil {
			logger.Error().Err(err).Msg("NewPublisher")
		} else {
			defer amqpPublisher.Close()
			opts.Notifier = amqpPublisher
			opts.Finalizer = amqpPublisher
		}
	}

	recordings := service.NewRecordingService(opts)
	sessions := service.NewLiveSessionService(opts, recordings)

	g, gctx := errgroup.WithContext(ctx)

	if conn != nil {
		finalizeConsumer := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.FinalizeTopology, cfg.Server.Workers, jobHandler.RecordingFinalizeHandler)
		deps := jobHandler.ServiceDependencies{RecordingService: recordings}
		g.Go(func() error {
			if err := finalizeConsumer.Consume(gctx, deps); err != nil && !errors.Is(err, context.Canceled) {
				zerolog.Ctx(gctx).Error().Err(err).Msg("Recording finalize consumer error")
			}
			return nil
		})
	}

	g.Go(func() error {
		recoverStuckRecordings(gctx, recordings, cfg.Recording.StuckAfter)
		return nil
	})

	handler := http.Server{
		Handler: NewRouter(Router{
			Sessions:   sessions,
			Recordings: recordings,
			Feed:       hub,
			Logger:     *logger,
		}),
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return handler.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	logger.Info().Msg("waiting for recording finalizations")
	recordings.Wait()
	logger.Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

// recoverStuckRecordings re-drives recordings left processing by a previous
// process, once at startup and then every interval.
func recoverStuckRecordings(ctx context.Context, recordings service.RecordingService, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := recordings.RecoverStuck(ctx, interval); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to recover stuck recordings")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
