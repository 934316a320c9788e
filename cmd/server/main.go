package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/config"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/email"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/ffmpeg"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/httpapi"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	miniostorage "github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/minio"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/postgres"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/pubsub"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/rabbitmq"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/tracing"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/workerpool"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/usecase"
	"github.com/DevCamp-TeamSparta/QAing-BE/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	fatalOnErr(err, "load config")

	log, err := logger.New(cfg.LogLevel)
	fatalOnErr(err, "init logger")
	defer log.Sync()

	log.Info("starting qaing-api", zap.String("dispatch_mode", cfg.DispatchMode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, tracing.TracerConfig{
		ServiceName: "qaing-api",
		Endpoint:    cfg.JaegerEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Warn("tracing init failed, continuing without tracing", zap.Error(err))
	} else {
		defer tp.Shutdown(ctx)
	}

	// Database
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	fatalOnErr(err, "connect to postgres")
	defer pool.Close()

	fatalOnErr(postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir), "run migrations")

	// MinIO
	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:        cfg.MinIOEndpoint,
		AccessKey:       cfg.MinIOAccessKey,
		SecretKey:       cfg.MinIOSecretKey,
		UseSSL:          cfg.MinIOUseSSL,
		ArtifactBucket:  cfg.MinIOArtifactBucket,
		RecordingBucket: cfg.MinIORecordingBucket,
		PublicBaseURL:   cfg.PublicBaseURL,
	})
	fatalOnErr(err, "create minio storage")
	fatalOnErr(storage.EnsureBuckets(ctx), "ensure minio buckets")

	repo := postgres.NewFolderRepository(pool, cfg.RunStaleAfter())
	registry := pubsub.NewRegistry(log)
	folders := usecase.NewFolderUseCase(repo, cfg.FolderNameLocation(), log)

	topology := rabbitmq.Topology{
		Exchange:    cfg.RabbitMQExchange,
		Queue:       cfg.RabbitMQExtractionQueue,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
	}

	// RabbitMQ is required in queue mode and optional inline, where it only
	// carries status events.
	var pub *rabbitmq.Publisher
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	if err != nil {
		if cfg.DispatchMode == config.DispatchQueue {
			fatalOnErr(err, "connect to rabbitmq")
		}
		log.Warn("rabbitmq unavailable, status events will not be published", zap.Error(err))
	} else {
		defer rmqConn.Close()
		pub, err = rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
		fatalOnErr(err, "create rabbitmq publisher")
		defer pub.Close()
		fatalOnErr(pub.Declare(topology), "declare rabbitmq topology")
	}

	var dispatcher port.RunDispatcher
	switch cfg.DispatchMode {
	case config.DispatchQueue:
		dispatcher = rabbitmq.NewExtractionDispatcher(pub, storage)

		// Completions happen in the worker service; relay them to local subscribers.
		sub, err := rabbitmq.NewStatusSubscriber(rmqConn, cfg.RabbitMQExchange, func(event entity.FolderEvent) {
			if event.Status == entity.FolderStatusFailed && !cfg.PushFailureEvents {
				return
			}
			registry.Publish(event.FolderID, event)
		}, log)
		fatalOnErr(err, "create status subscriber")
		defer sub.Close()
		go func() {
			if err := sub.Start(ctx); err != nil {
				log.Error("status subscriber stopped", zap.Error(err))
			}
		}()

	default:
		var events port.EventPublisher
		if pub != nil {
			events = rabbitmq.NewStatusPublisher(pub)
		}
		tracker := usecase.NewFolderTracker(repo, registry, events, log)
		uc := usecase.NewExtractArtifactsUseCase(
			repo, storage,
			ffmpeg.NewTranscoder(ffmpeg.TranscoderConfig{
				FFmpegBinary:  cfg.FFmpegBinary,
				FFprobeBinary: cfg.FFprobeBinary,
				Timeout:       cfg.FFmpegTimeout(),
			}, log),
			tracker,
			email.NewFailureNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log),
			log,
			usecase.ExtractArtifactsConfig{
				TempDir:           cfg.TempDir,
				ClipMaxDuration:   cfg.ClipMaxDuration(),
				PushFailureEvents: cfg.PushFailureEvents,
			},
		)
		workers := workerpool.NewDispatcher(ctx, cfg.WorkerCount, cfg.WorkerBacklog, uc.Run, log)
		defer workers.Close()
		dispatcher = workers
	}

	handler := httpapi.NewHandler(folders, dispatcher, registry, log, httpapi.HandlerConfig{
		MaxRecordingBytes: cfg.MaxRecordingBytes,
	})
	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpapi.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return streamCtx },
	}

	checks := []metrics.HealthCheck{
		{Name: "postgres", Check: pool.Ping},
		{Name: "minio", Check: storage.Ping},
	}
	if rmqConn != nil {
		checks = append(checks, metrics.HealthCheck{Name: "rabbitmq", Check: amqpCheck(rmqConn)})
	}
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log, checks...)

	go func() {
		log.Info("http server listening", zap.Int("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Open event streams hold their requests until released.
	stopStreams()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	metricsSrv.Shutdown(shutdownCtx)

	log.Info("qaing-api stopped")
}

func amqpCheck(conn *amqp.Connection) func(context.Context) error {
	return func(context.Context) error {
		if conn.IsClosed() {
			return errors.New("connection closed")
		}
		return nil
	}
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
