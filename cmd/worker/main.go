package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/config"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/email"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/ffmpeg"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	miniostorage "github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/minio"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/postgres"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/pubsub"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/rabbitmq"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/tracing"
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

	log.Info("starting qaing-extraction-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing (non-fatal if the collector is unavailable)
	tp, err := tracing.InitTracer(ctx, tracing.TracerConfig{
		ServiceName: "qaing-extraction-worker",
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

	// Migrations
	err = postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		log.Warn("migration warning", zap.Error(err))
	}

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

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.RabbitMQURL)
	fatalOnErr(err, "connect to rabbitmq for publisher")
	defer rmqConn.Close()

	pub, err := rabbitmq.NewPublisher(rmqConn, cfg.RabbitMQExchange)
	fatalOnErr(err, "create rabbitmq publisher")

	statusPub := rabbitmq.NewStatusPublisher(pub)
	dlqPub := rabbitmq.NewDLQPublisher(pub, cfg.RabbitMQDLQ)

	// Infra adapters. Subscribers live in the API process; the local registry
	// only keeps the tracker's contract and never has listeners.
	repo := postgres.NewFolderRepository(pool, cfg.RunStaleAfter())
	transcoder := ffmpeg.NewTranscoder(ffmpeg.TranscoderConfig{
		FFmpegBinary:  cfg.FFmpegBinary,
		FFprobeBinary: cfg.FFprobeBinary,
		Timeout:       cfg.FFmpegTimeout(),
	}, log)
	notifier := email.NewFailureNotifier(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, cfg.NotificationTo, log)
	tracker := usecase.NewFolderTracker(repo, pubsub.NewRegistry(log), statusPub, log)

	// Use cases
	extract := usecase.NewExtractArtifactsUseCase(
		repo, storage, transcoder, tracker, notifier,
		log,
		usecase.ExtractArtifactsConfig{
			TempDir:           cfg.TempDir,
			ClipMaxDuration:   cfg.ClipMaxDuration(),
			PushFailureEvents: cfg.PushFailureEvents,
		},
	)
	uc := usecase.NewRunQueuedExtractionUseCase(storage, extract, dlqPub, log)

	// Metrics server
	metricsSrv := metrics.StartMetricsServer(ctx, cfg.MetricsPort, log,
		metrics.HealthCheck{Name: "postgres", Check: pool.Ping},
		metrics.HealthCheck{Name: "minio", Check: storage.Ping},
		metrics.HealthCheck{Name: "rabbitmq", Check: func(context.Context) error {
			if rmqConn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}},
	)

	// Consumer (worker pool)
	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         cfg.RabbitMQURL,
		Queue:       cfg.RabbitMQExtractionQueue,
		Exchange:    cfg.RabbitMQExchange,
		DLQ:         cfg.RabbitMQDLQ,
		StatusQueue: cfg.RabbitMQStatusQueue,
		Prefetch:    cfg.RabbitMQPrefetch,
		WorkerCount: cfg.WorkerCount,
		BaseDelayMs: cfg.RetryBaseDelayMs,
		MaxAttempts: cfg.WorkerMaxAttempts,
	}, uc.Execute, log)
	fatalOnErr(err, "create consumer")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	log.Info("qaing-extraction-worker started, consuming messages")

	if err := consumer.Start(ctx); err != nil {
		log.Error("consumer error", zap.Error(err))
	}

	// Shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	log.Info("qaing-extraction-worker stopped")
}

func fatalOnErr(err error, msg string) {
	if err != nil {
		panic(msg + ": " + err.Error())
	}
}
