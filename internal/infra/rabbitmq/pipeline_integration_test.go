package rabbitmq_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/email"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/ffmpeg"
	miniostorage "github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/minio"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/postgres"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/pubsub"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/rabbitmq"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/usecase"
	"github.com/DevCamp-TeamSparta/QAing-BE/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcrabbitmq "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"go.uber.org/zap"
)

const (
	testExchange  = "qaing.video"
	testQueue     = "video.extraction"
	testDLQ       = "video.extraction.dlq"
	testStatusQ   = "folder.status"
	artifactsBkt  = "artifacts"
	recordingsBkt = "recordings"
)

type pipeline struct {
	ctx      context.Context
	pool     *pgxpool.Pool
	storage  *miniostorage.Storage
	minio    *miniogo.Client
	rmqURL   string
	rmqConn  *amqp.Connection
	repo     *postgres.FolderRepository
	log      *zap.Logger
	topology rabbitmq.Topology
}

func startPipeline(t *testing.T) *pipeline {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	t.Cleanup(cancel)

	// Start PostgreSQL container
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:15-alpine",
		tcpostgres.WithDatabase("qaing"),
		tcpostgres.WithUsername("qaing"),
		tcpostgres.WithPassword("qaing"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(context.Background()) })

	pgConnStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(pgConnStr, "../../../migrations"))

	// Start RabbitMQ container
	rmqContainer, err := tcrabbitmq.Run(ctx, "rabbitmq:3.12-management-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { rmqContainer.Terminate(context.Background()) })

	rmqURL, err := rmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// Start MinIO container
	minioContainer, err := tcminio.Run(ctx,
		"minio/minio:latest",
		tcminio.WithUsername("minioadmin"),
		tcminio.WithPassword("minioadmin"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { minioContainer.Terminate(context.Background()) })

	minioEndpoint, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err)

	storage, err := miniostorage.NewStorage(miniostorage.StorageConfig{
		Endpoint:        minioEndpoint,
		AccessKey:       "minioadmin",
		SecretKey:       "minioadmin",
		ArtifactBucket:  artifactsBkt,
		RecordingBucket: recordingsBkt,
		PublicBaseURL:   "https://static.test",
	})
	require.NoError(t, err)
	require.NoError(t, storage.EnsureBuckets(ctx))

	minioClient, err := miniogo.New(minioEndpoint, &miniogo.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, pgConnStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	rmqConn, err := amqp.Dial(rmqURL)
	require.NoError(t, err)
	t.Cleanup(func() { rmqConn.Close() })

	log, err := logger.New("debug")
	require.NoError(t, err)

	return &pipeline{
		ctx:     ctx,
		pool:    pool,
		storage: storage,
		minio:   minioClient,
		rmqURL:  rmqURL,
		rmqConn: rmqConn,
		repo:    postgres.NewFolderRepository(pool, time.Hour),
		log:     log,
		topology: rabbitmq.Topology{
			Exchange:    testExchange,
			Queue:       testQueue,
			DLQ:         testDLQ,
			StatusQueue: testStatusQ,
		},
	}
}

// startWorker runs the extraction worker side against the pipeline.
func (p *pipeline) startWorker(t *testing.T) {
	t.Helper()

	pub, err := rabbitmq.NewPublisher(p.rmqConn, testExchange)
	require.NoError(t, err)

	tracker := usecase.NewFolderTracker(p.repo, pubsub.NewRegistry(p.log), rabbitmq.NewStatusPublisher(pub), p.log)
	extract := usecase.NewExtractArtifactsUseCase(
		p.repo, p.storage,
		ffmpeg.NewTranscoder(ffmpeg.TranscoderConfig{Timeout: time.Minute}, p.log),
		tracker,
		email.NewFailureNotifier("", 0, "", "", p.log),
		p.log,
		usecase.ExtractArtifactsConfig{TempDir: t.TempDir(), ClipMaxDuration: time.Second},
	)
	uc := usecase.NewRunQueuedExtractionUseCase(p.storage, extract, rabbitmq.NewDLQPublisher(pub, testDLQ), p.log)

	consumer, err := rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
		URL:         p.rmqURL,
		Queue:       testQueue,
		Exchange:    testExchange,
		DLQ:         testDLQ,
		StatusQueue: testStatusQ,
		Prefetch:    1,
		WorkerCount: 1,
		BaseDelayMs: 100,
		MaxAttempts: 3,
	}, uc.Execute, p.log)
	require.NoError(t, err)
	t.Cleanup(func() { consumer.Close() })

	consumerCtx, consumerCancel := context.WithCancel(p.ctx)
	t.Cleanup(consumerCancel)
	go consumer.Start(consumerCtx)
}

func testRecording(t *testing.T) []byte {
	t.Helper()
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	path := filepath.Join(t.TempDir(), "recording.mp4")
	out, err := exec.Command(bin, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=3:size=320x240:rate=10",
		"-pix_fmt", "yuv420p", path).CombinedOutput()
	require.NoError(t, err, string(out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func countObjects(t *testing.T, p *pipeline, bucket string) int {
	t.Helper()
	n := 0
	for obj := range p.minio.ListObjects(p.ctx, bucket, miniogo.ListObjectsOptions{Recursive: true}) {
		require.NoError(t, obj.Err)
		n++
	}
	return n
}

func TestQueuedExtractionEndToEnd(t *testing.T) {
	p := startPipeline(t)
	recording := testRecording(t)
	p.startWorker(t)

	// API side: queue dispatcher plus the status relay into local subscribers.
	pub, err := rabbitmq.NewPublisher(p.rmqConn, testExchange)
	require.NoError(t, err)
	require.NoError(t, pub.Declare(p.topology))
	dispatcher := rabbitmq.NewExtractionDispatcher(pub, p.storage)

	registry := pubsub.NewRegistry(p.log)
	relay, err := rabbitmq.NewStatusSubscriber(p.rmqConn, testExchange, func(e entity.FolderEvent) {
		registry.Publish(e.FolderID, e)
	}, p.log)
	require.NoError(t, err)
	t.Cleanup(func() { relay.Close() })
	go relay.Start(p.ctx)

	folder, err := usecase.NewFolderUseCase(p.repo, time.UTC, p.log).Open(p.ctx, "user-1")
	require.NoError(t, err)

	events, unsubscribe := registry.Subscribe(folder.ID)
	defer unsubscribe()

	err = dispatcher.Dispatch(p.ctx, entity.ExtractionRequest{
		FolderID:     folder.ID,
		UserID:       "user-1",
		Timestamps:   []float64{0.5, 1.5},
		Recording:    bytes.NewReader(recording),
		RecordingExt: ".mp4",
	}, int64(len(recording)), "video/mp4")
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, entity.FolderStatusCompleted, event.Status, event.ErrorMessage)
		assert.Equal(t, 2, event.ItemCount)
	case <-time.After(2 * time.Minute):
		t.Fatal("timeout waiting for folder completion")
	}

	stored, err := p.repo.FindByID(p.ctx, folder.ID)
	require.NoError(t, err)
	assert.True(t, stored.Completed)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "https://static.test/"+entity.ArtifactKey(entity.ArtifactImage, folder.ID.String(), 1), stored.Items[0].ImageURL)

	assert.Equal(t, 4, countObjects(t, p, artifactsBkt))
	assert.Equal(t, 0, countObjects(t, p, recordingsBkt), "staged recording should be removed")
}

func TestQueuedExtractionMalformedMessage(t *testing.T) {
	p := startPipeline(t)
	p.startWorker(t)

	pubCh, err := p.rmqConn.Channel()
	require.NoError(t, err)
	err = pubCh.PublishWithContext(p.ctx,
		testExchange,
		rabbitmq.ExtractionRoutingKey,
		false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        []byte(`{invalid json`),
		},
	)
	require.NoError(t, err)
	pubCh.Close()

	dlqCh, err := p.rmqConn.Channel()
	require.NoError(t, err)
	defer dlqCh.Close()

	var dlqMsg amqp.Delivery
	require.Eventually(t, func() bool {
		msg, ok, err := dlqCh.Get(testDLQ, true)
		if err != nil || !ok {
			return false
		}
		dlqMsg = msg
		return true
	}, 30*time.Second, 200*time.Millisecond, "malformed message should be in DLQ")
	assert.Equal(t, `{invalid json`, string(dlqMsg.Body))
}
