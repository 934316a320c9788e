package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultClipMaxDuration = 20 * time.Second

type ExtractArtifactsUseCase struct {
	repo        port.FolderRepository
	storage     port.ArtifactStorage
	transcoder  port.Transcoder
	tracker     *FolderTracker
	failures    port.FailureNotifier
	logger      *zap.Logger
	tempDir     string
	clipMax     time.Duration
	pushFailure bool
}

type ExtractArtifactsConfig struct {
	TempDir           string
	ClipMaxDuration   time.Duration
	PushFailureEvents bool
}

func NewExtractArtifactsUseCase(
	repo port.FolderRepository,
	storage port.ArtifactStorage,
	transcoder port.Transcoder,
	tracker *FolderTracker,
	failures port.FailureNotifier,
	logger *zap.Logger,
	cfg ExtractArtifactsConfig,
) *ExtractArtifactsUseCase {
	clipMax := cfg.ClipMaxDuration
	if clipMax <= 0 {
		clipMax = defaultClipMaxDuration
	}
	return &ExtractArtifactsUseCase{
		repo:        repo,
		storage:     storage,
		transcoder:  transcoder,
		tracker:     tracker,
		failures:    failures,
		logger:      logger,
		tempDir:     cfg.TempDir,
		clipMax:     clipMax,
		pushFailure: cfg.PushFailureEvents,
	}
}

// Run performs one extraction run. Items are produced strictly in timestamp
// order; the first extraction or upload error aborts the rest of the run and
// leaves the folder incomplete. A run cut short by ctx releases its claim
// quietly instead of reporting a failure.
func (uc *ExtractArtifactsUseCase) Run(ctx context.Context, req entity.ExtractionRequest) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ExtractArtifactsUseCase.Run")
	defer span.End()

	span.SetAttributes(
		attribute.String("folder.id", req.FolderID.String()),
		attribute.Int("run.timestamps", len(req.Timestamps)),
	)

	totalTimer := time.Now()
	log := uc.logger.With(
		zap.String("folder_id", req.FolderID.String()),
		zap.String("user_id", req.UserID),
	)

	workDir, recordingPath, err := uc.writeRecording(req)
	if workDir != "" {
		defer uc.cleanup(workDir, log)
	}
	if err != nil {
		log.Error("failed to persist recording", zap.Error(err))
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return err
	}

	if len(req.Timestamps) == 0 {
		log.Info("empty timestamp list, nothing to extract")
		metrics.RunsTotal.WithLabelValues("empty").Inc()
		return nil
	}

	folder, err := uc.repo.FindByID(ctx, req.FolderID)
	if err != nil {
		log.Error("failed to load folder", zap.Error(err))
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("load folder: %w", err)
	}

	folder.StartRun(len(req.Timestamps))
	if err := uc.repo.BeginRun(ctx, folder); err != nil {
		if errors.Is(err, entity.ErrRunInProgress) {
			log.Warn("folder already has a run in progress")
			metrics.RunsTotal.WithLabelValues("rejected").Inc()
		} else {
			log.Error("failed to begin run", zap.Error(err))
			metrics.RunsTotal.WithLabelValues("failed").Inc()
		}
		return fmt.Errorf("begin run: %w", err)
	}

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	if err := uc.extractAll(ctx, folder, recordingPath, workDir, req.Timestamps, log); err != nil {
		uc.fail(ctx, folder, err, log)
		return err
	}

	if err := uc.tracker.Finalize(ctx, folder); err != nil {
		uc.fail(ctx, folder, err, log)
		return err
	}

	metrics.RunsTotal.WithLabelValues("completed").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())
	log.Info("extraction run completed", zap.Int("items", len(folder.Items)))
	return nil
}

func (uc *ExtractArtifactsUseCase) writeRecording(req entity.ExtractionRequest) (string, string, error) {
	folderDir := filepath.Join(uc.tempDir, req.FolderID.String())
	if err := os.MkdirAll(folderDir, 0755); err != nil {
		return "", "", fmt.Errorf("%w: create folder dir: %w", entity.ErrTemporaryFile, err)
	}
	workDir, err := os.MkdirTemp(folderDir, "run-")
	if err != nil {
		return "", "", fmt.Errorf("%w: create workdir: %w", entity.ErrTemporaryFile, err)
	}

	ext := req.RecordingExt
	if ext == "" {
		ext = ".webm"
	}
	recordingPath := filepath.Join(workDir, "recording"+ext)

	f, err := os.Create(recordingPath)
	if err != nil {
		return workDir, "", fmt.Errorf("%w: create recording: %w", entity.ErrTemporaryFile, err)
	}
	if req.Recording != nil {
		if _, err := io.Copy(f, req.Recording); err != nil {
			f.Close()
			return workDir, "", fmt.Errorf("%w: write recording: %w", entity.ErrTemporaryFile, err)
		}
	}
	if err := f.Close(); err != nil {
		return workDir, "", fmt.Errorf("%w: close recording: %w", entity.ErrTemporaryFile, err)
	}
	return workDir, recordingPath, nil
}

func (uc *ExtractArtifactsUseCase) cleanup(workDir string, log *zap.Logger) {
	if err := os.RemoveAll(workDir); err != nil {
		log.Warn("failed to remove workdir", zap.String("path", workDir), zap.Error(err))
		return
	}
	// Succeeds only when no other run of this folder still owns a workdir.
	_ = os.Remove(filepath.Dir(workDir))
}

func (uc *ExtractArtifactsUseCase) extractAll(
	ctx context.Context,
	folder *entity.Folder,
	recordingPath string,
	workDir string,
	timestamps []float64,
	log *zap.Logger,
) error {
	for i, ts := range timestamps {
		seq := i + 1
		item, err := uc.extractOne(ctx, folder, recordingPath, workDir, ts, seq)
		if err != nil {
			return fmt.Errorf("issue %d: %w", seq, err)
		}
		if err := uc.tracker.RecordItem(ctx, folder, item); err != nil {
			return err
		}
		log.Debug("issue extracted",
			zap.Int("sequence", seq),
			zap.Float64("offset", ts),
			zap.String("progress", folder.Progress()),
		)
	}
	return nil
}

func (uc *ExtractArtifactsUseCase) extractOne(
	ctx context.Context,
	folder *entity.Folder,
	recordingPath string,
	workDir string,
	offset float64,
	seq int,
) (entity.IssueFile, error) {
	folderID := folder.ID.String()

	imageURL, err := uc.produce(ctx, entity.ArtifactImage, recordingPath, workDir, offset,
		entity.ArtifactKey(entity.ArtifactImage, folderID, seq))
	if err != nil {
		return entity.IssueFile{}, err
	}

	clipURL, err := uc.produce(ctx, entity.ArtifactClip, recordingPath, workDir, offset,
		entity.ArtifactKey(entity.ArtifactClip, folderID, seq))
	if err != nil {
		return entity.IssueFile{}, err
	}

	return entity.NewIssueFile(folder.ID, seq, imageURL, clipURL), nil
}

func (uc *ExtractArtifactsUseCase) produce(
	ctx context.Context,
	kind entity.ArtifactKind,
	recordingPath string,
	workDir string,
	offset float64,
	key string,
) (string, error) {
	tracer := otel.Tracer("usecase")
	outputPath := filepath.Join(workDir, key)
	defer os.Remove(outputPath)

	exStart := time.Now()
	ctx2, spanEx := tracer.Start(ctx, "extract_"+string(kind))
	var err error
	switch kind {
	case entity.ArtifactImage:
		err = uc.transcoder.ExtractImage(ctx2, recordingPath, offset, outputPath)
	default:
		err = uc.transcoder.ExtractClip(ctx2, recordingPath, offset, uc.clipMax, outputPath)
	}
	spanEx.End()
	if err != nil {
		var exErr *entity.ExtractionError
		if !errors.As(err, &exErr) {
			err = &entity.ExtractionError{Offset: offset, Kind: kind, Err: err}
		}
		return "", err
	}
	metrics.StageDuration.WithLabelValues("extract_" + string(kind)).Observe(time.Since(exStart).Seconds())

	upStart := time.Now()
	ctx3, spanUp := tracer.Start(ctx, "upload_"+string(kind))
	url, err := uc.storage.Upload(ctx3, outputPath, key)
	spanUp.End()
	if err != nil {
		if !errors.Is(err, entity.ErrUploadFailed) {
			err = fmt.Errorf("%w: %s: %w", entity.ErrUploadFailed, key, err)
		}
		return "", err
	}
	metrics.StageDuration.WithLabelValues("upload_" + string(kind)).Observe(time.Since(upStart).Seconds())
	metrics.ArtifactsUploadedTotal.WithLabelValues(string(kind)).Inc()

	return url, nil
}

func (uc *ExtractArtifactsUseCase) fail(ctx context.Context, folder *entity.Folder, runErr error, log *zap.Logger) {
	interrupted := ctx.Err() != nil
	ctx = context.WithoutCancel(ctx)

	// A newer run owns the folder; its outcome is the one reported.
	if errors.Is(runErr, entity.ErrRunSuperseded) {
		log.Warn("extraction run superseded", zap.Error(runErr), zap.String("progress", folder.Progress()))
		metrics.RunsTotal.WithLabelValues("superseded").Inc()
		return
	}

	// Shutdown or caller cancellation is not a failure of the recording.
	if interrupted {
		log.Warn("extraction run interrupted", zap.Error(runErr), zap.String("progress", folder.Progress()))
		metrics.RunsTotal.WithLabelValues("interrupted").Inc()
		uc.tracker.Release(ctx, folder, "run interrupted")
		return
	}

	fields := []zap.Field{
		zap.Error(runErr),
		zap.String("progress", folder.Progress()),
	}
	var exErr *entity.ExtractionError
	if errors.As(runErr, &exErr) {
		fields = append(fields, zap.Float64("offset", exErr.Offset), zap.String("kind", string(exErr.Kind)))
	}
	log.Error("extraction run failed", fields...)
	metrics.RunsTotal.WithLabelValues("failed").Inc()

	uc.tracker.Fail(ctx, folder, runErr.Error(), uc.pushFailure)

	if uc.failures != nil {
		if err := uc.failures.NotifyFailure(ctx, folder.ID.String(), folder.UserID, runErr.Error()); err != nil {
			log.Warn("failure notification not sent", zap.Error(err))
		}
	}
}
