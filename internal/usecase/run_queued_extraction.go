package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	"go.uber.org/zap"
)

type Runner interface {
	Run(ctx context.Context, req entity.ExtractionRequest) error
}

// RunQueuedExtractionUseCase consumes one queued extraction message. A folder
// busy with another run and a run cut short by ctx are handed back for
// redelivery with the staged recording kept; every other failure is final for
// that message.
type RunQueuedExtractionUseCase struct {
	recordings port.RecordingStorage
	runner     Runner
	dlq        port.DLQPublisher
	logger     *zap.Logger
}

func NewRunQueuedExtractionUseCase(
	recordings port.RecordingStorage,
	runner Runner,
	dlq port.DLQPublisher,
	logger *zap.Logger,
) *RunQueuedExtractionUseCase {
	return &RunQueuedExtractionUseCase{recordings: recordings, runner: runner, dlq: dlq, logger: logger}
}

func (uc *RunQueuedExtractionUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	var msg entity.ExtractionMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		metrics.RunsTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	log := uc.logger.With(
		zap.String("folder_id", msg.FolderID.String()),
		zap.String("recording_key", msg.RecordingKey),
	)

	recording, err := uc.recordings.OpenRecording(ctx, msg.RecordingKey)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("open recording interrupted: %w", ctx.Err())
	}
	if err != nil {
		log.Error("failed to open staged recording", zap.Error(err))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "open_recording: "+err.Error())
		metrics.RunsTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	err = uc.runner.Run(ctx, entity.ExtractionRequest{
		FolderID:     msg.FolderID,
		UserID:       msg.UserID,
		Timestamps:   msg.Timestamps,
		Recording:    recording,
		RecordingExt: msg.RecordingExt,
	})
	recording.Close()

	if err != nil && ctx.Err() != nil {
		log.Warn("queued extraction interrupted, leaving for redelivery", zap.Error(err))
		return fmt.Errorf("extraction interrupted: %w", ctx.Err())
	}

	if errors.Is(err, entity.ErrRunInProgress) {
		return fmt.Errorf("folder busy, retry later: %w", err)
	}

	// The staged recording is kept for dead-lettered messages.
	if errors.Is(err, entity.ErrTemporaryFile) || errors.Is(err, entity.ErrFolderNotFound) {
		log.Error("queued extraction cannot run", zap.Error(err))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, err.Error())
		metrics.RunsTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	if rmErr := uc.recordings.RemoveRecording(context.WithoutCancel(ctx), msg.RecordingKey); rmErr != nil {
		log.Warn("failed to remove staged recording", zap.Error(rmErr))
	}

	if err != nil {
		log.Warn("queued extraction run failed", zap.Error(err))
	}
	return nil
}
