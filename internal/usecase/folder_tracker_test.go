package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startedFolder(t *testing.T, repo *memoryRepo, total int) *entity.Folder {
	t.Helper()
	folder := entity.NewFolder("user-1", time.UTC)
	require.NoError(t, repo.Create(context.Background(), folder))
	folder.StartRun(total)
	require.NoError(t, repo.BeginRun(context.Background(), folder))
	return folder
}

func TestFinalizeRequiresEveryItem(t *testing.T) {
	repo := newMemoryRepo()
	registry := pubsub.NewRegistry(zap.NewNop())
	events := &fakeEventPublisher{}
	tracker := NewFolderTracker(repo, registry, events, zap.NewNop())

	folder := startedFolder(t, repo, 2)
	sub, cancel := registry.Subscribe(folder.ID)
	defer cancel()

	require.NoError(t, tracker.RecordItem(context.Background(), folder, entity.NewIssueFile(folder.ID, 1, "i1", "c1")))

	err := tracker.Finalize(context.Background(), folder)
	assert.ErrorIs(t, err, entity.ErrPartialCompletion)
	assert.False(t, folder.Completed)
	assert.Empty(t, drain(sub))
	assert.Empty(t, events.statuses())

	require.NoError(t, tracker.RecordItem(context.Background(), folder, entity.NewIssueFile(folder.ID, 2, "i2", "c2")))
	require.NoError(t, tracker.Finalize(context.Background(), folder))

	assert.True(t, folder.Completed)
	assert.True(t, repo.stored(folder.ID).Completed)
	assert.Len(t, drain(sub), 1)
}

func TestFinalizeKeepsFolderIncompleteWhenPersistFails(t *testing.T) {
	repo := newMemoryRepo()
	registry := pubsub.NewRegistry(zap.NewNop())
	tracker := NewFolderTracker(repo, registry, nil, zap.NewNop())

	folder := startedFolder(t, repo, 1)
	sub, cancel := registry.Subscribe(folder.ID)
	defer cancel()
	require.NoError(t, tracker.RecordItem(context.Background(), folder, entity.NewIssueFile(folder.ID, 1, "i", "c")))

	repo.failOn = "mark_completed"
	err := tracker.Finalize(context.Background(), folder)
	require.Error(t, err)
	assert.False(t, folder.Completed)
	assert.Empty(t, drain(sub))
}

func TestRecordItemLeavesFolderUntouchedOnError(t *testing.T) {
	repo := newMemoryRepo()
	tracker := NewFolderTracker(repo, pubsub.NewRegistry(zap.NewNop()), nil, zap.NewNop())
	folder := startedFolder(t, repo, 1)

	repo.failOn = "add_item"
	err := tracker.RecordItem(context.Background(), folder, entity.NewIssueFile(folder.ID, 1, "i", "c"))
	require.Error(t, err)
	assert.Empty(t, folder.Items)
	assert.Equal(t, "0/1", folder.Progress())
}

func TestFailNotifiesSubscribersOnlyWhenAsked(t *testing.T) {
	for _, push := range []bool{false, true} {
		repo := newMemoryRepo()
		registry := pubsub.NewRegistry(zap.NewNop())
		events := &fakeEventPublisher{}
		tracker := NewFolderTracker(repo, registry, events, zap.NewNop())

		folder := startedFolder(t, repo, 3)
		sub, cancel := registry.Subscribe(folder.ID)

		tracker.Fail(context.Background(), folder, "boom", push)

		stored := repo.stored(folder.ID)
		assert.False(t, stored.Running)
		assert.Equal(t, "boom", stored.LastError)
		assert.Equal(t, []entity.FolderStatus{entity.FolderStatusFailed}, events.statuses())
		if push {
			assert.Len(t, drain(sub), 1)
		} else {
			assert.Empty(t, drain(sub))
		}
		cancel()
	}
}

func TestFailStaysQuietAfterReclaim(t *testing.T) {
	repo := newMemoryRepo()
	registry := pubsub.NewRegistry(zap.NewNop())
	events := &fakeEventPublisher{}
	tracker := NewFolderTracker(repo, registry, events, zap.NewNop())

	folder := startedFolder(t, repo, 2)
	sub, cancel := registry.Subscribe(folder.ID)
	defer cancel()
	newRun := repo.reclaim(folder.ID)

	tracker.Fail(context.Background(), folder, "too slow", true)

	stored := repo.stored(folder.ID)
	assert.True(t, stored.Running)
	assert.Equal(t, newRun, stored.RunID)
	assert.Empty(t, stored.LastError)
	assert.Empty(t, drain(sub))
	assert.Empty(t, events.statuses())
}

func TestReleaseDropsClaimWithoutEvents(t *testing.T) {
	repo := newMemoryRepo()
	registry := pubsub.NewRegistry(zap.NewNop())
	events := &fakeEventPublisher{}
	tracker := NewFolderTracker(repo, registry, events, zap.NewNop())

	folder := startedFolder(t, repo, 2)
	sub, cancel := registry.Subscribe(folder.ID)
	defer cancel()

	tracker.Release(context.Background(), folder, "run interrupted")

	stored := repo.stored(folder.ID)
	assert.False(t, stored.Running)
	assert.False(t, stored.Completed)
	assert.Equal(t, "run interrupted", stored.LastError)
	assert.Empty(t, drain(sub))
	assert.Empty(t, events.statuses())
}
