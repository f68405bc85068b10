package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vetor-crm/vetor-crm/internal/presence"
)

type stubRemover struct {
	mu      sync.Mutex
	removed []int64
	err     error
}

func (s *stubRemover) Remove(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.removed = append(s.removed, userID)
	return nil
}

func newReconcileFixture(t *testing.T) (*PresenceReconcileJob, *presence.Tracker, *miniredis.Miniredis, *stubRemover) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tracker := presence.NewTracker(client, time.Minute)
	remover := &stubRemover{}
	return NewPresenceReconcileJob(tracker, remover, nil, nil), tracker, mr, remover
}

func TestPresenceReconcileRemovesStaleSessions(t *testing.T) {
	job, tracker, mr, remover := newReconcileFixture(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkActive(ctx, 42))
	require.NoError(t, tracker.MarkActive(ctx, 43))
	mr.FastForward(2 * time.Minute)
	require.NoError(t, tracker.MarkActive(ctx, 43))

	task, err := NewPresenceReconcileTask(100)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	require.Equal(t, []int64{42}, remover.removed)

	// The swept user left the shadow too; a second run is a no-op.
	remover.removed = nil
	require.NoError(t, job.Handle(ctx, task))
	require.Empty(t, remover.removed)
}

func TestPresenceReconcileRespectsBatchLimit(t *testing.T) {
	job, tracker, mr, remover := newReconcileFixture(t)
	ctx := context.Background()

	for id := int64(1); id <= 5; id++ {
		require.NoError(t, tracker.MarkActive(ctx, id))
	}
	mr.FastForward(2 * time.Minute)

	task, err := NewPresenceReconcileTask(2)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))
	require.Len(t, remover.removed, 2)
}

func TestPresenceReconcileKeepsUserOnRemoveFailure(t *testing.T) {
	job, tracker, mr, remover := newReconcileFixture(t)
	ctx := context.Background()

	require.NoError(t, tracker.MarkActive(ctx, 42))
	mr.FastForward(2 * time.Minute)
	remover.err = errors.New("registry down")

	task, err := NewPresenceReconcileTask(100)
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, task))

	// Still stale: the next sweep retries the removal.
	stale, err := tracker.Stale(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{42}, stale)
}

func TestPresenceReconcileBadPayloadSkipsRetry(t *testing.T) {
	job, _, _, _ := newReconcileFixture(t)
	task := asynq.NewTask(TaskPresenceReconcile, []byte("{not json"))
	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
