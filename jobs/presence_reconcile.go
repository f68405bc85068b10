package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/vetor-crm/vetor-crm/internal/jobs"
	"github.com/vetor-crm/vetor-crm/internal/presence"
)

// RegistryRemover is the slice of the session registry the sweep needs.
type RegistryRemover interface {
	Remove(ctx context.Context, userID int64) error
}

// PresenceReconcileJob removes session-registry entries for users whose
// presence freshness key expired: the heartbeat stopped and no logout was
// ever observed.
type PresenceReconcileJob struct {
	Tracker  *presence.Tracker
	Registry RegistryRemover
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewPresenceReconcileJob initialises the sweep handler.
func NewPresenceReconcileJob(tracker *presence.Tracker, registry RegistryRemover, logger *slog.Logger, metrics *jobmetrics.Metrics) *PresenceReconcileJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceReconcileJob{
		Tracker:  tracker,
		Registry: registry,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile sweep.
func (j *PresenceReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tracker == nil || j.Registry == nil {
		return errors.New("presence reconcile: handler not configured")
	}
	var payload PresenceReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.BatchLimit <= 0 {
		payload.BatchLimit = 100
	}

	tracker := j.Metrics.Track(TaskPresenceReconcile)
	start := j.clock()
	stale, err := j.Tracker.Stale(ctx)
	if err != nil {
		j.Logger.Error("presence reconcile list", slog.Any("error", err))
		return tracker.End(err)
	}
	if len(stale) > payload.BatchLimit {
		stale = stale[:payload.BatchLimit]
	}

	removed := 0
	for _, userID := range stale {
		if err := j.Registry.Remove(ctx, userID); err != nil {
			j.Logger.Warn("presence reconcile remove",
				slog.Int64("user_id", userID),
				slog.Any("error", err))
			continue
		}
		if err := j.Tracker.MarkGone(ctx, userID); err != nil {
			j.Logger.Warn("presence reconcile mark gone",
				slog.Int64("user_id", userID),
				slog.Any("error", err))
			continue
		}
		removed++
	}

	j.Logger.Info("completed presence reconcile",
		slog.Int("stale", len(stale)),
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}
