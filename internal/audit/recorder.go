// Package audit persists access-control events for the ops screens.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event kinds recorded in access_events.
const (
	KindRouteDenied       = "route_denied"
	KindPermissionRefresh = "permission_refresh"
	KindForcedLogout      = "forced_logout"
)

// Event is one access-control occurrence.
type Event struct {
	UserID int64
	Kind   string
	Meta   map[string]any
	At     time.Time
}

// Recorder writes events into access_events. All sink methods swallow their
// own errors: auditing must never fail a navigation.
type Recorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRecorder returns a new Recorder.
func NewRecorder(pool *pgxpool.Pool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pool: pool, logger: logger}
}

// Record persists one event.
func (r *Recorder) Record(ctx context.Context, ev Event) error {
	if r == nil || r.pool == nil {
		return errors.New("audit recorder not initialised")
	}
	if ev.Kind == "" {
		return errors.New("audit event requires kind")
	}
	metaJSON, err := json.Marshal(ev.Meta)
	if err != nil {
		return err
	}
	var at any
	if !ev.At.IsZero() {
		at = ev.At
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO access_events (user_id, kind, meta, occurred_at) VALUES ($1, $2, $3, COALESCE($4, NOW()))`,
		ev.UserID, ev.Kind, metaJSON, at)
	return err
}

// Recent returns the latest events, newest first.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]Event, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("audit recorder not initialised")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, kind, meta, occurred_at FROM access_events ORDER BY occurred_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var metaJSON []byte
		if err := rows.Scan(&ev.UserID, &ev.Kind, &metaJSON, &ev.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Meta); err != nil {
				r.logger.Warn("audit meta decode", slog.Any("error", err))
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RouteDenied implements access.AuditSink.
func (r *Recorder) RouteDenied(ctx context.Context, userID int64, path string) {
	r.record(ctx, Event{UserID: userID, Kind: KindRouteDenied, Meta: map[string]any{"path": path}})
}

// PermissionRefresh implements access.AuditSink.
func (r *Recorder) PermissionRefresh(ctx context.Context, userID int64, ok bool) {
	r.record(ctx, Event{UserID: userID, Kind: KindPermissionRefresh, Meta: map[string]any{"ok": ok}})
}

// ForcedLogout implements access.AuditSink.
func (r *Recorder) ForcedLogout(ctx context.Context, userID int64, reason string) {
	r.record(ctx, Event{UserID: userID, Kind: KindForcedLogout, Meta: map[string]any{"reason": reason}})
}

func (r *Recorder) record(ctx context.Context, ev Event) {
	if err := r.Record(ctx, ev); err != nil {
		r.logger.Warn("audit record", slog.String("kind", ev.Kind), slog.Any("error", err))
	}
}
