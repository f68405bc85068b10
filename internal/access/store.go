package access

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultSnapshotTTL bounds permission staleness while avoiding refetch storms.
const DefaultSnapshotTTL = 5 * time.Minute

// ErrSuperseded is returned when a load resolves after the store was
// invalidated; the result is dropped, not applied.
var ErrSuperseded = errors.New("access: load superseded")

// UserStatus is the raw answer from the identity authority.
type UserStatus struct {
	GroupName string
	Branch    string
	Grants    []string
}

// GrantSource fetches the flat capability set for a user.
type GrantSource interface {
	UserStatus(ctx context.Context, userID int64) (UserStatus, error)
}

// Snapshot is the cached permission state for one user. It is created whole,
// swapped whole and never partially mutated.
type Snapshot struct {
	UserID    int64
	Group     Group
	Branch    string
	Grants    map[string]struct{}
	FetchedAt time.Time
	TTL       time.Duration
}

// HasGrant reports whether the flat grant set contains the module/action pair.
func (s *Snapshot) HasGrant(m Module, a Action) bool {
	if s == nil {
		return false
	}
	_, ok := s.Grants[GrantKey(m, a)]
	return ok
}

// Store owns the permission snapshot for one authenticated session. It is an
// instantiable object, not process-wide state: the auth lifecycle creates one
// per login and discards it on logout, so sessions and tests never bleed into
// each other.
type Store struct {
	source GrantSource
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	snap    *Snapshot
	gen     uint64
	observe func(ok bool)

	flight singleflight.Group
}

// NewStore constructs a Store. A zero ttl falls back to DefaultSnapshotTTL.
func NewStore(source GrantSource, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		source: source,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SetLoadObserver registers a callback told the outcome of every fetch.
// Must be called before the store is shared across goroutines.
func (s *Store) SetLoadObserver(fn func(ok bool)) {
	s.observe = fn
}

// Load fetches grants for the user and swaps in a fresh snapshot. Concurrent
// callers for the same user coalesce onto a single fetch and receive the same
// snapshot. A load that resolves after Invalidate is discarded and reported
// as ErrSuperseded, so an old fetch can never overwrite a newer state. A
// caller that joined a fetch older than its own generation fetches again: the
// newest request always ends with fresh data, never a spurious failure.
func (s *Store) Load(ctx context.Context, userID int64) (*Snapshot, error) {
	key := strconv.FormatInt(userID, 10)
	for {
		s.mu.Lock()
		gen := s.gen
		s.mu.Unlock()

		ch := s.flight.DoChan(key, func() (any, error) {
			status, err := s.source.UserStatus(ctx, userID)
			if s.observe != nil {
				s.observe(err == nil)
			}
			if err != nil {
				return nil, err
			}
			snap := newSnapshot(userID, status, s.now(), s.ttl)
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.gen != gen {
				return nil, ErrSuperseded
			}
			s.snap = snap
			return snap, nil
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, ErrSuperseded) {
				s.mu.Lock()
				current := s.gen == gen
				s.mu.Unlock()
				if current {
					// The shared fetch started before the invalidation this
					// caller already observed; retry on the new generation.
					continue
				}
				return nil, res.Err
			}
			if res.Err != nil {
				return nil, res.Err
			}
			return res.Val.(*Snapshot), nil
		}
	}
}

// Invalidate clears the snapshot immediately and marks any in-flight load as
// superseded. Called on logout, on explicit refresh and before re-load after
// login.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	s.gen++
}

// Current returns the snapshot only while it is fresher than its TTL.
// Expired or missing snapshots yield false, forcing the caller to Load again
// rather than silently reusing stale grants.
func (s *Store) Current() (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return nil, false
	}
	if s.now().Sub(s.snap.FetchedAt) >= s.snap.TTL {
		return nil, false
	}
	return s.snap, true
}

func newSnapshot(userID int64, status UserStatus, at time.Time, ttl time.Duration) *Snapshot {
	grants := make(map[string]struct{}, len(status.Grants))
	for _, g := range status.Grants {
		grants[g] = struct{}{}
	}
	return &Snapshot{
		UserID:    userID,
		Group:     ParseGroup(status.GroupName),
		Branch:    status.Branch,
		Grants:    grants,
		FetchedAt: at,
		TTL:       ttl,
	}
}
