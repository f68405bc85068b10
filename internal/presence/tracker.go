// Package presence keeps a local shadow of which users should have an entry
// in the remote session registry. The heartbeat keeps the registry fresh for
// healthy sessions; this shadow lets a background job clean up after browsers
// that crashed and never sent the logout DELETE.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	usersKey  = "presence:users"
	seenKeyns = "presence:seen:"
)

// Tracker records active users in Redis with a freshness TTL.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTracker constructs a Tracker. ttl bounds how long a silent session is
// still considered live.
func NewTracker(client *redis.Client, ttl time.Duration) *Tracker {
	return &Tracker{client: client, ttl: ttl}
}

// MarkActive registers the user as live and refreshes the freshness key.
func (t *Tracker) MarkActive(ctx context.Context, userID int64) error {
	id := strconv.FormatInt(userID, 10)
	if err := t.client.SAdd(ctx, usersKey, id).Err(); err != nil {
		return err
	}
	return t.client.Set(ctx, seenKeyns+id, "1", t.ttl).Err()
}

// MarkGone removes the user from the live set.
func (t *Tracker) MarkGone(ctx context.Context, userID int64) error {
	id := strconv.FormatInt(userID, 10)
	if err := t.client.SRem(ctx, usersKey, id).Err(); err != nil {
		return err
	}
	return t.client.Del(ctx, seenKeyns+id).Err()
}

// Stale returns users still in the live set whose freshness key has expired.
func (t *Tracker) Stale(ctx context.Context) ([]int64, error) {
	members, err := t.client.SMembers(ctx, usersKey).Result()
	if err != nil {
		return nil, err
	}
	var stale []int64
	for _, m := range members {
		n, err := t.client.Exists(ctx, seenKeyns+m).Result()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			continue
		}
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		stale = append(stale, id)
	}
	return stale, nil
}
