// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package runlock serializes batch runs per connection using a Redis key
// with TTL. A scheduled poll and a manual "sync now" overlapping on the
// same connection must not race on the same pending messages; runs for
// different connections stay fully independent.
package runlock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long an abandoned lock (crashed process) can
	// block a connection. A batch is expected to finish well within it.
	DefaultTTL = 10 * time.Minute

	// keyPrefix namespaces lock keys in Redis.
	keyPrefix = "ingest:run:"
)

// Lock acquires and releases per-connection run locks.
type Lock struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a run lock backed by Redis.
func New(rdb *redis.Client) *Lock {
	return &Lock{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// Acquire attempts to take the run lock for a connection. On success it
// returns ok=true and a release function the caller must invoke when the
// batch finishes. ok=false means another run holds the lock.
//
// The lock value is a per-run token so a release after TTL expiry cannot
// delete a lock a newer run has since acquired.
func (l *Lock) Acquire(ctx context.Context, connectionID string) (release func(), ok bool, err error) {
	key := keyPrefix + connectionID
	token := uuid.New().String()

	// SET NX = set only if the key does not exist.
	set, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("run lock SETNX: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func() {
		current, err := l.rdb.Get(context.Background(), key).Result()
		if err != nil {
			if err != redis.Nil {
				slog.Warn("run lock release read failed", "connection", connectionID, "error", err)
			}
			return
		}
		if current != token {
			slog.Warn("run lock token changed, skipping release", "connection", connectionID)
			return
		}
		if err := l.rdb.Del(context.Background(), key).Err(); err != nil {
			slog.Warn("run lock release failed", "connection", connectionID, "error", err)
		}
	}
	return release, true, nil
}
