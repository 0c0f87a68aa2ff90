/*
Copyright 2024 Fundi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package realtime

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const presenceKeyPrefix = "presence:"

// Presence tracks which users hold at least one live connection. The shared
// store is a Redis set per user so every replica sees the same counts. When
// Redis reports itself read-only the tracker degrades to an in-process map
// for the remainder of the process lifetime; the degraded map is per replica
// and only approximates presence.
type Presence struct {
	redis    redis.UniversalClient
	degraded atomic.Bool

	mu    sync.Mutex
	local map[string]map[string]struct{}
}

func NewPresence(client redis.UniversalClient) *Presence {
	return &Presence{
		redis: client,
		local: make(map[string]map[string]struct{}),
	}
}

// Degraded reports whether the tracker has fallen back to the in-process map.
func (p *Presence) Degraded() bool {
	return p.degraded.Load()
}

func isReadOnlyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "READONLY")
}

func (p *Presence) degrade(op string, err error) {
	if p.degraded.CompareAndSwap(false, true) {
		logrus.Errorf("presence store read-only during %s, degrading to in-process tracking: %v", op, err)
	}
}

// AddConnection registers a connection for the user and returns the user's
// live connection count afterwards.
func (p *Presence) AddConnection(ctx context.Context, userUUID, connectionID string) (int64, error) {
	if !p.degraded.Load() {
		key := presenceKeyPrefix + userUUID
		if err := p.redis.SAdd(ctx, key, connectionID).Err(); err != nil {
			if !isReadOnlyErr(err) {
				return 0, err
			}
			p.degrade("SAdd", err)
		} else {
			return p.redis.SCard(ctx, key).Result()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.local[userUUID]
	if set == nil {
		set = make(map[string]struct{})
		p.local[userUUID] = set
	}
	set[connectionID] = struct{}{}
	return int64(len(set)), nil
}

// RemoveConnection drops a connection for the user and returns the remaining
// live connection count.
func (p *Presence) RemoveConnection(ctx context.Context, userUUID, connectionID string) (int64, error) {
	if !p.degraded.Load() {
		key := presenceKeyPrefix + userUUID
		if err := p.redis.SRem(ctx, key, connectionID).Err(); err != nil {
			if !isReadOnlyErr(err) {
				return 0, err
			}
			p.degrade("SRem", err)
		} else {
			return p.redis.SCard(ctx, key).Result()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	set := p.local[userUUID]
	delete(set, connectionID)
	if len(set) == 0 {
		delete(p.local, userUUID)
		return 0, nil
	}
	return int64(len(set)), nil
}

// IsOnline reports whether the user has at least one live connection.
func (p *Presence) IsOnline(ctx context.Context, userUUID string) (bool, error) {
	if !p.degraded.Load() {
		count, err := p.redis.SCard(ctx, presenceKeyPrefix+userUUID).Result()
		if err == nil {
			return count > 0, nil
		}
		if !isReadOnlyErr(err) {
			return false, err
		}
		p.degrade("SCard", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.local[userUUID]) > 0, nil
}

// IsOnlineMany resolves presence for a batch of users in one pass.
func (p *Presence) IsOnlineMany(ctx context.Context, userUUIDs []string) (map[string]bool, error) {
	online := make(map[string]bool, len(userUUIDs))
	for _, uuid := range userUUIDs {
		ok, err := p.IsOnline(ctx, uuid)
		if err != nil {
			return nil, err
		}
		online[uuid] = ok
	}
	return online, nil
}
