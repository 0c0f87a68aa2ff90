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
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi/model"
)

// eventsChannel carries the fan-out envelope between replicas. Every replica
// publishes here and delivers to its local sockets from the subscription, so
// local and remote events take the same path.
const eventsChannel = "events:fanout"

// Hub fans events out to websocket clients. Events addressed to a
// conversation reach every socket that joined that room; events addressed to
// users reach every socket those users hold; events addressed to neither
// reach all sockets. ExcludeUUID does not gate socket delivery, only push
// dispatch upstream.
type Hub struct {
	redis    redis.UniversalClient
	presence *Presence

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	byUser  map[string]map[*Client]struct{}
}

func NewHub(client redis.UniversalClient, presence *Presence) *Hub {
	return &Hub{
		redis:    client,
		presence: presence,
		clients:  make(map[*Client]struct{}),
		rooms:    make(map[string]map[*Client]struct{}),
		byUser:   make(map[string]map[*Client]struct{}),
	}
}

// Publish pushes the event onto the replica bridge. Delivery to local sockets
// happens through the subscription in Run; if the bridge is unreachable the
// event is delivered locally so a single-replica deployment keeps working.
func (h *Hub) Publish(ctx context.Context, event model.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}

	if err := h.redis.Publish(ctx, eventsChannel, data).Err(); err != nil {
		logrus.Warnf("event bridge publish failed, delivering locally: %v", err)
		h.deliver(event)
	}
	return nil
}

// Run consumes the replica bridge and delivers events to local sockets until
// the context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.redis.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("event bridge subscription closed")
			}
			var event model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logrus.Warnf("dropping undecodable bridge event: %v", err)
				continue
			}
			h.deliver(event)
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.byUser[c.userUUID] == nil {
		h.byUser[c.userUUID] = make(map[*Client]struct{})
	}
	h.byUser[c.userUUID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	if m := h.byUser[c.userUUID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byUser, c.userUUID)
		}
	}
	for room := range c.rooms {
		h.leaveRoomLocked(room, c)
	}
}

// JoinRoom subscribes the client's socket to a conversation room.
func (h *Hub) JoinRoom(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[conversationID] == nil {
		h.rooms[conversationID] = make(map[*Client]struct{})
	}
	h.rooms[conversationID][c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

// LeaveRoom removes the client's socket from a conversation room.
func (h *Hub) LeaveRoom(conversationID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(conversationID, c)
}

func (h *Hub) leaveRoomLocked(conversationID string, c *Client) {
	if m := h.rooms[conversationID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.rooms, conversationID)
		}
	}
	delete(c.rooms, conversationID)
}

func (h *Hub) deliver(event model.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	targets := make(map[*Client]struct{})
	h.mu.RLock()
	if event.ConversationUUID == "" && len(event.UserUUIDs) == 0 {
		for c := range h.clients {
			targets[c] = struct{}{}
		}
	} else {
		for c := range h.rooms[event.ConversationUUID] {
			targets[c] = struct{}{}
		}
		for _, uuid := range event.UserUUIDs {
			for c := range h.byUser[uuid] {
				targets[c] = struct{}{}
			}
		}
	}
	h.mu.RUnlock()

	for c := range targets {
		select {
		case c.send <- data:
		default:
			// Slow consumer, drop the frame rather than stall the hub.
		}
	}
}

// ClientCount reports the number of sockets attached to this replica.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcastPresence announces an online edge to everyone. Only 0 to 1 and
// 1 to 0 transitions reach this point.
func (h *Hub) broadcastPresence(ctx context.Context, userUUID string, online bool) {
	event := model.NewEvent(model.EventPresenceUpdate, map[string]interface{}{
		"user_uuid": userUUID,
		"online":    online,
	})
	if err := h.Publish(ctx, event); err != nil {
		logrus.Warnf("presence broadcast failed for %s: %v", userUUID, err)
	}
}
