package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundihq/fundi/model"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewHub(client, NewPresence(client))
}

func newTestClient(h *Hub, userUUID string) *Client {
	c := &Client{
		hub:          h,
		send:         make(chan []byte, sendBuffer),
		userUUID:     userUUID,
		connectionID: model.GenerateUUIDWithSuffix("con"),
		rooms:        make(map[string]struct{}),
	}
	h.register(c)
	return c
}

func recvEvent(t *testing.T, c *Client) model.Event {
	t.Helper()
	select {
	case data := <-c.send:
		var event model.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return model.Event{}
	}
}

func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected event delivered: %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubDeliversToConversationRoom(t *testing.T) {
	h := newTestHub(t)
	inRoom := newTestClient(h, "usr1")
	outside := newTestClient(h, "usr2")
	h.JoinRoom("cnv1", inRoom)

	event := model.NewEvent(model.EventMessageCreated, map[string]string{"body": "hello"})
	event.ConversationUUID = "cnv1"
	h.deliver(event)

	got := recvEvent(t, inRoom)
	assert.Equal(t, model.EventMessageCreated, got.Name)
	assertNoEvent(t, outside)
}

func TestHubDeliversToUserRoom(t *testing.T) {
	h := newTestHub(t)
	target := newTestClient(h, "usr1")
	other := newTestClient(h, "usr2")

	event := model.NewEvent(model.EventInboxBadge, map[string]int{"unread": 3})
	event.UserUUIDs = []string{"usr1"}
	h.deliver(event)

	got := recvEvent(t, target)
	assert.Equal(t, model.EventInboxBadge, got.Name)
	assertNoEvent(t, other)
}

func TestHubDeliversOncePerSocket(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "usr1")
	h.JoinRoom("cnv1", c)

	// Addressed to both the room and the user; the socket gets one frame.
	event := model.NewEvent(model.EventJobUpdated, nil)
	event.ConversationUUID = "cnv1"
	event.UserUUIDs = []string{"usr1"}
	h.deliver(event)

	recvEvent(t, c)
	assertNoEvent(t, c)
}

func TestHubBroadcastsUnaddressedToAll(t *testing.T) {
	h := newTestHub(t)
	a := newTestClient(h, "usr1")
	b := newTestClient(h, "usr2")

	h.deliver(model.NewEvent(model.EventPresenceUpdate, map[string]bool{"online": true}))

	assert.Equal(t, model.EventPresenceUpdate, recvEvent(t, a).Name)
	assert.Equal(t, model.EventPresenceUpdate, recvEvent(t, b).Name)
}

func TestHubLeaveRoomStopsDelivery(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "usr1")
	h.JoinRoom("cnv1", c)
	h.LeaveRoom("cnv1", c)

	event := model.NewEvent(model.EventMessageCreated, nil)
	event.ConversationUUID = "cnv1"
	h.deliver(event)

	assertNoEvent(t, c)
}

func TestHubBridgePublishReachesSubscribedReplica(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "usr1")
	h.JoinRoom("cnv1", c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	// Give the subscription time to attach before publishing.
	require.Eventually(t, func() bool {
		event := model.NewEvent(model.EventMessageCreated, map[string]string{"body": "ping"})
		event.ConversationUUID = "cnv1"
		if err := h.Publish(ctx, event); err != nil {
			return false
		}
		select {
		case <-c.send:
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestHubUnregisterClearsRooms(t *testing.T) {
	h := newTestHub(t)
	c := newTestClient(h, "usr1")
	h.JoinRoom("cnv1", c)

	h.unregister(c)
	assert.Equal(t, 0, h.ClientCount())

	event := model.NewEvent(model.EventMessageCreated, nil)
	event.ConversationUUID = "cnv1"
	h.deliver(event)
	assertNoEvent(t, c)
}
