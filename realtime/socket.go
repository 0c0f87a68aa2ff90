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
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client commands sent over the socket.
const (
	ActionJoinConversation  = "conversation:join"
	ActionLeaveConversation = "conversation:leave"
	ActionMessageRead       = "message:read"
	ActionConversationRead  = "conversation:read"
)

// ReadMarker is the slice of the core service the socket needs for read
// receipts.
type ReadMarker interface {
	MarkMessageRead(ctx context.Context, conversationID, messageID, userUUID string) error
	MarkConversationRead(ctx context.Context, conversationID, userUUID string) ([]string, error)
}

// clientCommand is the inbound frame shape.
type clientCommand struct {
	Action         string `json:"action"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// Client is one websocket connection bound to an authenticated user.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	userUUID     string
	connectionID string
	rooms        map[string]struct{}
	marker       ReadMarker
}

// ServeConn attaches an upgraded websocket connection to the hub, tracks its
// presence, and runs the read and write pumps. It returns when the connection
// closes.
func (h *Hub) ServeConn(ctx context.Context, conn *websocket.Conn, userUUID string, marker ReadMarker) {
	client := &Client{
		hub:          h,
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		userUUID:     userUUID,
		connectionID: model.GenerateUUIDWithSuffix("con"),
		rooms:        make(map[string]struct{}),
		marker:       marker,
	}

	h.register(client)
	count, err := h.presence.AddConnection(ctx, userUUID, client.connectionID)
	if err != nil {
		logrus.Warnf("presence add failed for %s: %v", userUUID, err)
	} else if count == 1 {
		h.broadcastPresence(ctx, userUUID, true)
	}

	go client.writePump()
	client.readPump(ctx)
}

func (c *Client) close(ctx context.Context) {
	c.hub.unregister(c)
	close(c.send)

	count, err := c.hub.presence.RemoveConnection(ctx, c.userUUID, c.connectionID)
	if err != nil {
		logrus.Warnf("presence remove failed for %s: %v", c.userUUID, err)
		return
	}
	if count == 0 {
		c.hub.broadcastPresence(ctx, c.userUUID, false)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.close(ctx)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.Debugf("socket closed for %s: %v", c.userUUID, err)
			}
			return
		}

		var cmd clientCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			logrus.Debugf("dropping undecodable frame from %s: %v", c.userUUID, err)
			continue
		}
		c.handleCommand(ctx, cmd)
	}
}

func (c *Client) handleCommand(ctx context.Context, cmd clientCommand) {
	switch cmd.Action {
	case ActionJoinConversation:
		if cmd.ConversationID != "" {
			c.hub.JoinRoom(cmd.ConversationID, c)
		}
	case ActionLeaveConversation:
		if cmd.ConversationID != "" {
			c.hub.LeaveRoom(cmd.ConversationID, c)
		}
	case ActionMessageRead:
		if c.marker == nil || cmd.ConversationID == "" || cmd.MessageID == "" {
			return
		}
		if err := c.marker.MarkMessageRead(ctx, cmd.ConversationID, cmd.MessageID, c.userUUID); err != nil {
			logrus.Warnf("message read via socket failed for %s: %v", c.userUUID, err)
		}
	case ActionConversationRead:
		if c.marker == nil || cmd.ConversationID == "" {
			return
		}
		if _, err := c.marker.MarkConversationRead(ctx, cmd.ConversationID, c.userUUID); err != nil {
			logrus.Warnf("conversation read via socket failed for %s: %v", c.userUUID, err)
		}
	default:
		logrus.Debugf("ignoring unknown socket action %q from %s", cmd.Action, c.userUUID)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
