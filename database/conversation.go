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

package database

import (
	"context"
	"database/sql"

	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// CreateConversation inserts a requestor/provider conversation.
func (d Datasource) CreateConversation(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	if c.ConversationID == "" {
		c.ConversationID = model.GenerateUUIDWithSuffix("cnv")
	}
	err := d.Conn.QueryRowContext(ctx, `
		INSERT INTO conversations (conversation_id, requestor_uuid, provider_uuid, cancellation_chances)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`, c.ConversationID, c.RequestorUUID, c.ProviderUUID, c.CancellationChances).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Conversation already exists", c.ConversationID)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create conversation", err)
	}
	return c, nil
}

// GetConversation retrieves a conversation by id.
func (d Datasource) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT conversation_id, requestor_uuid, provider_uuid, locked, restricted,
			cancellation_chances, COALESCE(last_message_id, ''), COALESCE(blocked_by, ''),
			created_at, updated_at
		FROM conversations WHERE conversation_id = $1 AND deleted_at IS NULL
	`, conversationID)

	c := &model.Conversation{}
	err := row.Scan(&c.ConversationID, &c.RequestorUUID, &c.ProviderUUID, &c.Locked,
		&c.Restricted, &c.CancellationChances, &c.LastMessageID, &c.BlockedBy,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", conversationID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve conversation", err)
	}
	return c, nil
}

// SetConversationLocked flips the lock guarding new offers.
func (d Datasource) SetConversationLocked(ctx context.Context, conversationID string, locked bool) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE conversations SET locked = $1, updated_at = NOW()
		WHERE conversation_id = $2 AND deleted_at IS NULL
	`, locked, conversationID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update conversation lock", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", conversationID)
	}
	return nil
}

// CreateMessage appends a message and its read-state bookkeeping in one atomic
// unit: an unread receipt for the counterparty, an unread-count bump on their
// read state, and the conversation's last_message_id pointer.
func (d Datasource) CreateMessage(ctx context.Context, m *model.Message) (*model.Message, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var requestorUUID, providerUUID string
	err = tx.QueryRowContext(ctx, `
		SELECT requestor_uuid, provider_uuid FROM conversations
		WHERE conversation_id = $1 AND deleted_at IS NULL
		FOR UPDATE
	`, m.ConversationID).Scan(&requestorUUID, &providerUUID)
	if err == sql.ErrNoRows {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation not found", m.ConversationID)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock conversation", err)
	}

	if m.SenderUUID != requestorUUID && m.SenderUUID != providerUUID {
		return nil, apierror.NewAPIError(apierror.ErrForbidden, "Sender is not a conversation participant", m.SenderUUID)
	}
	recipient := requestorUUID
	if m.SenderUUID == requestorUUID {
		recipient = providerUUID
	}

	m.MessageID = model.GenerateUUIDWithSuffix("msg")
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, sender_uuid, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, m.MessageID, m.ConversationID, m.SenderUUID, m.Body).Scan(&m.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create message", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_receipts (message_id, user_uuid, delivered_at)
		VALUES ($1, $2, NOW())
	`, m.MessageID, recipient)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create message receipt", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_read_states (conversation_id, user_uuid, unread_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (conversation_id, user_uuid)
		DO UPDATE SET unread_count = conversation_read_states.unread_count + 1
	`, m.ConversationID, recipient)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to bump unread count", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_id = $1, updated_at = NOW() WHERE conversation_id = $2
	`, m.MessageID, m.ConversationID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update last message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit message", err)
	}
	return m, nil
}
