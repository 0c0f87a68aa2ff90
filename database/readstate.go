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
	"time"

	"github.com/fundihq/fundi/internal/apierror"
)

// MarkMessageRead flips a single receipt to read. Returns false when the
// receipt was already read or does not belong to the user, so callers can skip
// the read-event broadcast on replays.
func (d Datasource) MarkMessageRead(ctx context.Context, messageID, userUUID string) (bool, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE message_receipts SET read_at = NOW()
		WHERE message_id = $1 AND user_uuid = $2 AND read_at IS NULL
	`, messageID, userUUID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark message read", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	if affected == 0 {
		return false, tx.Commit()
	}

	// unread_count is recomputed from the receipts, never decremented, so a
	// duplicate or out-of-order flip cannot drift the count.
	_, err = tx.ExecContext(ctx, `
		UPDATE conversation_read_states cs
		SET unread_count = (
				SELECT COUNT(*) FROM message_receipts r
				JOIN messages m ON m.message_id = r.message_id
				WHERE m.conversation_id = cs.conversation_id
					AND r.user_uuid = cs.user_uuid
					AND r.read_at IS NULL
			),
			last_read_at = GREATEST(
				COALESCE(cs.last_read_at, 'epoch'::timestamp),
				(SELECT created_at FROM messages WHERE message_id = $1)
			)
		WHERE cs.conversation_id = (SELECT conversation_id FROM messages WHERE message_id = $1)
			AND cs.user_uuid = $2
	`, messageID, userUUID)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update read state", err)
	}

	if err := tx.Commit(); err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit read", err)
	}
	return true, nil
}

// BulkMarkConversationRead flips every unread receipt the user holds in the
// conversation in one atomic batch and zeroes their unread count. Returns the
// message ids that actually flipped; a replay returns an empty slice.
func (d Datasource) BulkMarkConversationRead(ctx context.Context, conversationID, userUUID string) ([]string, error) {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Backfill receipts for messages delivered before receipt rows existed for
	// this user, so the bulk flip below covers them too.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO message_receipts (message_id, user_uuid)
		SELECT m.message_id, $2 FROM messages m
		WHERE m.conversation_id = $1 AND m.sender_uuid <> $2
		ON CONFLICT (message_id, user_uuid) DO NOTHING
	`, conversationID, userUUID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to backfill receipts", err)
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE message_receipts r SET read_at = NOW()
		FROM messages m
		WHERE r.message_id = m.message_id
			AND m.conversation_id = $1
			AND r.user_uuid = $2
			AND r.read_at IS NULL
		RETURNING r.message_id
	`, conversationID, userUUID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark conversation read", err)
	}
	defer rows.Close()

	var flipped []string
	for rows.Next() {
		var messageID string
		if err := rows.Scan(&messageID); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan receipt", err)
		}
		flipped = append(flipped, messageID)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read receipts", err)
	}

	var newest sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(created_at) FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&newest)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to find newest message", err)
	}
	lastRead := time.Now()
	if newest.Valid {
		lastRead = newest.Time
	}

	// last_read_at only moves forward so a stale bulk read cannot rewind it.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversation_read_states (conversation_id, user_uuid, unread_count, last_read_at)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (conversation_id, user_uuid)
		DO UPDATE SET unread_count = 0,
			last_read_at = GREATEST(COALESCE(conversation_read_states.last_read_at, 'epoch'::timestamp), EXCLUDED.last_read_at)
	`, conversationID, userUUID, lastRead)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reset unread count", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit bulk read", err)
	}
	return flipped, nil
}

// TotalUnread sums the user's unread counts across conversations. Backs the
// inbox badge.
func (d Datasource) TotalUnread(ctx context.Context, userUUID string) (int, error) {
	var total int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(unread_count), 0) FROM conversation_read_states WHERE user_uuid = $1
	`, userUUID).Scan(&total)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sum unread counts", err)
	}
	return total, nil
}
