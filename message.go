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

package fundi

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/model"
)

// OpenConversation creates a requestor/provider conversation with the
// configured cancellation chances.
func (f *Fundi) OpenConversation(ctx context.Context, requestorUUID, providerUUID string) (*model.Conversation, error) {
	if requestorUUID == providerUUID {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Cannot open a conversation with yourself", requestorUUID)
	}

	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	conversation, err := f.datasource.CreateConversation(ctx, &model.Conversation{
		RequestorUUID:       requestorUUID,
		ProviderUUID:        providerUUID,
		CancellationChances: conf.Conversation.CancellationChances,
	})
	if err != nil {
		return nil, err
	}

	event := model.NewEvent(model.EventConversationCreated, conversation)
	event.UserUUIDs = []string{requestorUUID, providerUUID}
	event.ExcludeUUID = requestorUUID
	f.publish(ctx, event)

	return conversation, nil
}

// SendMessage appends a message to a conversation, broadcasts it, and updates
// the recipient's inbox badge. Messaging stays open on restricted
// conversations; restriction only blocks job-affecting actions.
func (f *Fundi) SendMessage(ctx context.Context, conversationID, senderUUID, body string) (*model.Message, error) {
	if body == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Message body is required", nil)
	}

	message, err := f.datasource.CreateMessage(ctx, &model.Message{
		ConversationID: conversationID,
		SenderUUID:     senderUUID,
		Body:           body,
	})
	if err != nil {
		return nil, err
	}

	conversation, err := f.datasource.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	recipient := conversation.Counterparty(senderUUID)

	event := model.NewEvent(model.EventMessageCreated, message)
	event.ConversationUUID = conversationID
	event.UserUUIDs = []string{recipient}
	event.ExcludeUUID = senderUUID
	event.Push = true
	f.publish(ctx, event)

	f.publishInboxBadge(ctx, recipient)
	return message, nil
}

// MarkMessageRead flips one receipt and broadcasts the read to the
// conversation. A replay flips nothing and broadcasts nothing.
func (f *Fundi) MarkMessageRead(ctx context.Context, conversationID, messageID, userUUID string) error {
	flipped, err := f.datasource.MarkMessageRead(ctx, messageID, userUUID)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	event := model.NewEvent(model.EventMessageRead, map[string]string{
		"message_id": messageID,
		"user_uuid":  userUUID,
	})
	event.ConversationUUID = conversationID
	f.publish(ctx, event)

	f.publishInboxBadge(ctx, userUUID)
	return nil
}

// MarkConversationRead flips every unread receipt the user holds in the
// conversation as one batch and broadcasts the flipped ids.
func (f *Fundi) MarkConversationRead(ctx context.Context, conversationID, userUUID string) ([]string, error) {
	flipped, err := f.datasource.BulkMarkConversationRead(ctx, conversationID, userUUID)
	if err != nil {
		return nil, err
	}
	if len(flipped) == 0 {
		return flipped, nil
	}

	event := model.NewEvent(model.EventConversationRead, map[string]interface{}{
		"conversation_id": conversationID,
		"user_uuid":       userUUID,
		"message_ids":     flipped,
	})
	event.ConversationUUID = conversationID
	f.publish(ctx, event)

	f.publishInboxBadge(ctx, userUUID)
	return flipped, nil
}

// InboxBadge returns the user's total unread count across conversations.
func (f *Fundi) InboxBadge(ctx context.Context, userUUID string) (int, error) {
	return f.datasource.TotalUnread(ctx, userUUID)
}

func (f *Fundi) publishInboxBadge(ctx context.Context, userUUID string) {
	total, err := f.datasource.TotalUnread(ctx, userUUID)
	if err != nil {
		logrus.Warnf("inbox badge refresh failed for %s: %v", userUUID, err)
		return
	}
	event := model.NewEvent(model.EventInboxBadge, map[string]int{"unread": total})
	event.UserUUIDs = []string{userUUID}
	f.publish(ctx, event)
}
