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
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fundihq/fundi/api/middleware"
	model2 "github.com/fundihq/fundi/api/model"
)

func (a *Api) OpenConversation(c *gin.Context) {
	var req model2.OpenConversation
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	userUUID, _ := middleware.Identity(c)
	resp, err := a.fundi.OpenConversation(c.Request.Context(), userUUID, req.ProviderUUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a *Api) SendMessage(c *gin.Context) {
	conversationID, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	var req model2.SendMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	userUUID, _ := middleware.Identity(c)
	resp, err := a.fundi.SendMessage(c.Request.Context(), conversationID, userUUID, req.Body)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a *Api) MarkConversationRead(c *gin.Context) {
	conversationID, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	userUUID, _ := middleware.Identity(c)
	messageIDs, err := a.fundi.MarkConversationRead(c.Request.Context(), conversationID, userUUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message_ids": messageIDs})
}

func (a *Api) MarkMessageRead(c *gin.Context) {
	conversationID, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}
	messageID, passed := c.Params.Get("message_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id is required. pass id in the route /:message_id"})
		return
	}

	userUUID, _ := middleware.Identity(c)
	if err := a.fundi.MarkMessageRead(c.Request.Context(), conversationID, messageID, userUUID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (a *Api) InboxBadge(c *gin.Context) {
	userUUID, _ := middleware.Identity(c)
	unread, err := a.fundi.InboxBadge(c.Request.Context(), userUUID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread": unread})
}

func (a *Api) QueryPresence(c *gin.Context) {
	var req model2.PresenceQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	online, err := a.presence.IsOnlineMany(c.Request.Context(), req.UserUUIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"online": online})
}
