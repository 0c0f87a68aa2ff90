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
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fundihq/fundi"
	"github.com/fundihq/fundi/api/middleware"
	"github.com/fundihq/fundi/config"
	"github.com/fundihq/fundi/internal/apierror"
	"github.com/fundihq/fundi/realtime"
)

type Api struct {
	fundi    *fundi.Fundi
	router   *gin.Engine
	hub      *realtime.Hub
	presence *realtime.Presence
	upgrader websocket.Upgrader
}

func (a *Api) Router() *gin.Engine {
	router := a.router

	authed := router.Group("/", middleware.IdentityMiddleware())

	authed.POST("/conversations", a.OpenConversation)
	authed.POST("/conversations/:id/messages", a.SendMessage)
	authed.POST("/conversations/:id/read", a.MarkConversationRead)
	authed.POST("/conversations/:id/messages/:message_id/read", a.MarkMessageRead)
	authed.GET("/inbox/badge", a.InboxBadge)

	authed.POST("/conversations/:id/offers", a.SendOffer)
	authed.POST("/offers/:id/decline", a.DeclineOffer)
	authed.POST("/offers/:id/cancel", a.CancelOffer)
	authed.POST("/offers/:id/counter", a.CounterOffer)
	authed.POST("/offers/:id/pay", a.InitiateOfferPayment)

	authed.GET("/jobs/:id", a.GetJob)
	authed.GET("/jobs/:id/timeline", a.GetJobTimeline)
	authed.POST("/jobs/:id/start", a.StartJob)
	authed.POST("/jobs/:id/verify", a.VerifyPin)
	authed.POST("/jobs/:id/complete", a.CompleteJob)
	authed.POST("/jobs/:id/cancel", a.CancelJob)
	authed.POST("/jobs/:id/dispute", a.DisputeJob)
	authed.POST("/jobs/:id/review", a.ReviewJob)
	authed.POST("/jobs/:id/report", a.ReportJob)

	authed.GET("/wallet", a.GetWallet)
	authed.GET("/wallet/transactions", a.GetWalletTransactions)
	authed.POST("/wallet/fund", a.FundWallet)
	authed.POST("/wallet/withdraw", a.Withdraw)

	authed.POST("/presence/query", a.QueryPresence)
	authed.GET("/ws", a.ServeWS)

	return a.router
}

func NewAPI(f *fundi.Fundi, hub *realtime.Hub, presence *realtime.Presence) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	a := &Api{
		fundi:    f,
		router:   r,
		hub:      hub,
		presence: presence,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	// Provider webhooks authenticate with their own signature, not the
	// caller identity headers.
	r.POST("/webhook", a.HandleWebhook)

	return a
}

// HandleWebhook receives provider notifications. The body is passed through
// raw so the signature covers the exact bytes on the wire.
func (a *Api) HandleWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "unreadable body")
		return
	}

	err = a.fundi.HandleWebhook(c.Request.Context(), raw, c.GetHeader("X-Signature"))
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.String(http.StatusOK, "ok")
}

// ServeWS upgrades the connection and hands it to the hub. The handler
// returns when the socket closes.
func (a *Api) ServeWS(c *gin.Context) {
	userUUID, _ := middleware.Identity(c)

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("websocket upgrade failed for %s: %v", userUUID, err)
		return
	}
	a.hub.ServeConn(c.Request.Context(), conn, userUUID, a.fundi)
}

func respondError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
