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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fundihq/fundi/api/middleware"
	model2 "github.com/fundihq/fundi/api/model"
)

func (a *Api) GetWallet(c *gin.Context) {
	userUUID, userType := middleware.Identity(c)
	resp, err := a.fundi.GetWallet(c.Request.Context(), userUUID, userType)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *Api) GetWalletTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	userUUID, userType := middleware.Identity(c)
	resp, err := a.fundi.WalletTransactions(c.Request.Context(), userUUID, userType, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *Api) FundWallet(c *gin.Context) {
	var req model2.FundWallet
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	userUUID, userType := middleware.Identity(c)
	resp, err := a.fundi.InitiateWalletFunding(c.Request.Context(), userUUID, userType, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (a *Api) Withdraw(c *gin.Context) {
	var req model2.Withdraw
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	userUUID, userType := middleware.Identity(c)
	resp, err := a.fundi.Withdraw(c.Request.Context(), userUUID, userType, req.Amount, req.RecipientCode)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}
