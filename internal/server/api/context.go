// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package api holds the JSON handlers of the site.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/cosypolyamory/site/internal/model"
)

const userKey = "cosy.user"

var validate = validator.New(validator.WithRequiredStructEnabled())

func SetUser(c *gin.Context, u *model.User) {
	c.Set(userKey, u)
}

// CurrentUser returns the logged in user or nil.
func CurrentUser(c *gin.Context) *model.User {
	v, ok := c.Get(userKey)
	if !ok {
		return nil
	}
	u, _ := v.(*model.User)
	return u
}

// Fail aborts with the error shape shared by all API routes.
func Fail(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"success": false, "message": msg})
}

func FailReason(c *gin.Context, code int, reason model.ErrorReason) {
	Fail(c, code, reason.Message())
}

func paramID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}

func internalError(c *gin.Context) {
	FailReason(c, http.StatusInternalServerError, model.ErrorReasonUnknown)
}
