// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

const (
	searchMinLength    = 2
	searchDefaultLimit = 10
	searchMaxLimit     = 50
)

func NewUserHandler(users db.UserStore) *UserHandler {
	return &UserHandler{
		logger: slog.Default().WithGroup("http"),
		users:  users,
	}
}

type UserHandler struct {
	logger *slog.Logger
	users  db.UserStore
}

func (h *UserHandler) Me(c *gin.Context) {
	u := CurrentUser(c)
	c.JSON(http.StatusOK, gin.H{
		"id":           u.ID,
		"email":        u.Email,
		"name":         u.Name,
		"avatar_url":   u.AvatarURL,
		"provider":     u.Provider,
		"created_at":   u.CreatedAt,
		"is_approved":  u.IsApprovedMember(),
		"is_organizer": u.CanOrganize(),
		"is_admin":     u.Role == model.RoleAdmin,
		"role":         u.Role.Display(),
	})
}

// Search matches name or e-mail for the user picker. Users that never
// started an application are not listed.
func (h *UserHandler) Search(c *gin.Context) {
	h.search(c, "UserHandler.Search", func(u *model.User) bool {
		return u.Role != model.RoleNew
	})
}

// SearchApproved only lists approved members, organizers and admins.
func (h *UserHandler) SearchApproved(c *gin.Context) {
	h.search(c, "UserHandler.SearchApproved", (*model.User).IsApprovedMember)
}

func (h *UserHandler) search(c *gin.Context, spanName string, keep func(*model.User) bool) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, spanName)
	defer span.End()

	query := strings.TrimSpace(c.Query("q"))
	limit := searchDefaultLimit
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = min(v, searchMaxLimit)
	}
	span.SetAttributes(attribute.Int("search.limit", limit), attribute.Int("search.length", len(query)))

	results := make([]model.UserSummary, 0, limit)
	if len([]rune(query)) < searchMinLength {
		c.JSON(http.StatusOK, results)
		return
	}

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list users", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	needle := strings.ToLower(query)
	for _, u := range users {
		if len(results) == limit {
			break
		}
		if !keep(u) {
			continue
		}
		if strings.Contains(strings.ToLower(u.Name), needle) || strings.Contains(strings.ToLower(u.Email), needle) {
			results = append(results, u.Summary())
		}
	}
	c.JSON(http.StatusOK, results)
}
