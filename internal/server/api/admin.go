// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/auth"
	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/live"
	"github.com/cosypolyamory/site/internal/model"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

// RoleNotifier tells users about role changes made by an admin.
type RoleNotifier interface {
	RoleChanged(ctx context.Context, user *model.User, from, to model.Role) error
}

// Notifier is everything the site e-mails about outside of attendance.
type Notifier interface {
	ReviewNotifier
	RoleNotifier
}

func NewAdminHandler(
	users db.UserStore,
	apps db.ApplicationStore,
	events db.EventStore,
	noShows db.NoShowStore,
	svc *attendance.Service,
	hub *live.Hub,
	issuer *auth.Issuer,
	notifier RoleNotifier,
) *AdminHandler {
	return &AdminHandler{
		logger:     slog.Default().WithGroup("http"),
		users:      users,
		apps:       apps,
		events:     events,
		noShows:    noShows,
		attendance: svc,
		hub:        hub,
		issuer:     issuer,
		notifier:   notifier,
	}
}

type AdminHandler struct {
	logger     *slog.Logger
	users      db.UserStore
	apps       db.ApplicationStore
	events     db.EventStore
	noShows    db.NoShowStore
	attendance *attendance.Service
	hub        *live.Hub
	issuer     *auth.Issuer
	notifier   RoleNotifier
}

type adminUser struct {
	model.UserSummary
	CreatedAt         time.Time               `json:"created_at"`
	LastLogin         time.Time               `json:"last_login"`
	HasApplication    bool                    `json:"has_application"`
	ApplicationID     uint64                  `json:"application_id,omitempty"`
	ApplicationStatus model.ApplicationStatus `json:"application_status,omitempty"`

	submittedAt time.Time
}

type pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

type userRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type hostedEvent struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
	Date  string `json:"date"`
	Role  string `json:"role"`
}

type changeRoleRequest struct {
	UserID string     `json:"user_id" validate:"required"`
	Role   model.Role `json:"role" validate:"required,oneof=admin organizer approved new rejected"`
}

// UsersByRole lists users of one role for the admin tabs. The pending tab
// also holds users that never applied; applicants come first, oldest
// submission first.
func (h *AdminHandler) UsersByRole(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.UsersByRole")
	defer span.End()

	role := model.Role(c.Param("role"))
	if !role.Valid() {
		Fail(c, http.StatusBadRequest, "Invalid role")
		return
	}
	page := queryInt(c, "page", 1)
	perPage := min(queryInt(c, "per_page", defaultPerPage), maxPerPage)
	span.SetAttributes(attribute.String("role", string(role)), attribute.Int("page", page))

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list users", "error", err)
		internalError(c)
		return
	}
	latest, err := h.latestApplications(c)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list applications", "error", err)
		internalError(c)
		return
	}

	matches := func(u *model.User) bool { return u.Role == role }
	if role == model.RolePending {
		matches = func(u *model.User) bool { return u.Role == model.RolePending || u.Role == model.RoleNew }
	}

	list := make([]adminUser, 0)
	for _, u := range users {
		if !matches(u) {
			continue
		}
		entry := adminUser{UserSummary: u.Summary(), CreatedAt: u.CreatedAt, LastLogin: u.LastLogin}
		if app, ok := latest[u.ID]; ok {
			entry.HasApplication = true
			entry.ApplicationID = app.ID
			entry.ApplicationStatus = app.Status
			entry.submittedAt = app.SubmittedAt
		}
		list = append(list, entry)
	}

	if role == model.RolePending {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.HasApplication != b.HasApplication {
				return a.HasApplication
			}
			if a.HasApplication {
				return a.submittedAt.Before(b.submittedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		})
	} else {
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	}

	total := len(list)
	start := total
	if page-1 <= total/perPage {
		start = min((page-1)*perPage, total)
	}
	end := min(start+perPage, total)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"users":   list[start:end],
		"pagination": pagination{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			Pages:   (total + perPage - 1) / perPage,
		},
	})
}

func (h *AdminHandler) UserDetail(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.UserDetail")
	defer span.End()

	u, err := h.users.GetUserByID(ctx, c.Param("user_id"))
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "User not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	entry := adminUser{UserSummary: u.Summary(), CreatedAt: u.CreatedAt, LastLogin: u.LastLogin}
	app, err := h.apps.LatestApplicationByUser(ctx, u.ID)
	switch {
	case err == nil:
		entry.HasApplication = true
		entry.ApplicationID = app.ID
		entry.ApplicationStatus = app.Status
	case !errors.Is(err, model.ErrNotFound):
		span.RecordError(err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": entry})
}

// ChangeRole sets the role of a user. Resetting a user to new removes their
// applications so they can apply again.
func (h *AdminHandler) ChangeRole(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.ChangeRole")
	defer span.End()

	var req changeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || validate.Struct(req) != nil {
		Fail(c, http.StatusBadRequest, "Invalid role")
		return
	}
	actor := CurrentUser(c)

	u, err := h.users.GetUserByID(ctx, req.UserID)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "User not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}

	previous := u.Role
	if req.Role == model.RoleNew {
		n, err := h.apps.DeleteApplicationsByUser(ctx, u.ID)
		if err != nil {
			span.RecordError(err)
			h.logger.ErrorContext(ctx, "could not remove applications", "user", u.ID, "error", err)
			internalError(c)
			return
		}
		span.SetAttributes(attribute.Int("applications.removed", n))
	}
	u.Role = req.Role
	if err := h.users.UpdateUser(ctx, u); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not change role", "user", u.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "role changed", "user", u.ID, "from", previous, "role", u.Role, "by", actor.ID)

	if h.notifier != nil && previous != u.Role {
		if err := h.notifier.RoleChanged(ctx, u, previous, u.Role); err != nil {
			span.RecordError(err)
			h.logger.ErrorContext(ctx, "could not send role change notice", "user", u.ID, "error", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  "User role changed to " + string(req.Role),
		"user_id":  u.ID,
		"new_role": req.Role,
	})
}

// DeleteUser removes a user with their applications, RSVPs and no-shows.
// Admins, the acting user and hosts of events cannot be deleted.
func (h *AdminHandler) DeleteUser(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.DeleteUser")
	defer span.End()

	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil || validate.Struct(req) != nil {
		Fail(c, http.StatusBadRequest, "Missing user_id")
		return
	}
	actor := CurrentUser(c)
	if req.UserID == actor.ID {
		Fail(c, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	u, err := h.users.GetUserByID(ctx, req.UserID)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "User not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	if u.Role == model.RoleAdmin {
		Fail(c, http.StatusForbidden, "Admin users cannot be deleted")
		return
	}

	events, err := h.events.ListEvents(ctx)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	hosted := make([]hostedEvent, 0)
	for _, e := range events {
		role := ""
		switch u.ID {
		case e.OrganizerID:
			role = "Organizer"
		case e.CoHostID:
			role = "Co-host"
		default:
			continue
		}
		hosted = append(hosted, hostedEvent{ID: e.ID, Title: e.Title, Date: e.Date.Format("2006-01-02"), Role: role})
	}
	if len(hosted) > 0 {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"success":       false,
			"message":       "Cannot delete " + u.Name + " because they are still hosting events. Please reassign these events first.",
			"hosted_events": hosted,
		})
		return
	}

	if _, err := h.apps.DeleteApplicationsByUser(ctx, u.ID); err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	if err := h.attendance.RemoveUser(ctx, u.ID); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not remove rsvps", "user", u.ID, "error", err)
		internalError(c)
		return
	}
	if err := h.noShows.DeleteNoShowsByUser(ctx, u.ID); err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	if err := h.users.DeleteUser(ctx, u.ID); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not delete user", "user", u.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "user deleted", "user", u.ID, "by", actor.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "User " + u.Name + " deleted successfully"})
}

// Dashboard summarises the community for the basic-auth admin area.
func (h *AdminHandler) Dashboard(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.Dashboard")
	defer span.End()

	users, err := h.users.ListUsers(ctx)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	events, err := h.events.ListEvents(ctx)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	apps, err := h.apps.ListApplications(ctx)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}

	roles := map[model.Role]int{}
	for _, u := range users {
		roles[u.Role]++
	}
	active := 0
	for _, e := range events {
		if e.IsActive {
			active++
		}
	}
	pending := 0
	for _, a := range apps {
		if a.Status == model.ApplicationPending {
			pending++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"users":                roles,
		"events":               len(events),
		"active_events":        active,
		"pending_applications": pending,
		"live_viewers":         h.hub.Viewers(),
	})
}

// IssueToken mints a session token for an existing user.
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "AdminHandler.IssueToken")
	defer span.End()

	u, err := h.users.GetUserByID(ctx, c.PostForm("user_id"))
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "User not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	token, err := h.issuer.Issue(u.ID, u.Provider)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not issue token", "user", u.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "token issued", "user", u.ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token})
}

func (h *AdminHandler) latestApplications(c *gin.Context) (map[string]*model.Application, error) {
	apps, err := h.apps.ListApplications(c.Request.Context())
	if err != nil {
		return nil, err
	}
	latest := make(map[string]*model.Application, len(apps))
	for _, a := range apps {
		if prev, ok := latest[a.UserID]; !ok || a.SubmittedAt.After(prev.SubmittedAt) {
			latest[a.UserID] = a
		}
	}
	return latest, nil
}
