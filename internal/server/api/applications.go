// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jeremywohl/flatten/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

// ReviewNotifier tells applicants about the outcome of their review.
type ReviewNotifier interface {
	ApplicationReviewed(ctx context.Context, user *model.User, app *model.Application) error
}

func NewApplicationHandler(
	apps db.ApplicationStore,
	users db.UserStore,
	notifier ReviewNotifier,
	questions []string,
) *ApplicationHandler {
	return &ApplicationHandler{
		logger:    slog.Default().WithGroup("http"),
		apps:      apps,
		users:     users,
		notifier:  notifier,
		questions: questions,
		now:       time.Now,
	}
}

type ApplicationHandler struct {
	logger    *slog.Logger
	apps      db.ApplicationStore
	users     db.UserStore
	notifier  ReviewNotifier
	questions []string
	now       func() time.Time
}

type submitRequest struct {
	Answers map[string]any `json:"answers" validate:"required,min=1"`
}

type reviewRequest struct {
	Action string `json:"action" validate:"required,oneof=accept reject"`
	Notes  string `json:"notes" validate:"max=2000"`
}

type applicationDetail struct {
	ID          uint64                  `json:"id"`
	UserID      string                  `json:"user_id"`
	UserName    string                  `json:"user_name"`
	UserEmail   string                  `json:"user_email"`
	Status      model.ApplicationStatus `json:"status"`
	SubmittedAt time.Time               `json:"submitted_at"`
	ReviewedAt  *time.Time              `json:"reviewed_at"`
	ReviewedBy  string                  `json:"reviewed_by"`
	ReviewNotes string                  `json:"review_notes"`
	// Answers is keyed by dotted path, e.g. "question_3.languages.0".
	Answers map[string]any `json:"answers"`
}

// Submit files a membership application for the current user.
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "ApplicationHandler.Submit")
	defer span.End()

	user := CurrentUser(c)
	if user.IsApprovedMember() {
		Fail(c, http.StatusConflict, "You are already a member.")
		return
	}
	if user.Role == model.RolePending {
		prev, err := h.apps.LatestApplicationByUser(ctx, user.ID)
		switch {
		case err == nil && prev.Status == model.ApplicationPending:
			Fail(c, http.StatusConflict, "Your application is already under review.")
			return
		case err != nil && !errors.Is(err, model.ErrNotFound):
			span.RecordError(err)
			internalError(c)
			return
		}
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "could not parse application")
		return
	}
	if err := validate.Struct(req); err != nil {
		Fail(c, http.StatusBadRequest, "Please answer the application questions.")
		return
	}

	app := &model.Application{UserID: user.ID, Answers: req.Answers, SubmittedAt: h.now()}
	id, err := h.apps.CreateApplication(ctx, app)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not create application", "error", err)
		internalError(c)
		return
	}
	user.Role = model.RolePending
	if err := h.users.UpdateUser(ctx, user); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not update user", "user", user.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "application submitted", "application", id, "user", user.ID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
}

// Status shows the latest application of the current user.
func (h *ApplicationHandler) Status(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "ApplicationHandler.Status")
	defer span.End()

	user := CurrentUser(c)
	app, err := h.apps.LatestApplicationByUser(ctx, user.ID)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "No application found.")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"status":       app.Status,
		"submitted_at": app.SubmittedAt,
		"reviewed_at":  app.ReviewedAt,
	})
}

func (h *ApplicationHandler) Questions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "questions": h.questions})
}

func (h *ApplicationHandler) Get(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "ApplicationHandler.Get")
	defer span.End()

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Application not found")
		return
	}
	app, err := h.apps.GetApplicationByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "Application not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	h.respondDetail(c, app)
}

func (h *ApplicationHandler) ByUser(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "ApplicationHandler.ByUser")
	defer span.End()

	app, err := h.apps.LatestApplicationByUser(ctx, c.Param("user_id"))
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "No application found for this user")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	h.respondDetail(c, app)
}

// Review accepts or rejects an application and updates the role of the
// applicant to match.
func (h *ApplicationHandler) Review(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "ApplicationHandler.Review")
	defer span.End()

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || validate.Struct(req) != nil {
		Fail(c, http.StatusBadRequest, "Invalid action")
		return
	}
	span.SetAttributes(attribute.String("review.action", req.Action))

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Application not found")
		return
	}
	app, err := h.apps.GetApplicationByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "Application not found")
		return
	} else if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	applicant, err := h.users.GetUserByID(ctx, app.UserID)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "applicant missing", "application", id, "user", app.UserID, "error", err)
		Fail(c, http.StatusNotFound, "Application not found")
		return
	}

	now := h.now()
	app.ReviewedAt = &now
	app.ReviewedBy = CurrentUser(c).ID
	app.ReviewNotes = req.Notes
	if req.Action == "accept" {
		app.Status = model.ApplicationApproved
		applicant.Role = model.RoleApproved
	} else {
		app.Status = model.ApplicationRejected
		applicant.Role = model.RoleRejected
	}

	if err := h.apps.UpdateApplication(ctx, app); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not update application", "application", id, "error", err)
		internalError(c)
		return
	}
	if err := h.users.UpdateUser(ctx, applicant); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not update applicant", "user", applicant.ID, "error", err)
		internalError(c)
		return
	}
	if h.notifier != nil {
		if err := h.notifier.ApplicationReviewed(ctx, applicant, app); err != nil {
			h.logger.ErrorContext(ctx, "could not notify applicant", "user", applicant.ID, "error", err)
		}
	}
	h.logger.InfoContext(ctx, "application reviewed", "application", id, "status", app.Status, "by", app.ReviewedBy)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ApplicationHandler) respondDetail(c *gin.Context, app *model.Application) {
	ctx := c.Request.Context()

	detail := applicationDetail{
		ID:          app.ID,
		UserID:      app.UserID,
		Status:      app.Status,
		SubmittedAt: app.SubmittedAt,
		ReviewedAt:  app.ReviewedAt,
		ReviewNotes: app.ReviewNotes,
		Answers:     map[string]any{},
	}
	if u, err := h.users.GetUserByID(ctx, app.UserID); err == nil {
		detail.UserName = u.Name
		detail.UserEmail = u.Email
	}
	if app.ReviewedBy != "" {
		detail.ReviewedBy = app.ReviewedBy
		if reviewer, err := h.users.GetUserByID(ctx, app.ReviewedBy); err == nil {
			detail.ReviewedBy = reviewer.Name
		}
	}
	if len(app.Answers) > 0 {
		flat, err := flatten.Flatten(app.Answers, "", flatten.DotStyle)
		if err != nil {
			h.logger.ErrorContext(ctx, "could not flatten answers", "application", app.ID, "error", err)
			internalError(c)
			return
		}
		detail.Answers = flat
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "application": detail})
}
