// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

func NewNoShowHandler(events db.EventStore, noShows db.NoShowStore, svc *attendance.Service) *NoShowHandler {
	return &NoShowHandler{
		logger:     slog.Default().WithGroup("http"),
		events:     events,
		noShows:    noShows,
		attendance: svc,
		now:        time.Now,
	}
}

// NoShowHandler lets the hosts of an event record who said yes but did not
// come.
type NoShowHandler struct {
	logger     *slog.Logger
	events     db.EventStore
	noShows    db.NoShowStore
	attendance *attendance.Service
	now        func() time.Time
}

// List returns the no-shows of an event with the total no-show count of
// every user named.
func (h *NoShowHandler) List(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "NoShowHandler.List")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	list, err := h.noShows.ListNoShowsByEvent(ctx, event.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list no-shows", "event", event.ID, "error", err)
		internalError(c)
		return
	}
	all, err := h.noShows.NoShowCounts(ctx)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	counts := make(map[string]int, len(list))
	for _, ns := range list {
		counts[ns.UserID] = all[ns.UserID]
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "no_shows": list, "counts": counts})
}

func (h *NoShowHandler) Mark(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "NoShowHandler.Mark")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	if h.now().Before(event.Starts()) {
		Fail(c, http.StatusBadRequest, "No-shows can only be recorded once the event has started.")
		return
	}
	userID := c.Param("user_id")
	status, err := h.attendance.StatusOf(ctx, event.ID, userID)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	if status != model.StatusYes {
		Fail(c, http.StatusBadRequest, "Only attendees can be marked as no-show.")
		return
	}
	notes := strings.TrimSpace(c.PostForm("notes"))
	if utf8.RuneCountInString(notes) > attendance.MaxNotesLength {
		Fail(c, http.StatusBadRequest, "Notes can be at most 500 characters.")
		return
	}

	ns := &model.NoShow{
		EventID:  event.ID,
		UserID:   userID,
		MarkedAt: h.now(),
		MarkedBy: CurrentUser(c).ID,
		Notes:    notes,
	}
	err = h.noShows.MarkNoShow(ctx, ns)
	if errors.Is(err, model.ErrConflict) {
		Fail(c, http.StatusConflict, "This user is already marked as no-show.")
		return
	} else if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not mark no-show", "event", event.ID, "user", userID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "no-show marked", "event", event.ID, "user", userID, "by", ns.MarkedBy)
	c.JSON(http.StatusCreated, gin.H{"success": true, "no_show": ns})
}

func (h *NoShowHandler) Clear(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "NoShowHandler.Clear")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	userID := c.Param("user_id")
	err := h.noShows.ClearNoShow(ctx, event.ID, userID)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "No no-show recorded for this user.")
		return
	} else if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not clear no-show", "event", event.ID, "user", userID, "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "No-show removed."})
}

// loadEvent loads the event if the current user may manage its attendance.
func (h *NoShowHandler) loadEvent(c *gin.Context) (*model.Event, bool) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event not found.")
		return nil, false
	}
	event, err := h.events.GetEventByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "Event not found.")
		return nil, false
	} else if err != nil {
		h.logger.ErrorContext(ctx, "could not read event", "event", id, "error", err)
		internalError(c)
		return nil, false
	}
	user := CurrentUser(c)
	if !user.CanOrganize() && !event.IsHost(user.ID) {
		Fail(c, http.StatusForbidden, "Only organizers can track no-shows.")
		return nil, false
	}
	return event, true
}
