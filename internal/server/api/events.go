// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/attendance"
	"github.com/cosypolyamory/site/internal/control"
	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/live"
	"github.com/cosypolyamory/site/internal/model"
	"github.com/cosypolyamory/site/internal/parser/form"
)

func NewEventHandler(
	events db.EventStore,
	users db.UserStore,
	notes db.EventNoteStore,
	svc *attendance.Service,
	hub *live.Hub,
) *EventHandler {
	return &EventHandler{
		logger:     slog.Default().WithGroup("http"),
		events:     events,
		users:      users,
		notes:      notes,
		attendance: svc,
		hub:        hub,
		now:        time.Now,
	}
}

type EventHandler struct {
	logger     *slog.Logger
	events     db.EventStore
	users      db.UserStore
	notes      db.EventNoteStore
	attendance *attendance.Service
	hub        *live.Hub
	now        func() time.Time
}

type eventSummary struct {
	Event       *model.Event           `json:"event"`
	TimeDisplay string                 `json:"time_display"`
	Counts      model.AttendanceCounts `json:"counts"`
}

// List returns active events. Past events are included with ?past=true.
func (h *EventHandler) List(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.List")
	defer span.End()

	events, err := h.events.ListEvents(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list events", "error", err)
		internalError(c)
		return
	}

	member := isMember(CurrentUser(c))
	past := c.Query("past") == "true"
	now := h.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	out := make([]eventSummary, 0, len(events))
	for _, e := range events {
		// Events running past midnight stay listed until they end.
		if !e.IsActive || (!past && e.Date.Before(today) && e.Ends().Before(today)) {
			continue
		}
		counts, err := h.attendance.Counts(ctx, e.ID)
		if err != nil {
			h.logger.WarnContext(ctx, "could not count attendance", "event", e.ID, "error", err)
		}
		view := e
		if !member {
			view = e.PublicView()
		}
		out = append(out, eventSummary{Event: view, TimeDisplay: e.PublicTimeDisplay(), Counts: counts})
	}
	if past {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Event.Date.After(out[j].Event.Date) })
	}
	c.JSON(http.StatusOK, out)
}

// Get shows one event. Private details and the attendee list are reserved
// for approved members.
func (h *EventHandler) Get(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Get")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}

	counts, err := h.attendance.Counts(ctx, event.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not count attendance", "event", event.ID, "error", err)
		internalError(c)
		return
	}

	user := CurrentUser(c)
	resp := gin.H{
		"event":        event.PublicView(),
		"time_display": event.PublicTimeDisplay(),
		"counts":       counts,
	}
	if user != nil {
		status, err := h.attendance.StatusOf(ctx, event.ID, user.ID)
		if err != nil {
			span.RecordError(err)
			h.logger.ErrorContext(ctx, "could not read attendance", "event", event.ID, "error", err)
			internalError(c)
			return
		}
		resp["user_status"] = status
		resp["is_host"] = event.IsHost(user.ID)
	}
	if isMember(user) {
		entries, err := h.attendance.Attendance(ctx, event)
		if err != nil {
			span.RecordError(err)
			h.logger.ErrorContext(ctx, "could not list attendance", "event", event.ID, "error", err)
			internalError(c)
			return
		}
		resp["event"] = event
		resp["attendance"] = entries
		if event.EventNoteID != 0 {
			note, err := h.notes.GetEventNoteByID(ctx, event.EventNoteID)
			if err == nil {
				resp["event_note"] = note
			} else if !errors.Is(err, model.ErrNotFound) {
				span.RecordError(err)
				h.logger.WarnContext(ctx, "could not read event note", "event", event.ID, "note", event.EventNoteID, "error", err)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Control renders the attendance control of the current user. The class
// query parameter carries the style of the control being replaced.
func (h *EventHandler) Control(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Control")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	user := CurrentUser(c)
	status, err := h.attendance.StatusOf(ctx, event.ID, user.ID)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not read attendance", "event", event.ID, "error", err)
		internalError(c)
		return
	}

	view := control.Build(status, strconv.FormatUint(event.ID, 10), control.ParseStyle(c.Query("class")))
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := control.Render(c.Writer, view); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "unable to execute attendance control template", "error", err)
	}
}

func (h *EventHandler) Create(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Create")
	defer span.End()

	user := CurrentUser(c)
	event := &model.Event{}
	if !h.parseEventForm(c, event) {
		return
	}
	event.OrganizerID = user.ID
	event.IsActive = true

	id, err := h.events.CreateEvent(ctx, event)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not create event", "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "event created", "event", id, "organizer", user.ID)
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"id":      id,
		"message": `Event "` + event.Title + `" has been created successfully!`,
	})
}

func (h *EventHandler) Update(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Update")
	defer span.End()

	event, ok := h.loadManagedEvent(c)
	if !ok {
		return
	}
	if !h.parseEventForm(c, event) {
		return
	}
	if err := h.events.UpdateEvent(ctx, event); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not update event", "event", event.ID, "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Event updated."})
}

// Cancel marks an event inactive. RSVPs are kept.
func (h *EventHandler) Cancel(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Cancel")
	defer span.End()

	event, ok := h.loadManagedEvent(c)
	if !ok {
		return
	}
	if !event.IsActive {
		Fail(c, http.StatusConflict, "This event has been cancelled.")
		return
	}
	event.IsActive = false
	if err := h.events.UpdateEvent(ctx, event); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not cancel event", "event", event.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "event cancelled", "event", event.ID, "by", CurrentUser(c).ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Event cancelled."})
}

// RSVP changes the attendance of the current user. The response is the only
// state the attendance control renders from.
func (h *EventHandler) RSVP(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.RSVP")
	defer span.End()

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event not found.")
		return
	}
	status := c.PostForm("status")
	span.SetAttributes(attribute.Int64("event.id", int64(id)), attribute.String("rsvp.status", status))

	result, err := h.attendance.ChangeStatus(ctx, CurrentUser(c).ID, id, status, c.PostForm("notes"))
	if err != nil {
		h.fail(c, span, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EventHandler) MoveRSVP(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.MoveRSVP")
	defer span.End()

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event not found.")
		return
	}
	result, err := h.attendance.Move(ctx, CurrentUser(c).ID, id, c.Param("user_id"), c.PostForm("status"))
	if err != nil {
		h.fail(c, span, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *EventHandler) RemoveRSVP(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.RemoveRSVP")
	defer span.End()

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event not found.")
		return
	}
	result, err := h.attendance.Remove(ctx, CurrentUser(c).ID, id, c.Param("user_id"))
	if err != nil {
		h.fail(c, span, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type bulkEntries []attendance.BulkEntry

// UnmarshalJSON accepts a user id, [user id] or [user id, notify] per entry.
// Notify defaults to true.
func (b *bulkEntries) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(bulkEntries, 0, len(raw))
	for _, item := range raw {
		entry := attendance.BulkEntry{Notify: true}
		var id string
		if err := json.Unmarshal(item, &id); err == nil {
			entry.UserID = id
			out = append(out, entry)
			continue
		}
		var pair []json.RawMessage
		if err := json.Unmarshal(item, &pair); err != nil {
			return err
		}
		if len(pair) == 0 || len(pair) > 2 {
			return errors.New("attendance entry needs a user id and an optional notify flag")
		}
		if err := json.Unmarshal(pair[0], &entry.UserID); err != nil {
			return err
		}
		if len(pair) == 2 {
			if err := json.Unmarshal(pair[1], &entry.Notify); err != nil {
				return err
			}
		}
		out = append(out, entry)
	}
	*b = out
	return nil
}

type manageAttendanceRequest struct {
	Yes    bulkEntries `json:"attendance_yes"`
	No     bulkEntries `json:"attendance_no"`
	Maybe  bulkEntries `json:"attendance_maybe"`
	Remove []string    `json:"remove_attendance"`
}

// ManageAttendance applies several attendance changes to one event at once.
func (h *EventHandler) ManageAttendance(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.ManageAttendance")
	defer span.End()

	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event not found.")
		return
	}
	var req manageAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "could not parse attendance update", "error", err)
		Fail(c, http.StatusBadRequest, "Invalid attendance data.")
		return
	}
	result, err := h.attendance.ManageAttendance(ctx, CurrentUser(c).ID, id, attendance.BulkUpdate{
		Yes:    req.Yes,
		No:     req.No,
		Maybe:  req.Maybe,
		Remove: req.Remove,
	})
	if err != nil {
		h.fail(c, span, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Live subscribes a websocket to the attendance counts of an event.
func (h *EventHandler) Live(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventHandler.Live")
	defer span.End()

	event, ok := h.loadEvent(c)
	if !ok {
		return
	}
	counts, err := h.attendance.Counts(ctx, event.ID)
	if err != nil {
		span.RecordError(err)
		internalError(c)
		return
	}
	if err := h.hub.Serve(c.Writer, c.Request, event.ID, counts); err != nil {
		span.RecordError(err)
		h.logger.WarnContext(ctx, "websocket upgrade failed", "event", event.ID, "error", err)
	}
}

func (h *EventHandler) loadEvent(c *gin.Context) (*model.Event, bool) {
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
	return event, true
}

// loadManagedEvent loads the event if the current user hosts it or is an
// admin.
func (h *EventHandler) loadManagedEvent(c *gin.Context) (*model.Event, bool) {
	event, ok := h.loadEvent(c)
	if !ok {
		return nil, false
	}
	user := CurrentUser(c)
	if !event.IsHost(user.ID) && user.Role != model.RoleAdmin {
		Fail(c, http.StatusForbidden, "Only the hosts of this event can change it.")
		return nil, false
	}
	return event, true
}

// parseEventForm applies the posted form to event and validates the result.
func (h *EventHandler) parseEventForm(c *gin.Context, event *model.Event) bool {
	ctx := c.Request.Context()
	if err := c.Request.ParseForm(); err != nil {
		h.logger.ErrorContext(ctx, "could not parse form", "error", err)
		Fail(c, http.StatusBadRequest, "could not parse form")
		return false
	}
	if err := form.Unmarshal(c.Request.PostForm, event, form.UncheckedFalse()); err != nil {
		h.logger.WarnContext(ctx, "could not parse event", "error", err)
		Fail(c, http.StatusBadRequest, "Error creating event: "+err.Error())
		return false
	}
	event.TimePeriod = strings.ToLower(event.TimePeriod)
	if err := validate.Struct(event); err != nil {
		Fail(c, http.StatusBadRequest, "Error creating event: "+err.Error())
		return false
	}
	if event.EndTime != nil && !event.ExactTime.IsZero() && !event.EndTime.After(event.ExactTime) {
		Fail(c, http.StatusBadRequest, "The end time must be after the start time.")
		return false
	}
	if event.MapsLink == "" || !strings.Contains(strings.ToLower(event.MapsLink), "maps.google") {
		Fail(c, http.StatusBadRequest, "Please provide a valid Google Maps link.")
		return false
	}
	if event.EventNoteID != 0 {
		if _, err := h.notes.GetEventNoteByID(ctx, event.EventNoteID); err != nil {
			Fail(c, http.StatusBadRequest, "Event note not found.")
			return false
		}
	}
	if event.CoHostID != "" {
		cohost, err := h.users.GetUserByID(ctx, event.CoHostID)
		if err != nil {
			Fail(c, http.StatusBadRequest, "Co-host not found.")
			return false
		}
		if !cohost.CanOrganize() {
			Fail(c, http.StatusBadRequest, "Co-host must be an organizer.")
			return false
		}
	}
	return true
}

// fail maps attendance errors onto HTTP responses that always carry a
// message.
func (h *EventHandler) fail(c *gin.Context, span trace.Span, err error) {
	ctx := c.Request.Context()
	span.RecordError(err)

	var rej *attendance.Rejection
	if !errors.As(err, &rej) {
		span.SetStatus(codes.Error, err.Error())
		h.logger.ErrorContext(ctx, "attendance change failed", "error", err)
		internalError(c)
		return
	}

	code := http.StatusBadRequest
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, model.ErrEventInactive), errors.Is(err, model.ErrConflict):
		code = http.StatusConflict
	}
	h.logger.WarnContext(ctx, "attendance change rejected", "reason", rej.Message)
	Fail(c, code, rej.Message)
}

func isMember(u *model.User) bool {
	return u != nil && u.IsApprovedMember()
}
