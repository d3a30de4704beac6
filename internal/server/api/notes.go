// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

func NewEventNoteHandler(notes db.EventNoteStore, events db.EventStore) *EventNoteHandler {
	return &EventNoteHandler{
		logger: slog.Default().WithGroup("http"),
		notes:  notes,
		events: events,
	}
}

type EventNoteHandler struct {
	logger *slog.Logger
	notes  db.EventNoteStore
	events db.EventStore
}

type noteUsage struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	ExactTime time.Time `json:"exact_time"`
}

func (h *EventNoteHandler) List(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventNoteHandler.List")
	defer span.End()

	notes, err := h.notes.ListEventNotes(ctx)
	if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not list event notes", "error", err)
		internalError(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notes": notes})
}

func (h *EventNoteHandler) Create(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventNoteHandler.Create")
	defer span.End()

	var note model.EventNote
	if err := c.ShouldBindJSON(&note); err != nil {
		Fail(c, http.StatusBadRequest, "Invalid event note")
		return
	}
	note.ID = 0
	note.Name = strings.TrimSpace(note.Name)
	note.Note = strings.TrimSpace(note.Note)
	if err := validate.Struct(note); err != nil {
		Fail(c, http.StatusBadRequest, "Event notes need a name of at most 100 characters and a text")
		return
	}

	id, err := h.notes.CreateEventNote(ctx, &note)
	if errors.Is(err, model.ErrConflict) {
		Fail(c, http.StatusConflict, `An event note named "`+note.Name+`" already exists`)
		return
	} else if err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not create event note", "error", err)
		internalError(c)
		return
	}
	note.ID = id
	h.logger.InfoContext(ctx, "event note created", "note", id, "by", CurrentUser(c).ID)
	c.JSON(http.StatusCreated, gin.H{"success": true, "note": note})
}

// Usage lists the events linking to a note. Notes in use cannot be deleted.
func (h *EventNoteHandler) Usage(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventNoteHandler.Usage")
	defer span.End()

	note, using, ok := h.load(c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("note.usage", len(using)))
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"note_id":           note.ID,
		"note_name":         note.Name,
		"events_using_note": using,
		"can_delete":        len(using) == 0,
	})
}

func (h *EventNoteHandler) Delete(c *gin.Context) {
	var span trace.Span
	ctx := c.Request.Context()
	ctx, span = tracer.Start(ctx, "EventNoteHandler.Delete")
	defer span.End()

	note, using, ok := h.load(c)
	if !ok {
		return
	}
	if len(using) > 0 {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"success":           false,
			"message":           `Event note "` + note.Name + `" is still used by events`,
			"events_using_note": using,
		})
		return
	}
	if err := h.notes.DeleteEventNote(ctx, note.ID); err != nil {
		span.RecordError(err)
		h.logger.ErrorContext(ctx, "could not delete event note", "note", note.ID, "error", err)
		internalError(c)
		return
	}
	h.logger.InfoContext(ctx, "event note deleted", "note", note.ID, "by", CurrentUser(c).ID)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": `Event note "` + note.Name + `" deleted`})
}

// load reads the note named by the id parameter and the events using it.
func (h *EventNoteHandler) load(c *gin.Context) (*model.EventNote, []noteUsage, bool) {
	ctx := c.Request.Context()
	id, ok := paramID(c, "id")
	if !ok {
		Fail(c, http.StatusNotFound, "Event note not found")
		return nil, nil, false
	}
	note, err := h.notes.GetEventNoteByID(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		Fail(c, http.StatusNotFound, "Event note not found")
		return nil, nil, false
	} else if err != nil {
		h.logger.ErrorContext(ctx, "could not read event note", "note", id, "error", err)
		internalError(c)
		return nil, nil, false
	}
	events, err := h.events.ListEvents(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "could not list events", "error", err)
		internalError(c)
		return nil, nil, false
	}
	using := make([]noteUsage, 0)
	for _, e := range events {
		if e.EventNoteID == note.ID {
			using = append(using, noteUsage{ID: e.ID, Title: e.Title, ExactTime: e.ExactTime})
		}
	}
	return note, using, true
}
