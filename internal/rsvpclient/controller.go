// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package rsvpclient drives the attendance controls shown next to an event.
// Every status change is sent to the site and the control is rebuilt from
// the status the site answers with.
package rsvpclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/control"
	"github.com/cosypolyamory/site/internal/model"
)

// GenericFailure is shown when the site could not be reached.
const GenericFailure = "Could not update your RSVP. Please try again."

type ToastKind string

const (
	ToastSuccess ToastKind = "success"
	ToastError   ToastKind = "error"
)

// Hooks lets the page react to settled status changes.
type Hooks interface {
	ShowToast(message string, kind ToastKind)
	UpdateAttendeeInfo(eventID string, result *model.RSVPResult)
}

type NopHooks struct{}

func (NopHooks) ShowToast(string, ToastKind) {}
func (NopHooks) UpdateAttendeeInfo(string, *model.RSVPResult) {}

// Outcome tells what a Click or Submit did.
type Outcome int

const (
	// Applied means the control was rebuilt from the answer of the site.
	Applied Outcome = iota
	// Rejected means the site refused the change; the previous control is back.
	Rejected
	// Failed means no answer arrived; the previous control is back.
	Failed
	// Dropped means an identical request was in flight or the control was busy.
	Dropped
	// Aborted means there is no control for the event.
	Aborted
	// Invalid means the input never qualified for a request.
	Invalid
	// Stale means a newer answer was applied first and this one was discarded.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	case Failed:
		return "failed"
	case Dropped:
		return "dropped"
	case Aborted:
		return "aborted"
	case Invalid:
		return "invalid"
	case Stale:
		return "stale"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

type Option func(*Controller)

func WithHooks(h Hooks) Option {
	return func(c *Controller) { c.hooks = h }
}

// WithStaleResponseGuard discards answers that settle after a newer answer
// for the same event was applied. Without it the last answer wins.
func WithStaleResponseGuard() Option {
	return func(c *Controller) { c.staleGuard = true }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

type container struct {
	view    control.View
	markup  string
	issued  uint64
	applied uint64
}

type Controller struct {
	logger     *slog.Logger
	transport  Transport
	hooks      Hooks
	pending    *PendingSet
	staleGuard bool

	mu         sync.Mutex
	containers map[string]*container
}

func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		logger:     slog.Default().WithGroup("rsvpclient"),
		transport:  transport,
		hooks:      NopHooks{},
		pending:    NewPendingSet(),
		containers: make(map[string]*container),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount renders the control of an event with its current status.
func (c *Controller) Mount(eventID string, status model.AttendanceStatus, style control.Style) error {
	v := control.Build(status, eventID, style)
	markup, err := control.RenderString(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.containers[eventID] = &container{view: v, markup: markup}
	return nil
}

func (c *Controller) Unmount(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.containers, eventID)
}

// View returns the control currently shown for the event.
func (c *Controller) View(eventID string) (control.View, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.containers[eventID]
	if !ok {
		return control.View{}, false
	}
	return ct.view, true
}

func (c *Controller) Markup(eventID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.containers[eventID]
	if !ok {
		return "", false
	}
	return ct.markup, true
}

func (c *Controller) Pending() *PendingSet { return c.pending }

// Click is a press on one of the controls. Presses on a busy control are
// ignored.
func (c *Controller) Click(ctx context.Context, eventID string, status model.AttendanceStatus) Outcome {
	v, ok := c.View(eventID)
	if !ok {
		c.logger.DebugContext(ctx, "no attendance container", "event", eventID)
		return Aborted
	}
	if v.Disabled {
		return Dropped
	}
	return c.Submit(ctx, eventID, status)
}

// Submit sends a status change and settles the control with the answer.
func (c *Controller) Submit(ctx context.Context, eventID string, status model.AttendanceStatus) Outcome {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Controller.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", eventID), attribute.String("rsvp.status", string(status)))

	if eventID == "" || !status.Interactive() {
		return Invalid
	}
	if !c.pending.Acquire(eventID, status) {
		span.AddEvent("duplicate request dropped")
		return Dropped
	}
	defer c.pending.Release(eventID, status)

	previous, seq, ok := c.begin(eventID)
	if !ok {
		c.logger.DebugContext(ctx, "no attendance container", "event", eventID)
		return Aborted
	}

	result, err := c.send(ctx, eventID, status)
	switch {
	case err != nil:
		span.RecordError(err)
		c.logger.WarnContext(ctx, "rsvp request failed", "event", eventID, "status", status, "error", err)
		if !c.restore(eventID, previous, seq) {
			return Stale
		}
		c.hooks.ShowToast(GenericFailure, ToastError)
		return Failed
	case !result.Success:
		if !c.restore(eventID, previous, seq) {
			return Stale
		}
		msg := result.Message
		if msg == "" {
			msg = GenericFailure
		}
		c.hooks.ShowToast(msg, ToastError)
		return Rejected
	}

	next := control.Build(result.Status, eventID, previous.Style)
	if !c.apply(ctx, eventID, next, seq) {
		return Stale
	}
	c.hooks.ShowToast(result.Message, ToastSuccess)
	c.hooks.UpdateAttendeeInfo(eventID, result)
	return Applied
}

// send calls the transport. A panicking transport counts as a failed request.
func (c *Controller) send(ctx context.Context, eventID string, status model.AttendanceStatus) (result *model.RSVPResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrTransport, r)
		}
	}()
	result, err = c.transport.ChangeStatus(ctx, eventID, status)
	if err == nil && result == nil {
		err = fmt.Errorf("%w: empty answer", ErrTransport)
	}
	return result, err
}

// begin puts the control into its loading state and returns what to restore.
func (c *Controller) begin(eventID string) (control.View, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.containers[eventID]
	if !ok {
		return control.View{}, 0, false
	}
	previous := ct.view
	// A control that is already loading belongs to another request; restore
	// to what was shown before that one.
	if previous.Disabled {
		previous = control.Build(previous.Status, eventID, previous.Style)
	}
	ct.issued++
	c.setView(ct, previous.Loading())
	return previous, ct.issued, true
}

func (c *Controller) restore(eventID string, previous control.View, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.containers[eventID]
	if !ok || c.stale(ct, seq) {
		return false
	}
	c.setView(ct, previous)
	return true
}

func (c *Controller) apply(ctx context.Context, eventID string, v control.View, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.containers[eventID]
	if !ok {
		c.logger.DebugContext(ctx, "attendance container gone", "event", eventID)
		return false
	}
	if c.stale(ct, seq) {
		return false
	}
	ct.applied = seq
	c.setView(ct, v)
	return true
}

func (c *Controller) stale(ct *container, seq uint64) bool {
	return c.staleGuard && seq < ct.applied
}

func (c *Controller) setView(ct *container, v control.View) {
	markup, err := control.RenderString(v)
	if err != nil {
		c.logger.Error("unable to render attendance control", "error", err)
		return
	}
	ct.view = v
	ct.markup = markup
}
