// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package notify tells members about changes to their attendance and
// membership by e-mail.
package notify

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/mail"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

type Message struct {
	To      mail.Address
	Subject string
	Text    string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Mailer turns domain changes into messages for a Sender.
type Mailer struct {
	logger  *slog.Logger
	sender  Sender
	baseURL string
}

// NewMailer links to events below baseURL, e.g. "https://cosypolyamory.org".
func NewMailer(sender Sender, baseURL string) *Mailer {
	return &Mailer{
		logger:  slog.Default().WithGroup("notify"),
		sender:  sender,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (m *Mailer) AttendanceChanged(ctx context.Context, user *model.User, event *model.Event, status model.AttendanceStatus) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Mailer.AttendanceChanged", trace.WithAttributes(
		attribute.Int64("event.id", int64(event.ID)),
		attribute.String("rsvp.status", status.String()),
	))
	defer span.End()

	var subject, line string
	switch status {
	case model.StatusYes:
		subject = "You're going to " + event.Title
		line = "Your place is confirmed."
	case model.StatusWaitlist:
		subject = "You're on the waitlist for " + event.Title
		line = "The event is full. We'll let you know as soon as a place frees up."
	case model.StatusNo:
		subject = "RSVP updated for " + event.Title
		line = "You let us know you're not going."
	case model.StatusMaybe:
		subject = "RSVP updated for " + event.Title
		line = "You let us know you might come."
	default:
		subject = "RSVP cancelled for " + event.Title
		line = "Your RSVP was removed."
	}
	return m.send(ctx, span, user, subject, line, event)
}

func (m *Mailer) WaitlistPromoted(ctx context.Context, user *model.User, event *model.Event) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Mailer.WaitlistPromoted", trace.WithAttributes(attribute.Int64("event.id", int64(event.ID))))
	defer span.End()

	return m.send(ctx, span, user,
		"A place opened up at "+event.Title,
		"Good news! You have been moved from the waitlist to attending.",
		event)
}

func (m *Mailer) ApplicationReviewed(ctx context.Context, user *model.User, app *model.Application) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Mailer.ApplicationReviewed", trace.WithAttributes(attribute.String("application.status", string(app.Status))))
	defer span.End()

	subject, line := "Your membership application", "Unfortunately your application was not accepted."
	if app.Status == model.ApplicationApproved {
		subject, line = "Welcome to the community", "Your application was accepted. You can now RSVP to events."
	}
	return m.send(ctx, span, user, subject, line, nil)
}

// RoleChanged tells a user about a change of their role by an admin. Only
// promotions to organizer, the way back to member and a reset to new are
// announced; other changes send nothing.
func (m *Mailer) RoleChanged(ctx context.Context, user *model.User, from, to model.Role) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Mailer.RoleChanged", trace.WithAttributes(
		attribute.String("role.from", string(from)),
		attribute.String("role.to", string(to)),
	))
	defer span.End()

	var subject, line string
	switch {
	case from == model.RoleApproved && to == model.RoleOrganizer:
		subject = "You are now an organizer"
		line = "You can now create and host events for the community."
	case from == model.RoleOrganizer && to == model.RoleApproved:
		subject = "Your role has changed"
		line = "You are now a member. You can still RSVP to all events."
	case to == model.RoleNew && from != model.RoleNew && from != model.RoleAdmin:
		subject = "Please apply again"
		line = fmt.Sprintf("Your account was reset from %s and your application was removed. You are welcome to submit a new one.", from.Display())
	default:
		span.AddEvent("no notice for this change")
		return nil
	}
	return m.send(ctx, span, user, subject, line, nil)
}

// EventReminder is sent on the day of an event to everyone attending or
// waiting for a place.
func (m *Mailer) EventReminder(ctx context.Context, user *model.User, event *model.Event, status model.AttendanceStatus) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Mailer.EventReminder", trace.WithAttributes(attribute.Int64("event.id", int64(event.ID))))
	defer span.End()

	line := "See you today!"
	if !event.ExactTime.IsZero() {
		line = "See you today at " + event.ExactTime.Format("15:04") + "!"
	}
	if status == model.StatusWaitlist {
		line = "You are still on the waitlist. We'll let you know if a place frees up."
	}
	return m.send(ctx, span, user, "Today: "+event.Title, line, event)
}

func (m *Mailer) send(ctx context.Context, span trace.Span, user *model.User, subject, line string, event *model.Event) error {
	if user.Email == "" {
		span.AddEvent("no address")
		return nil
	}

	text := fmt.Sprintf("Hi %s,\n\n%s\n", user.Name, line)
	html := fmt.Sprintf("<p>Hi %s,</p><p>%s</p>", template.HTMLEscapeString(user.Name), template.HTMLEscapeString(line))
	if event != nil {
		link := fmt.Sprintf("%s/events/%d", m.baseURL, event.ID)
		text += fmt.Sprintf("\n%s\n%s\n", event.PublicTimeDisplay(), link)
		html += fmt.Sprintf(`<p>%s</p><p><a href="%s">%s</a></p>`,
			template.HTMLEscapeString(event.PublicTimeDisplay()),
			template.HTMLEscapeString(link),
			template.HTMLEscapeString(event.Title))
	}

	msg := Message{
		To:      mail.Address{Name: user.Name, Address: user.Email},
		Subject: subject,
		Text:    text,
		HTML:    html,
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("send %q to %s: %w", subject, user.ID, err)
	}
	m.logger.DebugContext(ctx, "mail sent", "user", user.ID, "subject", subject)
	return nil
}
