// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

// Package jsondb reads seed data from a JSON file and copies it into the
// persistent stores.
package jsondb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/db"
	"github.com/cosypolyamory/site/internal/model"
)

type Fixtures struct {
	mu sync.RWMutex

	filename string
	Users    []*model.User  `json:"users"`
	Events   []*model.Event `json:"events"`
	RSVPs    []*model.RSVP  `json:"rsvps"`
}

// NewFixtures loads filename. A missing file yields the demo data set.
func NewFixtures(filename string) (*Fixtures, error) {
	f := &Fixtures{filename: filename}
	if err := f.loadFromFile(); err != nil {
		return nil, err
	}
	return f, nil
}

// Apply creates fixture records that do not exist yet. Existing users and
// events are left untouched; RSVPs are only added to empty rosters. Events
// without an id are created on every call.
func (f *Fixtures) Apply(ctx context.Context, users db.UserStore, events db.EventStore, rsvps db.RSVPStore) error {
	var span trace.Span
	ctx, span = tracer.Start(ctx, "Fixtures.Apply")
	defer span.End()

	f.mu.RLock()
	defer f.mu.RUnlock()

	logger := slog.Default().WithGroup("jsondb")
	span.AddEvent("seed", trace.WithAttributes(
		attribute.Int("users", len(f.Users)),
		attribute.Int("events", len(f.Events)),
		attribute.Int("rsvps", len(f.RSVPs)),
	))

	for _, u := range f.Users {
		if _, err := users.GetUserByID(ctx, u.ID); err == nil {
			continue
		} else if !errors.Is(err, model.ErrNotFound) {
			return err
		}
		if err := users.CreateUser(ctx, u); err != nil {
			span.RecordError(err)
			return fmt.Errorf("seed user %q: %w", u.ID, err)
		}
		logger.DebugContext(ctx, "seeded user", "id", u.ID)
	}

	for _, e := range f.Events {
		if e.ID != 0 {
			if _, err := events.GetEventByID(ctx, e.ID); err == nil {
				continue
			} else if !errors.Is(err, model.ErrNotFound) {
				return err
			}
		}
		if _, err := events.CreateEvent(ctx, e); err != nil {
			span.RecordError(err)
			return fmt.Errorf("seed event %q: %w", e.Title, err)
		}
		logger.DebugContext(ctx, "seeded event", "id", e.ID)
	}

	byEvent := make(map[uint64][]*model.RSVP)
	for _, r := range f.RSVPs {
		byEvent[r.EventID] = append(byEvent[r.EventID], r)
	}
	for eventID, list := range byEvent {
		err := rsvps.UpdateRoster(ctx, eventID, func(roster *model.Roster) error {
			if len(roster.RSVPs) > 0 {
				return nil
			}
			for _, r := range list {
				if r.CreatedAt.IsZero() {
					r.CreatedAt = time.Now()
				}
				r.UpdatedAt = r.CreatedAt
				roster.Add(r)
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("seed rsvps of event %d: %w", eventID, err)
		}
	}
	return nil
}

// loadFromFile loads fixture data from the JSON file.
func (f *Fixtures) loadFromFile() error {
	if _, err := os.Stat(f.filename); os.IsNotExist(err) {
		// File does not exist, fall back to the demo data
		f.Users, f.Events = createDemoData()
		return nil
	}

	fileData, err := os.ReadFile(f.filename)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return json.Unmarshal(fileData, f)
}

func createDemoData() ([]*model.User, []*model.Event) {
	date := time.Now().AddDate(0, 0, 14).Truncate(24 * time.Hour)
	users := []*model.User{
		{ID: "demo_organizer", Name: "Demo Organizer", Email: "organizer@example.org", Provider: "demo", Role: model.RoleOrganizer},
		{ID: "demo_member", Name: "Demo Member", Email: "member@example.org", Provider: "demo", Role: model.RoleApproved},
	}
	events := []*model.Event{
		{
			ID:                1,
			Title:             "Community picnic",
			Description:       "Bring something to share.",
			Barrio:            "Gràcia",
			TimePeriod:        "afternoon",
			Date:              date,
			EstablishmentName: "Park entrance",
			MapsLink:          "https://maps.google.com/?q=park",
			ExactTime:         date.Add(16 * time.Hour),
			OrganizerID:       "demo_organizer",
			MaxAttendees:      20,
			IsActive:          true,
			RequiresApproval:  true,
		},
	}
	return users, events
}
