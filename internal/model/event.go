// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import (
	"fmt"
	"strings"
	"time"
)

type Event struct {
	ID          uint64    `json:"id" form:"-"`
	Title       string    `json:"title" form:"title" validate:"required,max=200"`
	Description string    `json:"description" form:"description"`
	Barrio      string    `json:"barrio" form:"barrio" validate:"required,max=100"`
	TimePeriod  string    `json:"time_period" form:"time_period" validate:"required,oneof=morning afternoon evening night"`
	Date        time.Time `json:"date" form:"date" validate:"required"`

	// Details below are only shown to approved members.
	EstablishmentName string     `json:"establishment_name,omitempty" form:"establishment_name"`
	MapsLink          string     `json:"google_maps_link,omitempty" form:"google_maps_link" validate:"omitempty,url"`
	LocationNotes     string     `json:"location_notes,omitempty" form:"location_notes"`
	ExactTime         time.Time  `json:"exact_time,omitempty" form:"exact_time"`
	EndTime           *time.Time `json:"end_time,omitempty" form:"end_time"`

	OrganizerID      string     `json:"organizer_id" form:"-"`
	CoHostID         string     `json:"co_host_id,omitempty" form:"co_host_id"`
	MaxAttendees     int        `json:"max_attendees,omitempty" form:"max_attendees" validate:"gte=0"`
	Tips             string     `json:"tips_for_attendees,omitempty" form:"tips_for_attendees"`
	IsActive         bool       `json:"is_active" form:"-"`
	RequiresApproval bool       `json:"requires_approval" form:"requires_approval"`
	EventNoteID      uint64     `json:"event_note_id,omitempty" form:"event_note_id"`
	CreatedAt        *time.Time `json:"created_at" form:"-"`
	UpdatedAt        *time.Time `json:"updated_at" form:"-"`
}

// IsHost reports whether userID organises or co-hosts the event.
func (e *Event) IsHost(userID string) bool {
	return userID != "" && (e.OrganizerID == userID || e.CoHostID == userID)
}

// HasCapacity reports whether the event limits attendance.
func (e *Event) HasCapacity() bool { return e.MaxAttendees > 0 }

// PublicView strips the details reserved for approved members.
func (e *Event) PublicView() *Event {
	pub := *e
	pub.EstablishmentName = ""
	pub.MapsLink = ""
	pub.LocationNotes = ""
	pub.ExactTime = time.Time{}
	pub.EndTime = nil
	pub.Tips = ""
	pub.EventNoteID = 0
	return &pub
}

// Starts returns the exact start of the event, or its date while the time
// is not set.
func (e *Event) Starts() time.Time {
	if !e.ExactTime.IsZero() {
		return e.ExactTime
	}
	return e.Date
}

// Ends returns the end of the event, falling back to its start.
func (e *Event) Ends() time.Time {
	if e.EndTime != nil {
		return *e.EndTime
	}
	return e.Starts()
}

func (e *Event) PublicTimeDisplay() string {
	period := e.TimePeriod
	if period != "" {
		period = strings.ToUpper(period[:1]) + period[1:]
	}
	return fmt.Sprintf("%s on %s", period, e.Date.Format("January 02, 2006"))
}
