// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import "time"

// NoShow records that a user who said yes did not turn up. There is at most
// one record per event and user.
type NoShow struct {
	EventID  uint64    `json:"event_id"`
	UserID   string    `json:"user_id"`
	MarkedAt time.Time `json:"marked_at"`
	MarkedBy string    `json:"marked_by"`
	Notes    string    `json:"notes,omitempty" validate:"max=500"`
}
