// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

import "time"

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationApproved ApplicationStatus = "approved"
	ApplicationRejected ApplicationStatus = "rejected"
)

// Application is a membership request reviewed by organizers. Answers is the
// questionnaire keyed by question identifier; values may be nested.
type Application struct {
	ID          uint64            `json:"id"`
	UserID      string            `json:"user_id"`
	Status      ApplicationStatus `json:"status"`
	Answers     map[string]any    `json:"answers"`
	SubmittedAt time.Time         `json:"submitted_at"`
	ReviewedAt  *time.Time        `json:"reviewed_at,omitempty"`
	ReviewedBy  string            `json:"reviewed_by,omitempty"`
	ReviewNotes string            `json:"review_notes,omitempty"`
}
