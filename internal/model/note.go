// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package model

// EventNote is a reusable block of text, e.g. house rules, that events can
// link to. Names are unique.
type EventNote struct {
	ID   uint64 `json:"id"`
	Name string `json:"name" validate:"required,max=100"`
	Note string `json:"note" validate:"required"`
}
