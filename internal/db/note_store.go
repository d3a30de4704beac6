// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type EventNoteStore interface {
	CreateEventNote(context.Context, *model.EventNote) (uint64, error)
	GetEventNoteByID(context.Context, uint64) (*model.EventNote, error)
	ListEventNotes(context.Context) ([]*model.EventNote, error)
	DeleteEventNote(context.Context, uint64) error
}
