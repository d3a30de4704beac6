// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type EventStore interface {
	CreateEvent(context.Context, *model.Event) (uint64, error)
	GetEventByID(context.Context, uint64) (*model.Event, error)
	UpdateEvent(context.Context, *model.Event) error
	ListEvents(context.Context) ([]*model.Event, error)
}
