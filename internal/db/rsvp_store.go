// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type RSVPStore interface {
	GetRoster(context.Context, uint64) (*model.Roster, error)
	// UpdateRoster runs fn on the event roster inside one write transaction.
	// The roster is persisted only if fn returns nil.
	UpdateRoster(ctx context.Context, eventID uint64, fn func(*model.Roster) error) error
}
