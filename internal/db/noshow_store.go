// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type NoShowStore interface {
	// MarkNoShow fails with model.ErrConflict if the user is already marked
	// for the event.
	MarkNoShow(context.Context, *model.NoShow) error
	ClearNoShow(ctx context.Context, eventID uint64, userID string) error
	ListNoShowsByEvent(context.Context, uint64) ([]*model.NoShow, error)
	// NoShowCounts returns the number of no-shows per user id.
	NoShowCounts(context.Context) (map[string]int, error)
	DeleteNoShowsByUser(context.Context, string) error
}
