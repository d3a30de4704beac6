// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type ApplicationStore interface {
	CreateApplication(context.Context, *model.Application) (uint64, error)
	UpdateApplication(context.Context, *model.Application) error
	GetApplicationByID(context.Context, uint64) (*model.Application, error)
	// LatestApplicationByUser returns the most recently submitted application.
	LatestApplicationByUser(context.Context, string) (*model.Application, error)
	ListApplications(context.Context) ([]*model.Application, error)
	// DeleteApplicationsByUser removes every application of a user and
	// returns how many there were.
	DeleteApplicationsByUser(context.Context, string) (int, error)
}
