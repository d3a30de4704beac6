// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import (
	"context"

	"github.com/cosypolyamory/site/internal/model"
)

type UserStore interface {
	CreateUser(context.Context, *model.User) error
	UpdateUser(context.Context, *model.User) error
	GetUserByID(context.Context, string) (*model.User, error)
	ListUsers(context.Context) ([]*model.User, error)
	DeleteUser(context.Context, string) error
}
