// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package db

import "context"

// MetaStore keeps small pieces of service state, e.g. the day reminders
// were last sent.
type MetaStore interface {
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}
