// Copyright (C) 2024 the cosypolyamory maintainers
// See root-dir/LICENSE for more information

package kvdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/trace"

	"github.com/cosypolyamory/site/internal/model"
)

const bucketUser = "user_store"

func NewUserStore(db *bolt.DB) (*UserStore, error) {
	return &UserStore{db: db}, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketUser))
		return err
	})
}

type UserStore struct {
	db *bolt.DB
}

func (u *UserStore) CreateUser(ctx context.Context, user *model.User) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "CreateUser")
	defer span.End()

	if user.ID == "" {
		err := errors.New("user ID is required")
		span.RecordError(err)
		return err
	}
	if user.Role == "" {
		span.AddEvent("role is empty, default to new")
		user.Role = model.RoleNew
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	j, err := json.Marshal(user)
	if err != nil {
		return err
	}

	span.AddEvent("Update bucket")
	return u.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUser))
		if bucket.Get([]byte(user.ID)) != nil {
			return fmt.Errorf("user %q already exists", user.ID)
		}
		return bucket.Put([]byte(user.ID), j)
	})
}

func (u *UserStore) UpdateUser(ctx context.Context, user *model.User) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "UpdateUser")
	defer span.End()

	if user.ID == "" {
		err := errors.New("user ID is required for updating")
		span.RecordError(err)
		return err
	}

	j, err := json.Marshal(user)
	if err != nil {
		return err
	}

	span.AddEvent("Update bucket")
	return u.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUser))
		if bucket.Get([]byte(user.ID)) == nil {
			return fmt.Errorf("user %q: %w", user.ID, model.ErrNotFound)
		}
		return bucket.Put([]byte(user.ID), j)
	})
}

func (u *UserStore) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "GetUserByID")
	defer span.End()

	span.AddEvent("View bucket")
	user := &model.User{}
	return user, u.db.View(func(tx *bolt.Tx) error {
		res := tx.Bucket([]byte(bucketUser)).Get([]byte(userID))
		if res == nil {
			err := fmt.Errorf("user %q: %w", userID, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return json.Unmarshal(res, user)
	})
}

// ListUsers returns every user ordered by name.
func (u *UserStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	var span trace.Span
	_, span = tracer.Start(ctx, "ListUsers")
	defer span.End()

	span.AddEvent("View bucket")
	var users []*model.User
	err := u.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketUser)).ForEach(func(_, v []byte) error {
			user := &model.User{}
			if err := json.Unmarshal(v, user); err != nil {
				span.RecordError(err)
				return err
			}
			users = append(users, user)
			return nil
		})
	})
	sort.SliceStable(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, err
}

func (u *UserStore) DeleteUser(ctx context.Context, userID string) error {
	var span trace.Span
	_, span = tracer.Start(ctx, "DeleteUser")
	defer span.End()

	span.AddEvent("Update bucket")
	return u.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketUser))
		if bucket.Get([]byte(userID)) == nil {
			err := fmt.Errorf("user %q: %w", userID, model.ErrNotFound)
			span.RecordError(err)
			return err
		}
		return bucket.Delete([]byte(userID))
	})
}
