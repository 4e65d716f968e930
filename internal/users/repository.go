package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/store"
)

// Repository stores one JSON-encoded Record per username.
type Repository struct {
	kv store.Store
}

func NewRepository(kv store.Store) *Repository {
	return &Repository{kv: kv}
}

func (r *Repository) Get(ctx context.Context, username string) (Record, error) {
	var rec Record
	b, err := r.kv.Get(ctx, username)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("decode user %q: %w", username, err)
	}
	return rec, nil
}

func (r *Repository) Exists(ctx context.Context, username string) (bool, error) {
	_, err := r.kv.Get(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) Put(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode user %q: %w", rec.Username, err)
	}
	return r.kv.Set(ctx, rec.Username, b)
}

func (r *Repository) Delete(ctx context.Context, username string) error {
	return r.kv.Delete(ctx, username)
}

func (r *Repository) Usernames(ctx context.Context) ([]string, error) {
	return r.kv.Keys(ctx)
}
