// Package storage manages owner directories: one directory per user, each
// holding that user's uploaded files. Two backends are provided, the local
// filesystem under a base directory and a MinIO/S3 bucket under a key
// prefix.
package storage

import (
	"context"
	"fmt"
	"io"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/config"
)

var (
	ErrNotFound      = common.ErrNotFound
	ErrAlreadyExists = common.ErrAlreadyExists
)

type Storage interface {
	DirExists(ctx context.Context, owner string) (bool, error)
	// CreateDir fails with ErrAlreadyExists if the directory is present.
	CreateDir(ctx context.Context, owner string) error
	// RenameDir fails with ErrNotFound if from is missing and with
	// ErrAlreadyExists if to is present.
	RenameDir(ctx context.Context, from, to string) error
	// RemoveDir deletes the directory and everything under it. A missing
	// directory is not an error.
	RemoveDir(ctx context.Context, owner string) error

	// List returns the names of the regular files in the owner directory.
	List(ctx context.Context, owner string) ([]string, error)
	FileExists(ctx context.Context, owner, name string) (bool, error)
	// Create writes r to owner/name, replacing any existing file, and
	// returns the number of bytes written.
	Create(ctx context.Context, owner, name string, r io.Reader) (int64, error)
	Open(ctx context.Context, owner, name string) (io.ReadCloser, error)
	Remove(ctx context.Context, owner, name string) error

	Ping(ctx context.Context) error
}

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(cfg.Dir)
	case "minio":
		return NewMinio(ctx, cfg.S3, cfg.Dir)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}
