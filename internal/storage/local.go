package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local stores owner directories as real directories under root.
type Local struct {
	root string
}

// NewLocal makes sure root exists.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("storage dir is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{root: root}, nil
}

// Root is the base directory.
func (l *Local) Root() string {
	return l.root
}

func (l *Local) dir(owner string) (string, error) {
	if err := ValidateName(owner); err != nil {
		return "", err
	}
	return filepath.Join(l.root, owner), nil
}

func (l *Local) file(owner, name string) (string, error) {
	dir, err := l.dir(owner)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (l *Local) DirExists(_ context.Context, owner string) (bool, error) {
	dir, err := l.dir(owner)
	if err != nil {
		return false, err
	}
	fi, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (l *Local) CreateDir(_ context.Context, owner string) error {
	dir, err := l.dir(owner)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("directory %q: %w", owner, ErrAlreadyExists)
		}
		return err
	}
	return nil
}

func (l *Local) RenameDir(_ context.Context, from, to string) error {
	src, err := l.dir(from)
	if err != nil {
		return err
	}
	dst, err := l.dir(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("directory %q: %w", from, ErrNotFound)
	}
	// os.Rename would silently replace an empty destination directory.
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("directory %q: %w", to, ErrAlreadyExists)
	}
	return os.Rename(src, dst)
}

func (l *Local) RemoveDir(_ context.Context, owner string) error {
	dir, err := l.dir(owner)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (l *Local) List(_ context.Context, owner string) ([]string, error) {
	dir, err := l.dir(owner)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("directory %q: %w", owner, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (l *Local) FileExists(_ context.Context, owner, name string) (bool, error) {
	path, err := l.file(owner, name)
	if err != nil {
		return false, err
	}
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.Mode().IsRegular(), nil
}

func (l *Local) Create(_ context.Context, owner, name string, r io.Reader) (int64, error) {
	path, err := l.file(owner, name)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("directory %q: %w", owner, ErrNotFound)
		}
		return 0, err
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write %q: %w", name, err)
	}
	return n, nil
}

func (l *Local) Open(_ context.Context, owner, name string) (io.ReadCloser, error) {
	path, err := l.file(owner, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (l *Local) Remove(_ context.Context, owner, name string) error {
	path, err := l.file(owner, name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	return err
}

func (l *Local) Ping(context.Context) error {
	fi, err := os.Stat(l.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", l.root)
	}
	return nil
}
