// Package files manages the CSV files in an owner's directory: batch
// upload, header listing, previews with projection and sorting, and
// removal.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"csv-file-drop/internal/common"
	"csv-file-drop/internal/storage"
)

// FormField is the multipart field name that carries files.
const FormField = "files"

const listConcurrency = 8

var (
	errFileExists   = common.WithDetail(common.ErrAlreadyExists, "File already exists")
	errFileNotFound = common.WithDetail(common.ErrNotFound, "Filename not found")
)

// PartReader yields multipart parts until io.EOF. *multipart.Reader
// satisfies it.
type PartReader interface {
	NextPart() (*multipart.Part, error)
}

type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

type Fieldnames struct {
	Fieldnames []string `json:"fieldnames"`
}

type Service struct {
	dirs storage.Storage
	log  *zap.Logger
}

func NewService(dirs storage.Storage, log *zap.Logger) *Service {
	return &Service{dirs: dirs, log: log}
}

// Upload streams every "files" part into owner's directory. Names are
// checked against the listing taken once at the start, so an existing file
// is never overwritten but a name repeated within the batch is. Files
// written before a failing part stay written.
func (s *Service) Upload(ctx context.Context, owner string, parts PartReader) ([]FileInfo, error) {
	existing, err := s.dirs.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", owner, err)
	}

	infos := []FileInfo{}
	for {
		part, err := parts.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return infos, fmt.Errorf("%w: %w", common.WithDetail(common.ErrBadRequest, "Malformed multipart body"), err)
		}

		if part.FormName() != FormField {
			_ = part.Close()
			continue
		}

		info, err := s.store(ctx, owner, part, existing)
		_ = part.Close()
		if err != nil {
			return infos, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Service) store(ctx context.Context, owner string, part *multipart.Part, existing []string) (FileInfo, error) {
	name := part.FileName()
	if err := storage.ValidateName(name); err != nil {
		return FileInfo{}, fmt.Errorf("filename %q: %w", name, err)
	}
	if slices.Contains(existing, name) {
		return FileInfo{}, errFileExists
	}

	n, err := s.dirs.Create(ctx, owner, name, part)
	if err != nil {
		if rerr := s.dirs.Remove(ctx, owner, name); rerr != nil && !errors.Is(rerr, common.ErrNotFound) {
			s.log.Warn("remove partial upload failed",
				zap.String("owner", owner), zap.String("filename", name), zap.Error(rerr))
		}
		return FileInfo{}, fmt.Errorf("store %q: %w", name, err)
	}

	s.log.Debug("file stored", zap.String("owner", owner), zap.String("filename", name), zap.Int64("size", n))
	return FileInfo{Filename: name, Size: n}, nil
}

// List maps every file in owner's directory to the fields of its first line.
func (s *Service) List(ctx context.Context, owner string) (map[string]Fieldnames, error) {
	names, err := s.dirs.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", owner, err)
	}

	heads := make([][]string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, name := range names {
		g.Go(func() error {
			h, err := s.header(gctx, owner, name)
			if err != nil {
				return fmt.Errorf("read header of %q: %w", name, err)
			}
			heads[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]Fieldnames, len(names))
	for i, name := range names {
		out[name] = Fieldnames{Fieldnames: heads[i]}
	}
	return out, nil
}

func (s *Service) header(ctx context.Context, owner, name string) ([]string, error) {
	rc, err := s.dirs.Open(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadHeader(rc)
}

// Read returns a preview of filename: the optional headers projection is
// applied first, then the optional sort, then the first MaxPreviewRows
// rows are serialised back to CSV. headers and sortBy are comma separated;
// empty means not given.
func (s *Service) Read(ctx context.Context, owner, filename, headers, sortBy string) (string, error) {
	names, err := s.dirs.List(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("list %q: %w", owner, err)
	}
	if !slices.Contains(names, filename) {
		return "", errFileNotFound
	}

	rc, err := s.dirs.Open(ctx, owner, filename)
	if errors.Is(err, common.ErrNotFound) {
		return "", errFileNotFound
	}
	if err != nil {
		return "", err
	}
	defer rc.Close()

	t, err := ParseTable(rc)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", filename, err)
	}

	if headers != "" {
		if err := t.Project(strings.Split(headers, ",")); err != nil {
			return "", err
		}
	}
	if sortBy != "" {
		if err := t.SortBy(strings.Split(sortBy, ",")); err != nil {
			return "", err
		}
	}
	t.Head(MaxPreviewRows)
	return t.Encode()
}

// Delete removes exactly one regular file from owner's directory.
func (s *Service) Delete(ctx context.Context, owner, filename string) error {
	if err := storage.ValidateName(filename); err != nil {
		return errFileNotFound
	}
	ok, err := s.dirs.FileExists(ctx, owner, filename)
	if err != nil {
		return err
	}
	if !ok {
		return errFileNotFound
	}
	if err := s.dirs.Remove(ctx, owner, filename); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return errFileNotFound
		}
		return fmt.Errorf("remove %q: %w", filename, err)
	}
	s.log.Info("file deleted", zap.String("owner", owner), zap.String("filename", filename))
	return nil
}
