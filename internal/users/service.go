// Package users is the user directory: CRUD over user records, with each
// record's owner directory created, renamed and removed alongside it.
//
// No locks are taken. Two requests touching the same username can
// interleave between the directory step and the record step; callers
// accept that window rather than a transactional store.
package users

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"csv-file-drop/internal/auth"
	"csv-file-drop/internal/common"
	"csv-file-drop/internal/storage"
	"csv-file-drop/internal/store"
)

// listConcurrency bounds the parallel record fetches in List.
const listConcurrency = 16

var (
	errUserMissing   = common.WithDetail(common.ErrNotFound, "User doesn't exists")
	errUserExists    = common.WithDetail(common.ErrAlreadyExists, "User already exists")
	errAdminRequired = common.WithDetail(common.ErrForbidden, "Requires admin privileges")
	errBadLogin      = common.WithDetail(common.ErrUnauthorized, "Incorrect username or password")
)

type Service struct {
	repo   *Repository
	dirs   storage.Storage
	hasher auth.PasswordHasher
	log    *zap.Logger
}

func NewService(kv store.Store, dirs storage.Storage, hasher auth.PasswordHasher, log *zap.Logger) *Service {
	return &Service{
		repo:   NewRepository(kv),
		dirs:   dirs,
		hasher: hasher,
		log:    log,
	}
}

// Get returns the stored record, including the password hash. Handlers
// must respond with rec.User.
func (s *Service) Get(ctx context.Context, username string) (Record, error) {
	rec, err := s.repo.Get(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		return rec, errUserMissing
	}
	return rec, err
}

// List returns every user in store iteration order. A key deleted between
// the scan and its fetch is skipped.
func (s *Service) List(ctx context.Context) ([]User, error) {
	names, err := s.repo.Usernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w", err)
	}

	found := make([]*User, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, name := range names {
		g.Go(func() error {
			rec, err := s.repo.Get(gctx, name)
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			found[i] = &rec.User
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	out := make([]User, 0, len(found))
	for _, u := range found {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

// Create adds a user and its owner directory. The username must be free in
// both the store and the storage; if writing the record fails the new
// directory is removed again.
func (s *Service) Create(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(); err != nil {
		return User{}, err
	}

	if taken, err := s.taken(ctx, nu.Username); err != nil {
		return User{}, err
	} else if taken {
		return User{}, errUserExists
	}

	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return User{}, err
	}

	rec := Record{
		User:           User{Username: nu.Username, Profile: nu.Profile},
		HashedPassword: hash,
	}

	if err := s.dirs.CreateDir(ctx, rec.Username); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return User{}, errUserExists
		}
		return User{}, fmt.Errorf("create directory: %w", err)
	}

	if err := s.repo.Put(ctx, rec); err != nil {
		if rerr := s.dirs.RemoveDir(ctx, rec.Username); rerr != nil {
			s.log.Error("rollback of owner directory failed",
				zap.String("username", rec.Username), zap.Error(rerr))
		}
		return User{}, fmt.Errorf("store user: %w", err)
	}

	s.log.Info("user created", zap.String("username", rec.Username), zap.Bool("admin", rec.IsAdmin()))
	return rec.User, nil
}

// Update merges patch onto target's record. actor is the authenticated
// caller; only admins may change admin or disabled.
//
// A rename moves the directory first, then writes the new key, then
// deletes the old one, so the user is never missing from the store. A
// failure after the move leaves the old key pointing at a moved directory.
func (s *Service) Update(ctx context.Context, actor Record, target string, patch Patch) (User, error) {
	if err := patch.Validate(); err != nil {
		return User{}, err
	}
	if patch.TouchesPrivileges() && !actor.IsAdmin() {
		return User{}, errAdminRequired
	}

	rec, err := s.Get(ctx, target)
	if err != nil {
		return User{}, err
	}
	oldName := rec.Username

	if patch.Password.HasValue() {
		hash, err := s.hasher.Hash(patch.Password.Value)
		if err != nil {
			return User{}, err
		}
		rec.HashedPassword = hash
	}
	if patch.Email.Set {
		rec.Email = patch.Email.Ptr()
	}
	if patch.FullName.Set {
		rec.FullName = patch.FullName.Ptr()
	}
	if patch.Disabled.Set {
		rec.Disabled = patch.Disabled.Ptr()
	}
	if patch.Admin.Set {
		rec.Admin = patch.Admin.Ptr()
	}

	if !patch.Username.HasValue() || patch.Username.Value == oldName {
		if err := s.repo.Put(ctx, rec); err != nil {
			return User{}, fmt.Errorf("store user: %w", err)
		}
		return rec.User, nil
	}

	newName := patch.Username.Value
	if taken, err := s.taken(ctx, newName); err != nil {
		return User{}, err
	} else if taken {
		return User{}, errUserExists
	}

	if err := s.dirs.RenameDir(ctx, oldName, newName); err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return User{}, errUserExists
		}
		return User{}, fmt.Errorf("rename directory: %w", err)
	}

	rec.Username = newName
	if err := s.repo.Put(ctx, rec); err != nil {
		if rerr := s.dirs.RenameDir(ctx, newName, oldName); rerr != nil {
			s.log.Error("rollback of directory rename failed",
				zap.String("from", newName), zap.String("to", oldName), zap.Error(rerr))
		}
		return User{}, fmt.Errorf("store user: %w", err)
	}
	if err := s.repo.Delete(ctx, oldName); err != nil {
		return User{}, fmt.Errorf("delete old user key: %w", err)
	}

	s.log.Info("user renamed", zap.String("from", oldName), zap.String("to", newName))
	return rec.User, nil
}

// Delete removes the owner directory tree and then the record. It succeeds
// if either half exists, which also cleans up a user left half-created.
func (s *Service) Delete(ctx context.Context, username string) error {
	recExists, err := s.repo.Exists(ctx, username)
	if err != nil {
		return err
	}
	dirExists, err := s.dirs.DirExists(ctx, username)
	if err != nil {
		return err
	}
	if !recExists && !dirExists {
		return common.WithDetail(common.ErrNotFound, "User haven't exists")
	}

	if dirExists {
		if err := s.dirs.RemoveDir(ctx, username); err != nil {
			return fmt.Errorf("remove directory: %w", err)
		}
	}
	if recExists {
		if err := s.repo.Delete(ctx, username); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
	}

	s.log.Info("user deleted", zap.String("username", username))
	return nil
}

// Authenticate checks a password grant. It does not look at disabled;
// that is enforced when the token is used.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Record, error) {
	rec, err := s.repo.Get(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		return Record{}, errBadLogin
	}
	if err != nil {
		return Record{}, err
	}
	if !s.hasher.Verify(password, rec.HashedPassword) {
		return Record{}, errBadLogin
	}
	return rec, nil
}

// taken reports whether name is used by a record or a directory.
func (s *Service) taken(ctx context.Context, name string) (bool, error) {
	exists, err := s.repo.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	return s.dirs.DirExists(ctx, name)
}
