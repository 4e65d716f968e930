package users

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"csv-file-drop/internal/auth"
	"csv-file-drop/internal/common"
	"csv-file-drop/internal/optional"
	"csv-file-drop/internal/storage"
	"csv-file-drop/internal/store"
)

type fixture struct {
	svc  *Service
	kv   store.Store
	dirs *storage.Local
	root string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, kv store.Store) *fixture {
	t.Helper()
	root := filepath.Join(t.TempDir(), "files")
	dirs, err := storage.NewLocal(root)
	require.NoError(t, err)
	svc := NewService(kv, dirs, auth.NewPasswordHasher(bcrypt.MinCost), zap.NewNop())
	return &fixture{svc: svc, kv: kv, dirs: dirs, root: root}
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func (f *fixture) mustCreate(t *testing.T, username string, admin bool) Record {
	t.Helper()
	_, err := f.svc.Create(context.Background(), NewUser{
		Username: username,
		Password: username + "-pw",
		Profile:  Profile{Admin: boolPtr(admin)},
	})
	require.NoError(t, err)
	rec, err := f.svc.Get(context.Background(), username)
	require.NoError(t, err)
	return rec
}

func TestCreateThenGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Create(ctx, NewUser{
		Username: "alice",
		Password: "wonderland",
		Profile: Profile{
			Email:    strPtr("alice@example.com"),
			FullName: strPtr("Alice Liddell"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)

	rec, err := f.svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", *rec.Email)
	assert.Equal(t, "Alice Liddell", *rec.FullName)
	assert.False(t, rec.IsAdmin())
	assert.NotEqual(t, "wonderland", rec.HashedPassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(rec.HashedPassword), []byte("wonderland")))

	// the plaintext never reaches the store
	raw, err := f.kv.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "wonderland")

	// nor the public shape
	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hashed_password")
	assert.NotContains(t, string(out), "wonderland")

	fi, err := os.Stat(filepath.Join(f.root, "alice"))
	require.NoError(t, err)
	assert.True(t, fi.IsDir())
}

func TestStoredRecordShape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, "bob", true)

	raw, err := f.kv.Get(ctx, "bob")
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	for _, k := range []string{"username", "email", "full_name", "disabled", "admin", "hashed_password"} {
		assert.Contains(t, m, k)
	}
	assert.Equal(t, true, m["admin"])
	assert.Nil(t, m["email"])
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "ghost")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.Equal(t, "User doesn't exists", common.Detail(err))
}

func TestCreateConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, "alice", false)

	_, err := f.svc.Create(ctx, NewUser{Username: "alice", Password: "x"})
	assert.True(t, errors.Is(err, common.ErrAlreadyExists))
	assert.Equal(t, "User already exists", common.Detail(err))

	// a leftover directory without a record also blocks the name
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "orphan"), 0o755))
	_, err = f.svc.Create(ctx, NewUser{Username: "orphan", Password: "x"})
	assert.True(t, errors.Is(err, common.ErrAlreadyExists))
	_, err = f.svc.Get(ctx, "orphan")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		nu   NewUser
	}{
		{"missing username", NewUser{Password: "x"}},
		{"missing password", NewUser{Username: "alice"}},
		{"bad email", NewUser{Username: "alice", Password: "x", Profile: Profile{Email: strPtr("not-an-email")}}},
		{"reserved alias", NewUser{Username: "me", Password: "x"}},
		{"path separator", NewUser{Username: "a/b", Password: "x"}},
		{"dot dot", NewUser{Username: "..", Password: "x"}},
		{"password too long", NewUser{Username: "alice", Password: strings.Repeat("p", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tt.nu)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrValidation), "got %v", err)

			entries, err := os.ReadDir(f.root)
			require.NoError(t, err)
			assert.Empty(t, entries, "no directory may be created on validation failure")
		})
	}
}

// brokenSetStore fails every Set.
type brokenSetStore struct {
	*store.Memory
}

func (b brokenSetStore) Set(context.Context, string, []byte) error {
	return errors.New("store unavailable")
}

func TestCreateRollsBackDirectory(t *testing.T) {
	f := newFixtureWithStore(t, brokenSetStore{store.NewMemory()})

	_, err := f.svc.Create(context.Background(), NewUser{Username: "alice", Password: "x"})
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(f.root, "alice"))
	assert.True(t, os.IsNotExist(statErr), "directory must be rolled back")
}

func TestUpdatePartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, NewUser{
		Username: "alice",
		Password: "old",
		Profile:  Profile{Email: strPtr("a@example.com"), FullName: strPtr("Alice")},
	})
	require.NoError(t, err)
	actor, err := f.svc.Get(ctx, "alice")
	require.NoError(t, err)
	oldHash := actor.HashedPassword

	u, err := f.svc.Update(ctx, actor, "alice", Patch{FullName: optional.Of("Alice L.")})
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", *u.FullName)
	assert.Equal(t, "a@example.com", *u.Email, "absent fields stay untouched")

	rec, err := f.svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, oldHash, rec.HashedPassword)

	// explicit null clears
	u, err = f.svc.Update(ctx, actor, "alice", Patch{Email: optional.Null[string]()})
	require.NoError(t, err)
	assert.Nil(t, u.Email)
	assert.Equal(t, "Alice L.", *u.FullName)

	// new password is hashed
	_, err = f.svc.Update(ctx, actor, "alice", Patch{Password: optional.Of("new")})
	require.NoError(t, err)
	rec, err = f.svc.Get(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, oldHash, rec.HashedPassword)
	assert.NotEqual(t, "new", rec.HashedPassword)

	_, err = f.svc.Authenticate(ctx, "alice", "new")
	assert.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, "alice", "old")
	assert.True(t, errors.Is(err, common.ErrUnauthorized))
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.mustCreate(t, "root", true)

	patches := map[string]Patch{
		"null username": {Username: optional.Null[string]()},
		"null password": {Password: optional.Null[string]()},
		"bad email":     {Email: optional.Of("nope")},
		"me username":   {Username: optional.Of("me")},
		"slash name":    {Username: optional.Of("a/b")},
		"null admin":    {Admin: optional.Null[bool]()},
		"null disabled": {Disabled: optional.Null[bool]()},
	}
	for name, p := range patches {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Update(ctx, admin, "root", p)
			assert.True(t, errors.Is(err, common.ErrValidation), "got %v", err)
		})
	}
}

func TestUpdatePrivilegesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mustCreate(t, "alice", false)
	admin := f.mustCreate(t, "root", true)

	_, err := f.svc.Update(ctx, alice, "alice", Patch{Admin: optional.Of(true)})
	assert.True(t, errors.Is(err, common.ErrForbidden))

	_, err = f.svc.Update(ctx, alice, "alice", Patch{Disabled: optional.Of(false)})
	assert.True(t, errors.Is(err, common.ErrForbidden))

	u, err := f.svc.Update(ctx, admin, "alice", Patch{Disabled: optional.Of(true)})
	require.NoError(t, err)
	assert.True(t, u.IsDisabled())
}

func TestUpdateMissingTarget(t *testing.T) {
	f := newFixture(t)
	admin := f.mustCreate(t, "root", true)
	_, err := f.svc.Update(context.Background(), admin, "ghost", Patch{FullName: optional.Of("x")})
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestRenamePreservesDataAndLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, NewUser{
		Username: "alice",
		Password: "pw",
		Profile:  Profile{Email: strPtr("a@example.com"), FullName: strPtr("Alice")},
	})
	require.NoError(t, err)
	_, err = f.dirs.Create(ctx, "alice", "data.csv", strings.NewReader("A,B\n1,2\n"))
	require.NoError(t, err)

	admin := f.mustCreate(t, "root", true)

	// an admin renames someone else: the target's directory moves, not the admin's
	u, err := f.svc.Update(ctx, admin, "alice", Patch{Username: optional.Of("alicia")})
	require.NoError(t, err)
	assert.Equal(t, "alicia", u.Username)

	_, err = f.svc.Get(ctx, "alice")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, statErr := os.Stat(filepath.Join(f.root, "alice"))
	assert.True(t, os.IsNotExist(statErr))

	rec, err := f.svc.Get(ctx, "alicia")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", *rec.Email)
	assert.Equal(t, "Alice", *rec.FullName)

	names, err := f.dirs.List(ctx, "alicia")
	require.NoError(t, err)
	assert.Equal(t, []string{"data.csv"}, names)

	ok, err := f.dirs.DirExists(ctx, "root")
	require.NoError(t, err)
	assert.True(t, ok, "the admin's own directory is untouched")

	_, err = f.svc.Authenticate(ctx, "alicia", "pw")
	assert.NoError(t, err)
}

func TestRenameConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.mustCreate(t, "alice", false)
	f.mustCreate(t, "bob", false)
	_, err := f.dirs.Create(ctx, "bob", "keep.csv", strings.NewReader("x\n"))
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, alice, "alice", Patch{Username: optional.Of("bob")})
	assert.True(t, errors.Is(err, common.ErrAlreadyExists))

	names, err := f.dirs.List(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.csv"}, names)
	_, err = f.svc.Get(ctx, "alice")
	assert.NoError(t, err)
}

func TestRenameToSameNameIsPlainUpdate(t *testing.T) {
	f := newFixture(t)
	alice := f.mustCreate(t, "alice", false)
	u, err := f.svc.Update(context.Background(), alice, "alice", Patch{
		Username: optional.Of("alice"),
		FullName: optional.Of("A"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "A", *u.FullName)
}

// recordingStore and recordingStorage log the order of mutating calls.
type recorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *recorder) add(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

type recordingStore struct {
	store.Store
	rec     *recorder
	failSet string
}

func (s recordingStore) Set(ctx context.Context, key string, value []byte) error {
	s.rec.add("set " + key)
	if key == s.failSet {
		return errors.New("store unavailable")
	}
	return s.Store.Set(ctx, key, value)
}

func (s recordingStore) Delete(ctx context.Context, key string) error {
	s.rec.add("delete " + key)
	return s.Store.Delete(ctx, key)
}

type recordingStorage struct {
	storage.Storage
	rec *recorder
}

func (s recordingStorage) RenameDir(ctx context.Context, from, to string) error {
	s.rec.add("rename " + from + " " + to)
	return s.Storage.RenameDir(ctx, from, to)
}

func newRecordingFixture(t *testing.T, failSet string) (*Service, *recorder, *storage.Local) {
	t.Helper()
	rec := &recorder{}
	dirs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	kv := recordingStore{Store: store.NewMemory(), rec: rec, failSet: failSet}
	svc := NewService(kv, recordingStorage{Storage: dirs, rec: rec}, auth.NewPasswordHasher(bcrypt.MinCost), zap.NewNop())
	return svc, rec, dirs
}

func TestRenameOrdering(t *testing.T) {
	svc, rec, _ := newRecordingFixture(t, "")
	ctx := context.Background()

	_, err := svc.Create(ctx, NewUser{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	actor, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	rec.ops = nil

	_, err = svc.Update(ctx, actor, "alice", Patch{Username: optional.Of("alicia")})
	require.NoError(t, err)

	// directory first, then the new key, then the old key goes
	assert.Equal(t, []string{
		"rename alice alicia",
		"set alicia",
		"delete alice",
	}, rec.ops)
}

// The rename is not atomic. When the new key cannot be written the
// directory is moved back; the old record was never touched.
func TestRenameStoreFailureKnownWindow(t *testing.T) {
	svc, rec, dirs := newRecordingFixture(t, "alicia")
	ctx := context.Background()

	_, err := svc.Create(ctx, NewUser{Username: "alice", Password: "pw"})
	require.NoError(t, err)
	actor, err := svc.Get(ctx, "alice")
	require.NoError(t, err)
	rec.ops = nil

	_, err = svc.Update(ctx, actor, "alice", Patch{Username: optional.Of("alicia")})
	require.Error(t, err)

	assert.Equal(t, []string{
		"rename alice alicia",
		"set alicia",
		"rename alicia alice",
	}, rec.ops)

	_, err = svc.Get(ctx, "alice")
	assert.NoError(t, err)
	ok, err := dirs.DirExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, "alice", false)
	_, err := f.dirs.Create(ctx, "alice", "a.csv", strings.NewReader("A\n1\n"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, "alice"))

	_, err = f.svc.Get(ctx, "alice")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, statErr := os.Stat(filepath.Join(f.root, "alice"))
	assert.True(t, os.IsNotExist(statErr))

	err = f.svc.Delete(ctx, "alice")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	assert.Equal(t, "User haven't exists", common.Detail(err))
}

func TestDeleteCleansHalfCreatedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// directory without record
	require.NoError(t, os.Mkdir(filepath.Join(f.root, "orphan"), 0o755))
	require.NoError(t, f.svc.Delete(ctx, "orphan"))
	_, statErr := os.Stat(filepath.Join(f.root, "orphan"))
	assert.True(t, os.IsNotExist(statErr))

	// record without directory
	require.NoError(t, f.kv.Set(ctx, "ghost", []byte(`{"username":"ghost","hashed_password":"x"}`)))
	require.NoError(t, f.svc.Delete(ctx, "ghost"))
	_, err := f.kv.Get(ctx, "ghost")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

// ghostKeyStore reports a key that vanishes before it can be fetched.
type ghostKeyStore struct {
	*store.Memory
}

func (g ghostKeyStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := g.Memory.Keys(ctx)
	return append(keys, "vanished"), err
}

func TestList(t *testing.T) {
	f := newFixtureWithStore(t, ghostKeyStore{store.NewMemory()})
	for _, name := range []string{"alice", "bob", "carol"} {
		f.mustCreate(t, name, name == "alice")
	}

	users, err := f.svc.List(context.Background())
	require.NoError(t, err)

	var names []string
	for _, u := range users {
		names = append(names, u.Username)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, "alice", false)

	rec, err := f.svc.Authenticate(ctx, "alice", "alice-pw")
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Username)

	_, err = f.svc.Authenticate(ctx, "alice", "wrong")
	assert.True(t, errors.Is(err, common.ErrUnauthorized))
	assert.Equal(t, "Incorrect username or password", common.Detail(err))

	_, err = f.svc.Authenticate(ctx, "nobody", "alice-pw")
	assert.True(t, errors.Is(err, common.ErrUnauthorized))

	// disabled users can still prove their password; the token is refused later
	admin := f.mustCreate(t, "root", true)
	_, err = f.svc.Update(ctx, admin, "alice", Patch{Disabled: optional.Of(true)})
	require.NoError(t, err)
	_, err = f.svc.Authenticate(ctx, "alice", "alice-pw")
	assert.NoError(t, err)
}
