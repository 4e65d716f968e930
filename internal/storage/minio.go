package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"csv-file-drop/internal/config"
)

// Minio keeps each owner directory as a key prefix in a bucket. Object
// stores have no directories, so a zero-byte "<owner>/" marker object marks
// one as existing.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

func normaliseEndpoint(raw string) (endpoint string, secure bool, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("empty endpoint")
	}

	// Accept either "minio:9000" or "http://minio:9000" / "https://minio:9000".
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", false, err
		}
		if u.Host == "" {
			return "", false, fmt.Errorf("invalid endpoint")
		}
		if u.Path != "" && u.Path != "/" {
			return "", false, fmt.Errorf("endpoint must not contain a path")
		}
		return u.Host, u.Scheme == "https", nil
	}

	return raw, false, nil
}

// NewMinio connects to the configured endpoint. The bucket must already
// exist. prefix is the base directory inside the bucket.
func NewMinio(ctx context.Context, cfg config.S3Config, prefix string) (*Minio, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio configuration incomplete")
	}

	endpoint, secure, err := normaliseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, err
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("minio bucket does not exist: %s", cfg.Bucket)
	}

	return NewMinioWithClient(client, cfg.Bucket, prefix), nil
}

func NewMinioWithClient(client *minio.Client, bucket, prefix string) *Minio {
	return &Minio{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (m *Minio) dirPrefix(owner string) (string, error) {
	if err := ValidateName(owner); err != nil {
		return "", err
	}
	return path.Join(m.prefix, owner) + "/", nil
}

func (m *Minio) objectKey(owner, name string) (string, error) {
	dir, err := m.dirPrefix(owner)
	if err != nil {
		return "", err
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return dir + name, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (m *Minio) statExists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (m *Minio) DirExists(ctx context.Context, owner string) (bool, error) {
	marker, err := m.dirPrefix(owner)
	if err != nil {
		return false, err
	}
	return m.statExists(ctx, marker)
}

func (m *Minio) CreateDir(ctx context.Context, owner string) error {
	marker, err := m.dirPrefix(owner)
	if err != nil {
		return err
	}
	exists, err := m.statExists(ctx, marker)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("directory %q: %w", owner, ErrAlreadyExists)
	}
	_, err = m.client.PutObject(ctx, m.bucket, marker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	return err
}

// keysUnder lists every object key under prefix, marker included.
func (m *Minio) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// RenameDir copies every object to the new prefix before deleting any
// originals, so an interrupted rename leaves the data readable under the
// old name.
func (m *Minio) RenameDir(ctx context.Context, from, to string) error {
	src, err := m.dirPrefix(from)
	if err != nil {
		return err
	}
	dst, err := m.dirPrefix(to)
	if err != nil {
		return err
	}

	if ok, err := m.statExists(ctx, src); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("directory %q: %w", from, ErrNotFound)
	}
	if ok, err := m.statExists(ctx, dst); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("directory %q: %w", to, ErrAlreadyExists)
	}

	keys, err := m.keysUnder(ctx, src)
	if err != nil {
		return err
	}

	for _, k := range keys {
		_, err := m.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: m.bucket, Object: dst + strings.TrimPrefix(k, src)},
			minio.CopySrcOptions{Bucket: m.bucket, Object: k},
		)
		if err != nil {
			return fmt.Errorf("copy %q: %w", k, err)
		}
	}
	for _, k := range keys {
		if err := m.client.RemoveObject(ctx, m.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %q: %w", k, err)
		}
	}
	return nil
}

func (m *Minio) RemoveDir(ctx context.Context, owner string) error {
	dir, err := m.dirPrefix(owner)
	if err != nil {
		return err
	}
	keys, err := m.keysUnder(ctx, dir)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := m.client.RemoveObject(ctx, m.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %q: %w", k, err)
		}
	}
	return nil
}

func (m *Minio) List(ctx context.Context, owner string) ([]string, error) {
	dir, err := m.dirPrefix(owner)
	if err != nil {
		return nil, err
	}
	if ok, err := m.statExists(ctx, dir); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("directory %q: %w", owner, ErrNotFound)
	}

	var names []string
	for obj := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: dir}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, dir)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func (m *Minio) FileExists(ctx context.Context, owner, name string) (bool, error) {
	key, err := m.objectKey(owner, name)
	if err != nil {
		return false, err
	}
	return m.statExists(ctx, key)
}

func (m *Minio) Create(ctx context.Context, owner, name string, r io.Reader) (int64, error) {
	key, err := m.objectKey(owner, name)
	if err != nil {
		return 0, err
	}
	// PutObject would happily create the prefix, so check the marker.
	if ok, err := m.DirExists(ctx, owner); err != nil {
		return 0, err
	} else if !ok {
		return 0, fmt.Errorf("directory %q: %w", owner, ErrNotFound)
	}

	info, err := m.client.PutObject(ctx, m.bucket, key, r, -1, minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return 0, fmt.Errorf("put %q: %w", key, err)
	}
	return info.Size, nil
}

func (m *Minio) Open(ctx context.Context, owner, name string) (io.ReadCloser, error) {
	key, err := m.objectKey(owner, name)
	if err != nil {
		return nil, err
	}
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("file %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return obj, nil
}

func (m *Minio) Remove(ctx context.Context, owner, name string) error {
	key, err := m.objectKey(owner, name)
	if err != nil {
		return err
	}
	// RemoveObject succeeds on missing keys.
	if ok, err := m.statExists(ctx, key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("file %q: %w", name, ErrNotFound)
	}
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *Minio) Ping(ctx context.Context) error {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("bucket missing: " + m.bucket)
	}
	return nil
}
