package blob

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore persists blobs as files under a root directory. Keys map to
// slash-separated relative paths.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at root
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "nowtrending-blobs")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wrapError(CodePermissionDenied, false, fmt.Errorf("create root: %w", err))
	}
	return &FSStore{root: root}, nil
}

// Put writes to a temp file and renames it over the target, so readers see
// either the old or the new object.
func (s *FSStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}

	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return wrapError(CodePermissionDenied, false, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".put-*")
	if err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := tmp.Close(); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *FSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, wrapError(CodeObjectNotFound, false, err)
		}
		return nil, wrapError(CodeReadFailed, true, err)
	}
	return data, nil
}

func (s *FSStore) List(ctx context.Context, prefix string) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Object
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{
			Key:          key,
			Size:         info.Size(),
			ContentType:  mime.TypeByExtension(path.Ext(key)),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, wrapError(CodeReadFailed, true, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrapError(CodeWriteFailed, true, err)
	}
	return nil
}

func (s *FSStore) Close() error { return nil }

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// validateKey rejects keys that would escape the store root.
func validateKey(key string) error {
	if key == "" {
		return wrapError(CodeInvalidKey, false, errors.New("object key is required"))
	}
	if strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") || path.Clean("/"+key) != "/"+key {
		return wrapError(CodeInvalidKey, false, fmt.Errorf("invalid object key %q", key))
	}
	return nil
}
