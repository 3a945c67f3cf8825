// Package docstore persists the trends document as a single blob and keeps
// a short-lived in-process copy of it.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/nowtrending/nowtrending/internal/blob"
	"github.com/nowtrending/nowtrending/internal/logging"
	"github.com/nowtrending/nowtrending/internal/trends"
)

// DefaultKey is the object key of the trends document
const DefaultKey = "now-trending/trends.json"

// DefaultCacheTTL is how long a loaded document is served from memory
const DefaultCacheTTL = time.Minute

// ErrConflict means the stored document advanced since it was loaded.
// The caller may reload and retry.
var ErrConflict = errors.New("docstore: document was modified concurrently")

// Options configures a Store
type Options struct {
	Key    string
	Cache  *Cache
	Logger *slog.Logger
}

// Store loads and saves the trends document
type Store struct {
	blob    blob.Store
	key     string
	cache   *Cache
	log     *slog.Logger
	writeMu sync.Mutex
}

// New creates a document store on top of a blob store
func New(b blob.Store, opts Options) *Store {
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.Cache == nil {
		opts.Cache = NewCache(DefaultCacheTTL, nil)
	}
	return &Store{
		blob:  b,
		key:   opts.Key,
		cache: opts.Cache,
		log:   logging.OrDefault(opts.Logger).With("component", "docstore"),
	}
}

// Key returns the object key the document is stored under
func (s *Store) Key() string {
	return s.key
}

// CacheAge reports how old the cached document is, and false when nothing
// is cached.
func (s *Store) CacheAge() (time.Duration, bool) {
	return s.cache.Age()
}

// Load returns the current document. A fresh cached copy is served without
// touching the blob store. Read and decode failures are logged and yield an
// empty document, never an error.
func (s *Store) Load(ctx context.Context) *trends.Document {
	if doc, ok := s.cache.Get(); ok {
		return doc
	}

	doc, err := s.fetch(ctx)
	if err != nil {
		s.log.Error("failed to load document, using empty document", "key", s.key, "error", err)
		return trends.NewDocument()
	}
	if doc == nil {
		return trends.NewDocument()
	}

	s.cache.Set(doc)
	return doc
}

// fetch returns nil without error when no document has been persisted yet
func (s *Store) fetch(ctx context.Context) (*trends.Document, error) {
	objects, err := s.blob.List(ctx, strings.TrimSuffix(s.key, path.Ext(s.key)))
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	found := false
	for _, obj := range objects {
		if obj.Key == s.key {
			found = true
			break
		}
	}
	if !found {
		return nil, nil
	}

	data, err := s.blob.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}

	var doc trends.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

// Save writes the whole document, replacing the stored one, provided the
// stored revision still equals doc.Revision. On success doc.Revision is
// advanced and the cache holds the saved copy. Storage errors are returned.
func (s *Store) Save(ctx context.Context, doc *trends.Document) error {
	stored, err := s.storedRevision(ctx)
	if err != nil {
		return fmt.Errorf("read stored revision: %w", err)
	}
	if stored != doc.Revision {
		return fmt.Errorf("%w: loaded revision %d, stored revision %d", ErrConflict, doc.Revision, stored)
	}

	doc.Revision = stored + 1
	data, err := json.Marshal(doc)
	if err != nil {
		doc.Revision = stored
		return fmt.Errorf("encode document: %w", err)
	}

	if err := s.blob.Put(ctx, s.key, data, "application/json"); err != nil {
		doc.Revision = stored
		s.log.Error("failed to save document", "key", s.key, "error", err)
		return fmt.Errorf("write document: %w", err)
	}

	s.cache.Set(doc)
	s.log.Debug("document saved", "key", s.key, "revision", doc.Revision, "bytes", len(data))
	return nil
}

// storedRevision reads the revision of the persisted document. A missing or
// undecodable document counts as revision 0.
func (s *Store) storedRevision(ctx context.Context) (int64, error) {
	data, err := s.blob.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		s.log.Warn("stored document is not valid JSON, it will be replaced", "key", s.key, "error", err)
		return 0, nil
	}
	return head.Revision, nil
}

// Update runs a load-modify-save cycle. Writers within this process are
// serialized; writers in other processes are detected through the revision
// check and reported as ErrConflict, after which the cache is dropped so a
// retry sees the newer document.
func (s *Store) Update(ctx context.Context, fn func(doc *trends.Document) error) (*trends.Document, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	doc := s.Load(ctx)
	if err := fn(doc); err != nil {
		return nil, err
	}

	if err := s.Save(ctx, doc); err != nil {
		if errors.Is(err, ErrConflict) {
			s.cache.Invalidate()
		}
		return nil, err
	}
	return doc, nil
}
