package evidence

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/entrhq/pageproof/pkg/telemetry"
)

// RoutePrefix is where stored evidence is served.
const RoutePrefix = "/evidence"

// BoltStore is a bbolt-backed Sink. Each folder is a bucket; objects are
// keyed by a random UUID plus an extension sniffed from the content.
type BoltStore struct {
	db      *bolt.DB
	baseURL string
	mu      sync.RWMutex
}

var _ Sink = (*BoltStore)(nil)

// OpenBoltStore opens (creating if needed) the store at path. baseURL is the
// externally reachable address of the service, used to build object URLs.
func OpenBoltStore(path, baseURL string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	return &BoltStore{
		db:      db,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Upload stores data in folder and returns its URL.
func (s *BoltStore) Upload(ctx context.Context, data []byte, folder string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "evidence.upload", telemetry.AttrFolder.String(folder))
	defer span.End()

	objectURL, err := s.upload(ctx, data, folder)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return "", err
	}
	return objectURL, nil
}

func (s *BoltStore) upload(ctx context.Context, data []byte, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty payload", ErrUpload)
	}
	if folder == "" || strings.ContainsAny(folder, "/\\") {
		return "", fmt.Errorf("%w: invalid folder %q", ErrUpload, folder)
	}

	ext, _ := extensionFor(data)
	key := uuid.New().String() + ext

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(folder))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", folder, err)
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	return s.objectURL(folder, key), nil
}

// Get returns a stored object.
func (s *BoltStore) Get(folder, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(folder))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// bbolt memory is only valid inside the transaction
		data = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Count returns the number of objects stored in folder.
func (s *BoltStore) Count(folder string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(folder)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n
}

// Routes mounts the read handler: GET /{folder}/{key}.
func (s *BoltStore) Routes(r chi.Router) {
	r.Get("/{folder}/{key}", s.handleGet)
}

func (s *BoltStore) handleGet(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	key := chi.URLParam(r, "key")

	data, err := s.Get(folder, key)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	_, contentType := extensionFor(data)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = w.Write(data)
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) objectURL(folder, key string) string {
	p := path.Join(RoutePrefix, url.PathEscape(folder), url.PathEscape(key))
	return s.baseURL + p
}
