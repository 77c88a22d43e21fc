package localfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/repositories"
)

const snapshotFileMode = 0o600

// CartRepository stores the cart snapshot as a JSON file on local disk.
type CartRepository struct {
	path string
	mu   sync.Mutex
}

var _ repositories.CartSnapshotRepository = (*CartRepository)(nil)

// NewCartRepository constructs a file-backed repository rooted at path. Parent
// directories are created on first save.
func NewCartRepository(path string) (*CartRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("localfile cart repository: path is required")
	}
	return &CartRepository{path: path}, nil
}

// Path returns the snapshot location.
func (r *CartRepository) Path() string {
	return r.path
}

// Load reads the snapshot. A missing file is an empty cart.
func (r *CartRepository) Load(ctx context.Context) ([]domain.CartItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, repositories.NewCartError("localfile.load", repositories.CartErrorUnavailable, "read snapshot", err)
	}
	return repositories.DecodeCartSnapshot(data)
}

// Save writes the snapshot through a temp file and rename so readers never see a partial write.
func (r *CartRepository) Save(ctx context.Context, items []domain.CartItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := repositories.EncodeCartSnapshot(items)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "create snapshot dir", err)
	}
	tmp, err := os.CreateTemp(dir, ".cart-*.json")
	if err != nil {
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "create temp file", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "write snapshot", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "sync snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "close snapshot", err)
	}
	if err := os.Chmod(tmpName, snapshotFileMode); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "chmod snapshot", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)
		return repositories.NewCartError("localfile.save", repositories.CartErrorUnavailable, "replace snapshot", err)
	}
	return nil
}

// Close is a no-op for file snapshots.
func (r *CartRepository) Close() error {
	return nil
}
