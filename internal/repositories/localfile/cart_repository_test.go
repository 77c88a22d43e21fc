package localfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/repositories"
)

func TestCartRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "cart.json")
	repo, err := NewCartRepository(path)
	require.NoError(t, err)

	items, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	want := []domain.CartItem{{
		ProductID:  "poster-1",
		Title:      "Starry Night",
		UnitPrice:  199,
		Quantity:   2,
		StockLimit: 5,
		ImageURL:   "https://img.example/1.jpg",
		Variant:    domain.Variant{Dimensions: "A3", Material: "Matte"},
	}}
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(snapshotFileMode), info.Mode().Perm())
}

func TestCartRepositoryCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cart.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	repo, err := NewCartRepository(path)
	require.NoError(t, err)

	_, err = repo.Load(context.Background())
	require.Error(t, err)
	assert.True(t, repositories.IsCartCorrupt(err))
}

func TestNewCartRepositoryRequiresPath(t *testing.T) {
	_, err := NewCartRepository("  ")
	require.Error(t, err)
}
