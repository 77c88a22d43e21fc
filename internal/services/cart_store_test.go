package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/repositories"
)

type memoryCartRepo struct {
	mu      sync.Mutex
	items   []domain.CartItem
	loadErr error
	saveErr error
	saves   int
	closed  bool
}

func (r *memoryCartRepo) Load(context.Context) ([]domain.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	return append([]domain.CartItem(nil), r.items...), nil
}

func (r *memoryCartRepo) Save(_ context.Context, items []domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.saveErr != nil {
		return r.saveErr
	}
	r.items = append([]domain.CartItem(nil), items...)
	return nil
}

func (r *memoryCartRepo) Close() error {
	r.closed = true
	return nil
}

func (r *memoryCartRepo) saved() ([]domain.CartItem, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CartItem(nil), r.items...), r.saves
}

func poster(id string, price domain.Money, quantity, stock int) domain.CartItem {
	return domain.CartItem{
		ProductID:  id,
		Title:      "Poster " + id,
		UnitPrice:  price,
		Quantity:   quantity,
		StockLimit: stock,
		Variant:    domain.Variant{Dimensions: "A3", Material: "Matte"},
	}
}

func newTestCart(t *testing.T, repo *memoryCartRepo) *CartStore {
	t.Helper()
	store, err := NewCartStore(context.Background(), CartStoreDeps{Repository: repo})
	if err != nil {
		t.Fatalf("new cart store: %v", err)
	}
	return store
}

func TestNewCartStoreRequiresRepository(t *testing.T) {
	if _, err := NewCartStore(context.Background(), CartStoreDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}

func TestCartStoreAddMergesAndCapsAtStock(t *testing.T) {
	repo := &memoryCartRepo{}
	cart := newTestCart(t, repo)
	ctx := context.Background()

	if err := cart.Add(ctx, poster("p1", 100, 2, 3)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cart.Add(ctx, poster("p1", 100, 2, 3)); err != nil {
		t.Fatalf("add again: %v", err)
	}
	if got := cart.Quantity("p1"); got != 3 {
		t.Fatalf("expected merged quantity capped at 3, got %d", got)
	}
	if got := len(cart.Items()); got != 1 {
		t.Fatalf("expected a single line, got %d", got)
	}
	totals := cart.Totals()
	if totals.TotalItems != 3 || totals.Subtotal != 300 {
		t.Fatalf("unexpected totals %+v", totals)
	}

	saved, saves := repo.saved()
	if saves != 2 {
		t.Fatalf("expected 2 saves, got %d", saves)
	}
	if len(saved) != 1 || saved[0].Quantity != 3 {
		t.Fatalf("expected persisted snapshot to match, got %+v", saved)
	}
}

func TestCartStoreAddClampsNewLine(t *testing.T) {
	cart := newTestCart(t, &memoryCartRepo{})
	ctx := context.Background()

	if err := cart.Add(ctx, poster("p1", 100, 10, 4)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := cart.Add(ctx, poster("p2", 50, 0, 4)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := cart.Quantity("p1"); got != 4 {
		t.Fatalf("expected quantity clamped to stock, got %d", got)
	}
	if got := cart.Quantity("p2"); got != 1 {
		t.Fatalf("expected quantity raised to 1, got %d", got)
	}
}

func TestCartStoreAddRejectsInvalidItems(t *testing.T) {
	cart := newTestCart(t, &memoryCartRepo{})
	ctx := context.Background()

	cases := map[string]domain.CartItem{
		"blank id":       poster(" ", 100, 1, 2),
		"out of stock":   poster("p1", 100, 1, 0),
		"negative price": poster("p1", -1, 1, 2),
	}
	for name, item := range cases {
		if err := cart.Add(ctx, item); !errors.Is(err, ErrCartInvalidItem) {
			t.Fatalf("%s: expected ErrCartInvalidItem, got %v", name, err)
		}
	}
	if len(cart.Items()) != 0 {
		t.Fatalf("expected cart to stay empty")
	}
}

func TestCartStoreQuantityBounds(t *testing.T) {
	repo := &memoryCartRepo{}
	cart := newTestCart(t, repo)
	ctx := context.Background()
	_ = cart.Add(ctx, poster("p1", 100, 1, 2))

	cart.Decrement(ctx, "p1")
	if got := cart.Quantity("p1"); got != 1 {
		t.Fatalf("decrement at 1 must be a no-op, got %d", got)
	}
	cart.Increment(ctx, "p1")
	cart.Increment(ctx, "p1")
	if got := cart.Quantity("p1"); got != 2 {
		t.Fatalf("increment must stop at stock, got %d", got)
	}
	cart.SetQuantity(ctx, "p1", 0)
	if got := cart.Quantity("p1"); got != 1 {
		t.Fatalf("set quantity must clamp to 1, got %d", got)
	}
	cart.SetQuantity(ctx, "p1", 99)
	if got := cart.Quantity("p1"); got != 2 {
		t.Fatalf("set quantity must clamp to stock, got %d", got)
	}
	cart.SetQuantity(ctx, "missing", 2)
	if cart.Contains("missing") {
		t.Fatalf("set quantity must not create lines")
	}

	_, saves := repo.saved()
	// add, increment, set 1, set 2
	if saves != 4 {
		t.Fatalf("expected only effective mutations to persist, got %d saves", saves)
	}
}

func TestCartStoreRemoveAndClear(t *testing.T) {
	repo := &memoryCartRepo{}
	cart := newTestCart(t, repo)
	ctx := context.Background()
	_ = cart.Add(ctx, poster("p1", 100, 1, 5))
	_ = cart.Add(ctx, poster("p2", 250, 2, 5))

	cart.Remove(ctx, "p1")
	if cart.Contains("p1") || !cart.Contains("p2") {
		t.Fatalf("unexpected lines after remove: %+v", cart.Items())
	}
	if got := cart.Totals().Subtotal; got != 500 {
		t.Fatalf("expected subtotal 500, got %d", got)
	}

	cart.Clear(ctx)
	snapshot := cart.Snapshot()
	if len(snapshot.Items) != 0 || snapshot.Totals != (domain.CartTotals{}) {
		t.Fatalf("expected empty cart, got %+v", snapshot)
	}
	saved, _ := repo.saved()
	if len(saved) != 0 {
		t.Fatalf("expected empty persisted snapshot, got %+v", saved)
	}
}

func TestCartStoreRehydratesAndNormalises(t *testing.T) {
	repo := &memoryCartRepo{items: []domain.CartItem{
		poster("p1", 100, 2, 5),
		poster("p1", 100, 4, 5),
		poster("gone", 100, 1, 0),
		poster("p2", 80, 9, 3),
	}}
	cart := newTestCart(t, repo)

	if cart.Contains("gone") {
		t.Fatalf("expected out-of-stock line dropped")
	}
	if got := cart.Quantity("p1"); got != 5 {
		t.Fatalf("expected duplicate lines merged and capped, got %d", got)
	}
	if got := cart.Quantity("p2"); got != 3 {
		t.Fatalf("expected quantity clamped to stock, got %d", got)
	}
	if got := cart.Totals(); got.TotalItems != 8 || got.Subtotal != 740 {
		t.Fatalf("unexpected totals %+v", got)
	}
}

func TestCartStoreCorruptSnapshotStartsEmpty(t *testing.T) {
	var events []string
	repo := &memoryCartRepo{loadErr: repositories.NewCartError("load", repositories.CartErrorCorrupt, "bad json", nil)}
	cart, err := NewCartStore(context.Background(), CartStoreDeps{
		Repository: repo,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new cart store: %v", err)
	}
	if len(cart.Items()) != 0 {
		t.Fatalf("expected empty cart")
	}
	if len(events) != 1 || events[0] != "cart_rehydrate_failed" {
		t.Fatalf("expected rehydrate failure logged, got %v", events)
	}
}

func TestCartStorePersistFailureKeepsMemoryState(t *testing.T) {
	var events []string
	repo := &memoryCartRepo{saveErr: errors.New("disk full")}
	cart, err := NewCartStore(context.Background(), CartStoreDeps{
		Repository: repo,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	if err != nil {
		t.Fatalf("new cart store: %v", err)
	}
	if err := cart.Add(context.Background(), poster("p1", 100, 1, 2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !cart.Contains("p1") {
		t.Fatalf("expected in-memory cart to keep the line")
	}
	if len(events) != 1 || events[0] != "cart_persist_failed" {
		t.Fatalf("expected persist failure logged, got %v", events)
	}
}

func TestCartStoreSubscribers(t *testing.T) {
	cart := newTestCart(t, &memoryCartRepo{})
	ctx := context.Background()

	var snapshots []CartSnapshot
	unsubscribe := cart.Subscribe(func(s CartSnapshot) { snapshots = append(snapshots, s) })

	_ = cart.Add(ctx, poster("p1", 100, 1, 1))
	cart.Increment(ctx, "p1") // at stock: no notification
	unsubscribe()
	unsubscribe()
	cart.Clear(ctx)

	if len(snapshots) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(snapshots))
	}
	if snapshots[0].Totals.Subtotal != 100 {
		t.Fatalf("unexpected snapshot %+v", snapshots[0])
	}
}

func TestCartStoreCloseClosesRepository(t *testing.T) {
	repo := &memoryCartRepo{}
	cart := newTestCart(t, repo)
	if err := cart.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !repo.closed {
		t.Fatalf("expected repository closed")
	}
}
