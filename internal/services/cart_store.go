package services

import (
	"context"
	"errors"
	"strings"
	"sync"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/repositories"
)

var (
	errCartStoreRepositoryRequired = errors.New("cart store: repository is required")

	// ErrCartInvalidItem indicates the item cannot be placed in the cart.
	ErrCartInvalidItem = errors.New("cart store: invalid item")
)

// CartSnapshot is delivered to subscribers after every mutation.
type CartSnapshot struct {
	Items  []domain.CartItem
	Totals domain.CartTotals
}

// CartStoreDeps wires persistence and logging for the cart store.
type CartStoreDeps struct {
	Repository repositories.CartSnapshotRepository
	Logger     func(context.Context, string, map[string]any)
}

// CartStore owns the local cart. Every mutation is persisted before it returns
// and then announced to subscribers.
type CartStore struct {
	repo   repositories.CartSnapshotRepository
	logger func(context.Context, string, map[string]any)

	mu     sync.Mutex
	items  []domain.CartItem
	totals domain.CartTotals

	subMu  sync.Mutex
	subs   map[int]func(CartSnapshot)
	nextID int
}

// NewCartStore rehydrates the cart from the repository. Unreadable or corrupt
// snapshots start an empty cart.
func NewCartStore(ctx context.Context, deps CartStoreDeps) (*CartStore, error) {
	if deps.Repository == nil {
		return nil, errCartStoreRepositoryRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	store := &CartStore{
		repo:   deps.Repository,
		logger: logger,
		subs:   make(map[int]func(CartSnapshot)),
	}

	items, err := deps.Repository.Load(ctx)
	if err != nil {
		logger(ctx, "cart_rehydrate_failed", map[string]any{
			"error":   err.Error(),
			"corrupt": repositories.IsCartCorrupt(err),
		})
		items = nil
	}
	store.items = normaliseCartItems(items)
	store.totals = cartTotals(store.items)
	return store, nil
}

func normaliseCartItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		if item.StockLimit < 1 {
			continue
		}
		item.Quantity = clampQuantity(item.Quantity, item.StockLimit)
		if idx, ok := seen[item.ProductID]; ok {
			out[idx].Quantity = clampQuantity(out[idx].Quantity+item.Quantity, out[idx].StockLimit)
			continue
		}
		seen[item.ProductID] = len(out)
		out = append(out, item)
	}
	return out
}

func clampQuantity(quantity, stock int) int {
	if quantity < 1 {
		quantity = 1
	}
	if quantity > stock {
		quantity = stock
	}
	return quantity
}

func cartTotals(items []domain.CartItem) domain.CartTotals {
	var totals domain.CartTotals
	for _, item := range items {
		totals.TotalItems += item.Quantity
		totals.Subtotal += item.LineTotal()
	}
	return totals
}

// Add places item in the cart, merging with an existing line for the same poster.
// Merged quantities are capped at the stock limit.
func (s *CartStore) Add(ctx context.Context, item domain.CartItem) error {
	item.ProductID = strings.TrimSpace(item.ProductID)
	if item.ProductID == "" || item.StockLimit < 1 || item.UnitPrice < 0 {
		return ErrCartInvalidItem
	}
	s.mutate(ctx, "add", func(items []domain.CartItem) ([]domain.CartItem, bool) {
		for i := range items {
			if items[i].ProductID == item.ProductID {
				merged := clampQuantity(items[i].Quantity+max(item.Quantity, 1), items[i].StockLimit)
				if merged == items[i].Quantity {
					return items, false
				}
				items[i].Quantity = merged
				return items, true
			}
		}
		item.Quantity = clampQuantity(item.Quantity, item.StockLimit)
		return append(items, item), true
	})
	return nil
}

// Remove drops the line for productID.
func (s *CartStore) Remove(ctx context.Context, productID string) {
	s.mutate(ctx, "remove", func(items []domain.CartItem) ([]domain.CartItem, bool) {
		for i := range items {
			if items[i].ProductID == productID {
				return append(items[:i], items[i+1:]...), true
			}
		}
		return items, false
	})
}

// SetQuantity sets the line quantity, clamped into [1, stock limit].
func (s *CartStore) SetQuantity(ctx context.Context, productID string, quantity int) {
	s.updateLine(ctx, "set_quantity", productID, func(item domain.CartItem) int {
		return clampQuantity(quantity, item.StockLimit)
	})
}

// Increment adds one unit unless the line is already at its stock limit.
func (s *CartStore) Increment(ctx context.Context, productID string) {
	s.updateLine(ctx, "increment", productID, func(item domain.CartItem) int {
		if item.Quantity >= item.StockLimit {
			return item.Quantity
		}
		return item.Quantity + 1
	})
}

// Decrement removes one unit. A line at quantity 1 is left as is.
func (s *CartStore) Decrement(ctx context.Context, productID string) {
	s.updateLine(ctx, "decrement", productID, func(item domain.CartItem) int {
		if item.Quantity <= 1 {
			return item.Quantity
		}
		return item.Quantity - 1
	})
}

// Clear empties the cart.
func (s *CartStore) Clear(ctx context.Context) {
	s.mutate(ctx, "clear", func(items []domain.CartItem) ([]domain.CartItem, bool) {
		return items[:0], true
	})
}

func (s *CartStore) updateLine(ctx context.Context, op, productID string, next func(domain.CartItem) int) {
	s.mutate(ctx, op, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		for i := range items {
			if items[i].ProductID != productID {
				continue
			}
			quantity := next(items[i])
			if quantity == items[i].Quantity {
				return items, false
			}
			items[i].Quantity = quantity
			return items, true
		}
		return items, false
	})
}

// mutate applies fn under the lock, persists the result and notifies subscribers.
// fn reports whether anything changed; unchanged carts are neither saved nor announced.
func (s *CartStore) mutate(ctx context.Context, op string, fn func([]domain.CartItem) ([]domain.CartItem, bool)) {
	s.mu.Lock()
	working := append([]domain.CartItem(nil), s.items...)
	next, changed := fn(working)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.items = next
	s.totals = cartTotals(next)
	snapshot := s.snapshotLocked()
	if err := s.repo.Save(ctx, snapshot.Items); err != nil {
		s.logger(ctx, "cart_persist_failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	}
	s.mu.Unlock()

	s.notify(snapshot)
}

func (s *CartStore) snapshotLocked() CartSnapshot {
	return CartSnapshot{
		Items:  append([]domain.CartItem(nil), s.items...),
		Totals: s.totals,
	}
}

// Items returns a copy of the cart lines.
func (s *CartStore) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CartItem(nil), s.items...)
}

// Totals returns the item count and subtotal.
func (s *CartStore) Totals() domain.CartTotals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Snapshot returns lines and totals read under one lock.
func (s *CartStore) Snapshot() CartSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Contains reports whether productID has a line in the cart.
func (s *CartStore) Contains(productID string) bool {
	return s.Quantity(productID) > 0
}

// Quantity returns the line quantity for productID, or 0.
func (s *CartStore) Quantity(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// Subscribe registers fn for every change and returns a function that removes it.
func (s *CartStore) Subscribe(fn func(CartSnapshot)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
		})
	}
}

func (s *CartStore) notify(snapshot CartSnapshot) {
	s.subMu.Lock()
	fns := make([]func(CartSnapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}

// Close releases the underlying repository.
func (s *CartStore) Close() error {
	return s.repo.Close()
}
