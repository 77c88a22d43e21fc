package repositories

import (
	"encoding/json"
	"strings"

	domain "github.com/posterparlor/storefront/internal/domain"
)

// cartSnapshotDocument mirrors the stored JSON; totals are kept for readers that
// inspect the file directly and are recomputed on load.
type cartSnapshotDocument struct {
	Items      []cartItemDocument `json:"items"`
	TotalItems int                `json:"totalItems"`
	Subtotal   int64              `json:"subtotal"`
}

type cartItemDocument struct {
	ProductID  string `json:"posterId"`
	Title      string `json:"title"`
	UnitPrice  int64  `json:"price"`
	Quantity   int    `json:"quantity"`
	StockLimit int    `json:"stock"`
	ImageURL   string `json:"imageUrl,omitempty"`
	Dimensions string `json:"dimensions,omitempty"`
	Material   string `json:"material,omitempty"`
}

// EncodeCartSnapshot serialises items into the stored snapshot format.
func EncodeCartSnapshot(items []domain.CartItem) ([]byte, error) {
	doc := cartSnapshotDocument{Items: make([]cartItemDocument, 0, len(items))}
	for _, item := range items {
		doc.Items = append(doc.Items, cartItemDocument{
			ProductID:  item.ProductID,
			Title:      item.Title,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			StockLimit: item.StockLimit,
			ImageURL:   item.ImageURL,
			Dimensions: item.Variant.Dimensions,
			Material:   item.Variant.Material,
		})
		doc.TotalItems += item.Quantity
		doc.Subtotal += item.LineTotal()
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, NewCartError("cart.encode", CartErrorUnknown, "encode snapshot", err)
	}
	return data, nil
}

// DecodeCartSnapshot parses a stored snapshot. Empty input decodes to an empty cart.
func DecodeCartSnapshot(data []byte) ([]domain.CartItem, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var doc cartSnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewCartError("cart.decode", CartErrorCorrupt, "snapshot is not valid json", err)
	}
	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		if strings.TrimSpace(item.ProductID) == "" || item.StockLimit < 1 || item.UnitPrice < 0 {
			return nil, NewCartError("cart.decode", CartErrorCorrupt, "snapshot contains an invalid item", nil)
		}
		items = append(items, domain.CartItem{
			ProductID:  item.ProductID,
			Title:      item.Title,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			StockLimit: item.StockLimit,
			ImageURL:   item.ImageURL,
			Variant: domain.Variant{
				Dimensions: item.Dimensions,
				Material:   item.Material,
			},
		})
	}
	return items, nil
}
