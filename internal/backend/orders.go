package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/platform/idempotency"
)

// The initiate and verify steps of one online attempt share the draft's key,
// each under its own scope.
const (
	initiateKeyScope = "initiate"
	verifyKeyScope   = "verify"
)

// ErrMissingOrderID is returned when an order lookup has no identifier.
var ErrMissingOrderID = errors.New("backend: missing order id")

// ListOrdersParams selects a page of the caller's order history. Zero values are omitted.
type ListOrdersParams struct {
	Page  int
	Limit int
}

// CreateOrder places a cash-on-delivery order.
func (c *Client) CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	var out orderDTO
	if err := c.call(ctx, "create order", http.MethodPost, "/order", nil, draftToCreateDTO(draft), draft.IdempotencyKey, &out); err != nil {
		return domain.Order{}, err
	}
	return out.toDomain(), nil
}

// ListMyOrders returns a page of the signed-in customer's orders.
func (c *Client) ListMyOrders(ctx context.Context, params ListOrdersParams) (domain.OrderPage, error) {
	query := map[string]any{}
	if params.Page > 0 {
		query["page"] = params.Page
	}
	if params.Limit > 0 {
		query["limit"] = params.Limit
	}

	var out orderPageDTO
	if err := c.call(ctx, "list orders", http.MethodGet, "/order", BuildQuery(query), nil, "", &out); err != nil {
		return domain.OrderPage{}, err
	}
	page := domain.OrderPage{
		Orders: make([]domain.Order, 0, len(out.Orders)),
		Pagination: domain.Pagination{
			CurrentPage: out.Pagination.CurrentPage,
			TotalPages:  out.Pagination.TotalPages,
			TotalOrders: out.Pagination.TotalOrders,
			Limit:       out.Pagination.Limit,
			HasNextPage: out.Pagination.HasNextPage,
			HasPrevPage: out.Pagination.HasPrevPage,
		},
	}
	for _, o := range out.Orders {
		page.Orders = append(page.Orders, o.toDomain())
	}
	return page, nil
}

// GetOrder fetches a single order by id.
func (c *Client) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	var out orderDTO
	if err := c.call(ctx, "get order", http.MethodGet, "/order/"+url.PathEscape(id), nil, nil, "", &out); err != nil {
		return domain.Order{}, err
	}
	return out.toDomain(), nil
}

// PaymentKey returns the public gateway key configured on the backend.
func (c *Client) PaymentKey(ctx context.Context) (string, error) {
	var out struct {
		KeyID string `json:"keyId"`
	}
	if err := c.call(ctx, "payment key", http.MethodGet, "/order/payment/key", nil, nil, "", &out); err != nil {
		return "", err
	}
	return out.KeyID, nil
}

// InitiatePayment opens a gateway order for the draft's total.
func (c *Client) InitiatePayment(ctx context.Context, draft domain.OrderDraft) (domain.PaymentSession, error) {
	var out initiatePaymentResponse
	if err := c.call(ctx, "initiate payment", http.MethodPost, "/order/payment/initiate", nil, draftToInitiateDTO(draft), idempotency.Scoped(initiateKeyScope, draft.IdempotencyKey), &out); err != nil {
		return domain.PaymentSession{}, err
	}
	if strings.TrimSpace(out.OrderID) == "" {
		return domain.PaymentSession{}, errors.New("backend: initiate payment: response missing orderId")
	}
	return domain.PaymentSession{
		GatewayOrderID: out.OrderID,
		Amount:         out.Amount,
		Currency:       out.Currency,
		GatewayKey:     out.KeyID,
	}, nil
}

// VerifyPayment submits the gateway receipt and the order contents; the backend
// checks the signature and persists the order.
func (c *Client) VerifyPayment(ctx context.Context, receipt domain.PaymentReceipt, draft domain.OrderDraft) (domain.Order, error) {
	var out orderDTO
	if err := c.call(ctx, "verify payment", http.MethodPost, "/order/payment/verify", nil, draftToVerifyDTO(receipt, draft), idempotency.Scoped(verifyKeyScope, draft.IdempotencyKey), &out); err != nil {
		return domain.Order{}, err
	}
	return out.toDomain(), nil
}
