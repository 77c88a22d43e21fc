package domain

import (
	"time"
)

// Money is an amount in whole rupees.
type Money = int64

// CurrencyINR is the only currency the storefront sells in.
const CurrencyINR = "INR"

// PaymentMethod selects the checkout branch.
type PaymentMethod string

const (
	// PaymentMethodOnline routes checkout through the payment gateway.
	PaymentMethodOnline PaymentMethod = "ONLINE"
	// PaymentMethodCOD places the order directly for cash on delivery.
	PaymentMethodCOD PaymentMethod = "COD"
)

// Valid reports whether the method is one the backend accepts.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodOnline || m == PaymentMethodCOD
}

// Variant carries the poster attributes shown alongside a cart line.
type Variant struct {
	Dimensions string
	Material   string
}

// CartItem is a single poster line held in the local cart.
type CartItem struct {
	ProductID  string
	Title      string
	UnitPrice  Money
	Quantity   int
	StockLimit int
	ImageURL   string
	Variant    Variant
}

// LineTotal returns unit price multiplied by quantity.
func (i CartItem) LineTotal() Money {
	return i.UnitPrice * int64(i.Quantity)
}

// CartTotals summarises the cart after every mutation.
type CartTotals struct {
	TotalItems int
	Subtotal   Money
}

// CheckoutForm is the customer-supplied checkout snapshot.
type CheckoutForm struct {
	Name          string
	Email         string
	Phone         string
	AddressLine1  string
	City          string
	State         string
	Pincode       string
	PaymentMethod PaymentMethod
	Notes         string
}

// Customer identifies the buyer on an order.
type Customer struct {
	Name   string
	Email  string
	Phone  string
	UserID string
}

// ShippingAddress is the delivery destination of an order.
type ShippingAddress struct {
	AddressLine1 string
	City         string
	State        string
	Pincode      string
}

// OrderLine is the wire representation of a priced cart line.
type OrderLine struct {
	ProductID string
	Quantity  int
	Price     Money
}

// OrderDraft is assembled once per submission attempt and never mutated after it is sent.
type OrderDraft struct {
	IdempotencyKey  string
	Customer        Customer
	Items           []OrderLine
	ShippingAddress ShippingAddress
	Pricing         PricingBreakdown
	PaymentMethod   PaymentMethod
	Notes           string
}

// PaymentSession is returned by the initiate call and lives for one checkout attempt.
type PaymentSession struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	GatewayKey     string
}

// PaymentReceipt is the signed proof of payment reported by the gateway.
type PaymentReceipt struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// OrderStatus enumerates backend order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentDetails records how an order is paid.
type PaymentDetails struct {
	Method   PaymentMethod
	Amount   Money
	Currency string
}

// OrderItem is a line on a stored order. Poster is populated when the backend expands it.
type OrderItem struct {
	ProductID string
	Poster    *Poster
	Quantity  int
	Price     Money
}

// Poster is the populated product attached to order lines.
type Poster struct {
	ID         string
	Title      string
	Images     []string
	Dimensions string
	Material   string
	Category   string
}

// Order is the backend's view of a placed order.
type Order struct {
	ID              string
	Customer        *Customer
	Items           []OrderItem
	ShippingAddress ShippingAddress
	PaymentDetails  PaymentDetails
	Status          OrderStatus
	IsPaid          bool
	ShippingCost    Money
	TaxAmount       Money
	TotalPrice      Money
	Notes           string
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Pagination describes one page of the order history.
type Pagination struct {
	CurrentPage int
	TotalPages  int
	TotalOrders int
	Limit       int
	HasNextPage bool
	HasPrevPage bool
}

// OrderPage is a page of orders plus paging metadata.
type OrderPage struct {
	Orders     []Order
	Pagination Pagination
}

// User is the denormalized profile kept for the signed-in customer.
type User struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// AuthSession is the local view of authentication. Session material itself lives in an HTTP-only cookie.
type AuthSession struct {
	IsAuthenticated bool
	Profile         *User
}
