package payments

import (
	"context"

	"github.com/posterparlor/storefront/internal/domain"
)

// EventPaymentFailed is the widget event raised when the customer's payment attempt fails.
const EventPaymentFailed = "payment.failed"

// Receipt is the signed proof of payment a widget reports on success.
type Receipt = domain.PaymentReceipt

// GatewayFailure describes a failed payment attempt as reported by the gateway.
type GatewayFailure struct {
	Code        string
	Description string
	Reason      string
	PaymentID   string
}

// Prefill seeds the widget's customer fields.
type Prefill struct {
	Name    string
	Email   string
	Contact string
}

// Theme customises the widget's appearance.
type Theme struct {
	Color string
}

// WidgetOptions configures a single widget instance.
type WidgetOptions struct {
	// Context bounds any network work a driver performs while the widget is open.
	Context     context.Context
	Key         string
	Amount      int64
	Currency    string
	OrderID     string
	Name        string
	Description string
	Prefill     Prefill
	Theme       Theme
	OnDismiss   func()
	OnSuccess   func(Receipt)
}

// Widget is an opened-once payment collection surface.
type Widget interface {
	On(event string, fn func(GatewayFailure))
	Open() error
}

// WidgetConstructor builds a widget from options.
type WidgetConstructor func(WidgetOptions) (Widget, error)

// Loader fetches the widget constructor, for example by loading a vendor SDK.
type Loader func(ctx context.Context) (WidgetConstructor, error)

func (o WidgetOptions) context() context.Context {
	if o.Context != nil {
		return o.Context
	}
	return context.Background()
}

func (o WidgetOptions) dismiss() {
	if o.OnDismiss != nil {
		o.OnDismiss()
	}
}

func (o WidgetOptions) succeed(r Receipt) {
	if o.OnSuccess != nil {
		o.OnSuccess(r)
	}
}

// failureHandlers is embedded by drivers to keep On registrations.
type failureHandlers struct {
	handlers map[string][]func(GatewayFailure)
}

func (f *failureHandlers) On(event string, fn func(GatewayFailure)) {
	if fn == nil {
		return
	}
	if f.handlers == nil {
		f.handlers = make(map[string][]func(GatewayFailure))
	}
	f.handlers[event] = append(f.handlers[event], fn)
}

func (f *failureHandlers) emit(event string, failure GatewayFailure) {
	for _, fn := range f.handlers[event] {
		fn(failure)
	}
}
