package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/posterparlor/storefront/internal/backend"
	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/payments"
	"github.com/posterparlor/storefront/internal/platform/idempotency"
	"github.com/posterparlor/storefront/internal/platform/observability"
	"github.com/posterparlor/storefront/internal/platform/requestctx"
)

// CheckoutState is a state of the checkout state machine.
type CheckoutState string

const (
	CheckoutIdle                  CheckoutState = "idle"
	CheckoutSubmitting            CheckoutState = "submitting"
	CheckoutDirectOrderPlaced     CheckoutState = "direct_order_placed"
	CheckoutAwaitingGatewayResult CheckoutState = "awaiting_gateway_result"
	CheckoutVerifying             CheckoutState = "verifying"
	CheckoutCompleted             CheckoutState = "completed"
	CheckoutFailed                CheckoutState = "failed"
)

// Terminal reports whether no further transition happens without a new Submit or Reset.
func (s CheckoutState) Terminal() bool {
	return s == CheckoutCompleted || s == CheckoutFailed
}

// User-facing checkout messages.
const (
	MsgOrderPlaced         = "Order placed successfully!"
	MsgPaymentSucceeded    = "Payment successful! Order placed"
	MsgPaymentCancelled    = "Payment cancelled"
	MsgFormInvalid         = "Please fill in all required fields correctly"
	MsgCartEmpty           = "Your cart is empty"
	MsgOrderFailed         = "Failed to place order. Please try again."
	MsgInitiateFailed      = "Failed to initiate payment. Please try again."
	MsgGatewayLoading      = "Payment system is loading. Please try again."
	MsgPaymentFailed       = "Payment failed. Please try again."
	MsgVerificationFailed  = "Payment verification failed. Please contact support with your payment ID."
	defaultStoreName       = "Poster Parlor"
	defaultGatewayThemeHex = "#7C3AED"
	checkoutSpanName       = "checkout.submit"
)

var (
	// ErrCheckoutInProgress is returned when Submit or Reset is called mid-attempt.
	ErrCheckoutInProgress = errors.New("checkout: attempt already in progress")
	// ErrCartEmpty is returned when submitting with no cart lines.
	ErrCartEmpty = errors.New("checkout: cart is empty")

	errCheckoutBackendRequired  = errors.New("checkout: backend is required")
	errCheckoutPaymentsRequired = errors.New("checkout: payment adapter is required")
	errCheckoutCartRequired     = errors.New("checkout: cart is required")
)

// SubmissionFailedError reports a failure before any money moved: order creation,
// payment initiation, or an unavailable gateway.
type SubmissionFailedError struct {
	Message string
	Err     error
}

func (e *SubmissionFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkout: submission failed: %s: %v", e.Message, e.Err)
	}
	return "checkout: submission failed: " + e.Message
}

func (e *SubmissionFailedError) Unwrap() error { return e.Err }

// GatewayFailedError reports that the payment gateway declined or errored.
type GatewayFailedError struct {
	Message string
	Failure payments.GatewayFailure
}

func (e *GatewayFailedError) Error() string {
	return fmt.Sprintf("checkout: gateway failed (%s): %s", e.Failure.Code, e.Message)
}

// VerificationFailedError reports that money may have moved but the backend did
// not confirm the order. It is never retried automatically.
type VerificationFailedError struct {
	Message   string
	PaymentID string
	Err       error
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("checkout: verification failed for payment %s: %v", e.PaymentID, e.Err)
}

func (e *VerificationFailedError) Unwrap() error { return e.Err }

// CheckoutBackend is the subset of the backend used to place orders.
type CheckoutBackend interface {
	CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error)
	InitiatePayment(ctx context.Context, draft domain.OrderDraft) (domain.PaymentSession, error)
	VerifyPayment(ctx context.Context, receipt domain.PaymentReceipt, draft domain.OrderDraft) (domain.Order, error)
}

// PaymentCollector collects an online payment. payments.Adapter satisfies it.
type PaymentCollector interface {
	Ready() bool
	Await(ctx context.Context, opts payments.WidgetOptions) (payments.Outcome, error)
}

// CheckoutCart is the cart view checkout needs.
type CheckoutCart interface {
	Snapshot() CartSnapshot
	Clear(ctx context.Context)
}

// CheckoutRequest is one submission of the checkout form.
type CheckoutRequest struct {
	Form      domain.CheckoutForm
	FormValid bool
}

// CheckoutResult is what a submission produced.
type CheckoutResult struct {
	State     CheckoutState
	Order     *domain.Order
	Message   string
	PaymentID string
	Cancelled bool
}

// Transition is published to subscribers on every state change.
type Transition struct {
	From    CheckoutState
	To      CheckoutState
	Message string
	Err     error
}

// CheckoutOrchestratorDeps wires the orchestrator.
type CheckoutOrchestratorDeps struct {
	Backend    CheckoutBackend
	Payments   PaymentCollector
	Cart       CheckoutCart
	Keys       *idempotency.Generator
	StoreName  string
	ThemeColor string
	// GatewayKey is the configured public gateway key, used when the initiate
	// response carries none.
	GatewayKey string
	Logger     func(context.Context, string, map[string]any)
}

// CheckoutOrchestrator drives one checkout attempt at a time from cart to order.
type CheckoutOrchestrator struct {
	backend    CheckoutBackend
	payments   PaymentCollector
	cart       CheckoutCart
	keys       *idempotency.Generator
	text       *bluemonday.Policy
	storeName  string
	themeColor string
	gatewayKey string
	logger     func(context.Context, string, map[string]any)

	mu    sync.Mutex
	state CheckoutState

	subMu  sync.Mutex
	subs   map[int]func(Transition)
	nextID int
}

// NewCheckoutOrchestrator constructs an orchestrator in the Idle state.
func NewCheckoutOrchestrator(deps CheckoutOrchestratorDeps) (*CheckoutOrchestrator, error) {
	if deps.Backend == nil {
		return nil, errCheckoutBackendRequired
	}
	if deps.Payments == nil {
		return nil, errCheckoutPaymentsRequired
	}
	if deps.Cart == nil {
		return nil, errCheckoutCartRequired
	}
	keys := deps.Keys
	if keys == nil {
		keys = idempotency.NewGenerator(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	storeName := strings.TrimSpace(deps.StoreName)
	if storeName == "" {
		storeName = defaultStoreName
	}
	theme := strings.TrimSpace(deps.ThemeColor)
	if theme == "" {
		theme = defaultGatewayThemeHex
	}
	return &CheckoutOrchestrator{
		backend:    deps.Backend,
		payments:   deps.Payments,
		cart:       deps.Cart,
		keys:       keys,
		text:       bluemonday.StrictPolicy(),
		storeName:  storeName,
		themeColor: theme,
		gatewayKey: strings.TrimSpace(deps.GatewayKey),
		logger:     logger,
		state:      CheckoutIdle,
		subs:       make(map[int]func(Transition)),
	}, nil
}

// State returns the current state.
func (o *CheckoutOrchestrator) State() CheckoutState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Reset returns a terminal orchestrator to Idle.
func (o *CheckoutOrchestrator) Reset() error {
	o.mu.Lock()
	from := o.state
	switch {
	case from == CheckoutIdle:
		o.mu.Unlock()
		return nil
	case !from.Terminal():
		o.mu.Unlock()
		return ErrCheckoutInProgress
	}
	o.state = CheckoutIdle
	o.mu.Unlock()
	o.notify(Transition{From: from, To: CheckoutIdle})
	return nil
}

// Subscribe registers fn for every transition and returns a function that removes it.
func (o *CheckoutOrchestrator) Subscribe(fn func(Transition)) func() {
	if fn == nil {
		return func() {}
	}
	o.subMu.Lock()
	id := o.nextID
	o.nextID++
	o.subs[id] = fn
	o.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.subMu.Lock()
			delete(o.subs, id)
			o.subMu.Unlock()
		})
	}
}

func (o *CheckoutOrchestrator) notify(t Transition) {
	o.subMu.Lock()
	fns := make([]func(Transition), 0, len(o.subs))
	for _, fn := range o.subs {
		fns = append(fns, fn)
	}
	o.subMu.Unlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (o *CheckoutOrchestrator) transition(to CheckoutState, message string, err error) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()
	o.notify(Transition{From: from, To: to, Message: message, Err: err})
}

// Submit runs one checkout attempt. Validation problems return before any network
// call. Dismissing the payment widget returns to Idle with Cancelled set and no error.
func (o *CheckoutOrchestrator) Submit(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	draft, err := o.begin(req)
	if err != nil {
		return CheckoutResult{State: o.State()}, err
	}

	// Every call of one attempt carries the same X-Request-ID.
	ctx = requestctx.WithRequestID(ctx, "")
	ctx, span := observability.Tracer().Start(ctx, checkoutSpanName)
	defer span.End()
	span.SetAttributes(
		attribute.String("checkout.request_id", requestctx.RequestID(ctx)),
		attribute.String("checkout.payment_method", string(draft.PaymentMethod)),
		attribute.Int64("checkout.total", draft.Pricing.TotalPrice),
		attribute.Int("checkout.items", len(draft.Items)),
	)

	var result CheckoutResult
	if draft.PaymentMethod == domain.PaymentMethodCOD {
		result, err = o.placeDirectOrder(ctx, draft)
	} else {
		result, err = o.payOnline(ctx, draft)
	}
	span.SetAttributes(attribute.String("checkout.state", string(result.State)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

// begin validates the request and moves Idle to Submitting under a single lock so
// concurrent submissions cannot both start.
func (o *CheckoutOrchestrator) begin(req CheckoutRequest) (domain.OrderDraft, error) {
	o.mu.Lock()
	from := o.state
	if from != CheckoutIdle && !from.Terminal() {
		o.mu.Unlock()
		return domain.OrderDraft{}, ErrCheckoutInProgress
	}

	if err := ValidateCheckoutForm(req.Form); err != nil {
		o.mu.Unlock()
		return domain.OrderDraft{}, err
	}
	if !req.FormValid {
		o.mu.Unlock()
		return domain.OrderDraft{}, &ValidationError{Fields: map[string]string{"form": MsgFormInvalid}}
	}
	cart := o.cart.Snapshot()
	if len(cart.Items) == 0 {
		o.mu.Unlock()
		return domain.OrderDraft{}, ErrCartEmpty
	}

	draft := o.buildDraft(req, cart)
	o.state = CheckoutSubmitting
	o.mu.Unlock()

	if from.Terminal() {
		o.notify(Transition{From: from, To: CheckoutIdle})
		from = CheckoutIdle
	}
	o.notify(Transition{From: from, To: CheckoutSubmitting})
	return draft, nil
}

func (o *CheckoutOrchestrator) buildDraft(req CheckoutRequest, cart CartSnapshot) domain.OrderDraft {
	form := req.Form
	items := make([]domain.OrderLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, domain.OrderLine{ProductID: item.ProductID, Quantity: item.Quantity, Price: item.UnitPrice})
	}
	return domain.OrderDraft{
		IdempotencyKey: o.keys.NewKey(),
		Customer: domain.Customer{
			Name:  o.clean(form.Name),
			Email: strings.TrimSpace(form.Email),
			Phone: NormalisePhone(form.Phone),
		},
		Items: items,
		ShippingAddress: domain.ShippingAddress{
			AddressLine1: o.clean(form.AddressLine1),
			City:         o.clean(form.City),
			State:        form.State,
			Pincode:      strings.TrimSpace(form.Pincode),
		},
		// The backend reprices from the shipping state, so the preview must too.
		Pricing:       Price(cart.Totals.Subtotal, form.State),
		PaymentMethod: form.PaymentMethod,
		Notes:         o.clean(form.Notes),
	}
}

// clean strips markup from free text while keeping ordinary punctuation intact.
func (o *CheckoutOrchestrator) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(o.text.Sanitize(value)))
}

func (o *CheckoutOrchestrator) placeDirectOrder(ctx context.Context, draft domain.OrderDraft) (CheckoutResult, error) {
	order, err := o.backend.CreateOrder(context.WithoutCancel(ctx), draft)
	if err != nil {
		return o.fail(ctx, &SubmissionFailedError{Message: serverMessageOr(err, MsgOrderFailed), Err: err})
	}
	o.transition(CheckoutDirectOrderPlaced, "", nil)
	return o.complete(ctx, order, MsgOrderPlaced, "")
}

func (o *CheckoutOrchestrator) payOnline(ctx context.Context, draft domain.OrderDraft) (CheckoutResult, error) {
	if !o.payments.Ready() {
		return o.fail(ctx, &SubmissionFailedError{Message: MsgGatewayLoading, Err: payments.ErrGatewayNotReady})
	}

	ps, err := o.backend.InitiatePayment(ctx, draft)
	if err != nil {
		return o.fail(ctx, &SubmissionFailedError{Message: serverMessageOr(err, MsgInitiateFailed), Err: err})
	}

	o.transition(CheckoutAwaitingGatewayResult, "", nil)
	outcome, err := o.payments.Await(ctx, payments.WidgetOptions{
		Key:         o.widgetKey(ctx, ps),
		Amount:      ps.Amount,
		Currency:    ps.Currency,
		OrderID:     ps.GatewayOrderID,
		Name:        o.storeName,
		Description: fmt.Sprintf("Order for %d item(s)", len(draft.Items)),
		Prefill: payments.Prefill{
			Name:    draft.Customer.Name,
			Email:   draft.Customer.Email,
			Contact: draft.Customer.Phone,
		},
		Theme: payments.Theme{Color: o.themeColor},
	})
	if err != nil {
		// The caller gave up while the widget was open; nothing was charged.
		o.logger(ctx, "checkout_await_aborted", map[string]any{"orderId": ps.GatewayOrderID, "error": err.Error()})
		o.transition(CheckoutIdle, "", err)
		return CheckoutResult{State: CheckoutIdle}, fmt.Errorf("checkout: await payment: %w", err)
	}

	switch outcome.Kind {
	case payments.OutcomeDismissed:
		o.logger(ctx, "checkout_payment_dismissed", map[string]any{"orderId": ps.GatewayOrderID})
		o.transition(CheckoutIdle, MsgPaymentCancelled, nil)
		return CheckoutResult{State: CheckoutIdle, Message: MsgPaymentCancelled, Cancelled: true}, nil
	case payments.OutcomeFailure:
		message := strings.TrimSpace(outcome.Failure.Description)
		if message == "" {
			message = MsgPaymentFailed
		}
		result, err := o.fail(ctx, &GatewayFailedError{Message: message, Failure: outcome.Failure})
		result.PaymentID = outcome.Failure.PaymentID
		return result, err
	}

	receipt := outcome.Receipt
	o.transition(CheckoutVerifying, "", nil)
	order, err := o.backend.VerifyPayment(context.WithoutCancel(ctx), receipt, draft)
	if err != nil {
		result, err := o.fail(ctx, &VerificationFailedError{Message: MsgVerificationFailed, PaymentID: receipt.PaymentID, Err: err})
		result.PaymentID = receipt.PaymentID
		return result, err
	}
	return o.complete(ctx, order, MsgPaymentSucceeded, receipt.PaymentID)
}

// widgetKey prefers the key the backend issued for this gateway order.
func (o *CheckoutOrchestrator) widgetKey(ctx context.Context, ps domain.PaymentSession) string {
	issued := strings.TrimSpace(ps.GatewayKey)
	switch {
	case issued == "":
		return o.gatewayKey
	case o.gatewayKey != "" && issued != o.gatewayKey:
		o.logger(ctx, "checkout_gateway_key_mismatch", map[string]any{"orderId": ps.GatewayOrderID})
	}
	return issued
}

func (o *CheckoutOrchestrator) complete(ctx context.Context, order domain.Order, message, paymentID string) (CheckoutResult, error) {
	o.cart.Clear(context.WithoutCancel(ctx))
	o.logger(ctx, "checkout_completed", map[string]any{
		"orderId":   order.ID,
		"paymentId": paymentID,
		"total":     order.TotalPrice,
	})
	o.transition(CheckoutCompleted, message, nil)
	return CheckoutResult{State: CheckoutCompleted, Order: &order, Message: message, PaymentID: paymentID}, nil
}

func (o *CheckoutOrchestrator) fail(ctx context.Context, err error) (CheckoutResult, error) {
	message := UserMessage(err)
	o.logger(ctx, "checkout_failed", map[string]any{"error": err.Error()})
	o.transition(CheckoutFailed, message, err)
	return CheckoutResult{State: CheckoutFailed, Message: message}, err
}

// UserMessage returns the text to show for a checkout error.
func UserMessage(err error) string {
	var (
		validation   *ValidationError
		submission   *SubmissionFailedError
		gateway      *GatewayFailedError
		verification *VerificationFailedError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verification):
		return verification.Message
	case errors.As(err, &gateway):
		return gateway.Message
	case errors.As(err, &submission):
		return submission.Message
	case errors.As(err, &validation):
		return MsgFormInvalid
	case errors.Is(err, ErrCartEmpty):
		return MsgCartEmpty
	default:
		return err.Error()
	}
}

func serverMessageOr(err error, fallback string) string {
	if msg := strings.TrimSpace(backend.ServerMessage(err)); msg != "" {
		return msg
	}
	return fallback
}
