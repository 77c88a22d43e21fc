package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posterparlor/storefront/internal/backend"
	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/payments"
	"github.com/posterparlor/storefront/internal/platform/session"
	"github.com/posterparlor/storefront/internal/testutil/fakebackend"
)

const testGatewaySecret = "sandbox-secret"

type checkoutHarness struct {
	fake         *fakebackend.Server
	cart         *CartStore
	adapter      *payments.Adapter
	orchestrator *CheckoutOrchestrator
	transitions  []Transition
	mu           sync.Mutex
}

func (h *checkoutHarness) states() []CheckoutState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]CheckoutState, 0, len(h.transitions))
	for _, tr := range h.transitions {
		out = append(out, tr.To)
	}
	return out
}

type harnessOptions struct {
	decider      payments.Decider
	signSecret   string
	skipLoad     bool
	emptyCart    bool
	customLoader payments.Loader
}

func newCheckoutHarness(t *testing.T, opts harnessOptions) *checkoutHarness {
	t.Helper()
	ctx := context.Background()

	fake := fakebackend.New(fakebackend.Options{GatewaySecret: testGatewaySecret, Pricer: Price})
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	gw, err := session.New(session.Deps{BaseURL: srv.URL, Client: srv.Client(), RefreshLinger: 0})
	require.NoError(t, err)
	client, err := backend.NewClient(gw)
	require.NoError(t, err)
	_, err = client.Login(ctx, "asha@example.com|Asha")
	require.NoError(t, err)

	cart := newTestCart(t, &memoryCartRepo{})
	if !opts.emptyCart {
		require.NoError(t, cart.Add(ctx, poster("p1", 100, 2, 5)))
	}

	secret := opts.signSecret
	if secret == "" {
		secret = testGatewaySecret
	}
	loader := opts.customLoader
	if loader == nil {
		loader = payments.SandboxLoader(payments.SandboxConfig{Secret: secret, Decider: opts.decider})
	}
	adapter, err := payments.NewAdapter(payments.AdapterDeps{Loader: loader})
	require.NoError(t, err)
	if !opts.skipLoad {
		require.NoError(t, adapter.Load(ctx))
	}

	orchestrator, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		Backend:  client,
		Payments: adapter,
		Cart:     cart,
	})
	require.NoError(t, err)

	h := &checkoutHarness{fake: fake, cart: cart, adapter: adapter, orchestrator: orchestrator}
	orchestrator.Subscribe(func(tr Transition) {
		h.mu.Lock()
		h.transitions = append(h.transitions, tr)
		h.mu.Unlock()
	})
	return h
}

func checkoutRequest(method domain.PaymentMethod) CheckoutRequest {
	form := validForm()
	form.PaymentMethod = method
	return CheckoutRequest{Form: form, FormValid: true}
}

func TestNewCheckoutOrchestratorValidatesDeps(t *testing.T) {
	_, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{})
	require.Error(t, err)
}

func TestCheckoutCashOnDeliveryPlacesOrder(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	require.NoError(t, err)

	assert.Equal(t, CheckoutCompleted, result.State)
	assert.Equal(t, MsgOrderPlaced, result.Message)
	require.NotNil(t, result.Order)
	assert.Equal(t, int64(286), result.Order.TotalPrice)
	assert.False(t, result.Order.IsPaid)
	assert.Equal(t, 1, h.fake.Orders())
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order/payment/initiate"))
	assert.Empty(t, h.cart.Items())
	assert.Equal(t, []CheckoutState{CheckoutSubmitting, CheckoutDirectOrderPlaced, CheckoutCompleted}, h.states())
}

func TestCheckoutVerifiesPaymentCapturedAfterCallerGaveUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	decider := func(context.Context, payments.WidgetOptions) payments.SandboxDecision {
		cancel()
		return payments.SandboxDecision{Kind: payments.OutcomeSuccess}
	}
	h := newCheckoutHarness(t, harnessOptions{decider: decider})

	result, err := h.orchestrator.Submit(ctx, checkoutRequest(domain.PaymentMethodOnline))
	require.NoError(t, err)

	assert.Equal(t, CheckoutCompleted, result.State)
	assert.NotEmpty(t, result.PaymentID)
	assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/order/payment/verify"))
	assert.Equal(t, 1, h.fake.Orders())
	assert.Empty(t, h.cart.Items())
}

func TestCheckoutOnlinePaymentVerifiesAndCompletes(t *testing.T) {
	var seen payments.WidgetOptions
	decider := func(_ context.Context, opts payments.WidgetOptions) payments.SandboxDecision {
		seen = opts
		return payments.SandboxDecision{Kind: payments.OutcomeSuccess}
	}
	h := newCheckoutHarness(t, harnessOptions{decider: decider})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	require.NoError(t, err)

	assert.Equal(t, CheckoutCompleted, result.State)
	assert.Equal(t, MsgPaymentSucceeded, result.Message)
	assert.NotEmpty(t, result.PaymentID)
	require.NotNil(t, result.Order)
	assert.True(t, result.Order.IsPaid)
	assert.Empty(t, h.cart.Items())
	assert.Equal(t, []CheckoutState{
		CheckoutSubmitting, CheckoutAwaitingGatewayResult, CheckoutVerifying, CheckoutCompleted,
	}, h.states())

	assert.Equal(t, int64(28600), seen.Amount)
	assert.Equal(t, domain.CurrencyINR, seen.Currency)
	assert.Equal(t, "Poster Parlor", seen.Name)
	assert.Equal(t, "Order for 1 item(s)", seen.Description)
	assert.Equal(t, "9876543210", seen.Prefill.Contact)
	assert.Equal(t, "#7C3AED", seen.Theme.Color)
}

func TestCheckoutDismissReturnsToIdleAndKeepsCart(t *testing.T) {
	dismiss := func(context.Context, payments.WidgetOptions) payments.SandboxDecision {
		return payments.SandboxDecision{Kind: payments.OutcomeDismissed}
	}
	h := newCheckoutHarness(t, harnessOptions{decider: dismiss})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	require.NoError(t, err)

	assert.Equal(t, CheckoutIdle, result.State)
	assert.True(t, result.Cancelled)
	assert.Equal(t, MsgPaymentCancelled, result.Message)
	assert.Len(t, h.cart.Items(), 1)
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order/payment/verify"))
	assert.Equal(t, CheckoutIdle, h.orchestrator.State())

	// a fresh attempt is allowed straight away
	_, err = h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	require.NoError(t, err)
}

func TestCheckoutGatewayFailureDoesNotVerify(t *testing.T) {
	decline := func(context.Context, payments.WidgetOptions) payments.SandboxDecision {
		return payments.SandboxDecision{Kind: payments.OutcomeFailure, Failure: payments.GatewayFailure{Description: "Card declined"}}
	}
	h := newCheckoutHarness(t, harnessOptions{decider: decline})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	var gwErr *GatewayFailedError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, "BAD_REQUEST_ERROR", gwErr.Failure.Code)
	assert.Equal(t, CheckoutFailed, result.State)
	assert.Equal(t, "Card declined", result.Message)
	assert.NotEmpty(t, result.PaymentID)
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order/payment/verify"))
	assert.Len(t, h.cart.Items(), 1)
}

func TestCheckoutVerificationFailureKeepsPaymentID(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{signSecret: "not-the-backend-secret"})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	var verr *VerificationFailedError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.PaymentID)
	assert.Equal(t, verr.PaymentID, result.PaymentID)
	assert.Equal(t, MsgVerificationFailed, result.Message)
	assert.Equal(t, CheckoutFailed, result.State)
	assert.Equal(t, 1, h.fake.Calls(http.MethodPost, "/order/payment/verify"))
	assert.Zero(t, h.fake.Orders())
	assert.Len(t, h.cart.Items(), 1)
}

func TestCheckoutGatewayNotLoaded(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{skipLoad: true})

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	var sub *SubmissionFailedError
	require.ErrorAs(t, err, &sub)
	assert.ErrorIs(t, err, payments.ErrGatewayNotReady)
	assert.Equal(t, MsgGatewayLoading, result.Message)
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order/payment/initiate"))
}

func TestCheckoutInvalidFormMakesNoRequests(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{})
	req := checkoutRequest(domain.PaymentMethodCOD)
	req.Form.Pincode = "12"

	_, err := h.orchestrator.Submit(context.Background(), req)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Enter a valid 6-digit pincode", verr.Fields["pincode"])

	req = checkoutRequest(domain.PaymentMethodCOD)
	req.FormValid = false
	_, err = h.orchestrator.Submit(context.Background(), req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgFormInvalid, UserMessage(err))

	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order"))
	assert.Empty(t, h.states())
	assert.Equal(t, CheckoutIdle, h.orchestrator.State())
}

func TestCheckoutEmptyCart(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{emptyCart: true})

	_, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	require.ErrorIs(t, err, ErrCartEmpty)
	assert.Equal(t, MsgCartEmpty, UserMessage(err))
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order"))
}

func TestCheckoutCreateOrderFailureUsesServerMessage(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{})
	h.fake.FailNext(http.MethodPost, "/order", http.StatusConflict, "OUT_OF_STOCK", "Poster p1 is out of stock")

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	var sub *SubmissionFailedError
	require.ErrorAs(t, err, &sub)
	assert.Equal(t, "Poster p1 is out of stock", result.Message)
	assert.Equal(t, CheckoutFailed, h.orchestrator.State())
	assert.Len(t, h.cart.Items(), 1)

	// a failed attempt can be retried without an explicit reset
	result, err = h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	require.NoError(t, err)
	assert.Equal(t, CheckoutCompleted, result.State)
}

func TestCheckoutInitiateFailureFallsBackToGenericMessage(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{})
	h.fake.FailNext(http.MethodPost, "/order/payment/initiate", http.StatusInternalServerError, "INTERNAL", "")

	result, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
	require.Error(t, err)
	assert.Equal(t, CheckoutFailed, result.State)
	assert.NotEmpty(t, result.Message)
	assert.Zero(t, h.fake.Calls(http.MethodPost, "/order/payment/verify"))
}

func TestCheckoutRejectsConcurrentSubmission(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := func(context.Context, payments.WidgetOptions) payments.SandboxDecision {
		close(entered)
		<-release
		return payments.SandboxDecision{Kind: payments.OutcomeSuccess}
	}
	h := newCheckoutHarness(t, harnessOptions{decider: blocking})

	done := make(chan error, 1)
	go func() {
		_, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
		done <- err
	}()
	<-entered

	assert.Equal(t, CheckoutAwaitingGatewayResult, h.orchestrator.State())
	_, err := h.orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodCOD))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)
	assert.ErrorIs(t, h.orchestrator.Reset(), ErrCheckoutInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.fake.Orders())
	require.NoError(t, h.orchestrator.Reset())
	assert.Equal(t, CheckoutIdle, h.orchestrator.State())
}

func TestCheckoutPricesFromShippingState(t *testing.T) {
	h := newCheckoutHarness(t, harnessOptions{})
	req := checkoutRequest(domain.PaymentMethodCOD)
	req.Form.State = "Ladakh"

	result, err := h.orchestrator.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, CheckoutCompleted, result.State)
	require.NotNil(t, result.Order)
	assert.Equal(t, "Ladakh", result.Order.ShippingAddress.State)
	assert.Equal(t, int64(200), result.Order.ShippingCost)
	assert.Equal(t, int64(436), result.Order.TotalPrice)
}

func TestCheckoutFallsBackToConfiguredGatewayKey(t *testing.T) {
	cases := []struct {
		name       string
		issued     string
		configured string
		want       string
	}{
		{name: "issued key wins", issued: "rzp_live_issued", configured: "rzp_live_config", want: "rzp_live_issued"},
		{name: "configured fallback", issued: "", configured: "rzp_live_config", want: "rzp_live_config"},
		{name: "neither", issued: "", configured: "", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cart := newTestCart(t, &memoryCartRepo{})
			require.NoError(t, cart.Add(context.Background(), poster("p1", 300, 1, 2)))
			collector := &dismissingCollector{}
			orchestrator, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
				Backend:    &draftRecorder{session: domain.PaymentSession{GatewayOrderID: "order_1", Amount: 35400, Currency: "INR", GatewayKey: tc.issued}},
				Payments:   collector,
				Cart:       cart,
				GatewayKey: tc.configured,
			})
			require.NoError(t, err)

			result, err := orchestrator.Submit(context.Background(), checkoutRequest(domain.PaymentMethodOnline))
			require.NoError(t, err)
			assert.True(t, result.Cancelled)
			assert.Equal(t, tc.want, collector.opts.Key)
		})
	}
}

func TestCheckoutSanitisesFreeText(t *testing.T) {
	recorder := &draftRecorder{}
	cart := newTestCart(t, &memoryCartRepo{})
	require.NoError(t, cart.Add(context.Background(), poster("p1", 300, 1, 2)))
	orchestrator, err := NewCheckoutOrchestrator(CheckoutOrchestratorDeps{
		Backend:  recorder,
		Payments: notReadyCollector{},
		Cart:     cart,
	})
	require.NoError(t, err)

	req := checkoutRequest(domain.PaymentMethodCOD)
	req.Form.Notes = `<script>alert(1)</script>Ring the bell & wait`
	req.Form.AddressLine1 = `<b>42</b> Park Street`
	req.Form.Email = ""
	req.Form.State = "Ladakh"
	_, err = orchestrator.Submit(context.Background(), req)
	require.NoError(t, err)

	draft := recorder.draft
	assert.Equal(t, "Ring the bell & wait", draft.Notes)
	assert.Equal(t, "42 Park Street", draft.ShippingAddress.AddressLine1)
	assert.Empty(t, draft.Customer.Email)
	assert.Equal(t, "9876543210", draft.Customer.Phone)
	assert.NotEmpty(t, draft.IdempotencyKey)
	assert.Equal(t, domain.PricingBreakdown{
		Subtotal: 300, ShippingCost: 150, TaxAmount: 54, TotalPrice: 504,
		FreeShippingEligible: true, RemoteSurchargeApplied: true,
	}, draft.Pricing)
}

type draftRecorder struct {
	draft   domain.OrderDraft
	session domain.PaymentSession
}

func (d *draftRecorder) CreateOrder(_ context.Context, draft domain.OrderDraft) (domain.Order, error) {
	d.draft = draft
	return domain.Order{ID: "order-1", TotalPrice: draft.Pricing.TotalPrice}, nil
}

func (d *draftRecorder) InitiatePayment(_ context.Context, draft domain.OrderDraft) (domain.PaymentSession, error) {
	d.draft = draft
	if d.session.GatewayOrderID == "" {
		return domain.PaymentSession{}, errors.New("not used")
	}
	return d.session, nil
}

func (d *draftRecorder) VerifyPayment(context.Context, domain.PaymentReceipt, domain.OrderDraft) (domain.Order, error) {
	return domain.Order{}, errors.New("not used")
}

type notReadyCollector struct{}

func (notReadyCollector) Ready() bool { return false }

func (notReadyCollector) Await(context.Context, payments.WidgetOptions) (payments.Outcome, error) {
	return payments.Outcome{}, payments.ErrGatewayNotReady
}

type dismissingCollector struct {
	opts payments.WidgetOptions
}

func (c *dismissingCollector) Ready() bool { return true }

func (c *dismissingCollector) Await(_ context.Context, opts payments.WidgetOptions) (payments.Outcome, error) {
	c.opts = opts
	return payments.Outcome{Kind: payments.OutcomeDismissed}, nil
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	assert.Equal(t, MsgVerificationFailed, UserMessage(&VerificationFailedError{Message: MsgVerificationFailed, Err: errors.New("x")}))
}
