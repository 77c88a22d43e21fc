package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrGatewayNotReady is recorded when Open is called before the widget has loaded.
	ErrGatewayNotReady = errors.New("payments: gateway widget not loaded")
	// ErrLoadFailed wraps widget loader failures.
	ErrLoadFailed = errors.New("payments: failed to load gateway widget")
)

// OutcomeKind classifies how a widget session ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota + 1
	OutcomeFailure
	OutcomeDismissed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeDismissed:
		return "dismissed"
	default:
		return "unknown"
	}
}

// Outcome is the single result of an opened widget.
type Outcome struct {
	Kind    OutcomeKind
	Receipt Receipt
	Failure GatewayFailure
}

// Handlers receive the outcome of Open. Exactly one fires per call.
type Handlers struct {
	OnSuccess func(Receipt)
	OnFailure func(GatewayFailure)
	OnDismiss func()
}

// AdapterDeps wires the Adapter.
type AdapterDeps struct {
	Loader Loader
	Logger func(ctx context.Context, event string, fields map[string]any)
}

// Adapter loads the gateway widget once and turns its callbacks into a single outcome.
type Adapter struct {
	loader Loader
	logger func(context.Context, string, map[string]any)

	mu      sync.Mutex
	ctor    WidgetConstructor
	loading *loadCall
	lastErr error
}

type loadCall struct {
	done chan struct{}
	err  error
}

// NewAdapter constructs an Adapter.
func NewAdapter(deps AdapterDeps) (*Adapter, error) {
	if deps.Loader == nil {
		return nil, errors.New("payments: widget loader is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Adapter{loader: deps.Loader, logger: logger}, nil
}

// Load fetches the widget constructor. Concurrent callers share one attempt; after
// success it is a no-op and after a failure the next call tries again.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.ctor != nil {
		a.mu.Unlock()
		return nil
	}
	call := a.loading
	if call == nil {
		call = &loadCall{done: make(chan struct{})}
		a.loading = call
		go a.runLoad(context.WithoutCancel(ctx), call)
	}
	a.mu.Unlock()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) runLoad(ctx context.Context, call *loadCall) {
	ctor, err := a.loader(ctx)
	if err == nil && ctor == nil {
		err = errors.New("loader returned no constructor")
	}

	a.mu.Lock()
	a.loading = nil
	if err != nil {
		call.err = fmt.Errorf("%w: %w", ErrLoadFailed, err)
		a.lastErr = call.err
	} else {
		a.ctor = ctor
		a.lastErr = nil
	}
	a.mu.Unlock()

	if err != nil {
		a.logger(ctx, "payment_widget_load_failed", map[string]any{"error": err.Error()})
	} else {
		a.logger(ctx, "payment_widget_loaded", nil)
	}
	close(call.done)
}

// Ready reports whether the widget constructor is available.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctor != nil
}

// LastError returns the most recent load or open error.
func (a *Adapter) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Open shows the widget. Before the widget has loaded it does nothing and records
// ErrGatewayNotReady. Construction or open errors are reported through OnFailure.
func (a *Adapter) Open(opts WidgetOptions, h Handlers) {
	ctx := opts.context()
	a.mu.Lock()
	ctor := a.ctor
	if ctor == nil {
		a.lastErr = ErrGatewayNotReady
	}
	a.mu.Unlock()
	if ctor == nil {
		a.logger(ctx, "payment_widget_open_error", map[string]any{"error": ErrGatewayNotReady.Error()})
		return
	}

	var once sync.Once
	latch := func(fn func()) {
		once.Do(fn)
	}
	opts.OnSuccess = func(r Receipt) {
		latch(func() {
			if h.OnSuccess != nil {
				h.OnSuccess(r)
			}
		})
	}
	opts.OnDismiss = func() {
		latch(func() {
			if h.OnDismiss != nil {
				h.OnDismiss()
			}
		})
	}
	fail := func(f GatewayFailure) {
		latch(func() {
			if h.OnFailure != nil {
				h.OnFailure(f)
			}
		})
	}

	widget, err := ctor(opts)
	if err == nil && widget == nil {
		err = errors.New("constructor returned no widget")
	}
	if err != nil {
		a.openFailed(ctx, opts, err)
		fail(GatewayFailure{Code: "WIDGET_ERROR", Description: err.Error()})
		return
	}
	widget.On(EventPaymentFailed, func(f GatewayFailure) {
		a.logger(ctx, "payment_failed", map[string]any{
			"orderId":   opts.OrderID,
			"code":      f.Code,
			"reason":    f.Reason,
			"paymentId": f.PaymentID,
		})
		fail(f)
	})
	if err := widget.Open(); err != nil {
		a.openFailed(ctx, opts, err)
		fail(GatewayFailure{Code: "WIDGET_ERROR", Description: err.Error()})
	}
}

func (a *Adapter) openFailed(ctx context.Context, opts WidgetOptions, err error) {
	a.mu.Lock()
	a.lastErr = fmt.Errorf("payments: open widget: %w", err)
	a.mu.Unlock()
	a.logger(ctx, "payment_widget_open_error", map[string]any{"orderId": opts.OrderID, "error": err.Error()})
}

// Await opens the widget and blocks until its outcome, or until ctx is done.
func (a *Adapter) Await(ctx context.Context, opts WidgetOptions) (Outcome, error) {
	if !a.Ready() {
		a.mu.Lock()
		a.lastErr = ErrGatewayNotReady
		a.mu.Unlock()
		return Outcome{}, ErrGatewayNotReady
	}
	if opts.Context == nil {
		opts.Context = ctx
	}

	result := make(chan Outcome, 1)
	a.Open(opts, Handlers{
		OnSuccess: func(r Receipt) { result <- Outcome{Kind: OutcomeSuccess, Receipt: r} },
		OnFailure: func(f GatewayFailure) { result <- Outcome{Kind: OutcomeFailure, Failure: f} },
		OnDismiss: func() { result <- Outcome{Kind: OutcomeDismissed} },
	})

	// An outcome the widget already reported wins over cancellation: a captured
	// payment must reach verification.
	select {
	case outcome := <-result:
		return outcome, nil
	default:
	}
	select {
	case outcome := <-result:
		return outcome, nil
	case <-ctx.Done():
		select {
		case outcome := <-result:
			return outcome, nil
		default:
			return Outcome{}, ctx.Err()
		}
	}
}
