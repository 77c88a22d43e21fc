package payments

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SandboxDecision is what the sandbox customer does with an opened widget.
type SandboxDecision struct {
	Kind    OutcomeKind
	Failure GatewayFailure
}

// Decider chooses the sandbox outcome for a widget.
type Decider func(ctx context.Context, opts WidgetOptions) SandboxDecision

// AlwaysPay approves every sandbox payment.
func AlwaysPay(context.Context, WidgetOptions) SandboxDecision {
	return SandboxDecision{Kind: OutcomeSuccess}
}

// SandboxConfig configures the local sandbox gateway.
type SandboxConfig struct {
	// Secret signs receipts the same way the backend verifies them.
	Secret  string
	Decider Decider
	Clock   func() time.Time
}

// SignReceipt returns hex(HMAC-SHA256(orderID|paymentID, secret)).
func SignReceipt(secret, gatewayOrderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(gatewayOrderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// SandboxLoader returns a Loader for the sandbox gateway.
func SandboxLoader(cfg SandboxConfig) Loader {
	return func(context.Context) (WidgetConstructor, error) {
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("sandbox: signing secret is required")
		}
		decider := cfg.Decider
		if decider == nil {
			decider = AlwaysPay
		}
		clock := cfg.Clock
		if clock == nil {
			clock = time.Now
		}
		ids := &paymentIDs{entropy: ulid.Monotonic(rand.Reader, 0), clock: clock}
		return func(opts WidgetOptions) (Widget, error) {
			if strings.TrimSpace(opts.OrderID) == "" {
				return nil, errors.New("sandbox: order id is required")
			}
			if opts.Amount <= 0 {
				return nil, errors.New("sandbox: amount must be positive")
			}
			return &sandboxWidget{opts: opts, secret: cfg.Secret, decide: decider, ids: ids}, nil
		}, nil
	}
}

type paymentIDs struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	clock   func() time.Time
}

func (p *paymentIDs) next() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return "pay_" + ulid.MustNew(ulid.Timestamp(p.clock()), p.entropy).String()
}

type sandboxWidget struct {
	failureHandlers
	opts   WidgetOptions
	secret string
	decide Decider
	ids    *paymentIDs
	opened bool
}

func (w *sandboxWidget) Open() error {
	if w.opened {
		return errors.New("sandbox: widget already opened")
	}
	w.opened = true

	decision := w.decide(w.opts.context(), w.opts)
	switch decision.Kind {
	case OutcomeSuccess:
		paymentID := w.ids.next()
		w.opts.succeed(Receipt{
			GatewayOrderID: w.opts.OrderID,
			PaymentID:      paymentID,
			Signature:      SignReceipt(w.secret, w.opts.OrderID, paymentID),
		})
	case OutcomeFailure:
		failure := decision.Failure
		if failure.PaymentID == "" {
			failure.PaymentID = w.ids.next()
		}
		if failure.Code == "" {
			failure.Code = "BAD_REQUEST_ERROR"
		}
		w.emit(EventPaymentFailed, failure)
	default:
		w.opts.dismiss()
	}
	return nil
}
