package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
}

type stripePaymentMethodAPI interface {
	Get(id string, params *stripe.PaymentMethodParams) (*stripe.PaymentMethod, error)
}

type stripeClients struct {
	intents        stripePaymentIntentAPI
	paymentMethods stripePaymentMethodAPI
}

// PaymentMethodPrompt asks the customer for a Stripe payment method id. Returning
// ok=false means the customer closed the prompt.
type PaymentMethodPrompt func(ctx context.Context, opts WidgetOptions) (paymentMethodID string, ok bool, err error)

// StripeWidgetConfig configures the Stripe driver.
type StripeWidgetConfig struct {
	APIKey    string
	AccountID string
	ReturnURL string
	Backends  *stripe.Backends
	Prompt    PaymentMethodPrompt
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clients   *stripeClients
}

// StripeLoader returns a Loader whose widgets confirm PaymentIntents. The widget's
// OrderID is the PaymentIntent id created by the backend.
func StripeLoader(cfg StripeWidgetConfig) Loader {
	return func(context.Context) (WidgetConstructor, error) {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" && cfg.Clients == nil {
			return nil, errors.New("stripe: api key is required")
		}
		if cfg.Prompt == nil {
			return nil, errors.New("stripe: payment method prompt is required")
		}

		var clients stripeClients
		if cfg.Clients != nil {
			clients = *cfg.Clients
		} else {
			sc := client.New(apiKey, cfg.Backends)
			clients = stripeClients{intents: sc.PaymentIntents, paymentMethods: sc.PaymentMethods}
		}
		if clients.intents == nil {
			return nil, errors.New("stripe: incomplete client configuration")
		}

		logger := cfg.Logger
		if logger == nil {
			logger = func(context.Context, string, map[string]any) {}
		}
		return func(opts WidgetOptions) (Widget, error) {
			if !strings.HasPrefix(opts.OrderID, "pi_") {
				return nil, fmt.Errorf("stripe: %q is not a payment intent id", opts.OrderID)
			}
			return &stripeWidget{
				opts:      opts,
				api:       clients,
				account:   strings.TrimSpace(cfg.AccountID),
				returnURL: strings.TrimSpace(cfg.ReturnURL),
				prompt:    cfg.Prompt,
				logger:    logger,
			}, nil
		}, nil
	}
}

type stripeWidget struct {
	failureHandlers
	opts      WidgetOptions
	api       stripeClients
	account   string
	returnURL string
	prompt    PaymentMethodPrompt
	logger    func(context.Context, string, map[string]any)
}

func (w *stripeWidget) Open() error {
	ctx := w.opts.context()
	methodID, ok, err := w.prompt(ctx, w.opts)
	if err != nil {
		return fmt.Errorf("stripe: prompt payment method: %w", err)
	}
	methodID = strings.TrimSpace(methodID)
	if !ok || methodID == "" {
		w.opts.dismiss()
		return nil
	}

	if w.api.paymentMethods != nil {
		if details, err := lookupPaymentMethod(ctx, w.api.paymentMethods, w.account, methodID); err == nil {
			w.logger(ctx, "payments.stripe.method.selected", map[string]any{
				"paymentIntent": w.opts.OrderID,
				"brand":         details.Brand,
				"last4":         details.Last4,
			})
		}
	}

	params := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(methodID)}
	params.Context = ctx
	if w.returnURL != "" {
		params.ReturnURL = stripe.String(w.returnURL)
	}
	if w.account != "" {
		params.SetStripeAccount(w.account)
	}
	params.AddExpand("latest_charge")

	intent, err := w.api.intents.Confirm(w.opts.OrderID, params)
	if err != nil {
		w.emit(EventPaymentFailed, stripeFailure(err))
		return nil
	}
	w.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusProcessing:
		paymentID := intent.ID
		if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
			paymentID = intent.LatestCharge.ID
		}
		// The backend verifies Stripe payments by retrieving the intent itself.
		w.opts.succeed(Receipt{GatewayOrderID: intent.ID, PaymentID: paymentID, Signature: intent.ID})
	case stripe.PaymentIntentStatusCanceled:
		w.emit(EventPaymentFailed, GatewayFailure{Code: "payment_intent_canceled", Description: "Payment was cancelled", Reason: string(intent.CancellationReason), PaymentID: intent.ID})
	default:
		w.emit(EventPaymentFailed, GatewayFailure{Code: string(intent.Status), Description: "Payment could not be completed", PaymentID: intent.ID})
	}
	return nil
}

func stripeFailure(err error) GatewayFailure {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		failure := GatewayFailure{
			Code:        string(stripeErr.Code),
			Description: stripeErr.Msg,
			Reason:      string(stripeErr.DeclineCode),
		}
		if stripeErr.PaymentIntent != nil {
			failure.PaymentID = stripeErr.PaymentIntent.ID
		}
		if failure.Code == "" {
			failure.Code = string(stripeErr.Type)
		}
		return failure
	}
	return GatewayFailure{Code: "STRIPE_ERROR", Description: err.Error()}
}
