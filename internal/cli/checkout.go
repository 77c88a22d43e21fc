package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/services"
)

func newPriceCommand(r *runner) *cobra.Command {
	var (
		region   string
		subtotal int64
	)
	cmd := &cobra.Command{
		Use:   "price",
		Short: "Preview shipping, GST and total for the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("subtotal") {
				app, err := r.load(cmd.Context())
				if err != nil {
					return err
				}
				subtotal = app.Cart.Totals().Subtotal
			}
			if subtotal < 0 {
				return errors.New("subtotal cannot be negative")
			}
			if region != "" && !services.IsKnownState(region) {
				r.progress("note: %q is not a recognised state; no remote surcharge applied", region)
			}
			view := newPricingView(region, services.Price(subtotal, region))
			return r.render(view, view.text)
		},
	}
	cmd.Flags().StringVar(&region, "state", "", "Delivery state, for example Ladakh")
	cmd.Flags().Int64Var(&subtotal, "subtotal", 0, "Price this subtotal instead of the cart")
	return cmd
}

func newCheckoutCommand(r *runner) *cobra.Command {
	var (
		form   domain.CheckoutForm
		method string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the cart",
		Long: "Place an order for everything in the cart. Cash on delivery orders are created directly;\n" +
			"online orders open the payment gateway and are confirmed with the backend afterwards.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := r.load(ctx)
			if err != nil {
				return err
			}
			if !app.Auth.State().IsAuthenticated {
				return errors.New("sign in first: storefront login <google-id-token>")
			}

			form.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(method)))
			if form.PaymentMethod == domain.PaymentMethodOnline {
				if err := app.Payments.Load(ctx); err != nil {
					r.progress("payment gateway unavailable: %v", err)
				}
			}

			unsubscribe := app.Checkout.Subscribe(func(t services.Transition) {
				r.progress("checkout: %s", strings.ReplaceAll(string(t.To), "_", " "))
			})
			defer unsubscribe()

			result, err := app.Checkout.Submit(ctx, services.CheckoutRequest{Form: form, FormValid: true})
			var validation *services.ValidationError
			switch {
			case errors.As(err, &validation):
				return err
			case errors.Is(err, services.ErrCartEmpty), errors.Is(err, services.ErrCheckoutInProgress):
				return errors.New(services.UserMessage(err))
			}

			view := newCheckoutView(result)
			if renderErr := r.render(view, view.text); renderErr != nil {
				return renderErr
			}
			if err != nil {
				var verification *services.VerificationFailedError
				if errors.As(err, &verification) {
					return fmt.Errorf("payment %s was not confirmed: %w", verification.PaymentID, err)
				}
				return err
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&form.Name, "name", "", "Full name")
	flags.StringVar(&form.Email, "email", "", "Email address (optional)")
	flags.StringVar(&form.Phone, "phone", "", "10-digit mobile number")
	flags.StringVar(&form.AddressLine1, "address", "", "Street address")
	flags.StringVar(&form.City, "city", "", "City")
	flags.StringVar(&form.State, "state", "", "State")
	flags.StringVar(&form.Pincode, "pincode", "", "6-digit pincode")
	flags.StringVar(&form.Notes, "notes", "", "Delivery notes")
	flags.StringVar(&method, "method", string(domain.PaymentMethodOnline), "Payment method: online or cod")
	return cmd
}
