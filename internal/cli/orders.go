package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/posterparlor/storefront/internal/backend"
	"github.com/posterparlor/storefront/internal/platform/session"
)

var errSignedOut = errors.New("your session has ended; sign in again with storefront login")

func newOrdersCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Browse your order history",
	}
	cmd.AddCommand(newOrdersListCommand(r), newOrdersGetCommand(r))
	return cmd
}

func newOrdersListCommand(r *runner) *cobra.Command {
	var params backend.ListOrdersParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			page, err := app.Orders.ListMyOrders(cmd.Context(), params)
			if err != nil {
				return ordersError(err)
			}
			view := newOrderPageView(page)
			return r.render(view, view.text)
		},
	}
	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&params.Limit, "limit", 10, "Orders per page")
	return cmd
}

func newOrdersGetCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			order, err := app.Orders.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return ordersError(err)
			}
			view := newOrderView(order)
			return r.render(view, view.text)
		},
	}
}

func ordersError(err error) error {
	if errors.Is(err, session.ErrAuthExpired) {
		return errSignedOut
	}
	if msg := backend.ServerMessage(err); msg != "" {
		return errors.New(msg)
	}
	return err
}
