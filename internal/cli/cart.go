package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/services"
)

func newCartCommand(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Inspect and change the local cart",
	}
	cmd.AddCommand(
		newCartListCommand(r),
		newCartAddCommand(r),
		newCartRemoveCommand(r),
		newCartSetCommand(r),
		newCartStepCommand(r, "inc", "Add one unit of a poster", (*services.CartStore).Increment),
		newCartStepCommand(r, "dec", "Remove one unit of a poster", (*services.CartStore).Decrement),
		newCartClearCommand(r),
	)
	return cmd
}

func (r *runner) showCart(cmd *cobra.Command) error {
	app, err := r.load(cmd.Context())
	if err != nil {
		return err
	}
	view := newCartView(app.Cart.Snapshot())
	return r.render(view, view.text)
}

func newCartListCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show cart lines and totals",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.showCart(cmd)
		},
	}
}

func newCartAddCommand(r *runner) *cobra.Command {
	var item domain.CartItem
	cmd := &cobra.Command{
		Use:   "add <poster-id>",
		Short: "Add a poster to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			item.ProductID = args[0]
			if err := app.Cart.Add(cmd.Context(), item); err != nil {
				if errors.Is(err, services.ErrCartInvalidItem) {
					return fmt.Errorf("cannot add %s: it needs a price of 0 or more and stock of at least 1", args[0])
				}
				return err
			}
			return r.showCart(cmd)
		},
	}
	cmd.Flags().StringVar(&item.Title, "title", "", "Poster title")
	cmd.Flags().Int64Var(&item.UnitPrice, "price", 0, "Unit price in rupees")
	cmd.Flags().IntVar(&item.Quantity, "qty", 1, "Quantity to add")
	cmd.Flags().IntVar(&item.StockLimit, "stock", 1, "Units in stock")
	cmd.Flags().StringVar(&item.ImageURL, "image", "", "Image URL")
	cmd.Flags().StringVar(&item.Variant.Dimensions, "dimensions", "", "Print size, for example A3")
	cmd.Flags().StringVar(&item.Variant.Material, "material", "", "Paper or finish")
	return cmd
}

func newCartRemoveCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <poster-id>",
		Aliases: []string{"rm"},
		Short:   "Remove a poster from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			app.Cart.Remove(cmd.Context(), args[0])
			return r.showCart(cmd)
		},
	}
}

func newCartSetCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "set <poster-id> <quantity>",
		Short: "Set a line quantity, clamped to stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			quantity, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity must be a whole number: %w", err)
			}
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			if !app.Cart.Contains(args[0]) {
				return fmt.Errorf("%s is not in the cart", args[0])
			}
			app.Cart.SetQuantity(cmd.Context(), args[0], quantity)
			return r.showCart(cmd)
		},
	}
}

func newCartStepCommand(r *runner, use, short string, step func(*services.CartStore, context.Context, string)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <poster-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			if !app.Cart.Contains(args[0]) {
				return fmt.Errorf("%s is not in the cart", args[0])
			}
			step(app.Cart, cmd.Context(), args[0])
			return r.showCart(cmd)
		},
	}
}

func newCartClearCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			app.Cart.Clear(cmd.Context())
			return r.showCart(cmd)
		},
	}
}
