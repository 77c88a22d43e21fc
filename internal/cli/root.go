// Package cli implements the storefront command line: cart, pricing, checkout,
// order history and session commands, plus a local fake backend for development.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Options configures Run.
type Options struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	// Build constructs the App on first use. Commands that do not touch the
	// backend or the cart never call it.
	Build func(ctx context.Context) (*App, error)
}

type runner struct {
	opts   Options
	format string
	app    *App
}

func (r *runner) load(ctx context.Context) (*App, error) {
	if r.app != nil {
		return r.app, nil
	}
	if r.opts.Build == nil {
		return nil, errors.New("cli: no application builder configured")
	}
	app, err := r.opts.Build(ctx)
	if err != nil {
		return nil, err
	}
	r.app = app
	return app, nil
}

func (r *runner) close() error {
	if r.app == nil {
		return nil
	}
	err := r.app.Close()
	r.app = nil
	return err
}

func (r *runner) render(view any, text func(io.Writer) error) error {
	return render(r.opts.Out, r.format, view, text)
}

func (r *runner) progress(format string, args ...any) {
	if r.format != FormatText {
		return
	}
	fmt.Fprintf(r.opts.Err, format+"\n", args...)
}

// Run executes the command line in args and releases the App afterwards.
func Run(ctx context.Context, opts Options, args []string) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	r := &runner{opts: opts}
	root := newRootCommand(r)
	root.SetArgs(args)
	root.SetIn(opts.In)
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	err := root.ExecuteContext(ctx)
	return errors.Join(err, r.close())
}

func newRootCommand(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Poster Parlor storefront client",
		Long:          "Manage the local poster cart, preview prices, check out and browse past orders.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !validFormat(r.format) {
				return fmt.Errorf("unknown format %q (want text, json or yaml)", r.format)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&r.format, "format", "o", FormatText, "Output format: text, json, yaml")

	root.AddCommand(
		newCartCommand(r),
		newPriceCommand(r),
		newCheckoutCommand(r),
		newOrdersCommand(r),
		newLoginCommand(r),
		newLogoutCommand(r),
		newWhoamiCommand(r),
		newDevBackendCommand(r),
	)
	return root
}
