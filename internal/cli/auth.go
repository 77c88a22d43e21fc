package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/posterparlor/storefront/internal/backend"
	"github.com/posterparlor/storefront/internal/services"
)

func newLoginCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "login <google-id-token>",
		Short: "Sign in with a Google ID token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			if _, err := app.Auth.Login(cmd.Context(), args[0]); err != nil {
				if msg := backend.ServerMessage(err); msg != "" {
					return fmt.Errorf("login failed: %s", msg)
				}
				return err
			}
			view := newUserView(app.Auth.State())
			return r.render(view, view.text)
		},
	}
}

func newLogoutCommand(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			err = app.Auth.Logout(cmd.Context())
			view := newUserView(app.Auth.State())
			if renderErr := r.render(view, view.text); renderErr != nil {
				return renderErr
			}
			return err
		},
	}
}

func newWhoamiCommand(r *runner) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := r.load(cmd.Context())
			if err != nil {
				return err
			}
			if refresh {
				if _, err := app.Auth.Refresh(cmd.Context()); err != nil && !errors.Is(err, services.ErrNotAuthenticated) {
					return err
				}
			}
			view := newUserView(app.Auth.State())
			return r.render(view, view.text)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Reload the profile from the backend")
	return cmd
}
