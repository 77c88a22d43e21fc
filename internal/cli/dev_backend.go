package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/posterparlor/storefront/internal/services"
	"github.com/posterparlor/storefront/internal/testutil/fakebackend"
)

const devBackendShutdownTimeout = 5 * time.Second

func newDevBackendCommand(r *runner) *cobra.Command {
	var (
		addr   string
		key    string
		secret string
	)
	cmd := &cobra.Command{
		Use:   "dev-backend",
		Short: "Serve an in-memory storefront backend for local development",
		Long: "Serve the storefront backend contract from memory. Sign in with an ID token of the\n" +
			"form email|Name. Online payments are verified with --gateway-secret, which must match\n" +
			"STOREFRONT_GATEWAY_SECRET on the client.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveDevBackend(cmd.Context(), r, addr, fakebackend.Options{
				GatewayKey:    key,
				GatewaySecret: secret,
				Pricer:        services.Price,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().StringVar(&key, "gateway-key", "rzp_test_fake", "Public gateway key handed to clients")
	cmd.Flags().StringVar(&secret, "gateway-secret", "fake-gateway-secret", "Secret used to verify payment receipts")
	return cmd
}

func serveDevBackend(ctx context.Context, r *runner, addr string, opts fakebackend.Options) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("dev backend: listen: %w", err)
	}
	srv := &http.Server{
		Handler:           fakebackend.New(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	fmt.Fprintf(r.opts.Out, "dev backend listening on http://%s\n", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev backend: serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), devBackendShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("dev backend: shutdown: %w", err)
		}
		return nil
	}
}
