package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/posterparlor/storefront/internal/backend"
	domain "github.com/posterparlor/storefront/internal/domain"
	"github.com/posterparlor/storefront/internal/payments"
	"github.com/posterparlor/storefront/internal/platform/config"
	"github.com/posterparlor/storefront/internal/platform/idempotency"
	"github.com/posterparlor/storefront/internal/platform/observability"
	"github.com/posterparlor/storefront/internal/platform/session"
	"github.com/posterparlor/storefront/internal/repositories"
	"github.com/posterparlor/storefront/internal/repositories/localfile"
	"github.com/posterparlor/storefront/internal/repositories/sqlite"
	"github.com/posterparlor/storefront/internal/services"
)

// OrderReader reads the signed-in customer's order history.
type OrderReader interface {
	ListMyOrders(ctx context.Context, params backend.ListOrdersParams) (domain.OrderPage, error)
	GetOrder(ctx context.Context, id string) (domain.Order, error)
}

// App holds the services commands run against.
type App struct {
	Cart     *services.CartStore
	Auth     *services.AuthService
	Checkout *services.CheckoutOrchestrator
	Orders   OrderReader
	Payments *payments.Adapter

	gateway *session.Gateway
	session *SessionFile
	logger  *zap.Logger
}

// BuildOptions configures Build.
type BuildOptions struct {
	Config config.Config
	Logger *zap.Logger
	// In and Out carry payment prompts.
	In  io.Reader
	Out io.Writer
	// HTTPClient overrides the backend transport; its Jar is replaced when nil.
	HTTPClient *http.Client
}

// Build wires the backend client, cart, auth and checkout services from configuration
// and restores the session saved by the previous run.
func Build(ctx context.Context, opts BuildOptions) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := observability.EventLogger(logger)

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}
	gw, err := session.New(session.Deps{
		BaseURL:           cfg.API.BaseURL,
		Client:            httpClient,
		RefreshLinger:     cfg.API.RefreshLinger,
		IdempotencyHeader: cfg.Idempotency.Header,
		Logger:            events,
	})
	if err != nil {
		return nil, err
	}
	client, err := backend.NewClient(gw)
	if err != nil {
		return nil, err
	}

	auth, err := services.NewAuthService(services.AuthServiceDeps{Backend: client, Session: gw, Logger: events})
	if err != nil {
		return nil, err
	}
	gw.SetSessionClearedHook(auth.HandleSessionCleared)

	repo, err := openCartRepository(cfg.Cart)
	if err != nil {
		return nil, err
	}
	cart, err := services.NewCartStore(ctx, services.CartStoreDeps{Repository: repo, Logger: events})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	prompts := newPrompter(opts.In, opts.Out)
	var loader payments.Loader
	switch cfg.Gateway.Driver {
	case "stripe":
		loader = payments.StripeLoader(payments.StripeWidgetConfig{
			APIKey: cfg.Gateway.StripeAPIKey,
			Prompt: prompts.stripePrompt(),
			Logger: events,
		})
	default:
		loader = payments.SandboxLoader(payments.SandboxConfig{
			Secret:  cfg.Gateway.SandboxSecret,
			Decider: prompts.sandboxDecider(),
		})
	}
	adapter, err := payments.NewAdapter(payments.AdapterDeps{Loader: loader, Logger: events})
	if err != nil {
		_ = cart.Close()
		return nil, err
	}

	checkout, err := services.NewCheckoutOrchestrator(services.CheckoutOrchestratorDeps{
		Backend:    client,
		Payments:   adapter,
		Cart:       cart,
		Keys:       idempotency.NewGenerator(nil),
		GatewayKey: cfg.Gateway.Key,
		Logger:     events,
	})
	if err != nil {
		_ = cart.Close()
		return nil, err
	}

	app := &App{
		Cart:     cart,
		Auth:     auth,
		Checkout: checkout,
		Orders:   client,
		Payments: adapter,
		gateway:  gw,
		logger:   logger,
	}
	if cfg.Session.Path != "" {
		sf, err := NewSessionFile(cfg.Session.Path)
		if err != nil {
			_ = cart.Close()
			return nil, err
		}
		app.session = sf
		if err := app.restoreSession(); err != nil {
			logger.Warn("saved session ignored", zap.Error(err))
		}
	}
	return app, nil
}

func openCartRepository(cfg config.CartConfig) (repositories.CartSnapshotRepository, error) {
	switch cfg.Driver {
	case "file", "":
		return localfile.NewCartRepository(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("cli: unknown cart driver %q", cfg.Driver)
	}
}

func (a *App) restoreSession() error {
	saved, err := a.session.Load()
	if err != nil {
		return err
	}
	a.gateway.RestoreCookies(fromSavedCookies(saved.Cookies))
	if saved.User != nil {
		user := *saved.User
		a.Auth.Restore(domain.AuthSession{IsAuthenticated: true, Profile: &user}, saved.AccessExpiresAt)
	}
	return nil
}

// SaveSession writes the current cookies and profile for the next run. A signed-out
// client removes the file.
func (a *App) SaveSession() error {
	if a.session == nil {
		return nil
	}
	state := a.Auth.State()
	if !state.IsAuthenticated {
		return a.session.Remove()
	}
	expiresAt, _ := a.Auth.AccessExpiresAt()
	return a.session.Save(SavedSession{
		Cookies:         toSavedCookies(a.gateway.Cookies()),
		User:            state.Profile,
		AccessExpiresAt: expiresAt,
		SavedAt:         time.Now().UTC(),
	})
}

// Close persists the session and releases the cart store.
func (a *App) Close() error {
	return errors.Join(a.SaveSession(), a.Cart.Close())
}
