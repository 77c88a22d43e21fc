package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/posterparlor/storefront/internal/cli"
	"github.com/posterparlor/storefront/internal/platform/config"
	"github.com/posterparlor/storefront/internal/platform/observability"
	"github.com/posterparlor/storefront/internal/platform/secrets"
)

const defaultCLILogLevel = "warn"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	level := strings.TrimSpace(envValues["LOG_LEVEL"])
	if level == "" {
		level = defaultCLILogLevel
	}
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	var fetcher *secrets.Fetcher
	closeFetcher := func() {
		if fetcher == nil {
			return
		}
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
		fetcher = nil
	}
	defer closeFetcher()

	build := func(ctx context.Context) (*cli.App, error) {
		f, err := newSecretFetcher(ctx, logger, envValues)
		if err != nil {
			return nil, fmt.Errorf("initialise secret fetcher: %w", err)
		}
		fetcher = f
		cfg, err := config.Load(ctx,
			config.WithSecretResolver(config.SecretResolverFunc(f.Resolve)),
			config.WithRequiredSecrets(requiredSecretNames(envValues)...),
		)
		if err != nil {
			var missing *config.MissingSecretsError
			if errors.As(err, &missing) {
				logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
			}
			return nil, fmt.Errorf("load configuration: %w", err)
		}
		return cli.Build(ctx, cli.BuildOptions{
			Config: cfg,
			Logger: logger.With(zap.String("environment", cfg.Environment)),
			In:     os.Stdin,
			Out:    os.Stderr,
		})
	}

	err = cli.Run(ctx, cli.Options{
		In:    os.Stdin,
		Out:   os.Stdout,
		Err:   os.Stderr,
		Build: build,
	}, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		closeFetcher()
		stop()
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(observability.Meter()),
	}
	if project := lookup("STOREFRONT_SECRETS_PROJECT"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if fallback := lookup("STOREFRONT_SECRET_FALLBACK_FILE"); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected gateway driver cannot run without.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"Gateway.Key"}
	driver := strings.ToLower(strings.TrimSpace(env["STOREFRONT_GATEWAY_DRIVER"]))
	switch driver {
	case "stripe":
		required = append(required, "Gateway.StripeAPIKey")
	default:
		required = append(required, "Gateway.SandboxSecret")
	}
	return required
}
