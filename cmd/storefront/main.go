package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/drwater/storefront/internal/capability"
	"github.com/drwater/storefront/internal/catalog"
	"github.com/drwater/storefront/internal/handlers"
	"github.com/drwater/storefront/internal/payments"
	"github.com/drwater/storefront/internal/platform/config"
	"github.com/drwater/storefront/internal/platform/idempotency"
	"github.com/drwater/storefront/internal/platform/observability"
	"github.com/drwater/storefront/internal/platform/secrets"
	"github.com/drwater/storefront/internal/services"
	"github.com/drwater/storefront/internal/viewer"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithEnvFile(".env"),
		config.WithSecretResolver(fetcher),
	)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	products, err := catalog.Default()
	if err != nil {
		logger.Fatal("failed to load catalog", zap.Error(err))
	}

	checkoutDeps := services.CheckoutServiceDeps{
		Currency:      cfg.Checkout.Currency,
		KnownPriceIDs: products.PriceIDs(),
		Logger:        logger,
	}
	if cfg.Checkout.Configured() {
		checkoutDeps.Payments = newPaymentManager(logger, cfg)
	}
	checkoutService := services.NewCheckoutService(checkoutDeps)
	if !checkoutService.Configured() {
		logger.Warn("STRIPE_SECRET_KEY is not set; checkout requests will fail until it is configured")
	}

	detector := newCapabilityDetector(ctx, logger, cfg.Capability)
	loader := viewer.NewHTTPLoader(
		viewer.WithLoaderLogger(logger),
		viewer.WithModelTimeout(cfg.Viewer.ModelTimeout),
	)

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, logger.Named("idempotency"))

	health := handlers.NewHealthHandlers(
		handlers.WithHealthStartedAt(startedAt),
		handlers.WithReadinessCheck("checkout", func(context.Context) handlers.CheckResult {
			if checkoutService.Configured() {
				return handlers.CheckResult{Status: handlers.StatusOK}
			}
			return handlers.CheckResult{Status: "unconfigured", Detail: "STRIPE_SECRET_KEY is not set"}
		}),
		handlers.WithReadinessCheck("rendering", func(context.Context) handlers.CheckResult {
			detail := "probe pending"
			if detector.Settled() {
				detail = fmt.Sprintf("webgl supported: %t", detector.Supported())
			}
			return handlers.CheckResult{Status: handlers.StatusOK, Detail: detail}
		}),
	)

	productHandlers := handlers.NewProductHandlers(products,
		handlers.WithCapability(detector),
		handlers.WithModelLoader(loader),
		handlers.WithCurrency(cfg.Checkout.Currency),
		handlers.WithPreviewSize(cfg.Viewer.PreviewSize),
	)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithIdempotency(idempotencyMiddleware, cfg.Idempotency.Header),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(health),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithPageRoutes(handlers.PageRoutes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening", zap.Bool("checkout_configured", checkoutService.Configured()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")
	cleanupCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger)}
	if project := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_PROJECT_ID")); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if path := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if creds := strings.TrimSpace(os.Getenv("STOREFRONT_SECRET_CREDENTIALS_FILE")); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func newPaymentManager(logger *zap.Logger, cfg config.Config) *payments.Manager {
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.Checkout.StripeSecretKey,
		Logger: logger.Named("payments"),
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	manager, err := payments.NewManager(map[string]payments.Provider{"stripe": stripeProvider})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	return manager
}

func newCapabilityDetector(ctx context.Context, logger *zap.Logger, cfg config.CapabilityConfig) *capability.Detector {
	opts := []capability.Option{
		capability.WithLogger(logger.Named("capability")),
		capability.WithTimeout(cfg.ProbeTimeout),
	}
	switch cfg.WebGL {
	case config.WebGLOn:
		d := capability.NewDetector(capability.Static(true), opts...)
		d.Detect(ctx)
		return d
	case config.WebGLOff:
		d := capability.NewDetector(capability.Static(false), opts...)
		d.Detect(ctx)
		return d
	default:
		d := capability.NewDetector(capability.ChromeProbe(capability.ChromeOptions{
			ExecPath: cfg.ChromePath,
			Errorf:   observability.NewPrintfAdapter(logger.Named("chromedp")).Printf,
		}), opts...)
		go d.Detect(ctx)
		return d
	}
}
