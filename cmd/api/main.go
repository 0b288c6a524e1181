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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/repositories"
	firestoreRepo "github.com/storefront/api/internal/repositories/firestore"
	"github.com/storefront/api/internal/repositories/memory"
	"github.com/storefront/api/internal/services"
)

const (
	pubsubHealthTimeout = time.Second
	closeTimeout        = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	level, _ := config.Lookup("API_LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)

	notifier, healthChecks, closePubSub, err := newOrderNotifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order notifier", zap.Error(err))
	}
	defer closePubSub()

	var (
		registry         repositories.Registry
		idempotencyStore idempotency.Store
	)
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		memRegistry, err := memory.NewRegistry(healthChecks...)
		if err != nil {
			logger.Fatal("failed to initialise memory registry", zap.Error(err))
		}
		registry = memRegistry
		idempotencyStore = idempotency.NewMemoryStore()
		logger.Warn("using in-memory storage; data is lost on restart")
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		fsRegistry, err := firestoreRepo.NewRegistry(provider, healthChecks...)
		if err != nil {
			logger.Fatal("failed to initialise firestore registry", zap.Error(err))
		}
		registry = fsRegistry
		idempotencyStore = idempotency.NewFirestoreStore(provider)
	}

	var containerOpts []di.Option
	containerOpts = append(containerOpts, di.WithLogger(logger), di.WithBuildInfo(buildInfo))
	if notifier != nil {
		containerOpts = append(containerOpts, di.WithNotifier(notifier))
	}
	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	productHandlers := handlers.NewProductHandlers(authenticator, container.Services.Catalog,
		handlers.WithProductPaging(cfg.Catalog.DefaultPageSize, cfg.Catalog.MaxPageSize),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderWriteMiddlewares(
			handlers.PrincipalRateLimit(cfg.Orders.WriteRateLimit, cfg.Orders.WriteRateWindow, time.Now),
			idempotency.Middleware(idempotencyStore,
				idempotency.WithTTL(cfg.Orders.IdempotencyTTL),
				idempotency.WithLogger(logger.Named("idempotency")),
			),
		),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Backend))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newOrderNotifier connects to the completion topic when one is configured. Without a topic the
// container falls back to logging notices.
func newOrderNotifier(ctx context.Context, cfg config.Config) (services.OrderNotifier, []repositories.DependencyCheck, func(), error) {
	noop := func() {}
	topicID := strings.TrimSpace(cfg.Notifications.Topic)
	if topicID == "" {
		return nil, nil, noop, nil
	}
	if host := strings.TrimSpace(cfg.Notifications.EmulatorHost); host != "" {
		if err := os.Setenv("PUBSUB_EMULATOR_HOST", host); err != nil {
			return nil, nil, noop, err
		}
	}

	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID, opts...)
	if err != nil {
		return nil, nil, noop, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	notifier, err := jobs.NewPubSubOrderNotifier(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, noop, err
	}
	checks := []repositories.DependencyCheck{{
		Name:    "pubsub",
		Timeout: pubsubHealthTimeout,
		Check:   jobs.TopicCheck(topic),
	}}
	closeFn := func() {
		topic.Stop()
		_ = client.Close()
	}
	return notifier, checks, closeFn, nil
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version, _ := config.Lookup("API_BUILD_VERSION")
	if version = strings.TrimSpace(version); version == "" {
		version = "dev"
	}
	commit, _ := config.Lookup("API_BUILD_COMMIT_SHA")
	if commit = strings.TrimSpace(commit); commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// newSecretFetcher is built before the config exists, so it reads its own settings directly.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		value, _ := config.Lookup(key)
		return strings.TrimSpace(value)
	}

	project := lookup("API_SECRETS_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallback := lookup("API_SECRETS_FALLBACK_FILE")
	if fallback == "" {
		fallback = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallback),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
