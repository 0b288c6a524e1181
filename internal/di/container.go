package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Catalog services.CatalogService
	Pricing services.PricingEngine
	Orders  services.OrderService
	System  services.SystemService
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// Option customises container assembly.
type Option func(*containerOptions)

type containerOptions struct {
	logger   *zap.Logger
	notifier services.OrderNotifier
	build    services.BuildInfo
	clock    func() time.Time
}

// WithLogger sets the base logger adapted into service event callbacks.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier sets the completion notice channel. Without one, notices are only logged.
func WithNotifier(notifier services.OrderNotifier) Option {
	return func(o *containerOptions) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// WithBuildInfo attaches build metadata reported by the system service.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *containerOptions) {
		o.build = build
	}
}

// WithClock overrides the time source shared by all services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies on top of reg. Tests pass the memory registry.
func NewContainer(_ context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	options := containerOptions{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	svc, err := buildServices(reg, cfg, options)
	if err != nil {
		return nil, err
	}
	return &Container{Config: cfg, Repositories: reg, Services: svc}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(reg repositories.Registry, cfg config.Config, opts containerOptions) (Services, error) {
	var svc Services

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:         reg.Catalog(),
		Clock:           opts.clock,
		Logger:          observability.EventLogger(opts.logger.Named("catalog"), zapcore.InfoLevel),
		DefaultPageSize: cfg.Catalog.DefaultPageSize,
		MaxPageSize:     cfg.Catalog.MaxPageSize,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{
		Orders:  reg.Orders(),
		Catalog: reg.Catalog(),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	orderLogger := observability.EventLogger(opts.logger.Named("orders"), zapcore.InfoLevel)
	notifier := opts.notifier
	if notifier == nil {
		notifier = services.LogOrderNotifier{Logger: orderLogger}
	}
	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Catalog:       reg.Catalog(),
		Pricing:       pricing,
		Notifier:      notifier,
		UnitOfWork:    reg,
		Clock:         opts.clock,
		Logger:        orderLogger,
		NotifyTimeout: cfg.Notifications.PublishTimeout,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	build := opts.build
	if build.Environment == "" {
		build.Environment = cfg.Security.Environment
	}
	if build.StartedAt.IsZero() {
		build.StartedAt = opts.clock().UTC()
	}
	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            opts.clock,
		Build:            build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
