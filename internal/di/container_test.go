package di

import (
	"context"
	"testing"
	"time"

	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/repositories/memory"
	"github.com/storefront/api/internal/services"
)

type recordingNotifier struct {
	ch chan services.OrderCompletedNotification
}

func (n recordingNotifier) NotifyOrderCompleted(_ context.Context, notification services.OrderCompletedNotification) error {
	n.ch <- notification
	return nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestContainerOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	reg, err := memory.NewRegistry()
	if err != nil {
		t.Fatalf("memory registry: %v", err)
	}
	notifier := recordingNotifier{ch: make(chan services.OrderCompletedNotification, 1)}
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

	container, err := NewContainer(ctx, config.Config{}, reg,
		WithNotifier(notifier),
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "test"}),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}
	defer container.Close(ctx)

	staff := &auth.Identity{UID: "staff_1", Roles: []string{auth.RoleStaff}}
	customer := &auth.Identity{UID: "cust_1", Roles: []string{auth.RoleCustomer}}

	name := "Mug"
	price := int64(1200)
	stock := 5
	product, err := container.Services.Catalog.CreateProduct(ctx, services.CreateProductCommand{
		Principal: staff,
		Input:     services.ProductInput{Name: &name, Price: &price, Stock: &stock},
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	order, err := container.Services.Orders.Create(ctx, services.CreateOrderCommand{
		Principal: customer,
		Lines:     []services.OrderLine{{ProductID: product.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	completed, err := container.Services.Orders.Complete(ctx, services.OrderTransitionCommand{Principal: customer, OrderID: order.ID})
	if err != nil {
		t.Fatalf("complete order: %v", err)
	}
	if completed.Status != services.OrderStatus("completed") {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	if completed.TotalPrice == nil || *completed.TotalPrice != 2400 {
		t.Fatalf("expected total 2400, got %v", completed.TotalPrice)
	}

	updated, err := container.Services.Catalog.GetProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if updated.Stock != 3 || updated.SalesCount != 2 {
		t.Fatalf("expected stock 3 and sales 2, got %d and %d", updated.Stock, updated.SalesCount)
	}

	select {
	case notice := <-notifier.ch:
		if notice.OrderID != order.ID || notice.TotalPrice != 2400 {
			t.Fatalf("unexpected notification %+v", notice)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected completion notification")
	}

	report, err := container.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Version != "test" {
		t.Fatalf("expected build version in report, got %q", report.Version)
	}
}
