package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/memory"
)

var testNow = time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)

func customer(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleCustomer}}
}

func staff(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleStaff}}
}

func admin(uid string) *auth.Identity {
	return &auth.Identity{UID: uid, Roles: []string{auth.RoleAdmin}}
}

func sequentialIDs() func() string {
	var seq atomic.Int64
	return func() string {
		return fmt.Sprintf("%03d", seq.Add(1))
	}
}

type recordedEvent struct {
	name   string
	fields map[string]any
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) log(_ context.Context, event string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, fields: fields})
}

func (r *eventRecorder) find(name string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, event := range r.events {
		if event.name == name {
			return event, true
		}
	}
	return recordedEvent{}, false
}

func (r *eventRecorder) waitFor(t *testing.T, name string) recordedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if event, ok := r.find(name); ok {
			return event
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %s was not logged", name)
	return recordedEvent{}
}

type stubNotifier struct {
	notifyFn func(context.Context, OrderCompletedNotification) error
	sent     chan OrderCompletedNotification
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{sent: make(chan OrderCompletedNotification, 4)}
}

func (s *stubNotifier) NotifyOrderCompleted(ctx context.Context, notification OrderCompletedNotification) error {
	select {
	case s.sent <- notification:
	default:
	}
	if s.notifyFn != nil {
		return s.notifyFn(ctx, notification)
	}
	return nil
}

func (s *stubNotifier) wait(t *testing.T) OrderCompletedNotification {
	t.Helper()
	select {
	case notification := <-s.sent:
		return notification
	case <-time.After(2 * time.Second):
		t.Fatalf("notification was not dispatched")
		return OrderCompletedNotification{}
	}
}

// repoError satisfies repositories.RepositoryError for stubbed failures.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*repoError)(nil)

type stubOrderRepo struct {
	repositories.OrderRepository

	findFn       func(context.Context, string) (domain.Order, error)
	transitionFn func(context.Context, string, repositories.OrderTransition) (domain.Order, error)
	listFn       func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, &repoError{msg: "not found", notFound: true}
}

func (s *stubOrderRepo) Transition(ctx context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, orderID, change)
	}
	return domain.Order{}, nil
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

type stubCatalogRepo struct {
	repositories.CatalogRepository

	insertFn func(context.Context, domain.Product) error
	getFn    func(context.Context, string) (domain.Product, error)
	updateFn func(context.Context, string, repositories.ProductPatch, time.Time) (domain.Product, error)
	listFn   func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

func (s *stubCatalogRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubCatalogRepo) Get(ctx context.Context, productID string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID)
	}
	return domain.Product{}, &repoError{msg: "not found", notFound: true}
}

func (s *stubCatalogRepo) Update(ctx context.Context, productID string, patch repositories.ProductPatch, now time.Time) (domain.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, productID, patch, now)
	}
	return domain.Product{}, nil
}

func (s *stubCatalogRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

type orderFixture struct {
	svc      OrderService
	catalog  *memory.CatalogRepository
	orders   *memory.OrderRepository
	events   *eventRecorder
	notifier *stubNotifier
}

func newOrderFixture(t *testing.T, products ...domain.Product) orderFixture {
	t.Helper()
	catalog := memory.NewCatalogRepository(products...)
	orders, err := memory.NewOrderRepository(catalog)
	if err != nil {
		t.Fatalf("NewOrderRepository: %v", err)
	}
	events := &eventRecorder{}
	notifier := newStubNotifier()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		Catalog:     catalog,
		Notifier:    notifier,
		Clock:       func() time.Time { return testNow },
		IDGenerator: sequentialIDs(),
		Logger:      events.log,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return orderFixture{svc: svc, catalog: catalog, orders: orders, events: events, notifier: notifier}
}

func (f orderFixture) product(t *testing.T, id string) domain.Product {
	t.Helper()
	product, err := f.catalog.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("catalog get %s: %v", id, err)
	}
	return product
}

func (f orderFixture) place(t *testing.T, principal *auth.Identity, lines ...domain.OrderLine) domain.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateOrderCommand{Principal: principal, Lines: lines})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return order
}

func storeProducts() []domain.Product {
	return []domain.Product{
		{ID: "prd_mug", StaffID: "staff_1", Name: "Mug", Price: 10, Stock: 5, Image: "mug.png", CreatedAt: testNow.Add(-time.Hour)},
		{ID: "prd_tee", StaffID: "staff_2", Name: "Tee", Price: 5, Stock: 3, Image: "tee.png", CreatedAt: testNow.Add(-time.Hour)},
		{ID: "prd_cap", StaffID: "staff_1", Name: "Cap", Price: 7, Stock: 1, CreatedAt: testNow.Add(-time.Hour)},
	}
}
