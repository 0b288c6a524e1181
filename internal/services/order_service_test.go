package services

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/repositories"
)

func TestNewOrderServiceRequiresRepositories(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{}); err == nil {
		t.Fatalf("expected error without order repository")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: &stubOrderRepo{}}); err == nil {
		t.Fatalf("expected error without catalog repository")
	}
}

func TestOrderServiceCreatePersistsPendingOrder(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)

	order := f.place(t, customer("cust_1"),
		domain.OrderLine{ProductID: " prd_mug ", Quantity: 1},
		domain.OrderLine{ProductID: "prd_tee", Quantity: 2},
		domain.OrderLine{ProductID: "prd_mug", Quantity: 1},
	)

	if order.ID != "ord_001" {
		t.Fatalf("expected generated id ord_001, got %s", order.ID)
	}
	if order.Status != domain.OrderStatusPending || order.CustomerID != "cust_1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.TotalPrice != nil || len(order.Frozen) != 0 {
		t.Fatalf("pending order must carry no total or frozen lines")
	}
	want := []domain.OrderLine{{ProductID: "prd_mug", Quantity: 2}, {ProductID: "prd_tee", Quantity: 2}}
	if !reflect.DeepEqual(order.Lines, want) {
		t.Fatalf("expected merged lines %v, got %v", want, order.Lines)
	}
	if !order.CreatedAt.Equal(testNow) {
		t.Fatalf("expected created at %s, got %s", testNow, order.CreatedAt)
	}

	stored, err := f.orders.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected stored pending order, got %s", stored.Status)
	}
	if got := f.product(t, "prd_mug").Stock; got != 5 {
		t.Fatalf("creation must not touch stock, got %d", got)
	}
	if _, ok := f.events.find(orderEventCreated); !ok {
		t.Fatalf("expected %s event", orderEventCreated)
	}
}

func TestOrderServiceCreateRejectsInsufficientStock(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)

	_, err := f.svc.Create(context.Background(), CreateOrderCommand{
		Principal: customer("cust_1"),
		Lines:     []domain.OrderLine{{ProductID: "prd_cap", Quantity: 2}},
	})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if stockErr.ProductID != "prd_cap" || stockErr.Requested != 2 || stockErr.Available != 1 {
		t.Fatalf("unexpected stock error %+v", stockErr)
	}
	if !errors.Is(err, ErrCatalogInsufficientStock) {
		t.Fatalf("expected insufficient stock sentinel")
	}

	orders, err := f.orders.FindByCustomer(context.Background(), "cust_1")
	if err != nil {
		t.Fatalf("FindByCustomer: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no order persisted, got %d", len(orders))
	}
}

func TestOrderServiceCreateValidation(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  CreateOrderCommand
		want error
	}{
		{name: "no lines", cmd: CreateOrderCommand{Principal: customer("c")}, want: ErrOrderInvalidInput},
		{name: "zero quantity", cmd: CreateOrderCommand{Principal: customer("c"), Lines: []domain.OrderLine{{ProductID: "prd_mug"}}}, want: ErrOrderInvalidInput},
		{name: "negative quantity", cmd: CreateOrderCommand{Principal: customer("c"), Lines: []domain.OrderLine{{ProductID: "prd_mug", Quantity: -1}}}, want: ErrOrderInvalidInput},
		{name: "blank product", cmd: CreateOrderCommand{Principal: customer("c"), Lines: []domain.OrderLine{{ProductID: " ", Quantity: 1}}}, want: ErrOrderInvalidInput},
		{name: "unknown product", cmd: CreateOrderCommand{Principal: customer("c"), Lines: []domain.OrderLine{{ProductID: "prd_nope", Quantity: 1}}}, want: ErrCatalogProductNotFound},
		{name: "anonymous", cmd: CreateOrderCommand{Lines: []domain.OrderLine{{ProductID: "prd_mug", Quantity: 1}}}, want: ErrUnauthenticated},
		{name: "staff only", cmd: CreateOrderCommand{Principal: staff("s"), Lines: []domain.OrderLine{{ProductID: "prd_mug", Quantity: 1}}}, want: ErrForbidden},
		{name: "on behalf of another", cmd: CreateOrderCommand{Principal: customer("c"), CustomerID: "other", Lines: []domain.OrderLine{{ProductID: "prd_mug", Quantity: 1}}}, want: ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	order, err := f.svc.Create(ctx, CreateOrderCommand{
		Principal:  admin("root"),
		CustomerID: "cust_9",
		Lines:      []domain.OrderLine{{ProductID: "prd_mug", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("admin create: %v", err)
	}
	if order.CustomerID != "cust_9" {
		t.Fatalf("expected admin to order for cust_9, got %s", order.CustomerID)
	}
}

func TestOrderServiceCreateRejectsOversizedLines(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()

	cases := map[string][]domain.OrderLine{
		"merge overflows int": {
			{ProductID: "prd_mug", Quantity: math.MaxInt},
			{ProductID: "prd_mug", Quantity: math.MaxInt},
		},
		"single line over cap": {
			{ProductID: "prd_mug", Quantity: domain.MaxOrderLineQuantity + 1},
		},
		"merged lines over cap": {
			{ProductID: "prd_mug", Quantity: domain.MaxOrderLineQuantity},
			{ProductID: "prd_tee", Quantity: 1},
			{ProductID: "prd_mug", Quantity: 1},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, CreateOrderCommand{Principal: customer("cust_1"), Lines: lines})
			if !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}

	orders, err := f.orders.FindByCustomer(ctx, "cust_1")
	if err != nil {
		t.Fatalf("FindByCustomer: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no order persisted, got %d", len(orders))
	}
	mug := f.product(t, "prd_mug")
	if mug.Stock != 5 || mug.SalesCount != 0 {
		t.Fatalf("expected untouched stock, got %d/%d", mug.Stock, mug.SalesCount)
	}
}

func TestOrderServiceCompleteFreezesPrices(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	order := f.place(t, customer("cust_1"),
		domain.OrderLine{ProductID: "prd_mug", Quantity: 2},
		domain.OrderLine{ProductID: "prd_tee", Quantity: 1},
	)

	completed, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: customer("cust_1"), OrderID: order.ID})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if completed.TotalPrice == nil || *completed.TotalPrice != 25 {
		t.Fatalf("expected total 25, got %v", completed.TotalPrice)
	}

	newPrice := int64(20)
	if _, err := f.catalog.Update(ctx, "prd_mug", repositories.ProductPatch{Price: &newPrice}, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("price change: %v", err)
	}

	stored, err := f.svc.Get(ctx, customer("cust_1"), order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if *stored.TotalPrice != 25 {
		t.Fatalf("expected frozen total 25 after price change, got %d", *stored.TotalPrice)
	}
	wantFrozen := []domain.FrozenLine{
		{ProductID: "prd_mug", Quantity: 2, Name: "Mug", Price: 10, Image: "mug.png"},
		{ProductID: "prd_tee", Quantity: 1, Name: "Tee", Price: 5, Image: "tee.png"},
	}
	if !reflect.DeepEqual(stored.Frozen, wantFrozen) {
		t.Fatalf("expected frozen lines %+v, got %+v", wantFrozen, stored.Frozen)
	}
	if stored.ModifiedAt == nil || !stored.ModifiedAt.Equal(testNow) {
		t.Fatalf("expected modified at %s, got %v", testNow, stored.ModifiedAt)
	}

	mug := f.product(t, "prd_mug")
	if mug.Stock != 3 || mug.SalesCount != 2 {
		t.Fatalf("expected mug stock 3 sales 2, got %d/%d", mug.Stock, mug.SalesCount)
	}
	tee := f.product(t, "prd_tee")
	if tee.Stock != 2 || tee.SalesCount != 1 {
		t.Fatalf("expected tee stock 2 sales 1, got %d/%d", tee.Stock, tee.SalesCount)
	}

	notification := f.notifier.wait(t)
	if notification.OrderID != order.ID || notification.CustomerID != "cust_1" || notification.TotalPrice != 25 {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if len(notification.Lines) != 2 || notification.Lines[0].Name != "Mug" {
		t.Fatalf("expected line details in notification, got %+v", notification.Lines)
	}
	if !notification.CompletedAt.Equal(testNow) {
		t.Fatalf("expected completed at %s, got %s", testNow, notification.CompletedAt)
	}
}

func TestOrderServiceTransitionsOnlyFromPending(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	owner := customer("cust_1")

	completed := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 1})
	if _, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: owner, OrderID: completed.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	cancelled := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 1})
	if _, err := f.svc.Cancel(ctx, OrderTransitionCommand{Principal: owner, OrderID: cancelled.ID}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	cases := []struct {
		name    string
		orderID string
		apply   func(context.Context, OrderTransitionCommand) (Order, error)
		current domain.OrderStatus
	}{
		{name: "completed to cancelled", orderID: completed.ID, apply: f.svc.Cancel, current: domain.OrderStatusCompleted},
		{name: "completed to completed", orderID: completed.ID, apply: f.svc.Complete, current: domain.OrderStatusCompleted},
		{name: "cancelled to completed", orderID: cancelled.ID, apply: f.svc.Complete, current: domain.OrderStatusCancelled},
		{name: "cancelled to cancelled", orderID: cancelled.ID, apply: f.svc.Cancel, current: domain.OrderStatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.apply(ctx, OrderTransitionCommand{Principal: owner, OrderID: tc.orderID})
			var stateErr *OrderStateError
			if !errors.As(err, &stateErr) {
				t.Fatalf("expected OrderStateError, got %v", err)
			}
			if stateErr.Current != tc.current {
				t.Fatalf("expected current status %s, got %s", tc.current, stateErr.Current)
			}
			if !errors.Is(err, ErrOrderConflict) {
				t.Fatalf("expected conflict sentinel")
			}
		})
	}

	if got := f.product(t, "prd_mug").Stock; got != 4 {
		t.Fatalf("rejected transitions must not touch stock, got %d", got)
	}
}

func TestOrderServiceConcurrentCompleteExactlyOneWins(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 1})

	start := make(chan struct{})
	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, results[i] = f.svc.Complete(context.Background(), OrderTransitionCommand{Principal: owner, OrderID: order.ID})
		}()
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var stateErr *OrderStateError
		if !errors.As(err, &stateErr) || stateErr.Current != domain.OrderStatusCompleted {
			t.Fatalf("expected conflict with completed status, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one completion, got %d", succeeded)
	}

	stored, err := f.orders.FindByID(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted || *stored.TotalPrice != 10 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	// The loser may have decremented before its transition failed; that unit stays taken.
	mug := f.product(t, "prd_mug")
	if mug.Stock+mug.SalesCount != 5 || mug.SalesCount < 1 || mug.SalesCount > 2 {
		t.Fatalf("unexpected stock %d sales %d", mug.Stock, mug.SalesCount)
	}
	_, orphaned := f.events.find(orderEventStockOrphaned)
	if orphaned != (mug.SalesCount == 2) {
		t.Fatalf("orphaned event logged=%v with sales %d", orphaned, mug.SalesCount)
	}
}

func TestOrderServiceCancelLeavesStockUnchanged(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_tee", Quantity: 2})

	cancelled, err := f.svc.Cancel(context.Background(), OrderTransitionCommand{Principal: owner, OrderID: order.ID})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.TotalPrice != nil || len(cancelled.Frozen) != 0 {
		t.Fatalf("cancelled order must not carry a total")
	}
	tee := f.product(t, "prd_tee")
	if tee.Stock != 3 || tee.SalesCount != 0 {
		t.Fatalf("expected stock 3 and no sales, got %d/%d", tee.Stock, tee.SalesCount)
	}
	if _, ok := f.events.find(orderEventCancelled); !ok {
		t.Fatalf("expected %s event", orderEventCancelled)
	}
}

func TestOrderServiceCompletePartialDecrementIsNotRolledBack(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	owner := customer("cust_1")
	order := f.place(t, owner,
		domain.OrderLine{ProductID: "prd_mug", Quantity: 2},
		domain.OrderLine{ProductID: "prd_cap", Quantity: 1},
	)

	zero := 0
	if _, err := f.catalog.Update(ctx, "prd_cap", repositories.ProductPatch{Stock: &zero}, testNow); err != nil {
		t.Fatalf("stock edit: %v", err)
	}

	_, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: owner, OrderID: order.ID})
	var stockErr *InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != "prd_cap" {
		t.Fatalf("expected insufficient stock naming prd_cap, got %v", err)
	}

	stored, err := f.orders.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Status != domain.OrderStatusPending || stored.TotalPrice != nil {
		t.Fatalf("failed completion must leave the order pending, got %+v", stored)
	}

	// The first line stays decremented: there is no compensating restore.
	mug := f.product(t, "prd_mug")
	if mug.Stock != 3 || mug.SalesCount != 2 {
		t.Fatalf("expected orphaned decrement on prd_mug (stock 3, sales 2), got %d/%d", mug.Stock, mug.SalesCount)
	}
	event, ok := f.events.find(orderEventStockRejected)
	if !ok {
		t.Fatalf("expected %s event", orderEventStockRejected)
	}
	if event.fields["uncompensatedLines"] != 1 || event.fields["productID"] != "prd_cap" {
		t.Fatalf("unexpected rejection fields %v", event.fields)
	}
}

func TestOrderServiceTransitionAccess(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	order := f.place(t, customer("cust_1"), domain.OrderLine{ProductID: "prd_mug", Quantity: 1})

	if _, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: customer("cust_2"), OrderID: order.ID}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderTransitionCommand{OrderID: order.ID}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderTransitionCommand{Principal: admin("root"), OrderID: "ord_missing"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderTransitionCommand{Principal: admin("root"), OrderID: " "}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.Cancel(ctx, OrderTransitionCommand{Principal: admin("root"), OrderID: order.ID}); err != nil {
		t.Fatalf("expected admin cancel to succeed, got %v", err)
	}
}

func TestOrderServiceTransitionVanishedOrderIsInconsistent(t *testing.T) {
	pending := domain.Order{
		ID:         "ord_1",
		CustomerID: "cust_1",
		Status:     domain.OrderStatusPending,
		Lines:      []domain.OrderLine{{ProductID: "prd_mug", Quantity: 1}},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return pending, nil },
		transitionFn: func(context.Context, string, repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, &repoError{msg: "order ord_1 not found", notFound: true}
		},
	}
	f := newOrderFixture(t, storeProducts()...)
	svc, err := NewOrderService(OrderServiceDeps{Orders: orders, Catalog: f.catalog})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Complete(context.Background(), OrderTransitionCommand{Principal: customer("cust_1"), OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInconsistent) {
		t.Fatalf("expected inconsistent state, got %v", err)
	}
	if errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("a vanished order must not be reported as a plain not found")
	}
}

func TestOrderServiceLostTransitionRaceIsConflict(t *testing.T) {
	pending := domain.Order{ID: "ord_1", CustomerID: "cust_1", Status: domain.OrderStatusPending}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return pending, nil },
		transitionFn: func(_ context.Context, id string, change repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, &repositories.TransitionError{OrderID: id, Current: domain.OrderStatusCompleted, Target: change.Status}
		},
	}
	f := newOrderFixture(t)
	svc, err := NewOrderService(OrderServiceDeps{Orders: orders, Catalog: f.catalog, Logger: f.events.log})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Cancel(context.Background(), OrderTransitionCommand{Principal: customer("cust_1"), OrderID: "ord_1"})
	var stateErr *OrderStateError
	if !errors.As(err, &stateErr) || stateErr.Current != domain.OrderStatusCompleted || stateErr.Target != domain.OrderStatusCancelled {
		t.Fatalf("expected lost race conflict, got %v", err)
	}
	if _, ok := f.events.find(orderEventTransitionLost); !ok {
		t.Fatalf("expected %s event", orderEventTransitionLost)
	}
}

// Losing the conditional transition after the decrement leaves the stock taken.
func TestOrderServiceCompleteLostRaceOrphansStock(t *testing.T) {
	pending := domain.Order{
		ID:         "ord_1",
		CustomerID: "cust_1",
		Status:     domain.OrderStatusPending,
		Lines:      []domain.OrderLine{{ProductID: "prd_mug", Quantity: 2}},
	}
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) { return pending, nil },
		transitionFn: func(_ context.Context, id string, change repositories.OrderTransition) (domain.Order, error) {
			return domain.Order{}, &repositories.TransitionError{OrderID: id, Current: domain.OrderStatusCompleted, Target: change.Status}
		},
	}
	f := newOrderFixture(t, storeProducts()...)
	svc, err := NewOrderService(OrderServiceDeps{Orders: orders, Catalog: f.catalog, Logger: f.events.log})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	_, err = svc.Complete(context.Background(), OrderTransitionCommand{Principal: customer("cust_1"), OrderID: "ord_1"})
	var stateErr *OrderStateError
	if !errors.As(err, &stateErr) || stateErr.Current != domain.OrderStatusCompleted || stateErr.Target != domain.OrderStatusCompleted {
		t.Fatalf("expected lost race conflict, got %v", err)
	}

	mug := f.product(t, "prd_mug")
	if mug.Stock != 3 || mug.SalesCount != 2 {
		t.Fatalf("expected decrement to stay applied at stock 3 sales 2, got %d/%d", mug.Stock, mug.SalesCount)
	}
	event, ok := f.events.find(orderEventStockOrphaned)
	if !ok {
		t.Fatalf("expected %s event", orderEventStockOrphaned)
	}
	if event.fields["orderID"] != "ord_1" {
		t.Fatalf("unexpected order id %v", event.fields["orderID"])
	}
	lines, _ := event.fields["lines"].(map[string]int)
	if lines["prd_mug"] != 2 {
		t.Fatalf("expected orphaned 2 x prd_mug, got %v", event.fields["lines"])
	}
	if _, ok := f.events.find(orderEventTransitionLost); !ok {
		t.Fatalf("expected %s event", orderEventTransitionLost)
	}
}

func TestOrderServiceNotifierFailureDoesNotFailCompletion(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	f.notifier.notifyFn = func(context.Context, OrderCompletedNotification) error {
		return errors.New("topic unavailable")
	}
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 1})

	if _, err := f.svc.Complete(context.Background(), OrderTransitionCommand{Principal: owner, OrderID: order.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	event := f.events.waitFor(t, orderEventNotifyFailed)
	if event.fields["orderID"] != order.ID {
		t.Fatalf("unexpected failure fields %v", event.fields)
	}
}

func TestOrderServiceNotificationOutlivesRequestContext(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	f.notifier.notifyFn = func(ctx context.Context, _ OrderCompletedNotification) error {
		return ctx.Err()
	}
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 1})

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: owner, OrderID: order.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	cancel()
	f.notifier.wait(t)
	time.Sleep(20 * time.Millisecond)
	if _, failed := f.events.find(orderEventNotifyFailed); failed {
		t.Fatalf("notification context must not inherit request cancellation")
	}
}

func TestOrderServiceGetIsIdempotent(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 2})

	first, err := f.svc.Get(context.Background(), owner, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := f.svc.Get(context.Background(), owner, order.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical reads, got %+v and %+v", first, second)
	}
	if _, err := f.svc.Get(context.Background(), customer("cust_2"), order.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another customer, got %v", err)
	}
}

func TestOrderServiceQuote(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	owner := customer("cust_1")
	order := f.place(t, owner, domain.OrderLine{ProductID: "prd_mug", Quantity: 2})

	quote, err := f.svc.Quote(ctx, owner, order.ID)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.Frozen || quote.Total != 20 {
		t.Fatalf("expected live quote of 20, got %+v", quote)
	}

	if _, err := f.svc.Complete(ctx, OrderTransitionCommand{Principal: owner, OrderID: order.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	price := int64(99)
	if _, err := f.catalog.Update(ctx, "prd_mug", repositories.ProductPatch{Price: &price}, testNow); err != nil {
		t.Fatalf("price change: %v", err)
	}
	quote, err = f.svc.Quote(ctx, owner, order.ID)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !quote.Frozen || quote.Total != 20 || quote.Lines[0].Price != 10 {
		t.Fatalf("expected frozen quote of 20, got %+v", quote)
	}
}

func TestOrderServiceProjections(t *testing.T) {
	f := newOrderFixture(t, storeProducts()...)
	ctx := context.Background()
	f.place(t, customer("cust_1"),
		domain.OrderLine{ProductID: "prd_mug", Quantity: 1},
		domain.OrderLine{ProductID: "prd_tee", Quantity: 1},
	)
	f.place(t, customer("cust_2"), domain.OrderLine{ProductID: "prd_tee", Quantity: 1})

	byStaff, err := f.svc.FindByStaff(ctx, staff("staff_1"), "staff_1")
	if err != nil {
		t.Fatalf("FindByStaff: %v", err)
	}
	if len(byStaff) != 1 || len(byStaff[0].Lines) != 1 || byStaff[0].Lines[0].ProductID != "prd_mug" {
		t.Fatalf("expected one order reduced to prd_mug, got %+v", byStaff)
	}
	if _, err := f.svc.FindByStaff(ctx, staff("staff_2"), "staff_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for another staff member, got %v", err)
	}
	if _, err := f.svc.FindByStaff(ctx, customer("cust_1"), "cust_1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for a customer, got %v", err)
	}

	byProduct, err := f.svc.FindByProduct(ctx, staff("staff_2"), "prd_tee")
	if err != nil {
		t.Fatalf("FindByProduct: %v", err)
	}
	if len(byProduct) != 2 {
		t.Fatalf("expected two orders for prd_tee, got %d", len(byProduct))
	}
	for _, order := range byProduct {
		if len(order.Lines) != 1 || order.Lines[0].ProductID != "prd_tee" {
			t.Fatalf("expected lines reduced to prd_tee, got %+v", order.Lines)
		}
	}
	if _, err := f.svc.FindByProduct(ctx, staff("staff_1"), "prd_tee"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for a non-owner, got %v", err)
	}
	if _, err := f.svc.FindByProduct(ctx, admin("root"), "prd_nope"); !errors.Is(err, ErrCatalogProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}

	byCustomer, err := f.svc.FindByCustomer(ctx, customer("cust_2"), "cust_2")
	if err != nil {
		t.Fatalf("FindByCustomer: %v", err)
	}
	if len(byCustomer) != 1 {
		t.Fatalf("expected one order for cust_2, got %d", len(byCustomer))
	}
	if _, err := f.svc.FindByCustomer(ctx, customer("cust_1"), "cust_2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestOrderServiceListRequiresAdminAndValidStatus(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{{ID: "ord_1"}}, NextPageToken: "next"}, nil
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orders, Catalog: &stubCatalogRepo{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.List(ctx, staff("s"), OrderListFilter{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.List(ctx, admin("root"), OrderListFilter{Status: []string{"shipped"}}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid status, got %v", err)
	}

	page, err := svc.List(ctx, admin("root"), OrderListFilter{
		Status:     []string{" Pending ", "", "completed"},
		Pagination: Pagination{PageSize: 5, PageToken: "tok"},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.NextPageToken != "next" || len(page.Items) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if !reflect.DeepEqual(captured.Status, []string{"pending", "completed"}) || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
}

func TestOrderServiceMapsUnavailableRepository(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, &repoError{msg: "deadline exceeded", unavailable: true}
		},
	}
	svc, err := NewOrderService(OrderServiceDeps{Orders: orders, Catalog: &stubCatalogRepo{}})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	_, err = svc.Get(context.Background(), &auth.Identity{UID: "root", Roles: []string{auth.RoleAdmin}}, "ord_1")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
