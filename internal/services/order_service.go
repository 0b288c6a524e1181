package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	defaultNotifyTimeout = 10 * time.Second

	orderEventCreated        = "order.created"
	orderEventCompleted      = "order.completed"
	orderEventCancelled      = "order.cancelled"
	orderEventStockRejected  = "order.complete.stock_rejected"
	orderEventStockOrphaned  = "order.complete.stock_orphaned"
	orderEventTransitionLost = "order.transition.lost"
	orderEventNotifyFailed   = "order.notify.failed"
)

// OrderServiceDeps bundles collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders        repositories.OrderRepository
	Catalog       repositories.CatalogRepository
	Pricing       PricingEngine
	Notifier      OrderNotifier
	UnitOfWork    repositories.UnitOfWork
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(ctx context.Context, event string, fields map[string]any)
	NotifyTimeout time.Duration
}

type orderService struct {
	orders        repositories.OrderRepository
	catalog       repositories.CatalogRepository
	pricing       PricingEngine
	notifier      OrderNotifier
	unitOfWork    repositories.UnitOfWork
	clock         func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	notifyTimeout time.Duration
}

var _ OrderService = (*orderService)(nil)

// NewOrderService constructs the order lifecycle controller.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog repository is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		engine, err := NewPricingEngine(PricingEngineDeps{Orders: deps.Orders, Catalog: deps.Catalog})
		if err != nil {
			return nil, err
		}
		pricing = engine
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	notifyTimeout := deps.NotifyTimeout
	if notifyTimeout <= 0 {
		notifyTimeout = defaultNotifyTimeout
	}

	return &orderService{
		orders:     deps.Orders,
		catalog:    deps.Catalog,
		pricing:    pricing,
		notifier:   deps.Notifier,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:         idGen,
		logger:        logger,
		notifyTimeout: notifyTimeout,
	}, nil
}

// Create validates every line against current stock and persists a pending order. Stock is not
// reserved; it is decremented when the order completes.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	policy := NewAccessPolicy(cmd.Principal)
	if err := policy.RequireCustomer(); err != nil {
		return Order{}, err
	}
	customerID := policy.SubjectID()
	if requested := strings.TrimSpace(cmd.CustomerID); requested != "" && requested != customerID {
		if !policy.IsAdmin() {
			return Order{}, fmt.Errorf("%w: only admins may order on behalf of another customer", ErrForbidden)
		}
		customerID = requested
	}

	lines, err := normalizeOrderLines(cmd.Lines)
	if err != nil {
		return Order{}, err
	}

	if err := s.catalog.CheckStock(ctx, lines); err != nil {
		return Order{}, s.mapStockError(err)
	}

	order := Order{
		ID:         orderIDPrefix + s.newID(),
		CustomerID: customerID,
		Status:     domain.OrderStatusPending,
		Lines:      lines,
		CreatedAt:  s.clock(),
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderID":    order.ID,
		"customerID": order.CustomerID,
		"lines":      len(order.Lines),
	})
	return order, nil
}

// Complete decrements stock, freezes prices from the decremented snapshot and moves the order to
// completed with a conditional write. Stock already decremented for earlier lines is not restored
// when a later line fails.
func (s *orderService) Complete(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	order, err := s.loadPending(ctx, cmd, domain.OrderStatusCompleted)
	if err != nil {
		return Order{}, err
	}

	now := s.clock()
	var completed Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		products, err := s.catalog.CheckAndDecrementStock(txCtx, order.Lines, now)
		if err != nil {
			s.logStockRejection(txCtx, order, err)
			return s.mapStockError(err)
		}

		total, err := TotalFromCatalog(order.Lines, products)
		if err != nil {
			return err
		}
		frozen, err := SnapshotFromCatalog(order.Lines, products)
		if err != nil {
			return err
		}

		completed, err = s.orders.Transition(txCtx, order.ID, repositories.OrderTransition{
			Status:     domain.OrderStatusCompleted,
			Frozen:     frozen,
			TotalPrice: &total,
			At:         now,
		})
		if err != nil {
			s.logOrphanedStock(txCtx, order, err)
			return s.mapTransitionError(txCtx, order.ID, domain.OrderStatusCompleted, err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, orderEventCompleted, map[string]any{
		"orderID":    completed.ID,
		"customerID": completed.CustomerID,
		"totalPrice": derefTotal(completed.TotalPrice),
	})
	s.dispatchCompletion(ctx, completed)
	return completed, nil
}

// Cancel moves a pending order to cancelled. Stock is untouched since it was never decremented.
func (s *orderService) Cancel(ctx context.Context, cmd OrderTransitionCommand) (Order, error) {
	order, err := s.loadPending(ctx, cmd, domain.OrderStatusCancelled)
	if err != nil {
		return Order{}, err
	}

	cancelled, err := s.orders.Transition(ctx, order.ID, repositories.OrderTransition{
		Status: domain.OrderStatusCancelled,
		At:     s.clock(),
	})
	if err != nil {
		return Order{}, s.mapTransitionError(ctx, order.ID, domain.OrderStatusCancelled, err)
	}

	s.logger(ctx, orderEventCancelled, map[string]any{
		"orderID":    cancelled.ID,
		"customerID": cancelled.CustomerID,
	})
	return cancelled, nil
}

func (s *orderService) Get(ctx context.Context, principal *auth.Identity, orderID string) (Order, error) {
	policy := NewAccessPolicy(principal)
	if err := policy.Authenticated(); err != nil {
		return Order{}, err
	}
	order, err := s.find(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := policy.RequireOwnerOrAdmin(order.CustomerID); err != nil {
		return Order{}, err
	}
	return order, nil
}

// Quote prices the order: live for pending and cancelled orders, frozen for completed ones.
func (s *orderService) Quote(ctx context.Context, principal *auth.Identity, orderID string) (OrderQuote, error) {
	order, err := s.Get(ctx, principal, orderID)
	if err != nil {
		return OrderQuote{}, err
	}
	return s.pricing.Quote(ctx, order)
}

func (s *orderService) FindByCustomer(ctx context.Context, principal *auth.Identity, customerID string) ([]Order, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if err := NewAccessPolicy(principal).RequireOwnerOrAdmin(customerID); err != nil {
		return nil, err
	}
	orders, err := s.orders.FindByCustomer(ctx, customerID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

// FindByProduct lists orders referencing productID, each reduced to that product's lines. Only the
// owning staff member or an admin may read them.
func (s *orderService) FindByProduct(ctx context.Context, principal *auth.Identity, productID string) ([]Order, error) {
	policy := NewAccessPolicy(principal)
	if err := policy.RequireStaff(); err != nil {
		return nil, err
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil, fmt.Errorf("%w: %v", ErrCatalogProductNotFound, err)
		}
		return nil, s.mapRepositoryError(err)
	}
	if err := policy.RequireOwnerOrAdmin(product.StaffID); err != nil {
		return nil, err
	}

	orders, err := s.orders.FindByProduct(ctx, productID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return repositories.NewLineJoin([]Product{product}).Filter(orders), nil
}

// FindByStaff lists orders holding lines for products owned by staffID, with other lines removed.
func (s *orderService) FindByStaff(ctx context.Context, principal *auth.Identity, staffID string) ([]Order, error) {
	policy := NewAccessPolicy(principal)
	if err := policy.RequireStaff(); err != nil {
		return nil, err
	}
	staffID = strings.TrimSpace(staffID)
	if staffID == "" {
		return nil, fmt.Errorf("%w: staff id is required", ErrOrderInvalidInput)
	}
	if err := policy.RequireOwnerOrAdmin(staffID); err != nil {
		return nil, err
	}
	orders, err := s.orders.FindByStaff(ctx, staffID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) List(ctx context.Context, principal *auth.Identity, filter OrderListFilter) (domain.CursorPage[Order], error) {
	if err := NewAccessPolicy(principal).RequireAdmin(); err != nil {
		return domain.CursorPage[Order]{}, err
	}
	statuses := make([]string, 0, len(filter.Status))
	for _, raw := range filter.Status {
		status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
		if status == "" {
			continue
		}
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, raw)
		}
		statuses = append(statuses, string(status))
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:     statuses,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// loadPending reads the order, checks ownership and rejects anything that already left pending.
// The conditional transition re-checks the status at write time.
func (s *orderService) loadPending(ctx context.Context, cmd OrderTransitionCommand, target OrderStatus) (Order, error) {
	policy := NewAccessPolicy(cmd.Principal)
	if err := policy.Authenticated(); err != nil {
		return Order{}, err
	}
	order, err := s.find(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := policy.RequireOwnerOrAdmin(order.CustomerID); err != nil {
		return Order{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return Order{}, &OrderStateError{OrderID: order.ID, Current: order.Status, Target: target}
	}
	return order, nil
}

func (s *orderService) find(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) dispatchCompletion(ctx context.Context, order Order) {
	if s.notifier == nil {
		return
	}
	notification := OrderCompletedNotification{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		TotalPrice: derefTotal(order.TotalPrice),
		Lines:      append([]FrozenLine(nil), order.Frozen...),
	}
	if order.ModifiedAt != nil {
		notification.CompletedAt = *order.ModifiedAt
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		notifyCtx, cancel := context.WithTimeout(detached, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.NotifyOrderCompleted(notifyCtx, notification); err != nil {
			s.logger(detached, orderEventNotifyFailed, map[string]any{
				"orderID": notification.OrderID,
				"error":   err.Error(),
			})
		}
	}()
}

func (s *orderService) logStockRejection(ctx context.Context, order Order, err error) {
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) {
		return
	}
	decremented := 0
	for _, line := range order.Lines {
		if line.ProductID == stockErr.ProductID {
			break
		}
		decremented++
	}
	s.logger(ctx, orderEventStockRejected, map[string]any{
		"orderID":            order.ID,
		"productID":          stockErr.ProductID,
		"uncompensatedLines": decremented,
	})
}

// logOrphanedStock records stock taken for an order whose completion did not apply. The
// decrement is not restored.
func (s *orderService) logOrphanedStock(ctx context.Context, order Order, err error) {
	lines := make(map[string]int, len(order.Lines))
	for _, line := range order.Lines {
		lines[line.ProductID] = line.Quantity
	}
	s.logger(ctx, orderEventStockOrphaned, map[string]any{
		"orderID": order.ID,
		"lines":   lines,
		"error":   err.Error(),
	})
}

func (s *orderService) mapStockError(err error) error {
	if errors.Is(err, repositories.ErrInvalidQuantity) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Missing {
			return &ProductReferenceError{ProductID: stockErr.ProductID}
		}
		return &InsufficientStockError{
			ProductID: stockErr.ProductID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		}
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapTransitionError(ctx context.Context, orderID string, target OrderStatus, err error) error {
	var transitionErr *repositories.TransitionError
	if errors.As(err, &transitionErr) {
		s.logger(ctx, orderEventTransitionLost, map[string]any{
			"orderID": orderID,
			"current": string(transitionErr.Current),
			"target":  string(target),
		})
		return &OrderStateError{OrderID: orderID, Current: transitionErr.Current, Target: target}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: order %s disappeared before its transition applied: %v", ErrOrderInconsistent, orderID, err)
	}
	return s.mapRepositoryError(err)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return fmt.Errorf("order: %w", err)
}

// normalizeOrderLines trims references and merges repeated products into a single line in
// first-seen order. Every line, merged or not, must hold 1..MaxOrderLineQuantity units.
func normalizeOrderLines(lines []OrderLine) ([]OrderLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrOrderInvalidInput)
	}
	index := make(map[string]int, len(lines))
	result := make([]OrderLine, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: line %d has no product id", ErrOrderInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrOrderInvalidInput, i)
		}
		if line.Quantity > domain.MaxOrderLineQuantity {
			return nil, fmt.Errorf("%w: line %d quantity exceeds %d", ErrOrderInvalidInput, i, domain.MaxOrderLineQuantity)
		}
		if pos, ok := index[productID]; ok {
			// both operands are bounded, so the sum cannot overflow
			merged := result[pos].Quantity + line.Quantity
			if merged > domain.MaxOrderLineQuantity {
				return nil, fmt.Errorf("%w: product %s quantity exceeds %d", ErrOrderInvalidInput, productID, domain.MaxOrderLineQuantity)
			}
			result[pos].Quantity = merged
			continue
		}
		index[productID] = len(result)
		result = append(result, OrderLine{ProductID: productID, Quantity: line.Quantity})
	}
	return result, nil
}

func derefTotal(total *int64) int64 {
	if total == nil {
		return 0
	}
	return *total
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
