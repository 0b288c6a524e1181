package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/platform/pagination"
	"github.com/storefront/api/internal/repositories"
)

// OrderRepository keeps orders in memory. Transition is a compare-and-set under the store lock.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	owners repositories.ProductOwnership
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an order store. owners resolves staff product ownership for FindByStaff.
func NewOrderRepository(owners repositories.ProductOwnership) (*OrderRepository, error) {
	if owners == nil {
		return nil, errors.New("memory order repository: product ownership is required")
	}
	return &OrderRepository{orders: make(map[string]domain.Order), owners: owners}, nil
}

func (r *OrderRepository) Insert(_ context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errConflict("orders.insert", "order id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return errConflict("orders.insert", "order %s already exists", order.ID)
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound("orders.find", "order %s not found", orderID)
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) FindByCustomer(_ context.Context, customerID string) ([]domain.Order, error) {
	return r.collect(func(order domain.Order) bool { return order.CustomerID == customerID }), nil
}

func (r *OrderRepository) FindByProduct(_ context.Context, productID string) ([]domain.Order, error) {
	return r.collect(func(order domain.Order) bool { return references(order, productID) }), nil
}

func (r *OrderRepository) FindByStaff(ctx context.Context, staffID string) ([]domain.Order, error) {
	products, err := r.owners.ListByStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	join := repositories.NewLineJoin(products).OwnedBy(staffID)
	candidates := r.collect(func(order domain.Order) bool {
		for _, id := range order.ProductIDs() {
			if join.Matches(id) {
				return true
			}
		}
		return false
	})
	return join.Filter(candidates), nil
}

func (r *OrderRepository) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	statuses := make(map[string]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		statuses[status] = struct{}{}
	}
	matched := r.collect(func(order domain.Order) bool {
		if len(statuses) == 0 {
			return true
		}
		_, ok := statuses[string(order.Status)]
		return ok
	})
	items, next, err := pagination.Window(matched, func(o domain.Order) string { return o.ID }, filter.Pagination.PageSize, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

func (r *OrderRepository) Transition(_ context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, errNotFound("orders.transition", "order %s not found", orderID)
	}
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, &repositories.TransitionError{Op: "orders.transition", OrderID: orderID, Current: order.Status, Target: change.Status}
	}
	change.Apply(&order)
	r.orders[orderID] = order
	return cloneOrder(order), nil
}

// collect returns matching orders newest first.
func (r *OrderRepository) collect(match func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	result := make([]domain.Order, 0)
	for _, order := range r.orders {
		if match(order) {
			result = append(result, cloneOrder(order))
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func references(order domain.Order, productID string) bool {
	for _, id := range order.ProductIDs() {
		if id == productID {
			return true
		}
	}
	return false
}

func cloneOrder(order domain.Order) domain.Order {
	if order.Lines != nil {
		order.Lines = append([]domain.OrderLine(nil), order.Lines...)
	}
	if order.Frozen != nil {
		order.Frozen = append([]domain.FrozenLine(nil), order.Frozen...)
	}
	if order.TotalPrice != nil {
		total := *order.TotalPrice
		order.TotalPrice = &total
	}
	if order.ModifiedAt != nil {
		modified := *order.ModifiedAt
		order.ModifiedAt = &modified
	}
	return order
}
