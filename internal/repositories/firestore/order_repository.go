package firestore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/storefront/api/internal/domain"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/repositories"
)

const (
	ordersCollection = "orders"
	// Firestore caps array-contains-any and in filters at 30 values.
	maxDisjunctionValues = 30
	staffQueryFanout     = 4
)

// OrderRepository stores orders in Firestore. Each document mirrors the referenced product ids in
// productIds so product and staff lookups can use array-contains queries.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	owners   repositories.ProductOwnership
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the Firestore order store.
func NewOrderRepository(provider *pfirestore.Provider, owners repositories.ProductOwnership) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	if owners == nil {
		return nil, errors.New("order repository: product ownership is required")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		owners:   owners,
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.orders.Create(ctx, order.ID, encodeOrder(order))
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByCustomer(ctx context.Context, customerID string) ([]domain.Order, error) {
	return r.query(ctx, func(q firestore.Query) firestore.Query {
		return newestFirst(q.Where("customerId", "==", customerID))
	})
}

func (r *OrderRepository) FindByProduct(ctx context.Context, productID string) ([]domain.Order, error) {
	return r.query(ctx, func(q firestore.Query) firestore.Query {
		return newestFirst(q.Where("productIds", "array-contains", productID))
	})
}

// FindByStaff queries the staff member's product ids in chunks concurrently, merges the results and
// strips lines for products owned by someone else.
func (r *OrderRepository) FindByStaff(ctx context.Context, staffID string) ([]domain.Order, error) {
	products, err := r.owners.ListByStaff(ctx, staffID)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	join := repositories.NewLineJoin(products).OwnedBy(staffID)
	ids := join.ProductIDs()
	sort.Strings(ids)

	var (
		mu     sync.Mutex
		merged = make(map[string]domain.Order)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(staffQueryFanout)
	for start := 0; start < len(ids); start += maxDisjunctionValues {
		end := start + maxDisjunctionValues
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		g.Go(func() error {
			orders, err := r.query(gctx, func(q firestore.Query) firestore.Query {
				return q.Where("productIds", "array-contains-any", chunk)
			})
			if err != nil {
				return err
			}
			mu.Lock()
			for _, order := range orders {
				merged[order.ID] = order
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(merged))
	for _, order := range merged {
		orders = append(orders, order)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return join.Filter(orders), nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	after, err := cursorSnapshot(ctx, r.orders, filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pageSize(filter.Pagination.PageSize)
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", filter.Status[0])
		default:
			q = q.Where("status", "in", filter.Status)
		}
		q = newestFirst(q)
		if after != nil {
			q = q.StartAfter(after)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	docs, next := trimPage(docs, size)
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return domain.CursorPage[domain.Order]{Items: items, NextPageToken: next}, nil
}

// Transition reads the order and writes the change inside one transaction, so concurrent callers
// cannot both leave pending.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, change repositories.OrderTransition) (domain.Order, error) {
	const op = "orders.transition"
	ref, err := r.orders.Ref(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return pfirestore.NotFound(op, err)
			}
			return err
		}
		doc, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		order := doc.Data.toDomain(doc.ID)
		if order.Status != domain.OrderStatusPending {
			return &repositories.TransitionError{Op: op, OrderID: orderID, Current: order.Status, Target: change.Status}
		}
		change.Apply(&order)
		if err := tx.Set(ref, encodeOrder(order)); err != nil {
			return err
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError(op, err)
	}
	return updated, nil
}

func (r *OrderRepository) query(ctx context.Context, build pfirestore.QueryBuilder) ([]domain.Order, error) {
	docs, err := r.orders.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

func newestFirst(q firestore.Query) firestore.Query {
	return q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
}

type orderLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
}

type frozenLineDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int    `firestore:"quantity"`
	Name      string `firestore:"name"`
	Price     int64  `firestore:"price"`
	Image     string `firestore:"image,omitempty"`
}

type orderDocument struct {
	CustomerID string               `firestore:"customerId"`
	Status     string               `firestore:"status"`
	Lines      []orderLineDocument  `firestore:"lines"`
	Frozen     []frozenLineDocument `firestore:"frozen,omitempty"`
	ProductIDs []string             `firestore:"productIds"`
	TotalPrice *int64               `firestore:"totalPrice,omitempty"`
	CreatedAt  time.Time            `firestore:"createdAt"`
	ModifiedAt *time.Time           `firestore:"modifiedAt,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		Lines:      make([]orderLineDocument, 0, len(order.Lines)),
		ProductIDs: order.ProductIDs(),
		TotalPrice: order.TotalPrice,
		CreatedAt:  order.CreatedAt.UTC(),
		ModifiedAt: order.ModifiedAt,
	}
	for _, line := range order.Lines {
		doc.Lines = append(doc.Lines, orderLineDocument{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	for _, line := range order.Frozen {
		doc.Frozen = append(doc.Frozen, frozenLineDocument{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     line.Price,
			Image:     line.Image,
		})
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:         id,
		CustomerID: d.CustomerID,
		Status:     domain.OrderStatus(d.Status),
		CreatedAt:  d.CreatedAt.UTC(),
	}
	for _, line := range d.Lines {
		order.Lines = append(order.Lines, domain.OrderLine{ProductID: line.ProductID, Quantity: line.Quantity})
	}
	for _, line := range d.Frozen {
		order.Frozen = append(order.Frozen, domain.FrozenLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      line.Name,
			Price:     line.Price,
			Image:     line.Image,
		})
	}
	if d.TotalPrice != nil {
		total := *d.TotalPrice
		order.TotalPrice = &total
	}
	if d.ModifiedAt != nil {
		modified := d.ModifiedAt.UTC()
		order.ModifiedAt = &modified
	}
	return order
}
