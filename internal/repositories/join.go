package repositories

import (
	"errors"
	"fmt"
	"math"
	"strings"

	domain "github.com/storefront/api/internal/domain"
)

// ErrJoinOverflow indicates a line aggregate exceeded the int64 range.
var ErrJoinOverflow = errors.New("line join: total overflows int64")

// MissingProductError reports an order line whose product is absent from the joined catalog set.
type MissingProductError struct {
	ProductID string
}

func (e *MissingProductError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("line join: product %s not found", e.ProductID)
}

// LineJoin joins order lines to catalog products by product reference. The zero value joins nothing.
type LineJoin struct {
	products map[string]domain.Product
	owner    string
}

// NewLineJoin builds a join over the supplied products keyed by ID.
func NewLineJoin(products []domain.Product) LineJoin {
	index := make(map[string]domain.Product, len(products))
	for _, product := range products {
		if id := strings.TrimSpace(product.ID); id != "" {
			index[id] = product
		}
	}
	return LineJoin{products: index}
}

// JoinProducts builds a join over an already indexed product set.
func JoinProducts(products map[string]domain.Product) LineJoin {
	index := make(map[string]domain.Product, len(products))
	for id, product := range products {
		index[id] = product
	}
	return LineJoin{products: index}
}

// OwnedBy restricts the join to products whose StaffID matches staffID.
func (j LineJoin) OwnedBy(staffID string) LineJoin {
	j.owner = strings.TrimSpace(staffID)
	return j
}

// Matches reports whether productID is part of the join, honouring any owner restriction.
func (j LineJoin) Matches(productID string) bool {
	product, ok := j.products[productID]
	if !ok {
		return false
	}
	return j.owner == "" || product.StaffID == j.owner
}

// ProductIDs lists the ids that participate in the join.
func (j LineJoin) ProductIDs() []string {
	ids := make([]string, 0, len(j.products))
	for id := range j.products {
		if j.Matches(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Filter keeps only matching lines of each order, pending and frozen alike, and drops orders left with none.
func (j LineJoin) Filter(orders []domain.Order) []domain.Order {
	result := make([]domain.Order, 0, len(orders))
	for _, order := range orders {
		var lines []domain.OrderLine
		for _, line := range order.Lines {
			if j.Matches(line.ProductID) {
				lines = append(lines, line)
			}
		}
		var frozen []domain.FrozenLine
		for _, line := range order.Frozen {
			if j.Matches(line.ProductID) {
				frozen = append(frozen, line)
			}
		}
		if len(lines) == 0 && len(frozen) == 0 {
			continue
		}
		order.Lines = lines
		order.Frozen = frozen
		result = append(result, order)
	}
	return result
}

// Project resolves each line against the joined products, copying name, price and image.
func (j LineJoin) Project(lines []domain.OrderLine) ([]domain.FrozenLine, error) {
	projected := make([]domain.FrozenLine, 0, len(lines))
	for _, line := range lines {
		if !j.Matches(line.ProductID) {
			return nil, &MissingProductError{ProductID: line.ProductID}
		}
		product := j.products[line.ProductID]
		projected = append(projected, domain.FrozenLine{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			Name:      product.Name,
			Price:     product.Price,
			Image:     product.Image,
		})
	}
	return projected, nil
}

// Total sums quantity times current price across lines.
func (j LineJoin) Total(lines []domain.OrderLine) (int64, error) {
	projected, err := j.Project(lines)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, line := range projected {
		amount, err := mulAmount(line.Price, int64(line.Quantity))
		if err != nil {
			return 0, err
		}
		if amount > 0 && total > math.MaxInt64-amount {
			return 0, ErrJoinOverflow
		}
		total += amount
	}
	return total, nil
}

func mulAmount(price, quantity int64) (int64, error) {
	if price == 0 || quantity == 0 {
		return 0, nil
	}
	if price < 0 || quantity < 0 {
		return 0, fmt.Errorf("line join: negative amount %d x %d", price, quantity)
	}
	if price > math.MaxInt64/quantity {
		return 0, ErrJoinOverflow
	}
	return price * quantity, nil
}
