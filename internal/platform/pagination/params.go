package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits page_size.
	DefaultPageSize = 20
	// DefaultMaxPageSize caps page_size to prevent unbounded queries.
	DefaultMaxPageSize = 100
)

// Params bundles the paging and ordering values extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	OrderBy   string
	Desc      bool
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize    int
	MaxPageSize        int
	AllowedOrderFields []string
	DefaultOrderBy     string
	DefaultDesc        bool
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidOrderBy   = errors.New("pagination: invalid order_by")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes page_size, page_token, order_by and order from values.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("page_size"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize, OrderBy: opts.DefaultOrderBy, Desc: opts.DefaultDesc}

	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}

	if field := strings.TrimSpace(values.Get("order_by")); field != "" {
		if !contains(opts.AllowedOrderFields, field) {
			return Params{}, fmt.Errorf("%w: field %q is not allowed", ErrInvalidOrderBy, field)
		}
		params.OrderBy = field
	}
	switch dir := strings.ToLower(strings.TrimSpace(values.Get("order"))); dir {
	case "":
	case "asc":
		params.Desc = false
	case "desc":
		params.Desc = true
	default:
		return Params{}, fmt.Errorf("%w: invalid direction %q", ErrInvalidOrderBy, dir)
	}
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// Window slices an already ordered result set into a page starting after the token's cursor.
// The returned token is empty on the last page.
func Window[T any](items []T, idOf func(T) string, pageSize int, pageToken string) ([]T, string, error) {
	cursor, err := DecodeToken(pageToken)
	if err != nil {
		return nil, "", err
	}
	start := 0
	if cursor.After != "" {
		start = -1
		for i, item := range items {
			if idOf(item) == cursor.After {
				start = i + 1
				break
			}
		}
		if start < 0 {
			return nil, "", fmt.Errorf("%w: cursor %s not found", ErrInvalidPageToken, cursor.After)
		}
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	end := start + pageSize
	if end >= len(items) {
		return items[start:], "", nil
	}
	page := items[start:end]
	return page, TokenAfter(idOf(page[len(page)-1])), nil
}
