package firestore

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
	"github.com/storefront/api/internal/platform/pagination"
)

// cursorSnapshot resolves a page token into the snapshot the next query starts after.
func cursorSnapshot[T any](ctx context.Context, coll *pfirestore.Collection[T], token string) (*firestore.DocumentSnapshot, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return nil, err
	}
	snap, err := coll.Snapshot(ctx, cursor.After)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, fmt.Errorf("%w: cursor %s not found", pagination.ErrInvalidPageToken, cursor.After)
		}
		return nil, err
	}
	return snap, nil
}

func pageSize(size int) int {
	switch {
	case size <= 0:
		return pagination.DefaultPageSize
	case size > pagination.DefaultMaxPageSize:
		return pagination.DefaultMaxPageSize
	default:
		return size
	}
}

// trimPage drops the lookahead document fetched to detect a following page.
func trimPage[T any](docs []pfirestore.Document[T], size int) ([]pfirestore.Document[T], string) {
	if len(docs) <= size {
		return docs, ""
	}
	docs = docs[:size]
	return docs, pagination.TokenAfter(docs[len(docs)-1].ID)
}
