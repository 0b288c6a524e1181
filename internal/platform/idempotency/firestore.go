package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const defaultCollection = "idempotencyKeys"

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore implements Store on Firestore. Expired documents are left for a
// TTL policy on expiresAt and are treated as absent on read.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
}

// NewFirestoreStore constructs a Firestore-backed idempotency store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{provider: provider, collection: defaultCollection}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type firestoreRecord struct {
	Fingerprint     string              `firestore:"fingerprint"`
	Completed       bool                `firestore:"completed"`
	ResponseStatus  int                 `firestore:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `firestore:"responseHeaders,omitempty"`
	ResponseBody    []byte              `firestore:"responseBody,omitempty"`
	CreatedAt       time.Time           `firestore:"createdAt"`
	ExpiresAt       time.Time           `firestore:"expiresAt"`
}

func (s *FirestoreStore) ref(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(s.collection).Doc(documentID(key)), nil
}

// Reserve implements Store inside a transaction so concurrent retries agree on one owner.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = Reservation{}
		snap, err := tx.Get(ref)
		if err != nil && !pfirestore.IsNotFound(err) {
			return err
		}
		if err == nil && snap.Exists() {
			var record firestoreRecord
			if err := snap.DataTo(&record); err != nil {
				return err
			}
			if now.Before(record.ExpiresAt) {
				if record.Fingerprint != fingerprint {
					return ErrFingerprintMismatch
				}
				if record.Completed {
					result = Reservation{
						State: ReservationStateCompleted,
						Response: Response{
							Status:  record.ResponseStatus,
							Headers: record.ResponseHeaders,
							Body:    record.ResponseBody,
						},
					}
				} else {
					result = Reservation{State: ReservationStatePending}
				}
				return nil
			}
		}
		result = Reservation{State: ReservationStateNew}
		return tx.Set(ref, firestoreRecord{
			Fingerprint: fingerprint,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		})
	})
	if err != nil {
		return Reservation{}, err
	}
	return result, nil
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, firestoreRecord{
		Fingerprint:     fingerprint,
		Completed:       true,
		ResponseStatus:  resp.Status,
		ResponseHeaders: resp.Headers,
		ResponseBody:    resp.Body,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	})
	return pfirestore.WrapError("idempotency.complete", err)
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	ref, err := s.ref(ctx, key)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil && !pfirestore.IsNotFound(err) {
		return pfirestore.WrapError("idempotency.release", err)
	}
	return nil
}
