// Package remote defines the port to the authoritative remote store the
// reconciliation engine pushes to and pulls from. Adapters live in the
// subpackages; the engine only ever sees these interfaces.
package remote

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies a record collection on the wire.
type Kind string

const (
	KindCategory      Kind = "category"
	KindSubcategory   Kind = "subcategory"
	KindAccount       Kind = "account"
	KindTransaction   Kind = "transaction"
	KindTransfer      Kind = "transfer"
	KindRecurringRule Kind = "recurring_rule"
	KindBudget        Kind = "budget"
)

// KindsInOrder returns all collections in reference-dependency order:
// categories, subcategories and accounts before the transactions that
// point at them; rules and budgets are independent and go last.
func KindsInOrder() []Kind {
	return []Kind{
		KindCategory,
		KindSubcategory,
		KindAccount,
		KindTransaction,
		KindTransfer,
		KindRecurringRule,
		KindBudget,
	}
}

// Record is the flat envelope records travel in. The entity fields live in
// Payload as JSON; the envelope carries only what the sync protocol needs:
// the upsert key, the owner scope, the change timestamps and the tombstone.
type Record struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Kind      Kind            `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Deleted reports whether the record is a tombstone.
func (r Record) Deleted() bool {
	return r.DeletedAt != nil
}

// UpsertResult is the per-record outcome of an UpsertMany call. Err is set
// when the remote store rejected that record (validation and the like);
// transport failures are reported by UpsertMany's own error instead.
type UpsertResult struct {
	ID  string
	Err error
}

// Store is the authoritative backend the engine reconciles against.
// Upserts are keyed by record id, so re-pushing the same record is
// idempotent on the remote side.
type Store interface {
	UpsertMany(ctx context.Context, kind Kind, records []Record) ([]UpsertResult, error)

	// FetchSince returns the owner's records of the given kind changed
	// after since. A nil since means the full set.
	FetchSince(ctx context.Context, kind Kind, ownerID string, since *time.Time) ([]Record, error)

	// Ping reports whether the remote store is reachable. The connectivity
	// monitor uses it to detect offline/online transitions.
	Ping(ctx context.Context) error
}
