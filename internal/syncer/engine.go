// Package syncer implements the reconciliation engine that keeps the local
// replica and the remote store convergent. Each pass pushes unsynced local
// records and pulls remote changes, per collection, in reference-dependency
// order. Passes are single-flight: a trigger arriving while one is running
// is coalesced, never queued.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/remote"
)

// ErrSyncInProgress is returned when a pass is already running. Callers
// treat it as "already being handled", not as a failure.
var ErrSyncInProgress = errors.New("reconciliation already in progress")

// Store is the replica surface the engine works through. It never holds
// record state of its own.
type Store interface {
	ListUnsynced(ctx context.Context, kind remote.Kind) ([]remote.Record, error)
	MarkSynced(ctx context.Context, kind remote.Kind, id string, updatedAt time.Time) (bool, error)
	MarkSyncError(ctx context.Context, kind remote.Kind, id string) error
	ApplyRemote(ctx context.Context, rec remote.Record) (bool, error)
	Cursor(ctx context.Context, ownerID string) (time.Time, bool, error)
	SetCursor(ctx context.Context, ownerID string, t time.Time) error
}

// Identity supplies the owner id scoping all remote queries. It is read
// once per pass.
type Identity interface {
	OwnerID(ctx context.Context) (string, error)
}

// StaticIdentity is an Identity returning a fixed owner id.
type StaticIdentity string

func (s StaticIdentity) OwnerID(context.Context) (string, error) {
	if s == "" {
		return "", errors.New("owner id not configured")
	}
	return string(s), nil
}

// Config holds engine tuning knobs.
type Config struct {
	// PushWorkers bounds how many records of one collection are pushed
	// concurrently (default: 4).
	PushWorkers int
}

func DefaultConfig() Config {
	return Config{PushWorkers: 4}
}

type Engine struct {
	store    Store
	remote   remote.Store
	identity Identity
	config   Config

	mu sync.Mutex // held for the duration of a pass
}

func New(store Store, remoteStore remote.Store, identity Identity, config Config) *Engine {
	if config.PushWorkers < 1 {
		config.PushWorkers = DefaultConfig().PushWorkers
	}
	return &Engine{
		store:    store,
		remote:   remoteStore,
		identity: identity,
		config:   config,
	}
}

// Result summarizes one reconciliation pass. Errors collects every
// per-collection problem encountered; a non-empty list means the pass was
// partial, not that it failed. Every collection is always attempted.
type Result struct {
	Pushed     int
	PushFailed int
	Pulled     int
	Discarded  int
	Errors     []error
}

// Partial reports whether any step of the pass went wrong.
func (r Result) Partial() bool {
	return len(r.Errors) > 0
}

// Reconcile runs one full push/pull pass. It is safe to invoke repeatedly:
// pushes are idempotent upserts keyed by record id, and a pass running
// concurrently with local edits never blocks them; records mutated during
// the pass are simply pending again next time. A second concurrent call
// returns ErrSyncInProgress.
func (e *Engine) Reconcile(ctx context.Context) (Result, error) {
	if !e.mu.TryLock() {
		return Result{}, ErrSyncInProgress
	}
	defer e.mu.Unlock()

	owner, err := e.identity.OwnerID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolve owner: %w", err)
	}

	started := time.Now()
	var result Result

	for _, kind := range remote.KindsInOrder() {
		e.pushKind(ctx, kind, &result)
		e.pullKind(ctx, kind, owner, &result)
	}

	slog.InfoContext(ctx, "Reconciliation pass complete",
		"owner", owner,
		"pushed", result.Pushed,
		"push_failed", result.PushFailed,
		"pulled", result.Pulled,
		"discarded", result.Discarded,
		"errors", len(result.Errors),
		"elapsed", time.Since(started).Round(time.Millisecond))

	return result, nil
}

// pushKind uploads every unsynced record of one collection. Records are
// pushed concurrently under a bounded pool; each failure is isolated to
// its record so one bad record never blocks the rest.
func (e *Engine) pushKind(ctx context.Context, kind remote.Kind, result *Result) {
	records, err := e.store.ListUnsynced(ctx, kind)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("list unsynced %s: %w", kind, err))
		slog.ErrorContext(ctx, "Failed to list unsynced records", "kind", kind, "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	slog.DebugContext(ctx, "Pushing records", "kind", kind, "count", len(records))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.PushWorkers)

	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			results, err := e.remote.UpsertMany(gctx, kind, []remote.Record{rec})
			if err != nil {
				// Transport failure: the record keeps its state and is
				// retried on the next pass.
				mu.Lock()
				result.PushFailed++
				result.Errors = append(result.Errors, fmt.Errorf("push %s %s: %w", kind, rec.ID, err))
				mu.Unlock()
				slog.WarnContext(gctx, "Push failed", "kind", kind, "id", rec.ID, "error", err)
				return nil
			}
			if len(results) > 0 && results[0].Err != nil {
				// The remote rejected this record. Flag it so the stuck
				// state is visible; it is still retried every pass.
				if markErr := e.store.MarkSyncError(gctx, kind, rec.ID); markErr != nil {
					slog.ErrorContext(gctx, "Failed to flag rejected record", "kind", kind, "id", rec.ID, "error", markErr)
				}
				mu.Lock()
				result.PushFailed++
				result.Errors = append(result.Errors, fmt.Errorf("push %s %s rejected: %w", kind, rec.ID, results[0].Err))
				mu.Unlock()
				slog.WarnContext(gctx, "Push rejected by remote", "kind", kind, "id", rec.ID, "error", results[0].Err)
				return nil
			}

			// The flip is guarded on the pushed snapshot: a record edited
			// while its push was in flight stays pending and the next pass
			// uploads the newer version.
			flipped, err := e.store.MarkSynced(gctx, kind, rec.ID, rec.UpdatedAt)
			if err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, fmt.Errorf("mark %s %s synced: %w", kind, rec.ID, err))
				mu.Unlock()
				slog.ErrorContext(gctx, "Failed to mark record synced", "kind", kind, "id", rec.ID, "error", err)
				return nil
			}
			if !flipped {
				slog.DebugContext(gctx, "Record changed during push, still pending", "kind", kind, "id", rec.ID)
			}
			mu.Lock()
			result.Pushed++
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
}

// pullKind fetches remote changes for one collection and applies them
// under the conflict policy. Transactions pull incrementally through the
// persisted cursor; every other collection pulls its full remote set.
func (e *Engine) pullKind(ctx context.Context, kind remote.Kind, owner string, result *Result) {
	var since *time.Time
	hadCursor := false
	if kind == remote.KindTransaction {
		cursor, ok, err := e.store.Cursor(ctx, owner)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("load cursor: %w", err))
			slog.ErrorContext(ctx, "Failed to load pull cursor", "error", err)
			return
		}
		hadCursor = ok
		if ok {
			since = &cursor
		}
	}

	records, err := e.remote.FetchSince(ctx, kind, owner, since)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("pull %s: %w", kind, err))
		slog.WarnContext(ctx, "Pull failed", "kind", kind, "error", err)
		return
	}

	var maxUpdated time.Time
	applyFailed := false
	for _, rec := range records {
		applied, err := e.store.ApplyRemote(ctx, rec)
		if err != nil {
			applyFailed = true
			result.Errors = append(result.Errors, fmt.Errorf("apply %s %s: %w", kind, rec.ID, err))
			slog.ErrorContext(ctx, "Failed to apply remote record", "kind", kind, "id", rec.ID, "error", err)
			continue
		}
		if rec.UpdatedAt.After(maxUpdated) {
			maxUpdated = rec.UpdatedAt
		}
		if applied {
			result.Pulled++
		} else {
			// Local pending edit wins; the remote copy is discarded for
			// this cycle. Expected, not an error.
			result.Discarded++
			slog.DebugContext(ctx, "Remote record discarded, local edit pending", "kind", kind, "id", rec.ID)
		}
	}

	if kind == remote.KindTransaction {
		switch {
		case applyFailed:
			// Holding the cursor keeps the failed records inside the next
			// fetch window so they are retried.
		case len(records) > 0:
			if err := e.store.SetCursor(ctx, owner, maxUpdated); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("advance cursor: %w", err))
			}
		case !hadCursor:
			// First ever pull found nothing; start the cursor at now so
			// the next cycle does not re-fetch full history.
			if err := e.store.SetCursor(ctx, owner, time.Now()); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("initialize cursor: %w", err))
			}
		}
	}
}
