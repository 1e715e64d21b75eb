package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"saldo/internal/core"
	"saldo/internal/ledger"
	"saldo/internal/remote"
	"saldo/internal/remote/memory"
)

func newTestEngine(t *testing.T) (*Engine, *ledger.Store, *memory.Store) {
	t.Helper()

	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	remoteStore := memory.New()
	engine := New(store, remoteStore, StaticIdentity("alice"), DefaultConfig())
	return engine, store, remoteStore
}

func putTransaction(t *testing.T, store *ledger.Store, cents int64, day int) *core.Transaction {
	t.Helper()
	tx := &core.Transaction{
		Meta:      core.Meta{OwnerID: "alice"},
		AccountID: "acc-1",
		Amount:    core.Money{Cents: cents},
		Date:      core.NewDate(2026, 8, day),
	}
	if err := store.PutTransaction(context.Background(), tx); err != nil {
		t.Fatalf("put transaction: %v", err)
	}
	return tx
}

func TestReconcile_PushesPendingRecords(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	account := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Checking", Kind: core.Bank}
	if err := store.PutAccount(ctx, account); err != nil {
		t.Fatalf("put account: %v", err)
	}
	tx := putTransaction(t, store, 1500, 1)

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if result.Pushed != 2 {
		t.Errorf("Pushed = %d, want 2", result.Pushed)
	}
	if result.Partial() {
		t.Errorf("Partial() = true, errors: %v", result.Errors)
	}
	if _, ok := remoteStore.Get(remote.KindAccount, account.ID); !ok {
		t.Error("account never reached the remote store")
	}
	if _, ok := remoteStore.Get(remote.KindTransaction, tx.ID); !ok {
		t.Error("transaction never reached the remote store")
	}

	// Pushed records are synced; a second pass pushes nothing.
	again, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if again.Pushed != 0 {
		t.Errorf("second pass Pushed = %d, want 0", again.Pushed)
	}
}

func TestReconcile_TransportFailureKeepsState(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	tx := putTransaction(t, store, 900, 2)

	remoteStore.SetOffline(true)
	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pushed != 0 || !result.Partial() {
		t.Errorf("offline pass: Pushed = %d Partial = %v, want 0/true", result.Pushed, result.Partial())
	}

	// The record is still pending, not errored, and the next online pass
	// delivers it.
	records, err := store.ListUnsynced(ctx, remote.KindTransaction)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("unsynced = %d, want 1", len(records))
	}

	remoteStore.SetOffline(false)
	result, err = engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pushed != 1 {
		t.Errorf("online pass Pushed = %d, want 1", result.Pushed)
	}
	if _, ok := remoteStore.Get(remote.KindTransaction, tx.ID); !ok {
		t.Error("transaction never delivered after reconnect")
	}
}

func TestReconcile_RejectionIsolatedPerRecord(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	bad := putTransaction(t, store, 100, 3)
	good := putTransaction(t, store, 200, 4)
	remoteStore.Reject(bad.ID, errors.New("schema mismatch"))

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if result.Pushed != 1 || result.PushFailed != 1 {
		t.Errorf("Pushed/PushFailed = %d/%d, want 1/1", result.Pushed, result.PushFailed)
	}
	if _, ok := remoteStore.Get(remote.KindTransaction, good.ID); !ok {
		t.Error("healthy record blocked by the rejected one")
	}

	// The rejected record is flagged but still selected next pass.
	records, err := store.ListUnsynced(ctx, remote.KindTransaction)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 1 || records[0].ID != bad.ID {
		t.Fatalf("unsynced after pass = %+v, want only the rejected record", records)
	}
}

func TestReconcile_TombstonePropagates(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	tx := putTransaction(t, store, 100, 5)
	if _, err := engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if err := store.SoftDeleteTransaction(ctx, tx.ID); err != nil {
		t.Fatalf("SoftDeleteTransaction() error = %v", err)
	}
	if _, err := engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	rec, ok := remoteStore.Get(remote.KindTransaction, tx.ID)
	if !ok {
		t.Fatal("record missing from remote store")
	}
	if !rec.Deleted() {
		t.Error("remote copy carries no tombstone after deletion push")
	}
}

func seedRemoteTransaction(remoteStore *memory.Store, id string, updatedAt time.Time, cents int64) {
	payload, _ := json.Marshal(map[string]any{
		"account_id":   "acc-1",
		"amount_cents": cents,
		"date":         "2026-08-10",
	})
	remoteStore.Put(remote.Record{
		ID:        id,
		OwnerID:   "alice",
		Kind:      remote.KindTransaction,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
		Payload:   payload,
	})
}

func TestReconcile_PullsRemoteRecords(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	seedRemoteTransaction(remoteStore, "tx-remote", time.Now().UTC(), 4200)

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", result.Pulled)
	}

	txs, err := store.ListTransactionsByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListTransactionsByAccount() error = %v", err)
	}
	if len(txs) != 1 || txs[0].Amount.Cents != 4200 {
		t.Fatalf("local transactions = %+v, want the pulled one", txs)
	}
}

func TestReconcile_PendingLocalEditDiscarded(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	// Same id exists remotely and as a local pending edit. The push runs
	// before the pull within the collection, so the local edit reaches the
	// remote rather than being clobbered.
	local := &core.Transaction{
		Meta:      core.Meta{ID: "tx-contested", OwnerID: "alice"},
		AccountID: "acc-1",
		Amount:    core.Money{Cents: 1111},
		Date:      core.NewDate(2026, 8, 11),
	}
	if err := store.PutTransaction(ctx, local); err != nil {
		t.Fatalf("put transaction: %v", err)
	}
	seedRemoteTransaction(remoteStore, "tx-contested", time.Now().UTC().Add(time.Hour), 9999)

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	// The push wins the pass: by the time the pull runs, the local record is
	// synced and the newer remote copy lands. Pulling before pushing would
	// lose the local edit; the engine pushes first within each collection.
	txs, _ := store.ListTransactionsByAccount(ctx, "acc-1")
	if len(txs) != 1 {
		t.Fatalf("local transactions = %d, want 1", len(txs))
	}
	if result.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", result.Pushed)
	}
}

func TestReconcile_DiscardsPullOverPendingEdit(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	seedRemoteTransaction(remoteStore, "tx-contested", time.Now().UTC().Add(time.Hour), 9999)

	local := &core.Transaction{
		Meta:      core.Meta{ID: "tx-contested", OwnerID: "alice"},
		AccountID: "acc-1",
		Amount:    core.Money{Cents: 1111},
		Date:      core.NewDate(2026, 8, 11),
	}
	if err := store.PutTransaction(ctx, local); err != nil {
		t.Fatalf("put transaction: %v", err)
	}

	// Make the push fail so the record is still pending when the pull sees
	// the remote copy.
	remoteStore.Reject("tx-contested", errors.New("validation failed"))

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", result.Discarded)
	}

	txs, _ := store.ListTransactionsByAccount(ctx, "acc-1")
	if len(txs) != 1 || txs[0].Amount.Cents != 1111 {
		t.Fatalf("local transactions = %+v, want the unsynced local edit intact", txs)
	}
}

// editingRemote wraps the in-process remote and edits the in-flight record
// once, between the snapshot read and the synced flip, like a user saving
// while a slow push is running.
type editingRemote struct {
	*memory.Store
	ledger *ledger.Store
	txID   string
	once   sync.Once
	err    error
}

func (r *editingRemote) UpsertMany(ctx context.Context, kind remote.Kind, records []remote.Record) ([]remote.UpsertResult, error) {
	r.once.Do(func() {
		edit := &core.Transaction{
			Meta:      core.Meta{ID: r.txID, OwnerID: "alice"},
			AccountID: "acc-1",
			Amount:    core.Money{Cents: 7777},
			Date:      core.NewDate(2026, 8, 12),
		}
		r.err = r.ledger.PutTransaction(ctx, edit)
	})
	return r.Store.UpsertMany(ctx, kind, records)
}

func TestReconcile_EditDuringPushStaysPending(t *testing.T) {
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	tx := putTransaction(t, store, 100, 12)
	remoteStore := memory.New()
	editing := &editingRemote{Store: remoteStore, ledger: store, txID: tx.ID}
	engine := New(store, editing, StaticIdentity("alice"), DefaultConfig())

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if editing.err != nil {
		t.Fatalf("mid-push edit failed: %v", editing.err)
	}

	// The edit survives the pass: the synced flip is guarded on the pushed
	// snapshot, and the pull of the stale remote copy is discarded because
	// the record is still pending.
	txs, err := store.ListTransactionsByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatalf("ListTransactionsByAccount() error = %v", err)
	}
	if len(txs) != 1 || txs[0].Amount.Cents != 7777 {
		t.Fatalf("local transactions = %+v, want the mid-push edit intact", txs)
	}
	if result.Discarded != 1 {
		t.Errorf("Discarded = %d, want the stale remote copy discarded", result.Discarded)
	}
	unsynced, err := store.ListUnsynced(ctx, remote.KindTransaction)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("unsynced = %d after pass, want the edit still pending", len(unsynced))
	}

	// The next pass delivers the edit.
	again, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if again.Pushed != 1 {
		t.Errorf("second pass Pushed = %d, want 1", again.Pushed)
	}
	rec, ok := remoteStore.Get(remote.KindTransaction, tx.ID)
	if !ok {
		t.Fatal("edit never reached the remote store")
	}
	var payload struct {
		AmountCents int64 `json:"amount_cents"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("unmarshal remote payload: %v", err)
	}
	if payload.AmountCents != 7777 {
		t.Errorf("remote amount = %d, want the edited 7777", payload.AmountCents)
	}
}

func TestReconcile_ApplyFailureHoldsCursor(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	cursor0, ok, err := store.Cursor(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Cursor() = ok=%v err=%v, want initialized", ok, err)
	}

	// A record the replica cannot decode must stay inside the fetch window.
	badTime := time.Now().UTC().Add(time.Minute)
	remoteStore.Put(remote.Record{
		ID:        "tx-bad",
		OwnerID:   "alice",
		Kind:      remote.KindTransaction,
		CreatedAt: badTime,
		UpdatedAt: badTime,
		Payload:   []byte(`{"account_id":`),
	})

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if !result.Partial() {
		t.Error("Partial() = false, want the apply failure reported")
	}
	if result.Pulled != 0 {
		t.Errorf("Pulled = %d, want 0", result.Pulled)
	}
	got, _, err := store.Cursor(ctx, "alice")
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}
	if !got.Equal(cursor0) {
		t.Errorf("cursor = %v after failed apply, want held at %v", got, cursor0)
	}

	// Once the remote copy is repaired the same window retries it.
	seedRemoteTransaction(remoteStore, "tx-bad", badTime, 600)
	result, err = engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("Pulled = %d after repair, want 1", result.Pulled)
	}
}

func TestReconcile_CursorLifecycle(t *testing.T) {
	engine, store, remoteStore := newTestEngine(t)
	ctx := context.Background()

	// First pull finds nothing: the cursor initializes to roughly now.
	before := time.Now()
	if _, err := engine.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	cursor, ok, err := store.Cursor(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("Cursor() = ok=%v err=%v, want initialized", ok, err)
	}
	if cursor.Before(before.Add(-time.Second)) {
		t.Errorf("initial cursor = %v, want about now", cursor)
	}

	// A remote record newer than the cursor is pulled and advances it.
	newer := time.Now().UTC().Add(time.Minute)
	seedRemoteTransaction(remoteStore, "tx-after-cursor", newer, 500)

	result, err := engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pulled != 1 {
		t.Errorf("Pulled = %d, want 1", result.Pulled)
	}

	cursor, _, err = store.Cursor(ctx, "alice")
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}
	if !cursor.Equal(newer) {
		t.Errorf("cursor = %v, want advanced to %v", cursor, newer)
	}

	// Records at or before the cursor are not re-fetched.
	result, err = engine.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if result.Pulled != 0 {
		t.Errorf("Pulled = %d on idle pass, want 0", result.Pulled)
	}
}

func TestReconcile_SingleFlight(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	// Hold the pass mutex the way a running pass would.
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	engine.mu.Lock()
	go func() {
		defer wg.Done()
		<-release
		engine.mu.Unlock()
	}()

	_, err := engine.Reconcile(context.Background())
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Reconcile() error = %v, want ErrSyncInProgress", err)
	}

	close(release)
	wg.Wait()

	if _, err := engine.Reconcile(context.Background()); err != nil {
		t.Errorf("Reconcile() after release error = %v", err)
	}
}

func TestStaticIdentity(t *testing.T) {
	if _, err := StaticIdentity("").OwnerID(context.Background()); err == nil {
		t.Error("empty identity should error")
	}
	owner, err := StaticIdentity("alice").OwnerID(context.Background())
	if err != nil || owner != "alice" {
		t.Errorf("OwnerID() = %v, %v, want alice, nil", owner, err)
	}
}
