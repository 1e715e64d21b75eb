package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"saldo/internal/core"
	"saldo/internal/remote"
)

func TestListUnsynced(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Checking", Kind: core.Bank}
	if err := store.PutAccount(ctx, account); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	synced := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Savings", Kind: core.Bank}
	if err := store.PutAccount(ctx, synced); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	if ok, err := store.MarkSynced(ctx, remote.KindAccount, synced.ID, synced.UpdatedAt); err != nil || !ok {
		t.Fatalf("MarkSynced() = %v, %v", ok, err)
	}

	records, err := store.ListUnsynced(ctx, remote.KindAccount)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListUnsynced() = %d records, want 1", len(records))
	}
	if records[0].ID != account.ID {
		t.Errorf("unsynced record id = %v, want %v", records[0].ID, account.ID)
	}
	if records[0].Kind != remote.KindAccount {
		t.Errorf("record kind = %v, want account", records[0].Kind)
	}
}

func TestListUnsynced_IncludesTombstonesAndErrored(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	deleted := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Old", Kind: core.Cash}
	if err := store.PutAccount(ctx, deleted); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	if ok, err := store.MarkSynced(ctx, remote.KindAccount, deleted.ID, deleted.UpdatedAt); err != nil || !ok {
		t.Fatalf("MarkSynced() = %v, %v", ok, err)
	}
	if err := store.SoftDeleteAccount(ctx, deleted.ID); err != nil {
		t.Fatalf("SoftDeleteAccount() error = %v", err)
	}

	errored := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Flagged", Kind: core.Cash}
	if err := store.PutAccount(ctx, errored); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	if err := store.MarkSyncError(ctx, remote.KindAccount, errored.ID); err != nil {
		t.Fatalf("MarkSyncError() error = %v", err)
	}

	records, err := store.ListUnsynced(ctx, remote.KindAccount)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ListUnsynced() = %d records, want 2 (tombstone + errored)", len(records))
	}

	byID := make(map[string]remote.Record, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	if rec := byID[deleted.ID]; !rec.Deleted() {
		t.Error("tombstoned record lost its deleted_at on the wire")
	}
}

func TestMarkSynced_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.MarkSynced(context.Background(), remote.KindAccount, "nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSynced() error = %v, want ErrNotFound", err)
	}
}

func TestMarkSynced_StaleSnapshotLeavesPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "Cash", Kind: core.Cash}
	if err := store.PutAccount(ctx, account); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	snapshot := account.UpdatedAt

	// An edit lands after the snapshot was taken, as it would while a slow
	// push is in flight.
	account.Name = "Wallet"
	if err := store.PutAccount(ctx, account); err != nil {
		t.Fatalf("PutAccount() edit error = %v", err)
	}

	ok, err := store.MarkSynced(ctx, remote.KindAccount, account.ID, snapshot)
	if err != nil {
		t.Fatalf("MarkSynced() error = %v", err)
	}
	if ok {
		t.Fatal("MarkSynced() flipped over a newer edit, want guarded")
	}

	records, err := store.ListUnsynced(ctx, remote.KindAccount)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("unsynced = %d after stale flip, want the edit still pending", len(records))
	}

	// The current snapshot flips normally.
	ok, err = store.MarkSynced(ctx, remote.KindAccount, account.ID, account.UpdatedAt)
	if err != nil || !ok {
		t.Fatalf("MarkSynced() with current snapshot = %v, %v", ok, err)
	}
	records, err = store.ListUnsynced(ctx, remote.KindAccount)
	if err != nil {
		t.Fatalf("ListUnsynced() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("unsynced = %d after matching flip, want 0", len(records))
	}
}

func remoteTransaction(id, owner string, updatedAt time.Time, cents int64) remote.Record {
	payload, _ := json.Marshal(map[string]any{
		"account_id":   "acc-1",
		"amount_cents": cents,
		"date":         "2026-08-15",
	})
	return remote.Record{
		ID:        id,
		OwnerID:   owner,
		Kind:      remote.KindTransaction,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
		Payload:   payload,
	}
}

func TestApplyRemote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("absent locally applies", func(t *testing.T) {
		applied, err := store.ApplyRemote(ctx, remoteTransaction("tx-new", "alice", now, 2500))
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if !applied {
			t.Fatal("ApplyRemote() = false for absent record, want true")
		}

		txs, err := store.ListTransactionsByAccount(ctx, "acc-1")
		if err != nil {
			t.Fatalf("ListTransactionsByAccount() error = %v", err)
		}
		if len(txs) != 1 || txs[0].Amount.Cents != 2500 {
			t.Fatalf("stored transactions = %+v, want one with 2500 cents", txs)
		}
		if txs[0].SyncState != core.StateSynced {
			t.Errorf("applied record SyncState = %v, want synced", txs[0].SyncState)
		}
	})

	t.Run("synced locally is overwritten", func(t *testing.T) {
		applied, err := store.ApplyRemote(ctx, remoteTransaction("tx-new", "alice", now.Add(time.Hour), 9900))
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if !applied {
			t.Fatal("ApplyRemote() = false for synced record, want true")
		}

		txs, _ := store.ListTransactionsByAccount(ctx, "acc-1")
		if txs[0].Amount.Cents != 9900 {
			t.Errorf("amount = %d after remote update, want 9900", txs[0].Amount.Cents)
		}
	})

	t.Run("pending local edit wins", func(t *testing.T) {
		local := &core.Transaction{
			Meta:      core.Meta{ID: "tx-new", OwnerID: "alice"},
			AccountID: "acc-1",
			Amount:    core.Money{Cents: 1},
			Date:      core.NewDate(2026, 8, 20),
		}
		if err := store.PutTransaction(ctx, local); err != nil {
			t.Fatalf("PutTransaction() error = %v", err)
		}

		applied, err := store.ApplyRemote(ctx, remoteTransaction("tx-new", "alice", now.Add(2*time.Hour), 7777))
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if applied {
			t.Fatal("ApplyRemote() = true over a pending edit, want false")
		}

		txs, _ := store.ListTransactionsByAccount(ctx, "acc-1")
		if txs[0].Amount.Cents != 1 {
			t.Errorf("amount = %d, want the pending local 1", txs[0].Amount.Cents)
		}
	})

	t.Run("remote tombstone applies", func(t *testing.T) {
		rec := remoteTransaction("tx-dead", "alice", now, 100)
		if _, err := store.ApplyRemote(ctx, rec); err != nil {
			t.Fatalf("ApplyRemote() seed error = %v", err)
		}

		tombstone := now.Add(time.Minute)
		rec.UpdatedAt = tombstone
		rec.DeletedAt = &tombstone
		applied, err := store.ApplyRemote(ctx, rec)
		if err != nil {
			t.Fatalf("ApplyRemote() error = %v", err)
		}
		if !applied {
			t.Fatal("ApplyRemote() = false for remote tombstone, want true")
		}

		txs, _ := store.ListTransactionsByAccount(ctx, "acc-1")
		for _, tx := range txs {
			if tx.ID == "tx-dead" {
				t.Error("tombstoned transaction still listed as live")
			}
		}
	})

	t.Run("malformed payload rejected", func(t *testing.T) {
		rec := remote.Record{
			ID:        "tx-broken",
			OwnerID:   "alice",
			Kind:      remote.KindTransaction,
			CreatedAt: now,
			UpdatedAt: now,
			Payload:   []byte(`{"account_id":`),
		}
		if _, err := store.ApplyRemote(ctx, rec); err == nil {
			t.Fatal("ApplyRemote() = nil error for malformed payload")
		}
	})
}

func TestPendingCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	account := &core.Account{Meta: core.Meta{OwnerID: "alice"}, Name: "A", Kind: core.Cash}
	if err := store.PutAccount(ctx, account); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		tx := &core.Transaction{
			Meta:      core.Meta{OwnerID: "alice"},
			AccountID: account.ID,
			Amount:    core.Money{Cents: 100},
			Date:      core.NewDate(2026, 8, 1+i),
		}
		if err := store.PutTransaction(ctx, tx); err != nil {
			t.Fatalf("PutTransaction() error = %v", err)
		}
	}

	// Another owner's records never count.
	other := &core.Account{Meta: core.Meta{OwnerID: "bob"}, Name: "B", Kind: core.Cash}
	if err := store.PutAccount(ctx, other); err != nil {
		t.Fatalf("PutAccount() error = %v", err)
	}

	counts, err := store.PendingCounts(ctx, "alice")
	if err != nil {
		t.Fatalf("PendingCounts() error = %v", err)
	}
	if counts[remote.KindAccount] != 1 {
		t.Errorf("pending accounts = %d, want 1", counts[remote.KindAccount])
	}
	if counts[remote.KindTransaction] != 2 {
		t.Errorf("pending transactions = %d, want 2", counts[remote.KindTransaction])
	}
	if counts[remote.KindBudget] != 0 {
		t.Errorf("pending budgets = %d, want 0", counts[remote.KindBudget])
	}
}

func TestCursorRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := store.Cursor(ctx, "alice"); err != nil || ok {
		t.Fatalf("Cursor() before any pull = ok=%v err=%v, want ok=false", ok, err)
	}

	first := time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC)
	if err := store.SetCursor(ctx, "alice", first); err != nil {
		t.Fatalf("SetCursor() error = %v", err)
	}

	got, ok, err := store.Cursor(ctx, "alice")
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}
	if !ok || !got.Equal(first) {
		t.Errorf("Cursor() = %v ok=%v, want %v ok=true", got, ok, first)
	}

	// Advancing overwrites in place, one row per owner.
	second := first.Add(time.Hour)
	if err := store.SetCursor(ctx, "alice", second); err != nil {
		t.Fatalf("SetCursor() advance error = %v", err)
	}
	got, _, err = store.Cursor(ctx, "alice")
	if err != nil {
		t.Fatalf("Cursor() error = %v", err)
	}
	if !got.Equal(second) {
		t.Errorf("Cursor() = %v after advance, want %v", got, second)
	}

	// Cursors are per owner.
	if _, ok, _ := store.Cursor(ctx, "bob"); ok {
		t.Error("Cursor() for bob = ok, want none")
	}
}
