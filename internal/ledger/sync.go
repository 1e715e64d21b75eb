package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"saldo/internal/core"
	"saldo/internal/remote"
)

// Reconciliation support: the engine reads and writes records exclusively
// through the methods in this file, always in envelope form.

func tableFor(kind remote.Kind) (string, error) {
	switch kind {
	case remote.KindAccount:
		return "accounts", nil
	case remote.KindCategory:
		return "categories", nil
	case remote.KindSubcategory:
		return "subcategories", nil
	case remote.KindTransaction:
		return "transactions", nil
	case remote.KindTransfer:
		return "transfers", nil
	case remote.KindBudget:
		return "budgets", nil
	case remote.KindRecurringRule:
		return "recurring_rules", nil
	default:
		return "", fmt.Errorf("unknown record kind: %s", kind)
	}
}

// ListUnsynced returns every record of the kind still awaiting a push:
// pending ones and errored ones alike, tombstones included so deletions
// propagate to the remote store.
func (s *Store) ListUnsynced(ctx context.Context, kind remote.Kind) ([]remote.Record, error) {
	const unsynced = `sync_state IN ('pending', 'error')`

	switch kind {
	case remote.KindAccount:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, name, kind, opening_balance_cents, currency, created_at, updated_at, sync_state, deleted_at
			FROM accounts WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced accounts: %w", err)
		}
		defer rows.Close()
		accounts, err := scanAccounts(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(accounts, encodeAccount)

	case remote.KindCategory:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, name, icon, kind, color, is_default, created_at, updated_at, sync_state, deleted_at
			FROM categories WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced categories: %w", err)
		}
		defer rows.Close()
		categories, err := scanCategories(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(categories, encodeCategory)

	case remote.KindSubcategory:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, name, category_id, created_at, updated_at, sync_state, deleted_at
			FROM subcategories WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced subcategories: %w", err)
		}
		defer rows.Close()
		subs, err := scanSubcategories(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(subs, encodeSubcategory)

	case remote.KindTransaction:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, account_id, category_id, amount_cents, note, items, date, created_at, updated_at, sync_state, deleted_at
			FROM transactions WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced transactions: %w", err)
		}
		defer rows.Close()
		txs, err := scanTransactions(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(txs, encodeTransaction)

	case remote.KindTransfer:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, from_account_id, to_account_id, amount_cents, date, created_at, updated_at, sync_state, deleted_at
			FROM transfers WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced transfers: %w", err)
		}
		defer rows.Close()
		transfers, err := scanTransfers(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(transfers, encodeTransfer)

	case remote.KindBudget:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, category_id, amount_cents, month, year, created_at, updated_at, sync_state, deleted_at
			FROM budgets WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced budgets: %w", err)
		}
		defer rows.Close()
		budgets, err := scanBudgets(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(budgets, encodeBudget)

	case remote.KindRecurringRule:
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, owner_id, account_id, category_id, amount_cents, description, frequency, next_due_date, active, created_at, updated_at, sync_state, deleted_at
			FROM recurring_rules WHERE `+unsynced)
		if err != nil {
			return nil, fmt.Errorf("list unsynced rules: %w", err)
		}
		defer rows.Close()
		rules, err := scanRules(rows)
		if err != nil {
			return nil, err
		}
		return encodeAll(rules, encodeRule)

	default:
		return nil, fmt.Errorf("unknown record kind: %s", kind)
	}
}

func encodeAll[T any](items []T, encode func(T) (remote.Record, error)) ([]remote.Record, error) {
	records := make([]remote.Record, 0, len(items))
	for _, item := range items {
		rec, err := encode(item)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// MarkSynced flips a record to synced after a successful push, guarded on
// the pushed snapshot's updated_at. A local edit landing while the push was
// in flight bumps updated_at and re-marks the record pending; the guard
// leaves that edit pending instead of clobbering it. The boolean reports
// whether the flip happened.
func (s *Store) MarkSynced(ctx context.Context, kind remote.Kind, id string, updatedAt time.Time) (bool, error) {
	table, err := tableFor(kind)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+table+` SET sync_state = ? WHERE id = ? AND updated_at = ?`,
		string(core.StateSynced), id, formatTime(updatedAt))
	if err != nil {
		return false, fmt.Errorf("mark %s %s synced: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	// Zero rows: either the record is gone or it changed underneath the
	// push. The latter stays pending so the next pass uploads the newer
	// version.
	var present int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+` WHERE id = ?`, id).Scan(&present); err != nil {
		return false, fmt.Errorf("mark %s %s synced: %w", kind, id, err)
	}
	if present == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// MarkSyncError flags a record the remote store rejected. The record is
// still selected by the next push; the flag is purely diagnostic.
func (s *Store) MarkSyncError(ctx context.Context, kind remote.Kind, id string) error {
	return s.setSyncState(ctx, kind, id, core.StateError)
}

func (s *Store) setSyncState(ctx context.Context, kind remote.Kind, id string, state core.SyncState) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE `+table+` SET sync_state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("set %s %s to %s: %w", kind, id, state, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyRemote writes a pulled record into the replica under the conflict
// policy: the remote copy lands only when the local copy is absent or
// already synced. A locally pending (or errored) copy wins and the remote
// record is discarded for this cycle; it returns (false, nil) so the
// caller can count the discard without treating it as a failure.
//
// The state check and the write run in one SQLite transaction, so a local
// edit committing concurrently is either seen by the check or serialized
// after the whole apply; it is never overwritten between check and write.
func (s *Store) ApplyRemote(ctx context.Context, rec remote.Record) (bool, error) {
	table, err := tableFor(rec.Kind)
	if err != nil {
		return false, err
	}
	write, err := remoteWriter(rec)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin apply for %s %s: %w", rec.Kind, rec.ID, err)
	}
	defer tx.Rollback()

	var state string
	err = tx.QueryRowContext(ctx, `SELECT sync_state FROM `+table+` WHERE id = ?`, rec.ID).Scan(&state)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// absent locally: remote wins
	case err != nil:
		return false, fmt.Errorf("load local state for %s %s: %w", rec.Kind, rec.ID, err)
	case core.SyncState(state) != core.StateSynced:
		return false, nil
	}

	if err := write(ctx, tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("apply %s %s: %w", rec.Kind, rec.ID, err)
	}
	return true, nil
}

// remoteWriter decodes the record and returns the statement writing it.
// Decoding up front keeps malformed payloads out of the apply transaction.
func remoteWriter(rec remote.Record) (func(context.Context, execer) error, error) {
	switch rec.Kind {
	case remote.KindAccount:
		a, err := decodeAccount(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeAccount(ctx, ex, a) }, nil
	case remote.KindCategory:
		c, err := decodeCategory(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeCategory(ctx, ex, c) }, nil
	case remote.KindSubcategory:
		sc, err := decodeSubcategory(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeSubcategory(ctx, ex, sc) }, nil
	case remote.KindTransaction:
		t, err := decodeTransaction(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeTransaction(ctx, ex, t) }, nil
	case remote.KindTransfer:
		t, err := decodeTransfer(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeTransfer(ctx, ex, t) }, nil
	case remote.KindBudget:
		b, err := decodeBudget(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeBudget(ctx, ex, b) }, nil
	case remote.KindRecurringRule:
		r, err := decodeRule(rec)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context, ex execer) error { return writeRule(ctx, ex, r) }, nil
	default:
		return nil, fmt.Errorf("unknown record kind: %s", rec.Kind)
	}
}

// PendingCounts returns, per collection, how many of the owner's records
// still await a push. The connectivity monitor surfaces these.
func (s *Store) PendingCounts(ctx context.Context, ownerID string) (map[remote.Kind]int, error) {
	counts := make(map[remote.Kind]int, len(remote.KindsInOrder()))
	for _, kind := range remote.KindsInOrder() {
		table, err := tableFor(kind)
		if err != nil {
			return nil, err
		}
		var n int
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM `+table+`
			WHERE owner_id = ? AND sync_state IN ('pending', 'error')`, ownerID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("count pending %s: %w", kind, err)
		}
		counts[kind] = n
	}
	return counts, nil
}

// Cursor returns the owner's last successful transaction pull timestamp.
// ok is false when no pull has completed yet.
func (s *Store) Cursor(ctx context.Context, ownerID string) (time.Time, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_transaction_pull FROM sync_cursors WHERE owner_id = ?`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load sync cursor: %w", err)
	}
	t, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *Store) SetCursor(ctx context.Context, ownerID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (owner_id, last_transaction_pull) VALUES (?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET last_transaction_pull = excluded.last_transaction_pull`,
		ownerID, formatTime(t))
	if err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}
