// Package ledger implements the local durable replica: one SQLite table
// per record collection, with sync-state bookkeeping on every row. All
// mutation goes through this package; user edits, the recurrence
// materializer and the reconciliation engine never hold a second copy of
// record state.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"saldo/internal/core"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrProtectedCategory = errors.New("default category cannot be deleted")
	ErrCategoryInUse     = errors.New("category is referenced by transactions")
	ErrDuplicateBudget   = errors.New("budget already exists for category and month")
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Writers block instead of failing when another write is in flight.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func scanNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// prepareMeta stamps a record for a local write: a fresh client-generated
// id when missing, bumped updated_at, and sync_state back to pending so
// the next reconciliation pass picks it up.
func prepareMeta(m *core.Meta, now time.Time) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	m.SyncState = core.StatePending
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- accounts ---

func (s *Store) PutAccount(ctx context.Context, a *core.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	prepareMeta(&a.Meta, time.Now())
	return writeAccount(ctx, s.db, *a)
}

func writeAccount(ctx context.Context, ex execer, a core.Account) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, kind, opening_balance_cents, currency, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			opening_balance_cents = excluded.opening_balance_cents,
			currency = excluded.currency,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		a.ID, a.OwnerID, a.Name, string(a.Kind), a.OpeningBalance.Cents, a.Currency,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt), string(a.SyncState), nullableTime(a.DeletedAt))
	if err != nil {
		return fmt.Errorf("write account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount returns the account by id. Tombstoned accounts read as not
// found; their deletion still travels to the remote through ListUnsynced.
func (s *Store) GetAccount(ctx context.Context, id string) (core.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, kind, opening_balance_cents, currency, created_at, updated_at, sync_state, deleted_at
		FROM accounts WHERE id = ? AND deleted_at IS NULL`, id)
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	defer rows.Close()
	accounts, err := scanAccounts(rows)
	if err != nil {
		return core.Account{}, err
	}
	if len(accounts) == 0 {
		return core.Account{}, ErrNotFound
	}
	return accounts[0], nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]core.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, kind, opening_balance_cents, currency, created_at, updated_at, sync_state, deleted_at
		FROM accounts WHERE owner_id = ? AND deleted_at IS NULL ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// SoftDeleteAccount tombstones the account. Transactions keep their
// dangling reference; the projector treats it as an unknown account.
func (s *Store) SoftDeleteAccount(ctx context.Context, id string) error {
	return s.softDelete(ctx, "accounts", id)
}

func scanAccounts(rows *sql.Rows) ([]core.Account, error) {
	var out []core.Account
	for rows.Next() {
		var a core.Account
		var kind, createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &kind, &a.OpeningBalance.Cents, &a.Currency,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Kind = core.AccountKind(kind)
		var err error
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		a.SyncState = core.SyncState(state)
		if a.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- categories ---

func (s *Store) PutCategory(ctx context.Context, c *core.Category) error {
	if err := c.Validate(); err != nil {
		return err
	}
	prepareMeta(&c.Meta, time.Now())
	return writeCategory(ctx, s.db, *c)
}

func writeCategory(ctx context.Context, ex execer, c core.Category) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO categories (id, owner_id, name, icon, kind, color, is_default, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			icon = excluded.icon,
			kind = excluded.kind,
			color = excluded.color,
			is_default = excluded.is_default,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		c.ID, c.OwnerID, c.Name, c.Icon, string(c.Kind), c.Color, c.IsDefault,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt), string(c.SyncState), nullableTime(c.DeletedAt))
	if err != nil {
		return fmt.Errorf("write category %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]core.Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, icon, kind, color, is_default, created_at, updated_at, sync_state, deleted_at
		FROM categories WHERE owner_id = ? AND deleted_at IS NULL ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()
	return scanCategories(rows)
}

// SoftDeleteCategory refuses to delete default categories and categories
// still referenced by live transactions; both are validation errors
// surfaced at mutation time, before the tombstone would reach pending.
func (s *Store) SoftDeleteCategory(ctx context.Context, id string) error {
	var isDefault bool
	err := s.db.QueryRowContext(ctx, `SELECT is_default FROM categories WHERE id = ? AND deleted_at IS NULL`, id).Scan(&isDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load category %s: %w", id, err)
	}
	if isDefault {
		return ErrProtectedCategory
	}

	var refs int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE category_id = ? AND deleted_at IS NULL`, id).Scan(&refs)
	if err != nil {
		return fmt.Errorf("count category references: %w", err)
	}
	if refs > 0 {
		return ErrCategoryInUse
	}

	return s.softDelete(ctx, "categories", id)
}

func scanCategories(rows *sql.Rows) ([]core.Category, error) {
	var out []core.Category
	for rows.Next() {
		var c core.Category
		var kind, createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Icon, &kind, &c.Color, &c.IsDefault,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Kind = core.CategoryKind(kind)
		var err error
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		c.SyncState = core.SyncState(state)
		if c.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- subcategories ---

func (s *Store) PutSubcategory(ctx context.Context, sc *core.Subcategory) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	prepareMeta(&sc.Meta, time.Now())
	return writeSubcategory(ctx, s.db, *sc)
}

func writeSubcategory(ctx context.Context, ex execer, sc core.Subcategory) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO subcategories (id, owner_id, name, category_id, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category_id = excluded.category_id,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		sc.ID, sc.OwnerID, sc.Name, sc.CategoryID,
		formatTime(sc.CreatedAt), formatTime(sc.UpdatedAt), string(sc.SyncState), nullableTime(sc.DeletedAt))
	if err != nil {
		return fmt.Errorf("write subcategory %s: %w", sc.ID, err)
	}
	return nil
}

func (s *Store) SoftDeleteSubcategory(ctx context.Context, id string) error {
	return s.softDelete(ctx, "subcategories", id)
}

func scanSubcategories(rows *sql.Rows) ([]core.Subcategory, error) {
	var out []core.Subcategory
	for rows.Next() {
		var sc core.Subcategory
		var createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&sc.ID, &sc.OwnerID, &sc.Name, &sc.CategoryID,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan subcategory: %w", err)
		}
		var err error
		if sc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if sc.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		sc.SyncState = core.SyncState(state)
		if sc.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- transactions ---

func (s *Store) PutTransaction(ctx context.Context, t *core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	prepareMeta(&t.Meta, time.Now())
	return writeTransaction(ctx, s.db, *t)
}

func writeTransaction(ctx context.Context, ex execer, t core.Transaction) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO transactions (id, owner_id, account_id, category_id, amount_cents, note, items, date, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			amount_cents = excluded.amount_cents,
			note = excluded.note,
			items = excluded.items,
			date = excluded.date,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		t.ID, t.OwnerID, t.AccountID, t.CategoryID, t.Amount.Cents, t.Note, string(items), wireDate(t.Date),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), string(t.SyncState), nullableTime(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("write transaction %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SoftDeleteTransaction(ctx context.Context, id string) error {
	return s.softDelete(ctx, "transactions", id)
}

func (s *Store) ListTransactionsByAccount(ctx context.Context, accountID string) ([]core.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, account_id, category_id, amount_cents, note, items, date, created_at, updated_at, sync_state, deleted_at
		FROM transactions WHERE account_id = ? AND deleted_at IS NULL ORDER BY date`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]core.Transaction, error) {
	var out []core.Transaction
	for rows.Next() {
		var t core.Transaction
		var items, date, createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.AccountID, &t.CategoryID, &t.Amount.Cents, &t.Note, &items, &date,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &t.Items); err != nil {
			return nil, fmt.Errorf("unmarshal line items for %s: %w", t.ID, err)
		}
		var err error
		if t.Date, err = parseWireDate(date); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		t.SyncState = core.SyncState(state)
		if t.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- transfers ---

func (s *Store) PutTransfer(ctx context.Context, t *core.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}
	prepareMeta(&t.Meta, time.Now())
	return writeTransfer(ctx, s.db, *t)
}

func writeTransfer(ctx context.Context, ex execer, t core.Transfer) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO transfers (id, owner_id, from_account_id, to_account_id, amount_cents, date, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			from_account_id = excluded.from_account_id,
			to_account_id = excluded.to_account_id,
			amount_cents = excluded.amount_cents,
			date = excluded.date,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		t.ID, t.OwnerID, t.FromAccountID, t.ToAccountID, t.Amount.Cents, wireDate(t.Date),
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt), string(t.SyncState), nullableTime(t.DeletedAt))
	if err != nil {
		return fmt.Errorf("write transfer %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) SoftDeleteTransfer(ctx context.Context, id string) error {
	return s.softDelete(ctx, "transfers", id)
}

func (s *Store) ListTransfersFrom(ctx context.Context, accountID string) ([]core.Transfer, error) {
	return s.listTransfers(ctx, "from_account_id", accountID)
}

func (s *Store) ListTransfersTo(ctx context.Context, accountID string) ([]core.Transfer, error) {
	return s.listTransfers(ctx, "to_account_id", accountID)
}

func (s *Store) listTransfers(ctx context.Context, column, accountID string) ([]core.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, from_account_id, to_account_id, amount_cents, date, created_at, updated_at, sync_state, deleted_at
		FROM transfers WHERE `+column+` = ? AND deleted_at IS NULL ORDER BY date`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func scanTransfers(rows *sql.Rows) ([]core.Transfer, error) {
	var out []core.Transfer
	for rows.Next() {
		var t core.Transfer
		var date, createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.FromAccountID, &t.ToAccountID, &t.Amount.Cents, &date,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		var err error
		if t.Date, err = parseWireDate(date); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		t.SyncState = core.SyncState(state)
		if t.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- budgets ---

// PutBudget upserts a budget. (owner, category, month, year) is the upsert
// key: writing a second live budget for the same key under a different id
// is rejected before the record ever reaches pending.
func (s *Store) PutBudget(ctx context.Context, b *core.Budget) error {
	if err := b.Validate(); err != nil {
		return err
	}

	var existingID string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM budgets
		WHERE owner_id = ? AND category_id = ? AND month = ? AND year = ? AND deleted_at IS NULL`,
		b.OwnerID, b.CategoryID, b.Month, b.Year).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check budget key: %w", err)
	}
	if existingID != "" && existingID != b.ID {
		if b.ID != "" {
			return ErrDuplicateBudget
		}
		// A fresh write to an occupied key updates the existing budget.
		b.ID = existingID
	}

	prepareMeta(&b.Meta, time.Now())
	return writeBudget(ctx, s.db, *b)
}

func writeBudget(ctx context.Context, ex execer, b core.Budget) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO budgets (id, owner_id, category_id, amount_cents, month, year, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			amount_cents = excluded.amount_cents,
			month = excluded.month,
			year = excluded.year,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		b.ID, b.OwnerID, b.CategoryID, b.Amount.Cents, b.Month, b.Year,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt), string(b.SyncState), nullableTime(b.DeletedAt))
	if err != nil {
		return fmt.Errorf("write budget %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) SoftDeleteBudget(ctx context.Context, id string) error {
	return s.softDelete(ctx, "budgets", id)
}

func scanBudgets(rows *sql.Rows) ([]core.Budget, error) {
	var out []core.Budget
	for rows.Next() {
		var b core.Budget
		var createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.CategoryID, &b.Amount.Cents, &b.Month, &b.Year,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		var err error
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		b.SyncState = core.SyncState(state)
		if b.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- recurring rules ---

func (s *Store) PutRule(ctx context.Context, r *core.RecurringRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	prepareMeta(&r.Meta, time.Now())
	return writeRule(ctx, s.db, *r)
}

func writeRule(ctx context.Context, ex execer, r core.RecurringRule) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO recurring_rules (id, owner_id, account_id, category_id, amount_cents, description, frequency, next_due_date, active, created_at, updated_at, sync_state, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			category_id = excluded.category_id,
			amount_cents = excluded.amount_cents,
			description = excluded.description,
			frequency = excluded.frequency,
			next_due_date = excluded.next_due_date,
			active = excluded.active,
			updated_at = excluded.updated_at,
			sync_state = excluded.sync_state,
			deleted_at = excluded.deleted_at`,
		r.ID, r.OwnerID, r.AccountID, r.CategoryID, r.Amount.Cents, r.Description, string(r.Frequency), wireDate(r.NextDue), r.Active,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt), string(r.SyncState), nullableTime(r.DeletedAt))
	if err != nil {
		return fmt.Errorf("write recurring rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes the rule immediately. Rules are schedule metadata,
// not financial history, so there is no tombstone.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recurring rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (core.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, account_id, category_id, amount_cents, description, frequency, next_due_date, active, created_at, updated_at, sync_state, deleted_at
		FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return core.RecurringRule{}, fmt.Errorf("get recurring rule: %w", err)
	}
	defer rows.Close()
	rules, err := scanRules(rows)
	if err != nil {
		return core.RecurringRule{}, err
	}
	if len(rules) == 0 {
		return core.RecurringRule{}, ErrNotFound
	}
	return rules[0], nil
}

// ListActiveRules returns the owner's active, non-deleted rules.
func (s *Store) ListActiveRules(ctx context.Context, ownerID string) ([]core.RecurringRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, account_id, category_id, amount_cents, description, frequency, next_due_date, active, created_at, updated_at, sync_state, deleted_at
		FROM recurring_rules WHERE owner_id = ? AND active = 1 AND deleted_at IS NULL ORDER BY next_due_date`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list active rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

func scanRules(rows *sql.Rows) ([]core.RecurringRule, error) {
	var out []core.RecurringRule
	for rows.Next() {
		var r core.RecurringRule
		var freq, nextDue, createdAt, updatedAt, state string
		var deletedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.AccountID, &r.CategoryID, &r.Amount.Cents, &r.Description, &freq, &nextDue, &r.Active,
			&createdAt, &updatedAt, &state, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan recurring rule: %w", err)
		}
		r.Frequency = core.Frequency(freq)
		var err error
		if r.NextDue, err = parseWireDate(nextDue); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		r.SyncState = core.SyncState(state)
		if r.DeletedAt, err = scanNullableTime(deletedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CommitMaterialization applies one rule's emit-and-advance step as a
// single local transaction: every emitted transaction plus the rule's new
// next_due_date land together, so a crash mid-way never leaves emitted
// transactions with an unadvanced schedule pointer.
func (s *Store) CommitMaterialization(ctx context.Context, rule core.RecurringRule, txs []core.Transaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin materialization: %w", err)
	}
	defer tx.Rollback()

	for i := range txs {
		if err := writeTransaction(ctx, tx, txs[i]); err != nil {
			return err
		}
	}
	if err := writeRule(ctx, tx, rule); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit materialization: %w", err)
	}

	slog.InfoContext(ctx, "Materialization committed",
		"rule_id", rule.ID,
		"emitted", len(txs),
		"next_due", wireDate(rule.NextDue))
	return nil
}

func (s *Store) softDelete(ctx context.Context, table, id string) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+table+` SET deleted_at = ?, updated_at = ?, sync_state = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(now), formatTime(now), string(core.StatePending), id)
	if err != nil {
		return fmt.Errorf("soft delete %s %s: %w", table, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
