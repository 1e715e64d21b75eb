// Package balance derives account balances from current ledger contents.
// Projection is a pure summation: no I/O, no side effects, safe to call on
// every read, and independent of iteration order.
package balance

import (
	"context"

	"saldo/internal/core"
)

// Project computes the account's current balance.
//
// Starting from the opening balance, every live transaction on the account
// adds its amount when the referenced category is income and subtracts it
// otherwise; a missing or unknown category falls back to expense
// semantics. Transfers subtract on the source side and add on the
// destination side. Soft-deleted records contribute nothing. Only the
// top-level transaction amount is used; line items are never re-summed.
func Project(account core.Account, transactions []core.Transaction, transfersIn, transfersOut []core.Transfer, categories []core.Category) core.Money {
	kinds := make(map[string]core.CategoryKind, len(categories))
	for _, c := range categories {
		if c.IsDeleted() {
			continue
		}
		kinds[c.ID] = c.Kind
	}

	total := account.OpeningBalance.Cents

	for _, t := range transactions {
		if t.IsDeleted() || t.AccountID != account.ID {
			continue
		}
		if kinds[t.CategoryID] == core.Income {
			total += t.Amount.Cents
		} else {
			total -= t.Amount.Cents
		}
	}

	for _, t := range transfersOut {
		if t.IsDeleted() || t.FromAccountID != account.ID {
			continue
		}
		total -= t.Amount.Cents
	}

	for _, t := range transfersIn {
		if t.IsDeleted() || t.ToAccountID != account.ID {
			continue
		}
		total += t.Amount.Cents
	}

	return core.Money{Cents: total}
}

// Loader is the slice of the ledger store the projector reads through.
type Loader interface {
	GetAccount(ctx context.Context, id string) (core.Account, error)
	ListTransactionsByAccount(ctx context.Context, accountID string) ([]core.Transaction, error)
	ListTransfersFrom(ctx context.Context, accountID string) ([]core.Transfer, error)
	ListTransfersTo(ctx context.Context, accountID string) ([]core.Transfer, error)
	ListCategories(ctx context.Context, ownerID string) ([]core.Category, error)
}

// ForAccount loads an account's records from the store and projects its
// balance. The projection itself stays in Project, which is pure.
func ForAccount(ctx context.Context, store Loader, accountID string) (core.Money, error) {
	account, err := store.GetAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	transactions, err := store.ListTransactionsByAccount(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	out, err := store.ListTransfersFrom(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	in, err := store.ListTransfersTo(ctx, accountID)
	if err != nil {
		return core.Money{}, err
	}
	categories, err := store.ListCategories(ctx, account.OwnerID)
	if err != nil {
		return core.Money{}, err
	}
	return Project(account, transactions, in, out, categories), nil
}
