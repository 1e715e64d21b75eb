package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"saldo/internal/core"
	"saldo/internal/remote"
)

// Wire payloads. The envelope (remote.Record) carries id, owner, kind,
// timestamps and the tombstone; everything entity-specific lives here.
type (
	accountPayload struct {
		Name                string `json:"name"`
		Kind                string `json:"kind"`
		OpeningBalanceCents int64  `json:"opening_balance_cents"`
		Currency            string `json:"currency"`
	}

	categoryPayload struct {
		Name      string `json:"name"`
		Icon      string `json:"icon,omitempty"`
		Kind      string `json:"kind"`
		Color     string `json:"color,omitempty"`
		IsDefault bool   `json:"is_default,omitempty"`
	}

	subcategoryPayload struct {
		Name       string `json:"name"`
		CategoryID string `json:"category_id"`
	}

	transactionPayload struct {
		AccountID   string          `json:"account_id"`
		CategoryID  string          `json:"category_id,omitempty"`
		AmountCents int64           `json:"amount_cents"`
		Note        string          `json:"note,omitempty"`
		Items       []core.LineItem `json:"items,omitempty"`
		Date        string          `json:"date"`
	}

	transferPayload struct {
		FromAccountID string `json:"from_account_id"`
		ToAccountID   string `json:"to_account_id"`
		AmountCents   int64  `json:"amount_cents"`
		Date          string `json:"date"`
	}

	budgetPayload struct {
		CategoryID  string `json:"category_id"`
		AmountCents int64  `json:"amount_cents"`
		Month       int    `json:"month"`
		Year        int    `json:"year"`
	}

	rulePayload struct {
		AccountID   string `json:"account_id,omitempty"`
		CategoryID  string `json:"category_id"`
		AmountCents int64  `json:"amount_cents"`
		Description string `json:"description,omitempty"`
		Frequency   string `json:"frequency"`
		NextDueDate string `json:"next_due_date"`
		Active      bool   `json:"active"`
	}
)

const wireDateLayout = "2006-01-02"

func wireDate(d core.Date) string {
	return d.Format(wireDateLayout)
}

func parseWireDate(s string) (core.Date, error) {
	t, err := time.Parse(wireDateLayout, s)
	if err != nil {
		return core.Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return core.Date{Time: t}, nil
}

func envelope(kind remote.Kind, meta core.Meta, payload any) (remote.Record, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return remote.Record{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return remote.Record{
		ID:        meta.ID,
		OwnerID:   meta.OwnerID,
		Kind:      kind,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
		DeletedAt: meta.DeletedAt,
		Payload:   body,
	}, nil
}

func metaFrom(rec remote.Record) core.Meta {
	return core.Meta{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		SyncState: core.StateSynced,
		DeletedAt: rec.DeletedAt,
	}
}

func encodeAccount(a core.Account) (remote.Record, error) {
	return envelope(remote.KindAccount, a.Meta, accountPayload{
		Name:                a.Name,
		Kind:                string(a.Kind),
		OpeningBalanceCents: a.OpeningBalance.Cents,
		Currency:            a.Currency,
	})
}

func decodeAccount(rec remote.Record) (core.Account, error) {
	var p accountPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Account{}, fmt.Errorf("unmarshal account %s: %w", rec.ID, err)
	}
	return core.Account{
		Meta:           metaFrom(rec),
		Name:           p.Name,
		Kind:           core.AccountKind(p.Kind),
		OpeningBalance: core.Money{Cents: p.OpeningBalanceCents},
		Currency:       p.Currency,
	}, nil
}

func encodeCategory(c core.Category) (remote.Record, error) {
	return envelope(remote.KindCategory, c.Meta, categoryPayload{
		Name:      c.Name,
		Icon:      c.Icon,
		Kind:      string(c.Kind),
		Color:     c.Color,
		IsDefault: c.IsDefault,
	})
}

func decodeCategory(rec remote.Record) (core.Category, error) {
	var p categoryPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Category{}, fmt.Errorf("unmarshal category %s: %w", rec.ID, err)
	}
	return core.Category{
		Meta:      metaFrom(rec),
		Name:      p.Name,
		Icon:      p.Icon,
		Kind:      core.CategoryKind(p.Kind),
		Color:     p.Color,
		IsDefault: p.IsDefault,
	}, nil
}

func encodeSubcategory(s core.Subcategory) (remote.Record, error) {
	return envelope(remote.KindSubcategory, s.Meta, subcategoryPayload{
		Name:       s.Name,
		CategoryID: s.CategoryID,
	})
}

func decodeSubcategory(rec remote.Record) (core.Subcategory, error) {
	var p subcategoryPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Subcategory{}, fmt.Errorf("unmarshal subcategory %s: %w", rec.ID, err)
	}
	return core.Subcategory{
		Meta:       metaFrom(rec),
		Name:       p.Name,
		CategoryID: p.CategoryID,
	}, nil
}

func encodeTransaction(t core.Transaction) (remote.Record, error) {
	return envelope(remote.KindTransaction, t.Meta, transactionPayload{
		AccountID:   t.AccountID,
		CategoryID:  t.CategoryID,
		AmountCents: t.Amount.Cents,
		Note:        t.Note,
		Items:       t.Items,
		Date:        wireDate(t.Date),
	})
}

func decodeTransaction(rec remote.Record) (core.Transaction, error) {
	var p transactionPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Transaction{}, fmt.Errorf("unmarshal transaction %s: %w", rec.ID, err)
	}
	date, err := parseWireDate(p.Date)
	if err != nil {
		return core.Transaction{}, err
	}
	return core.Transaction{
		Meta:       metaFrom(rec),
		AccountID:  p.AccountID,
		CategoryID: p.CategoryID,
		Amount:     core.Money{Cents: p.AmountCents},
		Note:       p.Note,
		Items:      p.Items,
		Date:       date,
	}, nil
}

func encodeTransfer(t core.Transfer) (remote.Record, error) {
	return envelope(remote.KindTransfer, t.Meta, transferPayload{
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		AmountCents:   t.Amount.Cents,
		Date:          wireDate(t.Date),
	})
}

func decodeTransfer(rec remote.Record) (core.Transfer, error) {
	var p transferPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Transfer{}, fmt.Errorf("unmarshal transfer %s: %w", rec.ID, err)
	}
	date, err := parseWireDate(p.Date)
	if err != nil {
		return core.Transfer{}, err
	}
	return core.Transfer{
		Meta:          metaFrom(rec),
		FromAccountID: p.FromAccountID,
		ToAccountID:   p.ToAccountID,
		Amount:        core.Money{Cents: p.AmountCents},
		Date:          date,
	}, nil
}

func encodeBudget(b core.Budget) (remote.Record, error) {
	return envelope(remote.KindBudget, b.Meta, budgetPayload{
		CategoryID:  b.CategoryID,
		AmountCents: b.Amount.Cents,
		Month:       b.Month,
		Year:        b.Year,
	})
}

func decodeBudget(rec remote.Record) (core.Budget, error) {
	var p budgetPayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.Budget{}, fmt.Errorf("unmarshal budget %s: %w", rec.ID, err)
	}
	return core.Budget{
		Meta:       metaFrom(rec),
		CategoryID: p.CategoryID,
		Amount:     core.Money{Cents: p.AmountCents},
		Month:      p.Month,
		Year:       p.Year,
	}, nil
}

func encodeRule(r core.RecurringRule) (remote.Record, error) {
	return envelope(remote.KindRecurringRule, r.Meta, rulePayload{
		AccountID:   r.AccountID,
		CategoryID:  r.CategoryID,
		AmountCents: r.Amount.Cents,
		Description: r.Description,
		Frequency:   string(r.Frequency),
		NextDueDate: wireDate(r.NextDue),
		Active:      r.Active,
	})
}

func decodeRule(rec remote.Record) (core.RecurringRule, error) {
	var p rulePayload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return core.RecurringRule{}, fmt.Errorf("unmarshal recurring rule %s: %w", rec.ID, err)
	}
	nextDue, err := parseWireDate(p.NextDueDate)
	if err != nil {
		return core.RecurringRule{}, err
	}
	return core.RecurringRule{
		Meta:        metaFrom(rec),
		AccountID:   p.AccountID,
		CategoryID:  p.CategoryID,
		Amount:      core.Money{Cents: p.AmountCents},
		Description: p.Description,
		Frequency:   core.Frequency(p.Frequency),
		NextDue:     nextDue,
		Active:      p.Active,
	}, nil
}
