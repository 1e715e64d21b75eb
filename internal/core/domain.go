package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// Sync states a local record moves through. A record is born pending,
	// becomes synced once the remote store acknowledges it, and is flagged
	// errored when the remote rejects it (it is still retried on every pass).
	StateSynced  SyncState = "synced"
	StatePending SyncState = "pending"
	StateError   SyncState = "error"
)

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

const (
	Income  CategoryKind = "income"
	Expense CategoryKind = "expense"
)

const (
	Cash   AccountKind = "cash"
	Bank   AccountKind = "bank"
	Credit AccountKind = "credit"
)

type (
	SyncState    string
	Frequency    string
	CategoryKind string
	AccountKind  string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Meta carries the fields shared by every synchronizable record.
	// DeletedAt is a soft-delete marker: a record with it set is logically
	// absent from all business computations but is kept around so its
	// deletion can be propagated to the remote store.
	Meta struct {
		ID        string
		OwnerID   string
		CreatedAt time.Time
		UpdatedAt time.Time
		SyncState SyncState
		DeletedAt *time.Time
	}

	Account struct {
		Meta
		Name           string
		Kind           AccountKind
		OpeningBalance Money
		Currency       string
	}

	Category struct {
		Meta
		Name      string
		Icon      string
		Kind      CategoryKind
		Color     string
		IsDefault bool
	}

	Subcategory struct {
		Meta
		Name       string
		CategoryID string
	}

	// LineItem is an optional split of a transaction. The sum of item
	// amounts should equal the transaction amount, but that is a UI
	// concern; balance projection always uses the top-level amount.
	LineItem struct {
		Amount        Money  `json:"amount"`
		SubcategoryID string `json:"subcategory_id,omitempty"`
		Note          string `json:"note,omitempty"`
	}

	Transaction struct {
		Meta
		AccountID  string
		CategoryID string
		Amount     Money
		Note       string
		Items      []LineItem
		Date       Date
	}

	Transfer struct {
		Meta
		FromAccountID string
		ToAccountID   string
		Amount        Money
		Date          Date
	}

	Budget struct {
		Meta
		CategoryID string
		Amount     Money
		Month      int
		Year       int
	}

	RecurringRule struct {
		Meta
		AccountID   string
		CategoryID  string
		Amount      Money
		Description string
		Frequency   Frequency
		NextDue     Date
		Active      bool
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidMonth     = errors.New("invalid month")
	ErrInvalidYear      = errors.New("invalid year")
	ErrEmptyName        = errors.New("empty name")
	ErrEmptyAccount     = errors.New("empty account reference")
	ErrEmptyCategory    = errors.New("empty category reference")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidKind      = errors.New("invalid kind")
	ErrZeroDate         = errors.New("date cannot be zero")
	ErrSameAccount      = errors.New("transfer accounts must differ")
)

// IsDeleted reports whether the record carries a tombstone.
func (m Meta) IsDeleted() bool {
	return m.DeletedAt != nil
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

func (m Money) Validate() error {
	// Amounts are magnitudes; the sign is implied by the category kind or
	// the transfer direction.
	if m.Cents < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (k CategoryKind) Valid() bool {
	return k == Income || k == Expense
}

func (k AccountKind) Valid() bool {
	return k == Cash || k == Bank || k == Credit
}

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if !a.Kind.Valid() {
		return ErrInvalidKind
	}
	return a.OpeningBalance.Validate()
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !c.Kind.Valid() {
		return ErrInvalidKind
	}
	return nil
}

func (s Subcategory) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(s.CategoryID) == "" {
		return ErrEmptyCategory
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	for _, item := range t.Items {
		if err := item.Amount.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t Transfer) Validate() error {
	if strings.TrimSpace(t.FromAccountID) == "" || strings.TrimSpace(t.ToAccountID) == "" {
		return ErrEmptyAccount
	}
	if t.FromAccountID == t.ToAccountID {
		return ErrSameAccount
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	return t.Amount.Validate()
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if b.Month < 1 || b.Month > 12 {
		return ErrInvalidMonth
	}
	if b.Year < 1970 {
		return ErrInvalidYear
	}
	return b.Amount.Validate()
}

func (r RecurringRule) Validate() error {
	if strings.TrimSpace(r.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if err := r.NextDue.Validate(); err != nil {
		return err
	}
	return r.Amount.Validate()
}
