package google

import (
	"testing"
	"time"

	"saldo/internal/remote"
)

func TestSheetFor(t *testing.T) {
	tests := []struct {
		kind remote.Kind
		want string
	}{
		{remote.KindCategory, "categories"},
		{remote.KindSubcategory, "subcategories"},
		{remote.KindAccount, "accounts"},
		{remote.KindTransaction, "transactions"},
		{remote.KindTransfer, "transfers"},
		{remote.KindRecurringRule, "recurring_rules"},
		{remote.KindBudget, "budgets"},
	}
	for _, tt := range tests {
		if got := sheetFor(tt.kind); got != tt.want {
			t.Errorf("sheetFor(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestRowRoundTrip(t *testing.T) {
	deleted := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	rec := remote.Record{
		ID:        "tx-1",
		OwnerID:   "alice",
		Kind:      remote.KindTransaction,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 500, time.UTC),
		UpdatedAt: time.Date(2026, 8, 27, 18, 30, 0, 0, time.UTC),
		DeletedAt: &deleted,
		Payload:   []byte(`{"account_id":"acc-1","amount_cents":1234,"date":"2026-08-01"}`),
	}

	got, err := parseRow(remote.KindTransaction, rowValues(rec))
	if err != nil {
		t.Fatalf("parseRow() error = %v", err)
	}

	if got.ID != rec.ID || got.OwnerID != rec.OwnerID || got.Kind != rec.Kind {
		t.Errorf("parseRow() envelope = %+v, mismatch", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) || !got.UpdatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("timestamps did not round-trip: %v / %v", got.CreatedAt, got.UpdatedAt)
	}
	if got.DeletedAt == nil || !got.DeletedAt.Equal(deleted) {
		t.Errorf("DeletedAt = %v, want %v", got.DeletedAt, deleted)
	}
	if string(got.Payload) != string(rec.Payload) {
		t.Errorf("payload = %s, want %s", got.Payload, rec.Payload)
	}
}

func TestRowRoundTrip_NoTombstone(t *testing.T) {
	rec := remote.Record{
		ID:        "acc-1",
		OwnerID:   "alice",
		Kind:      remote.KindAccount,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"name":"Checking","kind":"bank"}`),
	}

	got, err := parseRow(remote.KindAccount, rowValues(rec))
	if err != nil {
		t.Fatalf("parseRow() error = %v", err)
	}
	if got.DeletedAt != nil {
		t.Errorf("DeletedAt = %v, want nil", got.DeletedAt)
	}
}

func TestParseRow_Malformed(t *testing.T) {
	tests := []struct {
		name string
		row  []any
	}{
		{name: "empty row", row: []any{}},
		{name: "empty id", row: []any{"", "alice", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", "", "{}"}},
		{name: "bad created_at", row: []any{"id", "alice", "yesterday", "2026-01-01T00:00:00Z", "", "{}"}},
		{name: "bad deleted_at", row: []any{"id", "alice", "2026-01-01T00:00:00Z", "2026-01-01T00:00:00Z", "soon", "{}"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseRow(remote.KindAccount, tt.row); err == nil {
				t.Error("parseRow() = nil error for malformed row")
			}
		})
	}
}
