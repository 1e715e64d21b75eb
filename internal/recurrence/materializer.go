// Package recurrence turns recurring rules into concrete transactions.
// Materialization is deterministic and needs no network access: it runs
// identically whether the replica is online or offline.
package recurrence

import (
	"time"

	"github.com/google/uuid"

	"saldo/internal/core"
)

// advance moves a due date forward by exactly one period. Monthly and
// yearly steps are calendar steps, so Jan 31 + 1 month normalizes the way
// time.AddDate does.
func advance(d core.Date, freq core.Frequency) core.Date {
	switch freq {
	case core.Daily:
		return core.Date{Time: d.AddDate(0, 0, 1)}
	case core.Weekly:
		return core.Date{Time: d.AddDate(0, 0, 7)}
	case core.Monthly:
		return core.Date{Time: d.AddDate(0, 1, 0)}
	case core.Yearly:
		return core.Date{Time: d.AddDate(1, 0, 0)}
	default:
		return d
	}
}

// Materialize emits one transaction per period the rule has missed: each
// is dated at the rule's next_due_date at the time of emission, and the
// pointer then advances one period, looping while it is still <= now. A
// rule dormant for three months therefore produces three catch-up
// transactions, not one. Inactive and tombstoned rules produce nothing.
//
// The returned rule carries the advanced pointer and a single updated_at
// bump; callers must persist the transactions and the rule together in
// one atomic local write so a retry with the same now is a no-op.
func Materialize(rule core.RecurringRule, now time.Time) ([]core.Transaction, core.RecurringRule) {
	if !rule.Active || rule.IsDeleted() {
		return nil, rule
	}

	var emitted []core.Transaction
	for !rule.NextDue.After(now) {
		emitted = append(emitted, core.Transaction{
			Meta: core.Meta{
				ID:        uuid.NewString(),
				OwnerID:   rule.OwnerID,
				CreatedAt: now,
				UpdatedAt: now,
				SyncState: core.StatePending,
			},
			AccountID:  rule.AccountID,
			CategoryID: rule.CategoryID,
			Amount:     rule.Amount,
			Note:       rule.Description,
			Date:       rule.NextDue,
		})
		rule.NextDue = advance(rule.NextDue, rule.Frequency)
	}

	if len(emitted) > 0 {
		rule.UpdatedAt = now
		rule.SyncState = core.StatePending
	}

	return emitted, rule
}
