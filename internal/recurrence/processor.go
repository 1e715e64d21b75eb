package recurrence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"saldo/internal/core"
)

// RuleStore is the slice of the ledger store the processor needs.
type RuleStore interface {
	ListActiveRules(ctx context.Context, ownerID string) ([]core.RecurringRule, error)
	CommitMaterialization(ctx context.Context, rule core.RecurringRule, txs []core.Transaction) error
}

// Processor materializes every due rule for an owner. One rule failing to
// commit does not stop the others; its pointer is unchanged, so the next
// run simply catches it up.
type Processor struct {
	store RuleStore
}

func NewProcessor(store RuleStore) *Processor {
	return &Processor{store: store}
}

// ProcessDueRules materializes all rules due at now and returns the number
// of transactions created.
func (p *Processor) ProcessDueRules(ctx context.Context, ownerID string, now time.Time) (int, error) {
	rules, err := p.store.ListActiveRules(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list active rules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring rules",
		"total_active", len(rules),
		"processing_date", now.Format("2006-01-02"))

	created := 0
	for _, rule := range rules {
		emitted, updated := Materialize(rule, now)
		if len(emitted) == 0 {
			continue
		}

		if err := p.store.CommitMaterialization(ctx, updated, emitted); err != nil {
			slog.ErrorContext(ctx, "Failed to commit materialization",
				"rule_id", rule.ID,
				"description", rule.Description,
				"error", err)
			continue
		}

		created += len(emitted)
		slog.InfoContext(ctx, "Materialized recurring rule",
			"rule_id", rule.ID,
			"description", rule.Description,
			"emitted", len(emitted),
			"frequency", rule.Frequency,
			"next_due", updated.NextDue.Format("2006-01-02"))
	}

	slog.InfoContext(ctx, "Recurring rule processing complete",
		"created", created,
		"total_checked", len(rules))

	return created, nil
}
