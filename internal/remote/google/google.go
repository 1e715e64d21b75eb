// Package google implements the remote store on a Google Spreadsheet:
// one sheet per record collection, one row per record, keyed by the id in
// column A. Rows carry the envelope fields plus the JSON payload, so the
// spreadsheet doubles as a human-inspectable view of the remote ledger.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"saldo/internal/remote"
)

// Row layout, columns A to F.
const (
	colID = iota
	colOwner
	colCreatedAt
	colUpdatedAt
	colDeletedAt
	colPayload
)

const rowTimeLayout = time.RFC3339Nano

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
}

var _ remote.Store = (*Client)(nil)

// NewFromEnv creates a Sheets-backed remote store.
// Required: GOOGLE_SPREADSHEET_ID.
// Credentials: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE,
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func sheetFor(kind remote.Kind) string {
	// Sheet names: plural collection names, matching the local tables.
	switch kind {
	case remote.KindCategory:
		return "categories"
	case remote.KindSubcategory:
		return "subcategories"
	case remote.KindAccount:
		return "accounts"
	case remote.KindTransaction:
		return "transactions"
	case remote.KindTransfer:
		return "transfers"
	case remote.KindRecurringRule:
		return "recurring_rules"
	case remote.KindBudget:
		return "budgets"
	default:
		return string(kind)
	}
}

// Ping verifies the spreadsheet is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("probe spreadsheet: %w", err)
	}
	return nil
}

// UpsertMany writes records keyed by the id column: existing rows are
// updated in place, new ids are appended. Row placement failures are
// per-record; only the initial id-column read is a transport failure for
// the whole call.
func (c *Client) UpsertMany(ctx context.Context, kind remote.Kind, records []remote.Record) ([]remote.UpsertResult, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	sheet := sheetFor(kind)

	rng := fmt.Sprintf("%s!A:A", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read id column of %s: %w", sheet, err)
	}

	rowByID := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok && id != "" {
			rowByID[id] = i + 1 // sheets are 1-based
		}
	}
	nextRow := len(resp.Values) + 1

	results := make([]remote.UpsertResult, 0, len(records))
	for _, rec := range records {
		row := rowValues(rec)

		target, exists := rowByID[rec.ID]
		if !exists {
			target = nextRow
			nextRow++
			rowByID[rec.ID] = target
		}

		dataRange := fmt.Sprintf("%s!A%d:F%d", sheet, target, target)
		vr := &gsheet.ValueRange{Values: [][]any{row}}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, dataRange, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			results = append(results, remote.UpsertResult{ID: rec.ID, Err: fmt.Errorf("write row %d of %s: %w", target, sheet, err)})
			continue
		}
		results = append(results, remote.UpsertResult{ID: rec.ID})
	}

	slog.DebugContext(ctx, "Upserted records to spreadsheet",
		"sheet", sheet, "count", len(records))
	return results, nil
}

// FetchSince reads the whole sheet and filters by owner and cursor. The
// expected cardinality keeps this acceptable; transactions are the only
// high-volume collection and they always arrive with a cursor.
func (c *Client) FetchSince(ctx context.Context, kind remote.Kind, ownerID string, since *time.Time) ([]remote.Record, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	sheet := sheetFor(kind)

	rng := fmt.Sprintf("%s!A:F", sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sheet, err)
	}

	var out []remote.Record
	for i, row := range resp.Values {
		rec, err := parseRow(kind, row)
		if err != nil {
			slog.WarnContext(ctx, "Skipping malformed spreadsheet row",
				"sheet", sheet, "row", i+1, "error", err)
			continue
		}
		if rec.OwnerID != ownerID {
			continue
		}
		if since != nil && !rec.UpdatedAt.After(*since) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func rowValues(rec remote.Record) []any {
	deleted := ""
	if rec.DeletedAt != nil {
		deleted = rec.DeletedAt.UTC().Format(rowTimeLayout)
	}
	return []any{
		rec.ID,
		rec.OwnerID,
		rec.CreatedAt.UTC().Format(rowTimeLayout),
		rec.UpdatedAt.UTC().Format(rowTimeLayout),
		deleted,
		string(rec.Payload),
	}
}

func parseRow(kind remote.Kind, row []any) (remote.Record, error) {
	id := cellString(row, colID)
	if id == "" {
		return remote.Record{}, errors.New("empty id cell")
	}

	createdAt, err := time.Parse(rowTimeLayout, cellString(row, colCreatedAt))
	if err != nil {
		return remote.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	updatedAt, err := time.Parse(rowTimeLayout, cellString(row, colUpdatedAt))
	if err != nil {
		return remote.Record{}, fmt.Errorf("parse updated_at: %w", err)
	}

	var deletedAt *time.Time
	if raw := cellString(row, colDeletedAt); raw != "" {
		t, err := time.Parse(rowTimeLayout, raw)
		if err != nil {
			return remote.Record{}, fmt.Errorf("parse deleted_at: %w", err)
		}
		deletedAt = &t
	}

	return remote.Record{
		ID:        id,
		OwnerID:   cellString(row, colOwner),
		Kind:      kind,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		DeletedAt: deletedAt,
		Payload:   []byte(cellString(row, colPayload)),
	}, nil
}

func cellString(row []any, idx int) string {
	if idx >= len(row) {
		return ""
	}
	s, _ := row[idx].(string)
	return strings.TrimSpace(s)
}
