// Package sheets mirrors recorded operations into a Google spreadsheet, one
// tab per year.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"moneybook/internal/core"
)

var ErrNotConfigured = errors.New("sheets export not configured")

// Config selects the spreadsheet and the service account credentials.
// CredentialsJSON wins over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Row is one exported operation with its references resolved to names.
type Row struct {
	Operation core.Operation
	Account   string
	Currency  string
	Category  string
}

// Client appends operations to "<year> <sheet>" tabs.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
}

// New builds a client authenticated with a service account. Extra options
// are appended after the credentials, so tests can point the client at a
// local endpoint.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Operations"
	}

	clientOpts := []option.ClientOption{option.WithScopes(gsheet.SpreadsheetsScope)}
	if len(opts) == 0 {
		credentials, err := loadCredentials(cfg)
		if err != nil {
			return nil, err
		}
		clientOpts = append(clientOpts, option.WithCredentialsJSON(credentials))
	}
	clientOpts = append(clientOpts, opts...)

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets export enabled",
		"component", "sheets",
		"spreadsheet_id", spreadsheetID,
		"sheet", base)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetBase: base}, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// AppendOperation writes row at the end of the tab for the operation's
// year and returns the updated range.
func (c *Client) AppendOperation(ctx context.Context, row Row) (string, error) {
	if c == nil || c.svc == nil {
		return "", ErrNotConfigured
	}
	op := row.Operation
	if err := op.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	sheet := SheetName(c.sheetBase, op.Date.Year())
	vr := &gsheet.ValueRange{Values: [][]any{rowValues(row)}}

	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:H", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	return ref, nil
}

// rowValues lays out the columns: date, type, signed amount, currency,
// account, category, comment, operation id.
func rowValues(row Row) []any {
	op := row.Operation
	return []any{
		op.Date.String(),
		string(op.Type),
		core.Money{Cents: op.Signed()}.String(),
		row.Currency,
		row.Account,
		row.Category,
		op.Comment,
		op.ID,
	}
}

// SheetName returns "<year> <base>" unless base already starts with a
// 4-digit year.
func SheetName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
