package worker

import (
	"context"
	"errors"
	"fmt"

	"moneybook/internal/amqp"
	"moneybook/internal/export/sheets"
	"moneybook/internal/log"
	"moneybook/internal/storage"
)

// Exporter mirrors a created operation somewhere outside the database.
type Exporter interface {
	AppendOperation(ctx context.Context, row sheets.Row) (string, error)
}

var _ Exporter = (*sheets.Client)(nil)

// BalanceWorker keeps materialised account balances in step with the
// operations table.
type BalanceWorker struct {
	storage   *storage.SQLiteRepository
	exporter  Exporter
	batchSize int
	logger    *log.Logger
}

// NewBalanceWorker creates a worker. exporter may be nil.
func NewBalanceWorker(storage *storage.SQLiteRepository, exporter Exporter, batchSize int, logger *log.Logger) *BalanceWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &BalanceWorker{
		storage:   storage,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent recomputes every account named by the event and, for new
// operations, exports them. Returning an error requeues the delivery; both
// steps are safe to repeat.
func (w *BalanceWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldEventType, ev.Type,
		log.FieldUserID, ev.UserID,
		"accounts", len(ev.AccountIDs))

	for _, id := range ev.AccountIDs {
		if err := w.recompute(ctx, id); err != nil {
			return err
		}
	}

	if ev.Type == amqp.EventOperationCreated && ev.OperationID != "" {
		if err := w.export(ctx, ev.UserID, ev.OperationID); err != nil {
			return fmt.Errorf("export operation: %w", err)
		}
	}
	return nil
}

func (w *BalanceWorker) recompute(ctx context.Context, accountID string) error {
	balance, err := w.storage.RecomputeBalance(ctx, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		// Removed after the event was published.
		w.logger.DebugContext(ctx, "Account gone, skipping recompute", log.FieldAccountID, accountID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("recompute balance of %s: %w", accountID, err)
	}
	w.logger.DebugContext(ctx, "Balance recomputed",
		log.FieldAccountID, accountID,
		log.FieldOperation, log.OpRecompute,
		log.FieldAmountCents, balance)
	return nil
}

func (w *BalanceWorker) export(ctx context.Context, userID, operationID string) error {
	if w.exporter == nil {
		return nil
	}

	op, err := w.storage.GetOperation(ctx, userID, operationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	row := sheets.Row{Operation: op}
	if acc, err := w.storage.GetAccount(ctx, userID, op.Account); err == nil {
		row.Account = acc.Name
		row.Currency = acc.Currency
	}
	if cat, err := w.storage.GetCategory(ctx, userID, op.Category); err == nil {
		row.Category = cat.Name
	}

	ref, err := w.exporter.AppendOperation(ctx, row)
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "Operation exported",
		log.FieldOperationID, op.ID,
		log.FieldSheetsRef, ref)
	return nil
}

// ReconcilePending recomputes accounts still flagged pending, which covers
// lost or unpublished events. It returns how many accounts were refreshed.
func (w *BalanceWorker) ReconcilePending(ctx context.Context) (int, error) {
	pending, err := w.storage.ListPendingAccounts(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list pending accounts: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	done := 0
	for _, acc := range pending {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := w.recompute(ctx, acc.ID); err != nil {
			w.logger.ErrorContext(ctx, "Failed to reconcile account",
				log.FieldAccountID, acc.ID,
				log.FieldError, err.Error())
			continue
		}
		done++
	}

	w.logger.InfoContext(ctx, "Pending balances reconciled",
		"total", len(pending),
		"reconciled", done)
	return done, nil
}
