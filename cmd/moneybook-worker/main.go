package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"moneybook/internal/amqp"
	"moneybook/internal/cli"
	"moneybook/internal/export/sheets"
	"moneybook/internal/log"
	"moneybook/internal/worker"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig()
	logger = logger.WithComponent(log.ComponentWorker)
	logger.Info("Starting moneybook-worker", log.FieldOperation, log.OpStartup)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	var exporter worker.Exporter
	if cfg.SheetsEnabled() {
		client, err := sheets.New(ctx, sheets.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err.Error())
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err.Error())
		os.Exit(1)
	}
	defer amqpClient.Close()

	balances := worker.NewBalanceWorker(repo, exporter, cfg.BalanceBatchSize, logger)

	// Catch up on anything left pending while the worker was down.
	if _, err := balances.ReconcilePending(ctx); err != nil {
		logger.Error("Startup reconcile failed", log.FieldError, err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeLedgerEvents(gctx, balances.HandleEvent)
	})

	g.Go(func() error {
		ticker := time.NewTicker(cfg.BalanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if _, err := balances.ReconcilePending(gctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Periodic reconcile failed", log.FieldError, err.Error())
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err.Error())
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete", log.FieldOperation, log.OpShutdown)
}
