package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"moneybook/internal/amqp"
	"moneybook/internal/auth"
	"moneybook/internal/cache"
	"moneybook/internal/cli"
	"moneybook/internal/credential"
	apphttp "moneybook/internal/http"
	"moneybook/internal/log"
	"moneybook/internal/services"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig()

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	hasher, err := credential.New(cfg.Credential())
	if err != nil {
		logger.Error("Invalid credential parameters", log.FieldError, err.Error())
		os.Exit(1)
	}
	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		logger.Error("Invalid session settings", log.FieldError, err.Error())
		os.Exit(1)
	}

	// Without a broker the worker's reconcile loop still picks up pending
	// balances, so a missing connection is not fatal here.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.WithComponent(log.ComponentAMQP).Warn("AMQP unavailable, ledger events disabled",
				log.FieldError, err.Error())
		} else {
			defer client.Close()
			publisher = client
		}
	}

	caches := cache.NewManager()
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	svc := services.New(services.Deps{
		Repo:          repo,
		Hasher:        hasher,
		Tokens:        tokens,
		Publisher:     publisher,
		Logger:        logger,
		Caches:        caches,
		DefaultLocale: cfg.DefaultLocale,
	})

	srv := apphttp.NewServer(apphttp.Config{
		Addr:          ":" + cfg.Port,
		CookieSecure:  cfg.CookieSecure,
		AuthRateLimit: cfg.AuthRateLimit,
		TokenTTL:      cfg.JWTTTL,
		Logger:        logger,
	}, svc, repo)

	ctx, stop := cli.GracefulShutdown(logger)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
		}
	}()

	logger.Info("Starting moneybook server",
		"port", cfg.Port,
		"events", publisher != nil,
		log.FieldOperation, log.OpStartup)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err.Error(), "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
