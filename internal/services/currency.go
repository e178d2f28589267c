package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"moneybook/internal/cache"
	"moneybook/internal/core"
	"moneybook/internal/storage"
)

const currencyListKey = "currencies"

// CurrencyService serves the seeded currency list from a cache.
type CurrencyService struct {
	repo  *storage.SQLiteRepository
	cache *cache.LRUCache[[]core.Currency]
}

func NewCurrencyService(repo *storage.SQLiteRepository, ttl time.Duration) *CurrencyService {
	return &CurrencyService{
		repo:  repo,
		cache: cache.NewLRUCache[[]core.Currency](1, ttl),
	}
}

// List returns every known currency ordered by code.
func (s *CurrencyService) List(ctx context.Context) ([]core.Currency, error) {
	list, err := s.cache.GetOrLoad(ctx, currencyListKey, s.repo.ListCurrencies)
	if err != nil {
		return nil, fmt.Errorf("list currencies: %w", err)
	}
	return list, nil
}

// Exists reports whether code is a known currency.
func (s *CurrencyService) Exists(ctx context.Context, code string) (bool, error) {
	list, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	for _, c := range list {
		if strings.EqualFold(c.Code, code) {
			return true, nil
		}
	}
	return false, nil
}
