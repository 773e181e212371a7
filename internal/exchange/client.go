package exchange

import (
	"context"
	"fmt"

	"github.com/skalibog/bsat/pkg/models"
)

// Client описывает контракт внешнего коллаборатора рынка/счета.
// Ядро зависит только от этого интерфейса; транспорт, аутентификация и
// ретраи — забота реализации.
type Client interface {
	// ListMarkets возвращает торгуемые инструменты котируемой валюты
	ListMarkets(ctx context.Context) ([]models.MarketInfo, error)

	// Tickers возвращает последние цены для набора инструментов
	Tickers(ctx context.Context, symbols []string) (map[string]models.TickerPrice, error)

	// RecentCandles возвращает последние внутридневные свечи,
	// упорядоченные по возрастанию времени
	RecentCandles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error)

	// DailyCandles возвращает последние дневные свечи,
	// упорядоченные по возрастанию времени
	DailyCandles(ctx context.Context, symbol string, count int) ([]models.Candle, error)

	// AccountBalances возвращает балансы счета
	AccountBalances(ctx context.Context) ([]models.Balance, error)

	// OrderConstraints возвращает ограничения на размещение ордера
	OrderConstraints(ctx context.Context, symbol string) (models.OrderConstraints, error)

	// PlaceOrder отправляет лимитный ордер и возвращает его идентификатор.
	// Ошибка транспорта/валидации пробрасывается как есть — ядро ее не
	// ретраит.
	PlaceOrder(ctx context.Context, symbol string, side models.Side, price, volume float64) (string, error)
}

// APIError представляет ошибку вызова биржи: какая операция упала и почему.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("биржа: операция %s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func apiErr(op string, err error) error {
	return &APIError{Op: op, Err: err}
}
