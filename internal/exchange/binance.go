package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"

	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/pkg/models"
)

const readAttempts = 3

// BinanceClient клиент спотового рынка Binance, реализует Client.
// Читающие вызовы ретраятся с экспоненциальной задержкой; размещение
// ордера не ретраится никогда — повтор может продублировать ордер.
type BinanceClient struct {
	spot    *binance.Client
	quote   string
	feeRate float64
}

// NewBinanceClient создает новый клиент Binance
func NewBinanceClient(cfg config.BinanceConfig, trading config.TradingConfig) (*BinanceClient, error) {
	if cfg.Testnet {
		binance.UseTestnet = true
	}
	spot := binance.NewClient(cfg.APIKey, cfg.APISecret)

	if trading.QuoteCurrency == "" {
		return nil, fmt.Errorf("не задана котируемая валюта")
	}

	return &BinanceClient{
		spot:    spot,
		quote:   trading.QuoteCurrency,
		feeRate: trading.FeeRate,
	}, nil
}

// retryRead выполняет читающий вызов с повторами на временных сбоях
func (c *BinanceClient) retryRead(ctx context.Context, op string, call func() error) error {
	b := &backoff.Backoff{
		Min:    200 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < readAttempts; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if attempt == readAttempts-1 {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return apiErr(op, ctx.Err())
		}
	}
	return apiErr(op, err)
}

// ListMarkets возвращает спотовые инструменты котируемой валюты.
// Warning взводится для символов, которые биржа вывела из статуса TRADING.
func (c *BinanceClient) ListMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	var info *binance.ExchangeInfo
	err := c.retryRead(ctx, "list_markets", func() error {
		var e error
		info, e = c.spot.NewExchangeInfoService().Do(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}

	var markets []models.MarketInfo
	for _, s := range info.Symbols {
		if s.QuoteAsset != c.quote {
			continue
		}
		markets = append(markets, models.MarketInfo{
			Symbol:  s.Symbol,
			Warning: s.Status != "TRADING",
		})
	}
	return markets, nil
}

// Tickers возвращает последние цены для набора инструментов
func (c *BinanceClient) Tickers(ctx context.Context, symbols []string) (map[string]models.TickerPrice, error) {
	if len(symbols) == 0 {
		return map[string]models.TickerPrice{}, nil
	}

	var prices []*binance.SymbolPrice
	err := c.retryRead(ctx, "get_tickers", func() error {
		var e error
		prices, e = c.spot.NewListPricesService().Symbols(symbols).Do(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]models.TickerPrice, len(prices))
	for _, p := range prices {
		last, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return nil, apiErr("get_tickers", fmt.Errorf("некорректная цена %q для %s: %w", p.Price, p.Symbol, err))
		}
		out[p.Symbol] = models.TickerPrice{Symbol: p.Symbol, LastPrice: last}
	}
	return out, nil
}

// RecentCandles возвращает последние внутридневные свечи
func (c *BinanceClient) RecentCandles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	return c.candles(ctx, "get_recent_candles", symbol, interval, count)
}

// DailyCandles возвращает последние дневные свечи
func (c *BinanceClient) DailyCandles(ctx context.Context, symbol string, count int) ([]models.Candle, error) {
	return c.candles(ctx, "get_daily_candles", symbol, "1d", count)
}

func (c *BinanceClient) candles(ctx context.Context, op, symbol, interval string, count int) ([]models.Candle, error) {
	var klines []*binance.Kline
	err := c.retryRead(ctx, op, func() error {
		var e error
		klines, e = c.spot.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(count).
			Do(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candle, err := parseKline(symbol, k)
		if err != nil {
			return nil, apiErr(op, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseKline(symbol string, k *binance.Kline) (models.Candle, error) {
	open, err1 := strconv.ParseFloat(k.Open, 64)
	high, err2 := strconv.ParseFloat(k.High, 64)
	low, err3 := strconv.ParseFloat(k.Low, 64)
	closePrice, err4 := strconv.ParseFloat(k.Close, 64)
	volume, err5 := strconv.ParseFloat(k.Volume, 64)
	turnover, err6 := strconv.ParseFloat(k.QuoteAssetVolume, 64)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return models.Candle{}, fmt.Errorf("некорректная свеча для %s: %w", symbol, err)
		}
	}

	return models.Candle{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Turnover:  turnover,
	}, nil
}

// AccountBalances возвращает балансы счета.
// Binance не отдает среднюю цену покупки, поэтому AvgPrice всегда 0 —
// восстановление цены входа лежит на вызывающем.
func (c *BinanceClient) AccountBalances(ctx context.Context) ([]models.Balance, error) {
	var account *binance.Account
	err := c.retryRead(ctx, "get_account_balances", func() error {
		var e error
		account, e = c.spot.NewGetAccountService().Do(ctx)
		return e
	})
	if err != nil {
		return nil, err
	}

	var balances []models.Balance
	for _, b := range account.Balances {
		free, err1 := strconv.ParseFloat(b.Free, 64)
		locked, err2 := strconv.ParseFloat(b.Locked, 64)
		if err1 != nil || err2 != nil {
			return nil, apiErr("get_account_balances", fmt.Errorf("некорректный баланс %s", b.Asset))
		}
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, models.Balance{
			Currency: b.Asset,
			Free:     free,
			Locked:   locked,
		})
	}
	return balances, nil
}

// OrderConstraints возвращает минимальный номинал ордера из фильтров
// exchangeInfo. Ставка комиссии на споте Binance плоская и берется из
// конфигурации.
func (c *BinanceClient) OrderConstraints(ctx context.Context, symbol string) (models.OrderConstraints, error) {
	var info *binance.ExchangeInfo
	err := c.retryRead(ctx, "get_order_constraints", func() error {
		var e error
		info, e = c.spot.NewExchangeInfoService().Symbol(symbol).Do(ctx)
		return e
	})
	if err != nil {
		return models.OrderConstraints{}, err
	}

	constraints := models.OrderConstraints{
		BuyFeeRate:  c.feeRate,
		SellFeeRate: c.feeRate,
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		for _, f := range s.Filters {
			filterType, _ := f["filterType"].(string)
			if filterType != "NOTIONAL" && filterType != "MIN_NOTIONAL" {
				continue
			}
			raw, _ := f["minNotional"].(string)
			minNotional, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return models.OrderConstraints{}, apiErr("get_order_constraints",
					fmt.Errorf("некорректный minNotional %q для %s: %w", raw, symbol, err))
			}
			constraints.MinNotional = minNotional
		}
	}
	return constraints, nil
}

// PlaceOrder отправляет лимитный GTC-ордер. Без ретраев.
func (c *BinanceClient) PlaceOrder(ctx context.Context, symbol string, side models.Side, price, volume float64) (string, error) {
	sideType := binance.SideTypeBuy
	if side == models.SideSell {
		sideType = binance.SideTypeSell
	}

	res, err := c.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(sideType).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Price(decimal.NewFromFloat(price).Round(8).String()).
		Quantity(decimal.NewFromFloat(volume).Round(8).String()).
		NewClientOrderID(uuid.NewString()).
		Do(ctx)
	if err != nil {
		return "", apiErr("place_order", err)
	}

	return strconv.FormatInt(res.OrderID, 10), nil
}
