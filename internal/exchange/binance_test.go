package exchange

import (
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
)

func TestParseKline(t *testing.T) {
	k := &binance.Kline{
		OpenTime:         1735689600000, // 2025-01-01 00:00:00 UTC
		Open:             "100.5",
		High:             "101.25",
		Low:              "99.75",
		Close:            "100.0",
		Volume:           "1234.5",
		QuoteAssetVolume: "123450.0",
	}

	candle, err := parseKline("BTCUSDT", k)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if candle.Symbol != "BTCUSDT" {
		t.Errorf("символ %q, ожидался BTCUSDT", candle.Symbol)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !candle.Timestamp.Equal(want) {
		t.Errorf("время %v, ожидалось %v", candle.Timestamp, want)
	}
	if candle.Open != 100.5 || candle.High != 101.25 || candle.Low != 99.75 ||
		candle.Close != 100.0 || candle.Volume != 1234.5 || candle.Turnover != 123450.0 {
		t.Errorf("неожиданная свеча: %+v", candle)
	}
}

func TestParseKlineBadNumber(t *testing.T) {
	k := &binance.Kline{
		Open:             "not-a-number",
		High:             "1",
		Low:              "1",
		Close:            "1",
		Volume:           "1",
		QuoteAssetVolume: "1",
	}
	if _, err := parseKline("BTCUSDT", k); err == nil {
		t.Error("ожидалась ошибка разбора свечи")
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := apiErr("listMarkets", inner)

	if !errors.Is(err, inner) {
		t.Error("APIError не оборачивает исходную ошибку")
	}
	var apiError *APIError
	if !errors.As(err, &apiError) {
		t.Fatal("ошибка не приводится к *APIError")
	}
	if apiError.Op != "listMarkets" {
		t.Errorf("операция %q, ожидалась listMarkets", apiError.Op)
	}
}
