package models

import (
	"time"
)

// Side представляет сторону сделки
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite возвращает противоположную сторону (для закрывающих ордеров)
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Candle представляет одну OHLCV-свечу.
// История рынка — упорядоченная по времени последовательность свечей
// без дубликатов по Timestamp; пропуски допустимы и не заполняются.
type Candle struct {
	Symbol    string
	Timestamp time.Time // UTC
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Turnover  float64 // оборот в котируемой валюте (0, если биржа не отдает)
}

// Signal представляет кандидата на вход в позицию.
// Живет внутри одного цикла и никогда не сохраняется как есть.
// Инварианты: для buy — Stop < Entry < TakeProfit,
// для sell — TakeProfit < Entry < Stop; Trailing >= 0.
type Signal struct {
	Symbol     string
	Side       Side
	Score      float64 // знак задает направление, модуль — ранжирует уверенность
	Entry      float64
	Stop       float64
	TakeProfit float64
	Trailing   float64 // трейлинг-дистанция в абсолютных единицах цены
}

// PositionSnapshot представляет текущее знание бота об открытой позиции.
// На один рынок существует не более одного снапшота; изменяет его только
// оркестратор.
type PositionSnapshot struct {
	Symbol     string
	Side       Side
	EntryPrice float64
	Volume     float64 // > 0
	Stop       float64
	TakeProfit float64
	Trailing   float64
	OpenedAt   time.Time
}

// ExecutionResult представляет неизменяемую запись об одном отправленном
// ордере. Единица, которую сохраняет хранилище.
type ExecutionResult struct {
	OrderID   string
	Symbol    string
	Side      Side
	Price     float64
	Volume    float64
	Status    string
	CreatedAt time.Time
}

// RiskLimits представляет политику риск-лимитов портфеля.
// Внутри цикла читается, но не меняется.
type RiskLimits struct {
	PerTradeRiskPct   float64 `yaml:"per_trade_risk_pct"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	MaxPositionPct    float64 `yaml:"max_position_pct"`
	MaxExposurePct    float64 `yaml:"max_exposure_pct"`
	MaxPositions      int     `yaml:"max_positions"`
}

// DefaultRiskLimits возвращает консервативные значения по умолчанию.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		PerTradeRiskPct:   0.01,
		DailyLossLimitPct: 0.03,
		MaxPositionPct:    0.1,
		MaxExposurePct:    1.0,
		MaxPositions:      10,
	}
}

// MarketInfo представляет торгуемый инструмент из списка рынков биржи.
type MarketInfo struct {
	Symbol  string
	Warning bool // инструмент помечен биржей как проблемный
}

// TickerPrice представляет последнюю цену инструмента.
type TickerPrice struct {
	Symbol    string
	LastPrice float64
}

// Balance представляет баланс одной валюты на счете.
type Balance struct {
	Currency string
	Free     float64
	Locked   float64
	AvgPrice float64 // средняя цена покупки (0, если биржа не отдает)
}

// OrderConstraints представляет ограничения биржи на размещение ордера.
type OrderConstraints struct {
	MinNotional float64
	BuyFeeRate  float64
	SellFeeRate float64
}

// FeeRate возвращает комиссию для указанной стороны.
func (c OrderConstraints) FeeRate(side Side) float64 {
	if side == SideBuy {
		return c.BuyFeeRate
	}
	return c.SellFeeRate
}
