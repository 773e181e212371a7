// Package execution превращает сигналы в ордера, совместимые с
// ограничениями биржи: шаг цены, минимальный номинал, доступный кэш.
package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/skalibog/bsat/internal/exchange"
	"github.com/skalibog/bsat/internal/risk"
	"github.com/skalibog/bsat/pkg/models"
)

// tickBand задает шаг цены для диапазона [0, Below)
type tickBand struct {
	Below float64
	Tick  float64
}

// Таблица шагов цены по диапазонам: чем дороже инструмент, тем грубее
// шаг. Границы подобраны так, что каждая граница кратна шагам обоих
// соседних диапазонов — выравнивание не выбивает цену из сетки.
var tickBands = []tickBand{
	{Below: 10, Tick: 0.01},
	{Below: 100, Tick: 0.05},
	{Below: 1_000, Tick: 0.1},
	{Below: 10_000, Tick: 1},
	{Below: 100_000, Tick: 10},
	{Below: 500_000, Tick: 50},
	{Below: 1_000_000, Tick: 100},
	{Below: 2_000_000, Tick: 500},
	{Below: math.Inf(1), Tick: 1000},
}

// Engine строит и отправляет лимитные ордера. Ретраев нет: политика
// повторов, если она нужна, живет в коллабораторе биржи.
type Engine struct {
	client exchange.Client
	risk   *risk.Engine
}

// NewEngine создает новый движок исполнения
func NewEngine(client exchange.Client, riskEngine *risk.Engine) *Engine {
	return &Engine{
		client: client,
		risk:   riskEngine,
	}
}

// AlignPrice выравнивает цену на сетку шагов биржи. Округление — к
// ближайшему шагу, половина вверх (round-half-up). Идемпотентно:
// выровненная цена выравнивается сама в себя.
func AlignPrice(price float64) float64 {
	if price <= 0 {
		return 0
	}
	tick := tickFor(price)
	return math.Floor(price/tick+0.5) * tick
}

func tickFor(price float64) float64 {
	for _, band := range tickBands {
		if price < band.Below {
			return band.Tick
		}
	}
	return tickBands[len(tickBands)-1].Tick
}

// BuildOrder считает параметры лимитного ордера для сигнала: цену на
// сетке биржи и объем после трех последовательных ограничений —
// риск-сайзинг, минимальный номинал биржи, доступный кэш. Порядок
// фиксирован: каждое следующее ограничение может переписать предыдущее,
// кэш — жесткий потолок. Итоговый объем не бывает отрицательным.
func (e *Engine) BuildOrder(ctx context.Context, symbol string, side models.Side, entry, stop, cashAvailable float64) (price, volume float64, err error) {
	price = AlignPrice(entry)
	if price <= 0 {
		return 0, 0, nil
	}

	volume = e.risk.PositionSize(price, stop)

	constraints, err := e.client.OrderConstraints(ctx, symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("ошибка получения ограничений ордера: %w", err)
	}
	fee := constraints.FeeRate(side)

	// 2-я ступень: дотягиваем объем до минимального номинала биржи
	if price*volume*(1+fee) < constraints.MinNotional {
		volume = constraints.MinNotional / (price * (1 + fee))
	}

	// 3-я ступень: кэш — жесткий потолок
	if price*volume*(1+fee) > cashAvailable {
		volume = cashAvailable / (price * (1 + fee))
	}

	volume = math.Max(0, volume)
	return price, volume, nil
}

// SubmitLimitOrder отправляет лимитный ордер коллаборатору и оборачивает
// ответ в запись об исполнении. Ошибка размещения пробрасывается как есть.
func (e *Engine) SubmitLimitOrder(ctx context.Context, symbol string, side models.Side, price, volume float64) (models.ExecutionResult, error) {
	orderID, err := e.client.PlaceOrder(ctx, symbol, side, price, volume)
	if err != nil {
		return models.ExecutionResult{}, err
	}

	return models.ExecutionResult{
		OrderID:   orderID,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Volume:    volume,
		Status:    "submitted",
		CreatedAt: time.Now().UTC(),
	}, nil
}
