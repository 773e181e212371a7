// Package risk содержит портфельные риск-лимиты, сайзинг позиций и
// дневной стоп-аут.
package risk

import (
	"math"
	"sync"

	"github.com/skalibog/bsat/pkg/models"
)

// EquityProvider отдает актуальный капитал портфеля. Движок никогда не
// кэширует капитал сам — значение всегда читается у владельца состояния.
type EquityProvider interface {
	CurrentEquity() float64
}

// Engine проверяет лимиты портфеля и считает размер позиции.
// Все проверки — рекомендательные гейты перед отправкой ордера: они не
// резервируют лимит, оркестратор обязан обновлять веса после каждого
// принятого входа.
type Engine struct {
	equity EquityProvider
	limits models.RiskLimits

	mu        sync.Mutex
	dailyLoss float64 // сумма только отрицательных реализованных PnL
}

// NewEngine создает новый риск-движок
func NewEngine(equity EquityProvider, limits models.RiskLimits) *Engine {
	return &Engine{
		equity: equity,
		limits: limits,
	}
}

// Limits возвращает действующие лимиты
func (e *Engine) Limits() models.RiskLimits {
	return e.limits
}

// PositionSize считает объем позиции из риска на сделку и дистанции до
// стопа. При нулевой дистанции риск на единицу не определен — объем 0.
// Результат ограничен сверху долей капитала на одну позицию и никогда
// не отрицателен.
func (e *Engine) PositionSize(entry, stop float64) float64 {
	equity := e.equity.CurrentEquity()
	if equity <= 0 || entry <= 0 {
		return 0
	}

	distance := math.Abs(entry - stop)
	if distance == 0 {
		return 0
	}

	size := equity * e.limits.PerTradeRiskPct / distance
	maxSize := equity * e.limits.MaxPositionPct / entry
	return math.Max(0, math.Min(size, maxSize))
}

// CanOpenNewPosition проверяет, можно ли открывать новую позицию по
// рынку при текущих весах открытых позиций (доля капитала на рынок).
func (e *Engine) CanOpenNewPosition(market string, openWeights map[string]float64) bool {
	if e.equity.CurrentEquity() <= 0 {
		return false
	}
	if len(openWeights) >= e.limits.MaxPositions {
		return false
	}

	total := 0.0
	for _, w := range openWeights {
		total += w
	}
	if total >= e.limits.MaxExposurePct {
		return false
	}
	if w, ok := openWeights[market]; ok && w >= e.limits.MaxPositionPct {
		return false
	}
	return true
}

// RegisterPnL учитывает реализованный результат сделки в дневном
// аккумуляторе убытка. Прибыльные сделки убыток не компенсируют.
func (e *Engine) RegisterPnL(realized float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyLoss += math.Min(realized, 0)
}

// HitDailyLimit сообщает, достигнут ли дневной лимит убытка. Пока он
// действует, оркестратор блокирует новые входы; выходы не блокируются
// никогда.
func (e *Engine) HitDailyLimit(equity float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return math.Abs(e.dailyLoss) >= equity*e.limits.DailyLossLimitPct
}

// ResetDaily сбрасывает дневной аккумулятор убытка
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyLoss = 0
}
