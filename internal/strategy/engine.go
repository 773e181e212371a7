// Package strategy содержит скоринг рынков и правила входа/выхода.
package strategy

import (
	"math"

	"github.com/markcheno/go-talib"

	"github.com/skalibog/bsat/pkg/indicators"
	"github.com/skalibog/bsat/pkg/models"
)

// Параметры стратегии
const (
	// MinBars — минимальная история для принятия решения. При меньшем
	// количестве свечей движок "закрывается": скор 0, сигналов нет.
	MinBars = 60

	emaFastSpan  = 20
	emaSlowSpan  = 60
	rsiWindow    = 14
	atrWindow    = 14
	momentumLag  = 10
	volumeWindow = 30

	// Веса компонент скора
	weightTrend    = 0.35
	weightMomentum = 0.25
	weightMACD     = 0.20
	weightRSI      = 0.10
	weightVolume   = 0.10

	// Стопы и цели: более жесткий из волатильного (2*ATR) и фиксированного
	// (3%) стопов, цель 3*ATR, трейлинг 1.5*ATR
	stopATRMult     = 2.0
	stopFixedPct    = 0.03
	takeATRMult     = 3.0
	trailingATRMult = 1.5

	// Пороги выхода по затуханию импульса
	exitRSILong  = 45.0
	exitRSIShort = 55.0
)

// Engine скорит рынки по OHLCV-истории и генерирует сигналы входа,
// а для открытых позиций проверяет условия выхода. Состояния не хранит.
type Engine struct{}

// NewEngine создает новый движок стратегии
func NewEngine() *Engine {
	return &Engine{}
}

// Score считает взвешенный скор рынка: тренд, импульс, MACD, RSI и
// всплеск объема, умноженные на фильтр качества (0 при ATR <= 0).
// Возвращает 0, если истории меньше MinBars.
func (e *Engine) Score(candles []models.Candle) float64 {
	if len(candles) < MinBars {
		return 0
	}

	closes, highs, lows, volumes := split(candles)
	last := len(closes) - 1

	atr := indicators.ATR(highs, lows, closes, atrWindow)
	if atr[last] <= 0 {
		return 0
	}

	emaFast := indicators.EMA(closes, emaFastSpan)
	emaSlow := indicators.EMA(closes, emaSlowSpan)
	trend := (emaFast[last] - emaSlow[last]) / closes[last]

	momentum := closes[last]/closes[last-momentumLag] - 1

	// Гистограмму MACD нормируем к цене, чтобы скор был сопоставим
	// между дешевыми и дорогими инструментами
	_, _, hist := indicators.MACD(closes)
	macdBias := hist[last] / closes[last]

	rsi := indicators.RSI(closes, rsiWindow)
	rsiBias := (rsi[last] - 50) / 50

	volSurge := 0.0
	volMean := talib.Sma(volumes, volumeWindow)
	if volMean[last] > 0 {
		volSurge = volumes[last]/volMean[last] - 1
	}

	return weightTrend*trend +
		weightMomentum*momentum +
		weightMACD*macdBias +
		weightRSI*rsiBias +
		weightVolume*volSurge
}

// GenerateEntrySignal превращает ненулевой скор в сигнал входа.
// Положительный скор — long, отрицательный — short, ноль — нет сигнала.
// Стоп всегда берет более жесткую из двух границ: волатильной (2*ATR)
// и фиксированной (3%) — это ограничивает худший убыток даже там, где
// ATR недооценивает риск.
func (e *Engine) GenerateEntrySignal(symbol string, candles []models.Candle) *models.Signal {
	score := e.Score(candles)
	if score == 0 {
		return nil
	}

	closes, highs, lows, _ := split(candles)
	last := len(closes) - 1
	closePrice := closes[last]
	atr := indicators.ATR(highs, lows, closes, atrWindow)[last]

	sig := &models.Signal{
		Symbol:   symbol,
		Score:    score,
		Entry:    closePrice,
		Trailing: trailingATRMult * atr,
	}

	if score > 0 {
		sig.Side = models.SideBuy
		sig.Stop = math.Max(closePrice-stopATRMult*atr, closePrice*(1-stopFixedPct))
		sig.TakeProfit = closePrice + takeATRMult*atr
	} else {
		sig.Side = models.SideSell
		sig.Stop = math.Min(closePrice+stopATRMult*atr, closePrice*(1+stopFixedPct))
		sig.TakeProfit = closePrice - takeATRMult*atr
	}
	return sig
}

// ShouldExit проверяет условия выхода для открытой позиции в порядке
// приоритета: стоп/трейлинг-стоп, тейк-профит, затухание импульса
// (гистограмма MACD против позиции и RSI за порогом), неблагоприятный
// ход больше одного ATR. Первое сработавшее условие завершает проверку.
// При недостаточной истории решения нет — false.
func (e *Engine) ShouldExit(candles []models.Candle, pos models.PositionSnapshot) bool {
	if len(candles) < MinBars {
		return false
	}

	closes, highs, lows, _ := split(candles)
	last := len(closes) - 1
	closePrice := closes[last]

	atr := indicators.ATR(highs, lows, closes, atrWindow)[last]
	_, _, hist := indicators.MACD(closes)
	rsi := indicators.RSI(closes, rsiWindow)

	if pos.Side == models.SideBuy {
		// Трейлинг-стоп отсчитывается от лучшего закрытия в окне:
		// порог двигается только вслед за ценой, назад не отступает
		trailingStop := maxOf(closes) - pos.Trailing
		if closePrice <= math.Max(pos.Stop, trailingStop) {
			return true
		}
		if closePrice >= pos.TakeProfit {
			return true
		}
		if hist[last] < 0 && rsi[last] < exitRSILong {
			return true
		}
		if atr > 0 && (closePrice-pos.EntryPrice)/atr < -1 {
			return true
		}
		return false
	}

	// Зеркальная логика для короткой позиции
	trailingStop := minOf(closes) + pos.Trailing
	if closePrice >= math.Min(pos.Stop, trailingStop) {
		return true
	}
	if closePrice <= pos.TakeProfit {
		return true
	}
	if hist[last] > 0 && rsi[last] > exitRSIShort {
		return true
	}
	if atr > 0 && (pos.EntryPrice-closePrice)/atr < -1 {
		return true
	}
	return false
}

func split(candles []models.Candle) (closes, highs, lows, volumes []float64) {
	n := len(candles)
	closes = make([]float64, n)
	highs = make([]float64, n)
	lows = make([]float64, n)
	volumes = make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	return closes, highs, lows, volumes
}

func maxOf(series []float64) float64 {
	m := series[0]
	for _, v := range series[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minOf(series []float64) float64 {
	m := series[0]
	for _, v := range series[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
