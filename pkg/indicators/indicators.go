// Package indicators содержит чистые функции технических индикаторов
// над упорядоченными ценовыми рядами. Состояния нет: результат
// детерминирован для заданного ряда.
//
// Все функции возвращают срез той же длины, что и вход. Значения до
// окончания периода разогрева (первые window или span элементов) не несут
// смысла и равны нулю; вызывающий обязан не принимать решений по ним —
// этот контроль лежит на стратегии, а не на библиотеке.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
)

// EMA считает экспоненциальную скользящую среднюю со сглаживанием
// alpha = 2/(span+1). Затравка — первый элемент ряда: ema[0] = series[0].
// Выбор затравки влияет только на раннее окно и зафиксирован здесь
// осознанно.
func EMA(series []float64, span int) []float64 {
	out := make([]float64, len(series))
	if len(series) == 0 || span <= 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = series[0]
	for i := 1; i < len(series); i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI считает индекс относительной силы по скользящим средним
// положительных и отрицательных приращений закрытия:
// rs = avgGain/avgLoss, rsi = 100 - 100/(1+rs).
// Когда средний убыток равен нулю, rs бесконечен и RSI насыщается
// ровно до 100 — деления на ноль здесь нет.
// Значения валидны начиная с индекса window.
func RSI(closes []float64, window int) []float64 {
	out := make([]float64, len(closes))
	if len(closes) <= window || window <= 0 {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := talib.Sma(gains, window)
	avgLoss := talib.Sma(losses, window)

	for i := window; i < len(closes); i++ {
		if avgLoss[i] == 0 {
			out[i] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[i] = 100 - 100/(1+rs)
	}
	return out
}

// ATR считает средний истинный диапазон: скользящую среднюю от
// true range. Для первого бара предыдущего закрытия нет, поэтому
// его true range — просто high-low.
// Значения валидны начиная с индекса window-1.
func ATR(highs, lows, closes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if n == 0 || len(highs) != n || len(lows) != n || window <= 0 {
		return out
	}

	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := math.Abs(highs[i] - closes[i-1])
		lc := math.Abs(lows[i] - closes[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	return talib.Sma(tr, window)
}

// Стандартные периоды MACD
const (
	macdFastSpan   = 12
	macdSlowSpan   = 26
	macdSignalSpan = 9
)

// MACD считает линию MACD (EMA12-EMA26), сигнальную линию (EMA9 от MACD)
// и гистограмму (MACD - signal).
func MACD(closes []float64) (macd, signal, hist []float64) {
	fast := EMA(closes, macdFastSpan)
	slow := EMA(closes, macdSlowSpan)

	macd = make([]float64, len(closes))
	for i := range closes {
		macd[i] = fast[i] - slow[i]
	}

	signal = EMA(macd, macdSignalSpan)

	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = macd[i] - signal[i]
	}
	return macd, signal, hist
}
