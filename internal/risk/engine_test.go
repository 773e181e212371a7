package risk

import (
	"math"
	"testing"

	"github.com/skalibog/bsat/pkg/models"
)

type fixedEquity float64

func (f fixedEquity) CurrentEquity() float64 { return float64(f) }

func TestPositionSize(t *testing.T) {
	limits := models.DefaultRiskLimits() // риск 1%, позиция 10%
	e := NewEngine(fixedEquity(10000), limits)

	tests := []struct {
		name  string
		entry float64
		stop  float64
		want  float64
	}{
		{"обычный сайзинг", 100, 99, 1.0},                   // 10000*0.01/1
		{"нулевая дистанция", 100, 100, 0},                  // риск не определен
		{"кап долей капитала", 100, 99.9, 10},               // 10 < 10000*0.01/0.1
		{"стоп выше входа (short)", 100, 101, 1.0},          // дистанция по модулю
		{"дальний стоп уменьшает объем", 100, 50, 2.0},      // 10000*0.01/50
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.PositionSize(tt.entry, tt.stop)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("PositionSize(%v, %v) = %v, ожидалось %v",
					tt.entry, tt.stop, got, tt.want)
			}
		})
	}
}

func TestPositionSizeDegenerateInputs(t *testing.T) {
	limits := models.DefaultRiskLimits()
	if got := NewEngine(fixedEquity(0), limits).PositionSize(100, 99); got != 0 {
		t.Errorf("нулевой капитал: объем %v, ожидался 0", got)
	}
	if got := NewEngine(fixedEquity(10000), limits).PositionSize(0, 1); got != 0 {
		t.Errorf("нулевая цена входа: объем %v, ожидался 0", got)
	}
}

func TestPositionSizeNeverExceedsCap(t *testing.T) {
	limits := models.DefaultRiskLimits()
	e := NewEngine(fixedEquity(10000), limits)

	for _, stop := range []float64{99.99, 99.9, 99, 90, 50} {
		size := e.PositionSize(100, stop)
		maxSize := 10000 * limits.MaxPositionPct / 100
		if size > maxSize+1e-9 {
			t.Errorf("stop=%v: объем %v превышает кап %v", stop, size, maxSize)
		}
		if size < 0 {
			t.Errorf("stop=%v: отрицательный объем %v", stop, size)
		}
	}
}

func TestCanOpenNewPosition(t *testing.T) {
	limits := models.DefaultRiskLimits() // 10 позиций, экспозиция 100%, позиция 10%
	limits.MaxPositions = 2
	limits.MaxExposurePct = 0.5
	e := NewEngine(fixedEquity(10000), limits)

	tests := []struct {
		name    string
		market  string
		weights map[string]float64
		want    bool
	}{
		{"пустой портфель", "BTCUSDT", map[string]float64{}, true},
		{"лимит числа позиций", "BTCUSDT",
			map[string]float64{"ETHUSDT": 0.1, "SOLUSDT": 0.1}, false},
		{"лимит экспозиции", "BTCUSDT",
			map[string]float64{"ETHUSDT": 0.5}, false},
		{"лимит веса рынка", "BTCUSDT",
			map[string]float64{"BTCUSDT": 0.1}, false},
		{"в пределах лимитов", "BTCUSDT",
			map[string]float64{"ETHUSDT": 0.2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.CanOpenNewPosition(tt.market, tt.weights); got != tt.want {
				t.Errorf("CanOpenNewPosition(%s, %v) = %v, ожидалось %v",
					tt.market, tt.weights, got, tt.want)
			}
		})
	}
}

func TestCanOpenNewPositionZeroEquity(t *testing.T) {
	e := NewEngine(fixedEquity(0), models.DefaultRiskLimits())
	if e.CanOpenNewPosition("BTCUSDT", map[string]float64{}) {
		t.Error("вход разрешен при нулевом капитале")
	}
}

func TestDailyLossAccumulatesOnlyNegatives(t *testing.T) {
	limits := models.DefaultRiskLimits() // дневной лимит 3%
	e := NewEngine(fixedEquity(10000), limits)

	e.RegisterPnL(-100)
	e.RegisterPnL(500) // прибыль не компенсирует убыток
	e.RegisterPnL(-150)

	// Накоплено 250 убытка, лимит 10000*0.03 = 300
	if e.HitDailyLimit(10000) {
		t.Error("лимит сработал при убытке 250 из 300")
	}

	e.RegisterPnL(-50)
	if !e.HitDailyLimit(10000) {
		t.Error("лимит не сработал при убытке 300 из 300")
	}
}

func TestResetDaily(t *testing.T) {
	e := NewEngine(fixedEquity(10000), models.DefaultRiskLimits())
	e.RegisterPnL(-10000)
	if !e.HitDailyLimit(10000) {
		t.Fatal("лимит не сработал до сброса")
	}
	e.ResetDaily()
	if e.HitDailyLimit(10000) {
		t.Error("лимит действует после сброса")
	}
}
