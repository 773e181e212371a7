// Package bot содержит оркестратор торгового цикла: пересборку портфеля,
// отбор юниверса, скоринг, выходы и входы под риск-бюджетом.
package bot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/internal/exchange"
	"github.com/skalibog/bsat/internal/execution"
	"github.com/skalibog/bsat/internal/risk"
	"github.com/skalibog/bsat/internal/storage"
	"github.com/skalibog/bsat/internal/strategy"
	"github.com/skalibog/bsat/pkg/logger"
	"github.com/skalibog/bsat/pkg/models"
)

// fetchConcurrency ограничивает параллелизм сетевых запросов по рынкам
const fetchConcurrency = 8

// PortfolioState локальный кэш правды о счете: капитал, свободный кэш и
// открытые позиции. Пересобирается с нуля в начале каждого цикла; между
// пересборками оптимистично правится по мере отправки ордеров, чтобы
// риск-проверки видели предварительное состояние.
type PortfolioState struct {
	Equity    float64
	Cash      float64
	Positions map[string]models.PositionSnapshot
}

// OpenWeights возвращает долю капитала в каждой открытой позиции
func (s *PortfolioState) OpenWeights() map[string]float64 {
	weights := make(map[string]float64, len(s.Positions))
	if s.Equity == 0 {
		return weights
	}
	for market, pos := range s.Positions {
		weights[market] = pos.EntryPrice * pos.Volume / s.Equity
	}
	return weights
}

// Bot — оркестратор торгового цикла. Единственный писатель PortfolioState:
// стратегия, риск и исполнение получают снапшоты или скаляры и общее
// состояние не трогают.
type Bot struct {
	client     exchange.Client
	store      storage.Storage // nil — работа без хранилища
	strategy   *strategy.Engine
	riskEngine *risk.Engine
	execution  *execution.Engine
	trading    config.TradingConfig

	mu          sync.RWMutex
	state       PortfolioState
	lastSignals []models.Signal
	lastCycleAt time.Time
	lossDay     time.Time // день (UTC), к которому относится дневной убыток
}

// New создает бота. Все коллабораторы конструируются в точке сборки и
// передаются сюда явно; лениво бот ничего не создает.
func New(client exchange.Client, store storage.Storage, trading config.TradingConfig, limits models.RiskLimits) *Bot {
	b := &Bot{
		client:   client,
		store:    store,
		strategy: strategy.NewEngine(),
		trading:  trading,
		state: PortfolioState{
			Positions: make(map[string]models.PositionSnapshot),
		},
	}
	b.riskEngine = risk.NewEngine(b, limits)
	b.execution = execution.NewEngine(client, b.riskEngine)
	return b
}

// CurrentEquity реализует risk.EquityProvider: риск-движок всегда читает
// живой капитал, а не кэшированный.
func (b *Bot) CurrentEquity() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.Equity
}

// Snapshot возвращает копию состояния портфеля для наблюдателей
func (b *Bot) Snapshot() PortfolioState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make(map[string]models.PositionSnapshot, len(b.state.Positions))
	for k, v := range b.state.Positions {
		positions[k] = v
	}
	return PortfolioState{
		Equity:    b.state.Equity,
		Cash:      b.state.Cash,
		Positions: positions,
	}
}

// LastSignals возвращает сигналы последнего цикла (по убыванию |score|)
func (b *Bot) LastSignals() []models.Signal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]models.Signal, len(b.lastSignals))
	copy(out, b.lastSignals)
	return out
}

// LastCycleAt возвращает время завершения последнего цикла
func (b *Bot) LastCycleAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastCycleAt
}

// RunCycle выполняет один торговый цикл, строго последовательно:
// пересборка портфеля -> отбор юниверса -> скоринг -> выходы -> входы.
// Идемпотентен в том смысле, что безопасен для вызова по расписанию.
func (b *Bot) RunCycle(ctx context.Context) error {
	if err := b.refreshPortfolio(ctx); err != nil {
		return fmt.Errorf("ошибка пересборки портфеля: %w", err)
	}

	universe, err := b.selectUniverse(ctx)
	if err != nil {
		return fmt.Errorf("ошибка отбора юниверса: %w", err)
	}

	signals := b.generateSignals(ctx, universe)

	if err := b.evaluateExits(ctx); err != nil {
		return fmt.Errorf("ошибка обработки выходов: %w", err)
	}

	if err := b.evaluateEntries(ctx, signals); err != nil {
		return fmt.Errorf("ошибка обработки входов: %w", err)
	}

	b.mu.Lock()
	b.lastCycleAt = time.Now().UTC()
	b.mu.Unlock()
	return nil
}

// RunForever крутит циклы с фиксированным интервалом до отмены контекста.
// Ошибка и даже паника одного цикла логируется и не роняет процесс —
// единственный механизм восстановления здесь и есть следующий цикл.
func (b *Bot) RunForever(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		b.runCycleSafe(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("паника в торговом цикле", zap.Any("panic", r))
		}
	}()

	if err := b.RunCycle(ctx); err != nil {
		logger.Error("ошибка торгового цикла", zap.Error(err))
	}
}

// refreshPortfolio пересобирает PortfolioState с нуля по балансам биржи —
// прежние позиции в памяти отбрасываются, правда всегда на стороне биржи.
// Сразу после пересборки equity == cash + sum(mark * volume).
func (b *Bot) refreshPortfolio(ctx context.Context) error {
	balances, err := b.client.AccountBalances(ctx)
	if err != nil {
		return err
	}

	cash := 0.0
	holdings := make(map[string]models.Balance)
	for _, bal := range balances {
		if bal.Currency == b.trading.QuoteCurrency {
			cash += bal.Free + bal.Locked
			continue
		}
		holdings[bal.Currency+b.trading.QuoteCurrency] = bal
	}

	symbols := make([]string, 0, len(holdings))
	for sym := range holdings {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	tickers := map[string]models.TickerPrice{}
	if len(symbols) > 0 {
		tickers, err = b.client.Tickers(ctx, symbols)
		if err != nil {
			return err
		}
	}

	equity := cash
	positions := make(map[string]models.PositionSnapshot, len(holdings))
	now := time.Now().UTC()

	for _, sym := range symbols {
		bal := holdings[sym]
		volume := bal.Free + bal.Locked
		ticker, ok := tickers[sym]
		mark := ticker.LastPrice
		if !ok || mark <= 0 {
			// Балансы без цены: учесть по средней цене покупки, если биржа
			// ее отдает, иначе позицию восстановить нельзя — пропускаем
			if bal.AvgPrice <= 0 {
				logger.Warn("нет цены для восстановления позиции", zap.String("symbol", sym))
				continue
			}
			mark = bal.AvgPrice
		}
		equity += mark * volume

		entry := bal.AvgPrice
		if entry <= 0 {
			entry = b.recordedEntryPrice(ctx, sym, mark)
		}
		positions[sym] = models.PositionSnapshot{
			Symbol:     sym,
			Side:       models.SideBuy,
			EntryPrice: entry,
			Volume:     volume,
			Stop:       mark * 0.97,
			TakeProfit: mark * 1.05,
			Trailing:   mark * 0.02,
			OpenedAt:   now,
		}
	}

	b.mu.Lock()
	b.state = PortfolioState{
		Equity:    equity,
		Cash:      cash,
		Positions: positions,
	}
	day := now.Truncate(24 * time.Hour)
	if !b.lossDay.Equal(day) {
		b.riskEngine.ResetDaily()
		b.lossDay = day
	}
	b.mu.Unlock()

	if b.store != nil {
		if err := b.store.SaveAccountSnapshot(ctx, now, equity, cash, len(positions)); err != nil {
			logger.Warn("не удалось сохранить снапшот счета", zap.Error(err))
		}
	}

	logger.Info("портфель пересобран",
		zap.Float64("equity", equity),
		zap.Float64("cash", cash),
		zap.Int("positions", len(positions)))
	return nil
}

// recordedEntryPrice ищет цену входа в хранилище; если записей нет,
// в качестве цены входа принимается текущая котировка
func (b *Bot) recordedEntryPrice(ctx context.Context, symbol string, mark float64) float64 {
	if b.store == nil {
		return mark
	}
	price, err := b.store.LastEntryPrice(ctx, symbol)
	if err != nil {
		logger.Warn("не удалось прочитать цену входа из хранилища",
			zap.String("symbol", symbol), zap.Error(err))
		return mark
	}
	if price <= 0 {
		return mark
	}
	return price
}

// selectUniverse отбирает рынки котируемой валюты без предупреждений
// биржи и оставляет топ-N по среднему дневному обороту за 30 дней.
// Дневная история тянется параллельно с ограничением; сбой по одному
// рынку изолируется и соседей не отменяет.
func (b *Bot) selectUniverse(ctx context.Context) ([]string, error) {
	markets, err := b.client.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]string, 0, len(markets))
	for _, m := range markets {
		if m.Warning {
			continue
		}
		candidates = append(candidates, m.Symbol)
	}

	type liquidity struct {
		symbol   string
		turnover float64
	}

	var (
		mu        sync.Mutex
		qualified []liquidity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for _, symbol := range candidates {
		symbol := symbol
		g.Go(func() error {
			candles, err := b.client.DailyCandles(gctx, symbol, 30)
			if err != nil {
				logger.Debug("рынок пропущен: нет дневной истории",
					zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			if len(candles) == 0 {
				return nil
			}
			total := 0.0
			for _, c := range candles {
				total += c.Turnover
			}
			avg := total / float64(len(candles))
			if avg < b.trading.MinDailyTurnover {
				return nil
			}
			mu.Lock()
			qualified = append(qualified, liquidity{symbol: symbol, turnover: avg})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(qualified, func(i, j int) bool {
		if qualified[i].turnover != qualified[j].turnover {
			return qualified[i].turnover > qualified[j].turnover
		}
		return qualified[i].symbol < qualified[j].symbol
	})

	n := b.trading.UniverseSize
	if n > len(qualified) {
		n = len(qualified)
	}
	universe := make([]string, 0, n)
	for _, q := range qualified[:n] {
		universe = append(universe, q.symbol)
	}

	logger.Info("юниверс отобран",
		zap.Int("candidates", len(candidates)),
		zap.Int("selected", len(universe)))
	return universe, nil
}

// generateSignals параллельно тянет свечи и скорит рынки юниверса.
// Сбой одного рынка изолируется; порядок обнаружения сохраняется,
// чтобы сортировка кандидатов была стабильной.
func (b *Bot) generateSignals(ctx context.Context, universe []string) []models.Signal {
	results := make([]*models.Signal, len(universe))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, symbol := range universe {
		i, symbol := i, symbol
		g.Go(func() error {
			candles, err := b.client.RecentCandles(gctx, symbol, b.trading.Interval, b.trading.CandleCount)
			if err != nil {
				logger.Debug("скоринг пропущен: нет свечей",
					zap.String("symbol", symbol), zap.Error(err))
				return nil
			}
			results[i] = b.strategy.GenerateEntrySignal(symbol, candles)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now().UTC()
	signals := make([]models.Signal, 0, len(universe))
	for _, sig := range results {
		if sig == nil {
			continue
		}
		signals = append(signals, *sig)
		if b.store != nil {
			if err := b.store.SaveSignal(ctx, now, *sig); err != nil {
				logger.Warn("не удалось сохранить сигнал", zap.Error(err))
			}
		}
	}

	logger.Info("скоринг завершен",
		zap.Int("universe", len(universe)),
		zap.Int("signals", len(signals)))
	return signals
}

// evaluateExits перепроверяет каждую открытую позицию по свежим свечам и
// закрывает ее полным объемом встречным лимитным ордером. Сбой загрузки
// свечей по одному рынку изолируется; ошибка отправки закрывающего
// ордера поднимается на границу цикла.
func (b *Bot) evaluateExits(ctx context.Context) error {
	b.mu.RLock()
	open := make([]models.PositionSnapshot, 0, len(b.state.Positions))
	for _, pos := range b.state.Positions {
		open = append(open, pos)
	}
	b.mu.RUnlock()

	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	for _, pos := range open {
		candles, err := b.client.RecentCandles(ctx, pos.Symbol, b.trading.Interval, b.trading.CandleCount)
		if err != nil {
			logger.Warn("проверка выхода пропущена: нет свечей",
				zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		if len(candles) == 0 || !b.strategy.ShouldExit(candles, pos) {
			continue
		}

		price := execution.AlignPrice(candles[len(candles)-1].Close)
		result, err := b.execution.SubmitLimitOrder(ctx, pos.Symbol, pos.Side.Opposite(), price, pos.Volume)
		if err != nil {
			return err
		}
		b.saveOrder(ctx, result)

		realized := (price - pos.EntryPrice) * pos.Volume
		if pos.Side == models.SideSell {
			realized = (pos.EntryPrice - price) * pos.Volume
		}
		b.riskEngine.RegisterPnL(realized)

		b.mu.Lock()
		delete(b.state.Positions, pos.Symbol)
		if pos.Side == models.SideBuy {
			b.state.Cash += price * pos.Volume
		} else {
			b.state.Cash -= price * pos.Volume
		}
		b.mu.Unlock()

		logger.Info("позиция закрыта",
			zap.String("symbol", pos.Symbol),
			zap.Float64("price", price),
			zap.Float64("realized", realized))
	}
	return nil
}

// evaluateEntries обрабатывает кандидатов по убыванию |score| (при
// равенстве — в порядке обнаружения) строго последовательно: каждый
// принятый вход потребляет риск-бюджет и кэш, которые видит следующий
// кандидат. Параллелить отправку здесь нельзя. При достигнутом дневном
// лимите убытка новые входы не открываются вовсе.
func (b *Bot) evaluateEntries(ctx context.Context, signals []models.Signal) error {
	ordered := make([]models.Signal, len(signals))
	copy(ordered, signals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return abs(ordered[i].Score) > abs(ordered[j].Score)
	})

	b.mu.Lock()
	b.lastSignals = ordered
	b.mu.Unlock()

	if b.riskEngine.HitDailyLimit(b.CurrentEquity()) {
		logger.Warn("дневной лимит убытка достигнут, новые входы заблокированы")
		return nil
	}

	b.mu.RLock()
	openWeights := b.state.OpenWeights()
	b.mu.RUnlock()

	for _, sig := range ordered {
		if !b.riskEngine.CanOpenNewPosition(sig.Symbol, openWeights) {
			continue
		}

		b.mu.RLock()
		cash := b.state.Cash
		equity := b.state.Equity
		b.mu.RUnlock()

		price, volume, err := b.execution.BuildOrder(ctx, sig.Symbol, sig.Side, sig.Entry, sig.Stop, cash)
		if err != nil {
			logger.Warn("вход пропущен: не удалось построить ордер",
				zap.String("symbol", sig.Symbol), zap.Error(err))
			continue
		}
		if volume <= 0 {
			continue
		}

		result, err := b.execution.SubmitLimitOrder(ctx, sig.Symbol, sig.Side, price, volume)
		if err != nil {
			return err
		}
		b.saveOrder(ctx, result)

		weight := 0.0
		if equity > 0 {
			weight = price * volume / equity
		}
		openWeights[sig.Symbol] += weight

		b.mu.Lock()
		b.state.Cash -= price * volume
		b.state.Positions[sig.Symbol] = models.PositionSnapshot{
			Symbol:     sig.Symbol,
			Side:       sig.Side,
			EntryPrice: price,
			Volume:     volume,
			Stop:       sig.Stop,
			TakeProfit: sig.TakeProfit,
			Trailing:   sig.Trailing,
			OpenedAt:   time.Now().UTC(),
		}
		b.mu.Unlock()

		logger.Info("новый вход",
			zap.String("symbol", sig.Symbol),
			zap.String("side", string(sig.Side)),
			zap.Float64("price", price),
			zap.Float64("volume", volume),
			zap.Float64("score", sig.Score))
	}
	return nil
}

func (b *Bot) saveOrder(ctx context.Context, result models.ExecutionResult) {
	if b.store == nil {
		return
	}
	if err := b.store.SaveOrder(ctx, result); err != nil {
		logger.Warn("не удалось сохранить ордер",
			zap.String("symbol", result.Symbol), zap.Error(err))
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
