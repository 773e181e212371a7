package bot

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/pkg/models"
)

// placedOrder фиксирует параметры отправленного ордера
type placedOrder struct {
	symbol string
	side   models.Side
	price  float64
	volume float64
}

// fakeExchange — управляемый коллаборатор биржи для тестов оркестратора
type fakeExchange struct {
	mu sync.Mutex

	markets     []models.MarketInfo
	tickers     map[string]models.TickerPrice
	recent      map[string][]models.Candle
	recentErr   map[string]error
	daily       map[string][]models.Candle
	dailyErr    map[string]error
	balances    []models.Balance
	constraints models.OrderConstraints

	panicOnBalances bool
	orders          []placedOrder
}

func (f *fakeExchange) ListMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	return f.markets, nil
}

func (f *fakeExchange) Tickers(ctx context.Context, symbols []string) (map[string]models.TickerPrice, error) {
	out := make(map[string]models.TickerPrice)
	for _, s := range symbols {
		if t, ok := f.tickers[s]; ok {
			out[s] = t
		}
	}
	return out, nil
}

func (f *fakeExchange) RecentCandles(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	if err := f.recentErr[symbol]; err != nil {
		return nil, err
	}
	return f.recent[symbol], nil
}

func (f *fakeExchange) DailyCandles(ctx context.Context, symbol string, count int) ([]models.Candle, error) {
	if err := f.dailyErr[symbol]; err != nil {
		return nil, err
	}
	return f.daily[symbol], nil
}

func (f *fakeExchange) AccountBalances(ctx context.Context) ([]models.Balance, error) {
	if f.panicOnBalances {
		panic("имитация паники коллаборатора")
	}
	return f.balances, nil
}

func (f *fakeExchange) OrderConstraints(ctx context.Context, symbol string) (models.OrderConstraints, error) {
	return f.constraints, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, symbol string, side models.Side, price, volume float64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, placedOrder{symbol: symbol, side: side, price: price, volume: volume})
	return "order-1", nil
}

// fakeStore — хранилище в памяти для тестов
type fakeStore struct {
	entryPrices map[string]float64
	orders      []models.ExecutionResult
	signals     []models.Signal
	snapshots   int
}

func (s *fakeStore) SaveOrder(ctx context.Context, order models.ExecutionResult) error {
	s.orders = append(s.orders, order)
	return nil
}

func (s *fakeStore) SaveAccountSnapshot(ctx context.Context, at time.Time, equity, cash float64, positions int) error {
	s.snapshots++
	return nil
}

func (s *fakeStore) SaveSignal(ctx context.Context, at time.Time, signal models.Signal) error {
	s.signals = append(s.signals, signal)
	return nil
}

func (s *fakeStore) LastEntryPrice(ctx context.Context, symbol string) (float64, error) {
	return s.entryPrices[symbol], nil
}

func (s *fakeStore) Close() {}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		QuoteCurrency:    "USDT",
		Interval:         "5m",
		CandleCount:      200,
		UniverseSize:     10,
		MinDailyTurnover: 0,
		CycleSeconds:     60,
		FeeRate:          0,
	}
}

// trendCandles строит ряд с линейным трендом closes[i] = start + step*i
func trendCandles(symbol string, n int, start, step float64) []models.Candle {
	candles := make([]models.Candle, n)
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		close := start + step*float64(i)
		candles[i] = models.Candle{
			Symbol:    symbol,
			Timestamp: ts.Add(time.Duration(i) * 5 * time.Minute),
			Open:      close - step,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    1000,
			Turnover:  1000 * close,
		}
	}
	return candles
}

func dailyCandles(symbol string, n int, turnover float64) []models.Candle {
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{Symbol: symbol, Turnover: turnover}
	}
	return candles
}

func TestRefreshPortfolioEquityInvariant(t *testing.T) {
	client := &fakeExchange{
		balances: []models.Balance{
			{Currency: "USDT", Free: 1000, Locked: 500},
			{Currency: "BTC", Free: 2, AvgPrice: 90},
		},
		tickers: map[string]models.TickerPrice{
			"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: 100},
		},
	}
	b := New(client, nil, testTradingConfig(), models.DefaultRiskLimits())

	if err := b.refreshPortfolio(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	snap := b.Snapshot()
	if snap.Cash != 1500 {
		t.Errorf("кэш %v, ожидалось 1500", snap.Cash)
	}

	// Инвариант пересборки: equity == cash + sum(mark * volume)
	markValue := 0.0
	for _, pos := range snap.Positions {
		markValue += 100 * pos.Volume
	}
	if math.Abs(snap.Equity-(snap.Cash+markValue)) > 1e-9 {
		t.Errorf("equity %v != cash %v + стоимость позиций %v", snap.Equity, snap.Cash, markValue)
	}

	pos, ok := snap.Positions["BTCUSDT"]
	if !ok {
		t.Fatal("позиция BTCUSDT не восстановлена")
	}
	if pos.EntryPrice != 90 || pos.Volume != 2 || pos.Side != models.SideBuy {
		t.Errorf("неожиданная позиция: %+v", pos)
	}
}

func TestRefreshPortfolioEntryFromStorage(t *testing.T) {
	client := &fakeExchange{
		balances: []models.Balance{
			{Currency: "USDT", Free: 1000},
			{Currency: "BTC", Free: 1}, // биржа не отдала среднюю цену
		},
		tickers: map[string]models.TickerPrice{
			"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: 100},
		},
	}
	store := &fakeStore{entryPrices: map[string]float64{"BTCUSDT": 85}}
	b := New(client, store, testTradingConfig(), models.DefaultRiskLimits())

	if err := b.refreshPortfolio(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	pos := b.Snapshot().Positions["BTCUSDT"]
	if pos.EntryPrice != 85 {
		t.Errorf("цена входа %v, ожидалась 85 из хранилища", pos.EntryPrice)
	}
	if store.snapshots != 1 {
		t.Errorf("снапшотов счета %d, ожидался 1", store.snapshots)
	}
}

func TestRefreshPortfolioSkipsUnpriceable(t *testing.T) {
	client := &fakeExchange{
		balances: []models.Balance{
			{Currency: "USDT", Free: 1000},
			{Currency: "XYZ", Free: 5}, // нет ни котировки, ни средней цены
		},
	}
	b := New(client, nil, testTradingConfig(), models.DefaultRiskLimits())

	if err := b.refreshPortfolio(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	snap := b.Snapshot()
	if len(snap.Positions) != 0 {
		t.Errorf("восстановлено %d позиций, ожидалось 0", len(snap.Positions))
	}
	if snap.Equity != 1000 {
		t.Errorf("equity %v, ожидалось 1000 (только кэш)", snap.Equity)
	}
}

func TestSelectUniverseRankingAndIsolation(t *testing.T) {
	trading := testTradingConfig()
	trading.UniverseSize = 2
	trading.MinDailyTurnover = 50

	client := &fakeExchange{
		markets: []models.MarketInfo{
			{Symbol: "AAAUSDT"},
			{Symbol: "BBBUSDT"},
			{Symbol: "CCCUSDT"},
			{Symbol: "DDDUSDT"},
			{Symbol: "EEEUSDT", Warning: true}, // проблемный рынок отсекается
		},
		daily: map[string][]models.Candle{
			"AAAUSDT": dailyCandles("AAAUSDT", 30, 100),
			"BBBUSDT": dailyCandles("BBBUSDT", 30, 300),
			"CCCUSDT": dailyCandles("CCCUSDT", 30, 10), // ниже порога оборота
			"EEEUSDT": dailyCandles("EEEUSDT", 30, 900),
		},
		dailyErr: map[string]error{
			"DDDUSDT": context.DeadlineExceeded, // сбой одного рынка изолируется
		},
	}
	b := New(client, nil, trading, models.DefaultRiskLimits())

	universe, err := b.selectUniverse(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	want := []string{"BBBUSDT", "AAAUSDT"}
	if len(universe) != len(want) {
		t.Fatalf("юниверс %v, ожидался %v", universe, want)
	}
	for i := range want {
		if universe[i] != want[i] {
			t.Errorf("юниверс %v, ожидался %v", universe, want)
			break
		}
	}
}

func TestGenerateSignalsIsolatesFetchFailure(t *testing.T) {
	client := &fakeExchange{
		recent: map[string][]models.Candle{
			"BBBUSDT": trendCandles("BBBUSDT", 80, 100, 1),
		},
		recentErr: map[string]error{
			"AAAUSDT": context.DeadlineExceeded,
		},
	}
	b := New(client, nil, testTradingConfig(), models.DefaultRiskLimits())

	signals := b.generateSignals(context.Background(), []string{"AAAUSDT", "BBBUSDT"})
	if len(signals) != 1 {
		t.Fatalf("сигналов %d, ожидался 1", len(signals))
	}
	if signals[0].Symbol != "BBBUSDT" || signals[0].Side != models.SideBuy {
		t.Errorf("неожиданный сигнал: %+v", signals[0])
	}
}

func TestCycleDailyLimitBlocksEntriesButNotExits(t *testing.T) {
	// Убыточный выход в этом же цикле пробивает дневной лимит:
	// закрывающий ордер уходит, новые входы блокируются
	client := &fakeExchange{
		markets: []models.MarketInfo{{Symbol: "ETHUSDT"}},
		balances: []models.Balance{
			{Currency: "USDT", Free: 1000},
			{Currency: "BTC", Free: 10, AvgPrice: 200},
		},
		tickers: map[string]models.TickerPrice{
			"BTCUSDT": {Symbol: "BTCUSDT", LastPrice: 100},
		},
		daily: map[string][]models.Candle{
			"ETHUSDT": dailyCandles("ETHUSDT", 30, 1000),
		},
		recent: map[string][]models.Candle{
			// Падение до 90 — ниже стопа восстановленной позиции
			"BTCUSDT": trendCandles("BTCUSDT", 80, 169, -1),
			// Восходящий тренд дает кандидата на вход
			"ETHUSDT": trendCandles("ETHUSDT", 80, 100, 1),
		},
		constraints: models.OrderConstraints{MinNotional: 10},
	}
	b := New(client, nil, testTradingConfig(), models.DefaultRiskLimits())

	if err := b.RunCycle(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка цикла: %v", err)
	}

	if len(client.orders) != 1 {
		t.Fatalf("ордеров %d, ожидался ровно один закрывающий", len(client.orders))
	}
	order := client.orders[0]
	if order.symbol != "BTCUSDT" || order.side != models.SideSell || order.volume != 10 {
		t.Errorf("неожиданный закрывающий ордер: %+v", order)
	}

	snap := b.Snapshot()
	if _, ok := snap.Positions["BTCUSDT"]; ok {
		t.Error("закрытая позиция осталась в состоянии")
	}
	if math.Abs(snap.Cash-(1000+order.price*10)) > 1e-6 {
		t.Errorf("кэш %v не пополнен выручкой закрытия", snap.Cash)
	}

	// Сигналы цикла сохраняются даже при заблокированных входах
	signals := b.LastSignals()
	if len(signals) == 0 || signals[0].Symbol != "ETHUSDT" {
		t.Errorf("сигналы последнего цикла: %+v", signals)
	}
}

func TestEntriesOrderedByScoreConsumeBudget(t *testing.T) {
	// Два кандидата, бюджета хватает на одного: первым входит рынок с
	// большим |score|, его вес исчерпывает лимит экспозиции
	limits := models.DefaultRiskLimits()
	limits.MaxExposurePct = 0.5

	client := &fakeExchange{
		markets: []models.MarketInfo{
			{Symbol: "AAAUSDT"},
			{Symbol: "BBBUSDT"},
		},
		balances: []models.Balance{{Currency: "USDT", Free: 1000}},
		daily: map[string][]models.Candle{
			// Обнаружение в порядке оборота: AAA раньше BBB
			"AAAUSDT": dailyCandles("AAAUSDT", 30, 500),
			"BBBUSDT": dailyCandles("BBBUSDT", 30, 100),
		},
		recent: map[string][]models.Candle{
			"AAAUSDT": trendCandles("AAAUSDT", 80, 100, 1),
			"BBBUSDT": trendCandles("BBBUSDT", 80, 100, 2), // круче тренд — выше скор
		},
		constraints: models.OrderConstraints{MinNotional: 600},
	}
	b := New(client, nil, testTradingConfig(), limits)

	if err := b.RunCycle(context.Background()); err != nil {
		t.Fatalf("неожиданная ошибка цикла: %v", err)
	}

	if len(client.orders) != 1 {
		t.Fatalf("ордеров %d, ожидался один", len(client.orders))
	}
	order := client.orders[0]
	if order.symbol != "BBBUSDT" || order.side != models.SideBuy {
		t.Errorf("первым должен входить рынок с большим скором: %+v", order)
	}

	snap := b.Snapshot()
	if _, ok := snap.Positions["BBBUSDT"]; !ok {
		t.Error("позиция BBBUSDT не открыта")
	}
	if _, ok := snap.Positions["AAAUSDT"]; ok {
		t.Error("позиция AAAUSDT открыта сверх лимита экспозиции")
	}
	// Кэш уменьшен на стоимость входа
	if math.Abs(snap.Cash-(1000-order.price*order.volume)) > 1e-6 {
		t.Errorf("кэш %v не согласован со стоимостью входа", snap.Cash)
	}

	signals := b.LastSignals()
	if len(signals) != 2 || signals[0].Symbol != "BBBUSDT" {
		t.Errorf("сигналы не отсортированы по |score|: %+v", signals)
	}
}

func TestRunCycleSafeRecoversPanic(t *testing.T) {
	client := &fakeExchange{panicOnBalances: true}
	b := New(client, nil, testTradingConfig(), models.DefaultRiskLimits())

	// Паника коллаборатора не должна выйти за пределы цикла
	b.runCycleSafe(context.Background())
}
