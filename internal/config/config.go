package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/skalibog/bsat/pkg/models"
)

// Config представляет полную конфигурацию приложения
type Config struct {
	Binance BinanceConfig `yaml:"binance"`
	Trading TradingConfig `yaml:"trading"`
	Risk    models.RiskLimits
	Storage StorageConfig `yaml:"storage"`
	UI      UIConfig      `yaml:"ui"`
}

// BinanceConfig содержит настройки подключения к Binance
type BinanceConfig struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	Testnet   bool   `yaml:"testnet"`
}

// TradingConfig содержит настройки торгового цикла
type TradingConfig struct {
	QuoteCurrency    string  `yaml:"quote_currency"`
	Interval         string  `yaml:"interval"`
	CandleCount      int     `yaml:"candle_count"`
	UniverseSize     int     `yaml:"universe_size"`
	MinDailyTurnover float64 `yaml:"min_daily_turnover"`
	CycleSeconds     int     `yaml:"cycle_seconds"`
	FeeRate          float64 `yaml:"fee_rate"`
}

// StorageConfig содержит настройки хранения данных
type StorageConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// UIConfig содержит настройки терминального интерфейса
type UIConfig struct {
	RefreshRate int `yaml:"refresh_rate_ms"`
}

// rawConfig — промежуточная форма для разбора YAML (риск-лимиты лежат
// в своей секции)
type rawConfig struct {
	Binance BinanceConfig     `yaml:"binance"`
	Trading TradingConfig     `yaml:"trading"`
	Risk    *models.RiskLimits `yaml:"risk"`
	Storage StorageConfig     `yaml:"storage"`
	UI      UIConfig          `yaml:"ui"`
}

// Load загружает конфигурацию из файла и подставляет значения по умолчанию
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ошибка разбора файла конфигурации: %w", err)
	}

	cfg := &Config{
		Binance: raw.Binance,
		Trading: raw.Trading,
		Storage: raw.Storage,
		UI:      raw.UI,
		Risk:    models.DefaultRiskLimits(),
	}
	if raw.Risk != nil {
		cfg.Risk = *raw.Risk
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Trading.QuoteCurrency == "" {
		cfg.Trading.QuoteCurrency = "USDT"
	}
	if cfg.Trading.Interval == "" {
		cfg.Trading.Interval = "5m"
	}
	if cfg.Trading.CandleCount == 0 {
		cfg.Trading.CandleCount = 200
	}
	if cfg.Trading.UniverseSize == 0 {
		cfg.Trading.UniverseSize = 50
	}
	if cfg.Trading.CycleSeconds == 0 {
		cfg.Trading.CycleSeconds = 60
	}
	if cfg.Trading.FeeRate == 0 {
		cfg.Trading.FeeRate = 0.001
	}
	if cfg.UI.RefreshRate == 0 {
		cfg.UI.RefreshRate = 1000
	}
}
