package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/skalibog/bsat/internal/bot"
	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/internal/exchange"
	"github.com/skalibog/bsat/internal/storage"
	"github.com/skalibog/bsat/internal/ui"
	"github.com/skalibog/bsat/pkg/logger"
)

func main() {
	logger.Init()
	defer logger.GetLogger().Sync()

	// Обработка флагов командной строки
	configPath := flag.String("config", "config.yaml", "путь к файлу конфигурации")
	flag.Parse()

	// Проверяем наличие файла конфигурации
	logger.Info("Проверка наличия файла конфигурации", zap.String("path", *configPath))
	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logger.Fatal("Файл конфигурации не найден", zap.String("path", *configPath))
	}

	// Загружаем конфигурацию
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Ошибка загрузки конфигурации", zap.Error(err))
	}

	// Создаем контекст с возможностью отмены через горутину
	ctx, cancel := context.WithCancel(context.Background())

	// Настраиваем обработку сигналов завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nЗавершение работы...")
		cancel()
		time.Sleep(5 * time.Second) // Даем горутинам время на завершение
		os.Exit(0)
	}()

	// Инициализируем хранилище. Бот умеет работать без него, поэтому
	// недоступный InfluxDB не останавливает торговлю.
	var store storage.Storage
	if cfg.Storage.URL != "" {
		influx, err := storage.NewInfluxDBStorage(cfg.Storage)
		if err != nil {
			logger.Warn("Хранилище недоступно, продолжаем без него", zap.Error(err))
		} else {
			defer influx.Close()
			store = influx
		}
	}

	// Инициализируем клиент биржи
	client, err := exchange.NewBinanceClient(cfg.Binance, cfg.Trading)
	if err != nil {
		logger.Fatal("Ошибка инициализации клиента биржи", zap.Error(err))
	}

	// Создаем торгового бота
	tradingBot := bot.New(client, store, cfg.Trading, cfg.Risk)

	// Инициализируем UI
	userInterface, err := ui.NewTermUI(cfg.UI, tradingBot, ctx)
	if err != nil {
		logger.Fatal("Ошибка инициализации пользовательского интерфейса", zap.Error(err))
	}

	// Запускаем торговый цикл в горутине
	go tradingBot.RunForever(ctx, time.Duration(cfg.Trading.CycleSeconds)*time.Second)

	// Запускаем UI в основном потоке (блокирующий вызов)
	// Это последняя инструкция в основном потоке
	userInterface.Start()
}
