// Package storage сохраняет результат работы бота: отправленные ордера,
// снапшоты счета и сигналы. Для ядра это нисходящий потребитель — сбой
// записи логируется и не останавливает цикл.
package storage

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/skalibog/bsat/internal/config"
	"github.com/skalibog/bsat/pkg/models"
)

// Storage интерфейс для работы с хранилищем данных
type Storage interface {
	// SaveOrder сохраняет запись об отправленном ордере
	SaveOrder(ctx context.Context, order models.ExecutionResult) error

	// SaveAccountSnapshot сохраняет снапшот счета после пересборки портфеля
	SaveAccountSnapshot(ctx context.Context, at time.Time, equity, cash float64, positions int) error

	// SaveSignal сохраняет сгенерированный сигнал входа
	SaveSignal(ctx context.Context, at time.Time, signal models.Signal) error

	// LastEntryPrice возвращает цену последнего входного ордера по рынку
	// (0, если записей нет) — используется для восстановления цены входа,
	// когда биржа не отдает среднюю цену покупки
	LastEntryPrice(ctx context.Context, symbol string) (float64, error)

	Close()
}

// InfluxDBStorage реализует интерфейс Storage с использованием InfluxDB
type InfluxDBStorage struct {
	client   influxdb2.Client
	queryAPI api.QueryAPI
	writeAPI api.WriteAPI
	org      string
	bucket   string
}

// NewInfluxDBStorage создает новое хранилище InfluxDB
func NewInfluxDBStorage(cfg config.StorageConfig) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Проверка соединения
	health, err := client.Health(context.Background())
	if err != nil {
		return nil, fmt.Errorf("ошибка соединения с InfluxDB: %w", err)
	}
	if health == nil || health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB не в состоянии 'pass': %+v", health)
	}

	queryAPI := client.QueryAPI(cfg.Organization)
	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	return &InfluxDBStorage{
		client:   client,
		queryAPI: queryAPI,
		writeAPI: writeAPI,
		org:      cfg.Organization,
		bucket:   cfg.Bucket,
	}, nil
}

// Close закрывает соединение с базой данных
func (s *InfluxDBStorage) Close() {
	s.client.Close()
}

// SaveOrder сохраняет запись об отправленном ордере
func (s *InfluxDBStorage) SaveOrder(ctx context.Context, order models.ExecutionResult) error {
	point := influxdb2.NewPoint(
		"orders",
		map[string]string{
			"symbol": order.Symbol,
			"side":   string(order.Side),
		},
		map[string]interface{}{
			"order_id": order.OrderID,
			"price":    order.Price,
			"volume":   order.Volume,
			"status":   order.Status,
		},
		order.CreatedAt,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// SaveAccountSnapshot сохраняет снапшот счета
func (s *InfluxDBStorage) SaveAccountSnapshot(ctx context.Context, at time.Time, equity, cash float64, positions int) error {
	point := influxdb2.NewPoint(
		"account",
		map[string]string{},
		map[string]interface{}{
			"equity":    equity,
			"cash":      cash,
			"positions": positions,
		},
		at,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// SaveSignal сохраняет сгенерированный сигнал
func (s *InfluxDBStorage) SaveSignal(ctx context.Context, at time.Time, signal models.Signal) error {
	point := influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol": signal.Symbol,
			"side":   string(signal.Side),
		},
		map[string]interface{}{
			"score":       signal.Score,
			"entry":       signal.Entry,
			"stop":        signal.Stop,
			"take_profit": signal.TakeProfit,
		},
		at,
	)

	s.writeAPI.WritePoint(point)
	s.writeAPI.Flush()

	return nil
}

// LastEntryPrice возвращает цену последнего входного (buy) ордера по рынку
func (s *InfluxDBStorage) LastEntryPrice(ctx context.Context, symbol string) (float64, error) {
	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -30d)
			|> filter(fn: (r) => r._measurement == "orders")
			|> filter(fn: (r) => r.symbol == "%s")
			|> filter(fn: (r) => r.side == "buy")
			|> filter(fn: (r) => r._field == "price")
			|> sort(columns: ["_time"], desc: true)
			|> limit(n: 1)
	`, s.bucket, symbol)

	result, err := s.queryAPI.Query(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("ошибка запроса последнего ордера: %w", err)
	}

	var price float64
	for result.Next() {
		record := result.Record()
		price, _ = record.Value().(float64)
	}

	if result.Err() != nil {
		return 0, fmt.Errorf("ошибка при обработке результатов: %w", result.Err())
	}

	return price, nil
}
