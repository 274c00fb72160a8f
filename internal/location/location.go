package location

import (
	"context"
	"errors"
	"time"

	"tablesync/internal/collector"
)

// Data — координаты устройства.
type Data struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Provider — внешний источник координат (GPS, сеть, заглушка).
type Provider interface {
	Locate(ctx context.Context) (Data, error)
}

// ProviderFunc позволяет передать функцию как Provider.
type ProviderFunc func(ctx context.Context) (Data, error)

func (f ProviderFunc) Locate(ctx context.Context) (Data, error) { return f(ctx) }

// Collector — общий на приложение мультиплексор геолокации.
type Collector = collector.Multiplexer[Data]

// NewCollector опрашивает provider с интервалом, пока есть хоть один слушатель.
func NewCollector(provider Provider, interval time.Duration) *Collector {
	return collector.New[Data]("location", &collector.Poller[Data]{
		Interval: interval,
		Fetch:    provider.Locate,
	})
}

// ErrNoFix — координаты не пришли до истечения ctx.
var ErrNoFix = errors.New("location: no fix")

// Current берёт текущие координаты: временно подписывается и ждёт первое значение.
// Если источник уже активен, значение придёт сразу.
func Current(ctx context.Context, c *Collector) (Data, error) {
	ch := make(chan Data, 1)
	h := c.AddListener(func(d Data) {
		select {
		case ch <- d:
		default:
		}
	})
	defer c.RemoveListener(h)

	select {
	case d := <-ch:
		return d, nil
	case <-ctx.Done():
		return Data{}, ErrNoFix
	}
}
