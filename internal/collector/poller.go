package collector

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Poller — Producer, который опрашивает Fetch с заданным интервалом.
// Первый опрос — сразу после Start. Ошибки Fetch пишутся в лог и пропускаются.
type Poller[T any] struct {
	Interval time.Duration
	Fetch    func(ctx context.Context) (T, error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *Poller[T]) Start(emit func(T)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, emit, p.done)
}

func (p *Poller[T]) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *Poller[T]) loop(ctx context.Context, emit func(T), done chan struct{}) {
	defer close(done)
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := p.Fetch(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("poller: fetch failed")
		} else {
			emit(v)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
