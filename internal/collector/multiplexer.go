package collector

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// Producer — дорогой общий источник значений (например, геолокация).
// Start начинает отдавать значения в emit, Stop их прекращает.
// Multiplexer вызывает Start/Stop строго поочерёдно и из одной горутины.
type Producer[T any] interface {
	Start(emit func(T))
	Stop()
}

// State — жизненный цикл источника.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Handle идентифицирует зарегистрированного слушателя.
type Handle uint64

type lifecycleOp struct {
	start bool
	exit  bool
	gen   uint64
}

// Multiplexer раздаёт значения одного Producer многим слушателям.
// Источник запускается, когда появляется первый слушатель, и останавливается,
// когда уходит последний. Start/Stop выполняются в собственной горутине,
// поэтому AddListener/RemoveListener не блокируются на источнике.
type Multiplexer[T any] struct {
	producer Producer[T]
	name     string

	mu        sync.Mutex
	subs      []*subscriber[T] // в порядке регистрации
	nextID    Handle
	latest    T
	hasLatest bool
	state     State
	gen       uint64
	closed    bool
	ops       []lifecycleOp

	wake chan struct{}
	done chan struct{}
}

// New создаёт мультиплексор и запускает его управляющую горутину. Остановка — Close.
func New[T any](name string, p Producer[T]) *Multiplexer[T] {
	m := &Multiplexer[T]{
		producer: p,
		name:     name,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

// AddListener регистрирует слушателя. Если последнее значение уже известно,
// слушатель получит его сразу, не дожидаясь следующего.
func (m *Multiplexer[T]) AddListener(fn func(T)) Handle {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0
	}
	m.nextID++
	sub := newSubscriber(m.nextID, fn)
	m.subs = append(m.subs, sub)
	if m.hasLatest {
		sub.offer(m.latest)
	}
	if m.state == Idle {
		m.state = Active
		m.gen++
		m.enqueueLocked(lifecycleOp{start: true, gen: m.gen})
	}
	m.mu.Unlock()

	go sub.loop()
	return sub.id
}

// RemoveListener снимает слушателя. Неизвестный handle — не ошибка.
// Уже начатая доставка завершится, новых не будет.
func (m *Multiplexer[T]) RemoveListener(h Handle) {
	m.mu.Lock()
	idx := -1
	for i, s := range m.subs {
		if s.id == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	sub := m.subs[idx]
	m.subs = append(m.subs[:idx:idx], m.subs[idx+1:]...)
	if len(m.subs) == 0 && m.state == Active {
		m.state = Idle
		m.hasLatest = false
		var zero T
		m.latest = zero
		m.enqueueLocked(lifecycleOp{start: false})
	}
	m.mu.Unlock()

	sub.stop()
}

// State возвращает текущее состояние (Idle/Active).
func (m *Multiplexer[T]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Listeners — число зарегистрированных слушателей.
func (m *Multiplexer[T]) Listeners() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Latest возвращает последнее известное значение, пока источник активен.
func (m *Multiplexer[T]) Latest() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest, m.hasLatest
}

// Close снимает всех слушателей, останавливает источник и дожидается управляющей горутины.
func (m *Multiplexer[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	if m.state == Active {
		m.state = Idle
		m.hasLatest = false
		m.enqueueLocked(lifecycleOp{start: false})
	}
	m.enqueueLocked(lifecycleOp{exit: true})
	m.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	<-m.done
}

func (m *Multiplexer[T]) enqueueLocked(op lifecycleOp) {
	m.ops = append(m.ops, op)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Multiplexer[T]) run() {
	defer close(m.done)
	logger := log.WithField("collector", m.name)
	for range m.wake {
		for {
			m.mu.Lock()
			if len(m.ops) == 0 {
				m.mu.Unlock()
				break
			}
			op := m.ops[0]
			m.ops = m.ops[1:]
			m.mu.Unlock()

			switch {
			case op.exit:
				return
			case op.start:
				gen := op.gen
				logger.Debug("producer start")
				m.producer.Start(func(v T) { m.publish(gen, v) })
			default:
				logger.Debug("producer stop")
				m.producer.Stop()
			}
		}
	}
}

// publish рассылает значение всем, кто зарегистрирован в момент рассылки.
// Значения от уже остановленного запуска источника отбрасываются.
func (m *Multiplexer[T]) publish(gen uint64, v T) {
	m.mu.Lock()
	if m.state != Active || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.latest = v
	m.hasLatest = true
	subs := make([]*subscriber[T], len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, s := range subs {
		s.offer(v)
	}
}

// subscriber — почтовый ящик одного слушателя со своей горутиной доставки,
// чтобы медленный слушатель не задерживал остальных.
type subscriber[T any] struct {
	id   Handle
	fn   func(T)
	wake chan struct{}
	quit chan struct{}

	mu      sync.Mutex
	queue   []T
	removed bool
}

func newSubscriber[T any](id Handle, fn func(T)) *subscriber[T] {
	return &subscriber[T]{
		id:   id,
		fn:   fn,
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
}

func (s *subscriber[T]) offer(v T) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) loop() {
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.removed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			v := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.fn(v)
		}
	}
}

func (s *subscriber[T]) stop() {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return
	}
	s.removed = true
	s.queue = nil
	s.mu.Unlock()
	close(s.quit)
}
