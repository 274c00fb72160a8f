package files

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DeleteFunc удаляет объект по ссылке в удалённом хранилище.
type DeleteFunc func(ctx context.Context, ref string) error

type deletion struct {
	id  uuid.UUID
	ref string
}

// DeletionQueue — очередь удаления заменённых файлов «выстрелил и забыл».
// Каждая ссылка ставится не больше одного раза, ошибки только логируются.
type DeletionQueue struct {
	del     DeleteFunc
	timeout time.Duration

	mu      sync.Mutex
	pending []deletion
	seen    map[string]struct{}
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// NewDeletionQueue запускает рабочую горутину. timeout ограничивает одно удаление.
func NewDeletionQueue(del DeleteFunc, timeout time.Duration) *DeletionQueue {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	q := &DeletionQueue{
		del:     del,
		timeout: timeout,
		seen:    make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// QueueDeletion ставит ссылку в очередь и сразу возвращается.
func (q *DeletionQueue) QueueDeletion(ref string) {
	if ref == "" {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		log.WithField("ref", ref).Warn("deletion queue closed, dropping request")
		return
	}
	if _, dup := q.seen[ref]; dup {
		q.mu.Unlock()
		return
	}
	q.seen[ref] = struct{}{}
	q.pending = append(q.pending, deletion{id: uuid.New(), ref: ref})
	// wake закрывается только под q.mu
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
}

// Pending — сколько запросов ещё не обработано.
func (q *DeletionQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close перестаёт принимать запросы, дорабатывает очередь и ждёт горутину.
func (q *DeletionQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.wake)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *DeletionQueue) run() {
	defer close(q.done)
	for range q.wake {
		q.drain()
	}
	q.drain()
}

func (q *DeletionQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		d := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err := q.del(ctx, d.ref)
		cancel()

		entry := log.WithFields(log.Fields{"request": d.id.String(), "ref": d.ref})
		if err != nil {
			entry.WithError(err).Warn("file deletion failed")
			continue
		}
		entry.Debug("file deleted")
	}
}
