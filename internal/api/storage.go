package api

import (
	"context"
	"sync"
	"time"

	"tablesync/internal/dsl"
	"tablesync/internal/files"

	"github.com/oklog/ulid/v2"
)

type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data"`
}

// RowSink — дополнительная запись строк во внешнюю БД (Postgres).
type RowSink interface {
	InsertRow(ctx context.Context, t *dsl.Table, id string, data map[string]any) error
}

type Storage struct {
	mu     sync.RWMutex
	Tables map[string]*dsl.Table         // ID ("module.name") -> схема
	Data   map[string]map[string]*Record // ID -> id записи -> запись

	Files *files.Uploader // nil — файлы не принимаем
	Sink  RowSink         // nil — только память
}

// NewStorage наполняет схемы и готов к работе
func NewStorage(tables map[string]*dsl.Table, uploader *files.Uploader) *Storage {
	return &Storage{
		Tables: tables,
		Data:   make(map[string]map[string]*Record),
		Files:  uploader,
	}
}

func newID() string {
	return ulid.Make().String()
}

// Table возвращает схему под read-lock.
func (s *Storage) Table(id string) (*dsl.Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.Tables[id]
	return t, ok
}

// Insert сохраняет уже провалидированную строку. Sink вызывается до записи в память:
// если БД отказала, строки нет нигде.
func (s *Storage) Insert(ctx context.Context, t *dsl.Table, data map[string]any) (*Record, error) {
	id := newID()

	for _, c := range t.Columns {
		if c.Type == dsl.TypeID {
			data[c.DBName] = id
		}
	}
	if s.Sink != nil {
		if err := s.Sink.InsertRow(ctx, t, id, data); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	rec := &Record{ID: id, Version: 1, CreatedAt: now, UpdatedAt: now, Data: data}

	s.mu.Lock()
	if s.Data[t.ID] == nil {
		s.Data[t.ID] = make(map[string]*Record)
	}
	s.Data[t.ID][id] = rec
	s.mu.Unlock()
	return rec, nil
}

// Rows возвращает записи таблицы, отсортированные по id (ULID ~ по времени создания).
func (s *Storage) Rows(tableID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byID := s.Data[tableID]
	out := make([]*Record, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

// Row возвращает одну запись.
func (s *Storage) Row(tableID, id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.Data[tableID][id]
	return r, ok
}

// ReplaceTables атомарно меняет схемы (admin reload).
func (s *Storage) ReplaceTables(tables map[string]*dsl.Table) {
	s.mu.Lock()
	s.Tables = tables
	s.mu.Unlock()
}
