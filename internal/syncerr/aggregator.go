package syncerr

import "sync"

// SyncUiState — снимок для UI: флаг синхронизации и ошибки по строкам/колонкам.
type SyncUiState struct {
	IsLoading             bool                             `json:"isLoading"`
	SynchronisationErrors map[int64]map[string][]Descriptor `json:"synchronisationErrors"`
}

// Aggregator единолично владеет картой ошибок rowID -> колонка -> список.
// Все записи идут под одним мьютексом, читатели получают копии.
// Об изменениях подписчикам сообщает владелец (tablestate.Orchestrator), не агрегатор.
type Aggregator struct {
	mu      sync.RWMutex
	loading bool
	errs    map[int64]map[string][]Descriptor
}

func NewAggregator() *Aggregator {
	return &Aggregator{errs: make(map[int64]map[string][]Descriptor)}
}

// Record добавляет ошибку в конец списка [rowID][column].
func (a *Aggregator) Record(rowID int64, column string, d Descriptor) {
	a.mu.Lock()
	byCol := a.errs[rowID]
	if byCol == nil {
		byCol = make(map[string][]Descriptor)
		a.errs[rowID] = byCol
	}
	byCol[column] = append(byCol[column], d.clone())
	a.mu.Unlock()
}

// Replace атомарно подменяет список ошибок ячейки. Пустой список равен удалению.
func (a *Aggregator) Replace(rowID int64, column string, ds []Descriptor) {
	a.mu.Lock()
	if len(ds) == 0 {
		a.clearLocked(rowID, column)
	} else {
		byCol := a.errs[rowID]
		if byCol == nil {
			byCol = make(map[string][]Descriptor)
			a.errs[rowID] = byCol
		}
		cp := make([]Descriptor, len(ds))
		for i, d := range ds {
			cp[i] = d.clone()
		}
		byCol[column] = cp
	}
	a.mu.Unlock()
}

// Clear удаляет ошибки ячейки и подчищает пустые карты. Возвращает, было ли что удалять.
func (a *Aggregator) Clear(rowID int64, column string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clearLocked(rowID, column)
}

// ClearRow удаляет все ошибки строки.
func (a *Aggregator) ClearRow(rowID int64) {
	a.mu.Lock()
	delete(a.errs, rowID)
	a.mu.Unlock()
}

func (a *Aggregator) clearLocked(rowID int64, column string) bool {
	byCol, ok := a.errs[rowID]
	if !ok {
		return false
	}
	_, had := byCol[column]
	delete(byCol, column)
	if len(byCol) == 0 {
		delete(a.errs, rowID)
	}
	return had
}

// SetLoading выставляет глобальный флаг синхронизации.
func (a *Aggregator) SetLoading(v bool) {
	a.mu.Lock()
	a.loading = v
	a.mu.Unlock()
}

// ErrorsFor возвращает копию списка ошибок ячейки (nil, если ошибок нет).
func (a *Aggregator) ErrorsFor(rowID int64, column string) []Descriptor {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src := a.errs[rowID][column]
	if len(src) == 0 {
		return nil
	}
	out := make([]Descriptor, len(src))
	for i, d := range src {
		out[i] = d.clone()
	}
	return out
}

// HasErrors сообщает, есть ли у строки хоть одна ошибка.
func (a *Aggregator) HasErrors(rowID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.errs[rowID]) > 0
}

// Snapshot делает глубокую копию состояния.
func (a *Aggregator) Snapshot() SyncUiState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := SyncUiState{
		IsLoading:             a.loading,
		SynchronisationErrors: make(map[int64]map[string][]Descriptor, len(a.errs)),
	}
	for row, byCol := range a.errs {
		cols := make(map[string][]Descriptor, len(byCol))
		for col, ds := range byCol {
			cp := make([]Descriptor, len(ds))
			for i, d := range ds {
				cp[i] = d.clone()
			}
			cols[col] = cp
		}
		out.SynchronisationErrors[row] = cols
	}
	return out
}
