package column

import "tablesync/internal/dsl"

// UiState — колонка вместе с текущим значением ячейки.
// Name/Type/Width продублированы из модели для отрисовки.
type UiState struct {
	Model dsl.Column
	Value Value
	Name  string
	Type  dsl.ColumnType
	Width int
}

// NewUiState связывает модель колонки со значением.
func NewUiState(c dsl.Column, v Value) UiState {
	return UiState{Model: c, Value: v, Name: c.Name, Type: c.Type, Width: c.Width}
}

// With возвращает копию с новым значением.
func (s UiState) With(v Value) UiState {
	s.Value = v
	return s
}

// FetchStatus — результат загрузки таблицы. Из Undetermined переходит один раз.
type FetchStatus int

const (
	Undetermined FetchStatus = iota
	Success
	NotFound
)

func (s FetchStatus) String() string {
	switch s {
	case Success:
		return "success"
	case NotFound:
		return "not_found"
	default:
		return "undetermined"
	}
}

// TableUiState — то, что видит слой представления.
type TableUiState struct {
	IsFetching bool
	Model      *dsl.Table
	Columns    []UiState
	Status     FetchStatus
}

// ToUiState строит по одной ячейке на колонку, значения — Default(тип).
// nil-таблица даёт NotFound и пустой список колонок.
func ToUiState(t *dsl.Table, isFetching bool) TableUiState {
	if t == nil {
		return TableUiState{IsFetching: isFetching, Columns: []UiState{}, Status: NotFound}
	}
	cols := make([]UiState, 0, len(t.Columns))
	for _, c := range t.Columns {
		cols = append(cols, NewUiState(c, Default(c.Type)))
	}
	return TableUiState{IsFetching: isFetching, Model: t, Columns: cols, Status: Success}
}
