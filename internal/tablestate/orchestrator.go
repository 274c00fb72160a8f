// Package tablestate собирает модель колонок, подготовку значений, файлы, ошибки синхронизации
// и геолокацию в одно наблюдаемое состояние таблицы.
package tablestate

import (
	"context"
	"errors"
	"sync"
	"time"

	"tablesync/internal/column"
	"tablesync/internal/dsl"
	"tablesync/internal/location"
	"tablesync/internal/syncerr"

	log "github.com/sirupsen/logrus"
)

// Remote — удалённое хранилище: схема таблицы и запись строк (ключи строки — DBName).
// FetchTable возвращает (nil, nil), если таблицы нет.
type Remote interface {
	FetchTable(ctx context.Context, tableID string) (*dsl.Table, error)
	WriteRow(ctx context.Context, tableID string, row map[string]any) (map[string]any, error)
}

// FieldRejection — отказ сервера по полям; ключи — DBName колонок.
type FieldRejection interface {
	error
	Descriptors() map[string][]syncerr.Descriptor
}

// RowColumn — ключ ошибок, которые относятся к строке целиком.
const RowColumn = "_row"

var (
	ErrNoTable       = errors.New("table is not loaded")
	ErrUnknownRow    = errors.New("unknown row")
	ErrUnknownColumn = errors.New("unknown column")
	ErrTypeMismatch  = errors.New("value does not match column type")
	ErrRowBusy       = errors.New("row write in progress")
)

type Options struct {
	Files         column.FileOps
	Location      *location.Collector // nil — без координат
	LocationWait  time.Duration
	UploadTimeout time.Duration
	User          string
	Now           func() time.Time
	// Parallel ограничивает число одновременно подготавливаемых ячеек строки.
	Parallel int
}

// row — черновик строки. Нефайловые ячейки хранят ввод как есть: ограничения сворачиваются
// заново при каждой записи. Файловые хранят прогресс загрузки.
type row struct {
	id        int64
	cells     []column.UiState
	ctx       context.Context
	cancel    context.CancelFunc
	busy      bool
	uploading map[string]bool
	invalid   map[string]bool // ввод, который не удалось разобрать
	// sending — WriteRow в полёте; unsure — какая-то запись могла дойти до сервера.
	// В обоих случаях загруженные файлы строки могут быть уже на него сохранены.
	sending bool
	unsure  bool
}

// RowState — снимок строки для представления.
type RowState struct {
	ID    int64
	Cells []column.UiState
	Busy  bool
	Files map[string]column.FileState // состояние файловых ячеек, с учётом загрузок в полёте
}

// State — всё, что видит слой представления. Table.Columns — ячейки последней строки.
type State struct {
	Table column.TableUiState
	Rows  []RowState
	Sync  syncerr.SyncUiState
}

type Orchestrator struct {
	tableID string
	remote  Remote
	opts    Options
	errs    *syncerr.Aggregator

	mu       sync.Mutex
	fetching bool
	status   column.FetchStatus
	model    *dsl.Table
	rows     map[int64]*row
	order    []int64
	nextID   int64
	inflight int
	last     map[string]column.Value

	wmu      sync.Mutex
	watchers map[int]func(State)
	nextW    int
}

func New(tableID string, remote Remote, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LocationWait <= 0 {
		opts.LocationWait = 2 * time.Second
	}
	if opts.Parallel <= 0 {
		opts.Parallel = 4
	}
	return &Orchestrator{
		tableID:  tableID,
		remote:   remote,
		opts:     opts,
		errs:     syncerr.NewAggregator(),
		rows:     make(map[int64]*row),
		last:     make(map[string]column.Value),
		watchers: make(map[int]func(State)),
	}
}

// Errors — агрегатор ошибок синхронизации (только чтение снаружи).
func (o *Orchestrator) Errors() *syncerr.Aggregator { return o.errs }

// Watch подписывает fn на снимки состояния после каждого изменения. Возвращает отписку.
// fn может вызываться из разных горутин.
func (o *Orchestrator) Watch(fn func(State)) (cancel func()) {
	o.wmu.Lock()
	id := o.nextW
	o.nextW++
	o.watchers[id] = fn
	o.wmu.Unlock()
	return func() {
		o.wmu.Lock()
		delete(o.watchers, id)
		o.wmu.Unlock()
	}
}

func (o *Orchestrator) notify() {
	o.wmu.Lock()
	fns := make([]func(State), 0, len(o.watchers))
	for _, fn := range o.watchers {
		fns = append(fns, fn)
	}
	o.wmu.Unlock()
	if len(fns) == 0 {
		return
	}
	st := o.State()
	for _, fn := range fns {
		fn(st)
	}
}

// State возвращает согласованный снимок.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := State{Table: o.tableStateLocked(), Rows: make([]RowState, 0, len(o.order))}
	for _, id := range o.order {
		st.Rows = append(st.Rows, o.rows[id].snapshot())
	}
	st.Sync = o.errs.Snapshot()
	return st
}

func (r *row) snapshot() RowState {
	rs := RowState{ID: r.id, Cells: append([]column.UiState(nil), r.cells...), Busy: r.busy}
	for _, c := range r.cells {
		f, ok := c.Value.(column.File)
		if !ok {
			continue
		}
		if rs.Files == nil {
			rs.Files = make(map[string]column.FileState)
		}
		if r.uploading[c.Name] {
			rs.Files[c.Name] = column.FileUploading
		} else {
			rs.Files[c.Name] = column.StateOf(f)
		}
	}
	return rs
}

func (o *Orchestrator) tableStateLocked() column.TableUiState {
	ts := column.ToUiState(o.model, o.fetching)
	if o.status == column.Undetermined {
		ts.Status = column.Undetermined
	}
	if n := len(o.order); n > 0 {
		ts.Columns = append([]column.UiState(nil), o.rows[o.order[n-1]].cells...)
	}
	return ts
}

// Load получает схему таблицы. Статус определяется один раз: повторные вызовы отдают текущее состояние.
// Ошибка транспорта тоже даёт NotFound.
func (o *Orchestrator) Load(ctx context.Context) (column.TableUiState, error) {
	o.mu.Lock()
	if o.status != column.Undetermined || o.fetching {
		ts := o.tableStateLocked()
		o.mu.Unlock()
		return ts, nil
	}
	o.fetching = true
	o.mu.Unlock()
	o.notify()

	t, err := o.remote.FetchTable(ctx, o.tableID)

	o.mu.Lock()
	o.fetching = false
	if err == nil && t != nil {
		o.model, o.status = t, column.Success
	} else {
		o.status = column.NotFound
	}
	ts := o.tableStateLocked()
	o.mu.Unlock()
	o.notify()

	if err != nil {
		log.WithError(err).WithField("table", o.tableID).Warn("table fetch failed")
	}
	return ts, err
}

// NewRow заводит строку со значениями по умолчанию; колонки с remember берут последнее записанное.
func (o *Orchestrator) NewRow() (int64, error) {
	o.mu.Lock()
	if o.status != column.Success {
		o.mu.Unlock()
		return 0, ErrNoTable
	}
	cells := column.ToUiState(o.model, false).Columns
	for i, c := range cells {
		if v, ok := o.last[c.Name]; ok && c.Model.Remember {
			cells[i] = c.With(v)
		}
	}
	o.nextID++
	ctx, cancel := context.WithCancel(context.Background())
	r := &row{id: o.nextID, cells: cells, ctx: ctx, cancel: cancel, uploading: map[string]bool{}, invalid: map[string]bool{}}
	o.rows[r.id] = r
	o.order = append(o.order, r.id)
	o.mu.Unlock()

	o.notify()
	return r.id, nil
}

// Row возвращает копию ячеек строки.
func (o *Orchestrator) Row(rowID int64) ([]column.UiState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rows[rowID]
	if !ok {
		return nil, false
	}
	return append([]column.UiState(nil), r.cells...), true
}

// editable находит свободную строку и индекс колонки. Вызывается под o.mu.
func (o *Orchestrator) editable(rowID int64, name string) (*row, int, error) {
	r, ok := o.rows[rowID]
	if !ok {
		return nil, 0, ErrUnknownRow
	}
	if r.busy {
		return nil, 0, ErrRowBusy
	}
	for i, c := range r.cells {
		if c.Name == name {
			return r, i, nil
		}
	}
	return nil, 0, ErrUnknownColumn
}

func (o *Orchestrator) mutate(rowID int64, name string, fn func(r *row, i int) error) error {
	o.mu.Lock()
	r, i, err := o.editable(rowID, name)
	if err == nil {
		err = fn(r, i)
	}
	o.mu.Unlock()
	if err == nil {
		o.notify()
	}
	return err
}

// Edit заменяет значение ячейки. Прежние ошибки ячейки снимаются: значение уже другое.
func (o *Orchestrator) Edit(rowID int64, name string, v column.Value) error {
	return o.mutate(rowID, name, func(r *row, i int) error {
		if !column.Matches(r.cells[i].Type, v) {
			return ErrTypeMismatch
		}
		r.cells[i] = r.cells[i].With(v)
		o.accepted(r, name)
		return nil
	})
}

// accepted снимает ошибки ячейки после нового значения. Вызывается под o.mu.
func (o *Orchestrator) accepted(r *row, name string) {
	delete(r.invalid, name)
	o.errs.Clear(r.id, name)
}

// EditInput разбирает сырой ввод. Непарсящийся ввод не меняет ячейку, попадает в ошибки
// синхронизации и блокирует Write строки до следующей правки этой колонки.
func (o *Orchestrator) EditInput(rowID int64, name, raw string) error {
	return o.mutate(rowID, name, func(r *row, i int) error {
		v, err := column.ParseInput(r.cells[i].Model, raw)
		var f *column.Failure
		switch {
		case errors.As(err, &f):
			o.errs.Replace(r.id, name, []syncerr.Descriptor{f.Descriptor})
			r.invalid[name] = true
			return nil
		case err != nil:
			return err
		}
		r.cells[i] = r.cells[i].With(v)
		o.accepted(r, name)
		return nil
	})
}

// CaptureFile кладёт в файловую ячейку новый локальный файл.
func (o *Orchestrator) CaptureFile(rowID int64, name, fileName, localURL string, data []byte) error {
	return o.mutate(rowID, name, func(r *row, i int) error {
		if r.cells[i].Type != dsl.TypeFile {
			return ErrTypeMismatch
		}
		r.cells[i] = r.cells[i].With(column.Capture(r.cells[i].Value, fileName, localURL, data))
		o.accepted(r, name)
		return nil
	})
}

// DetachFile очищает файловую ячейку.
func (o *Orchestrator) DetachFile(rowID int64, name string) error {
	return o.mutate(rowID, name, func(r *row, i int) error {
		if r.cells[i].Type != dsl.TypeFile {
			return ErrTypeMismatch
		}
		r.cells[i] = r.cells[i].With(column.Detach(r.cells[i].Value))
		o.accepted(r, name)
		return nil
	})
}

// Discard убирает строку. Загрузки и запись в полёте отменяются, их результат отбрасывается молча.
// Загруженные файлы строки уходят в удаление, только если ни одна запись строки не могла
// дойти до сервера: иначе сохранённая там строка ссылалась бы на удалённый объект.
func (o *Orchestrator) Discard(rowID int64) {
	o.mu.Lock()
	r, ok := o.rows[rowID]
	var refs []string
	kept := false
	if ok {
		r.cancel()
		o.removeLocked(rowID)
		o.errs.ClearRow(rowID)
		kept = r.sending || r.unsure
		for _, c := range r.cells {
			if f, isFile := c.Value.(column.File); isFile && column.StateOf(f) == column.FileUploaded {
				refs = append(refs, *f.ObjectURL)
			}
		}
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case kept && len(refs) > 0:
		log.WithFields(log.Fields{"table": o.tableID, "row": rowID, "files": len(refs)}).
			Warn("row discarded after write attempt, uploaded files kept")
	case o.opts.Files != nil:
		for _, ref := range refs {
			o.opts.Files.QueueDeletion(ref)
		}
	}
	o.notify()
}

func (o *Orchestrator) removeLocked(rowID int64) {
	delete(o.rows, rowID)
	for i, id := range o.order {
		if id == rowID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// alive — строка не выброшена, пока шла подготовка или запись. Вызывается под o.mu.
func (o *Orchestrator) alive(r *row) bool {
	cur, ok := o.rows[r.id]
	return ok && cur == r && r.ctx.Err() == nil
}

func (o *Orchestrator) setInflight(delta int) {
	o.inflight += delta
	o.errs.SetLoading(o.inflight > 0)
}
