package tablestate

import (
	"context"
	"errors"
	"strings"
	"time"

	"tablesync/internal/column"
	"tablesync/internal/dsl"
	"tablesync/internal/location"
	"tablesync/internal/syncerr"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Write готовит все ячейки строки (ограничения, загрузка файлов) и отправляет строку.
// ok=true — строка записана и убрана из черновиков. Ошибки ячеек и записи попадают
// в агрегатор; error возвращается только для неизвестной или занятой строки.
func (o *Orchestrator) Write(ctx context.Context, rowID int64) (bool, error) {
	o.mu.Lock()
	if o.status != column.Success {
		o.mu.Unlock()
		return false, ErrNoTable
	}
	r, ok := o.rows[rowID]
	if !ok {
		o.mu.Unlock()
		return false, ErrUnknownRow
	}
	if r.busy {
		o.mu.Unlock()
		return false, ErrRowBusy
	}
	if len(r.invalid) > 0 {
		// ошибки разбора уже в агрегаторе
		o.mu.Unlock()
		return false, nil
	}
	r.busy = true
	o.stampLocked(r)
	ops := o.opts.Files
	if r.unsure && ops != nil {
		ops = keepDeletions{ops}
	}
	cells := append([]column.UiState(nil), r.cells...)
	for _, c := range cells {
		if f, isFile := c.Value.(column.File); isFile && column.StateOf(f) == column.FileLocalOnly {
			r.uploading[c.Name] = true
		}
	}
	o.setInflight(+1)
	o.mu.Unlock()
	o.notify()

	logger := log.WithFields(log.Fields{"table": o.tableID, "row": rowID})

	// отмена ctx вызывающего или Discard строки прерывают подготовку
	wctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-r.ctx.Done():
			stop()
		case <-wctx.Done():
		}
	}()

	prepared, failures := o.prepareAll(wctx, cells, ops)

	o.mu.Lock()
	r.uploading = map[string]bool{}
	if !o.alive(r) {
		o.setInflight(-1)
		o.mu.Unlock()
		o.dropOrphans(cells, prepared)
		logger.Debug("row discarded during prepare, result dropped")
		o.notify()
		return false, nil
	}
	// в строку возвращается только прогресс файлов; текст остаётся введённым
	for i, c := range prepared {
		if c.Type == dsl.TypeFile {
			r.cells[i] = c
		}
	}
	o.errs.Clear(rowID, RowColumn)
	failed := false
	for i, c := range prepared {
		if f := failures[i]; f != nil {
			failed = true
			o.errs.Replace(rowID, c.Name, []syncerr.Descriptor{f.Descriptor})
			logger.WithField("column", c.Name).WithError(f).Warn("cell not prepared")
		} else {
			o.errs.Clear(rowID, c.Name)
		}
	}
	if failed {
		r.busy = false
		o.setInflight(-1)
		o.mu.Unlock()
		o.notify()
		return false, nil
	}
	payload := o.payload(cells, prepared)
	o.mu.Unlock()

	if o.opts.Location != nil {
		lctx, cancel := context.WithTimeout(wctx, o.opts.LocationWait)
		d, err := location.Current(lctx, o.opts.Location)
		cancel()
		if err == nil {
			payload["latitude"], payload["longitude"] = d.Latitude, d.Longitude
		} else {
			logger.WithError(err).Warn("row written without location")
		}
	}

	o.mu.Lock()
	if !o.alive(r) {
		// Discard успел до отправки и сам распорядился файлами строки
		o.setInflight(-1)
		o.mu.Unlock()
		logger.Debug("row discarded before write, result dropped")
		o.notify()
		return false, nil
	}
	r.sending = true
	o.mu.Unlock()

	_, werr := o.remote.WriteRow(wctx, o.tableID, payload)

	o.mu.Lock()
	defer func() {
		o.mu.Unlock()
		o.notify()
	}()
	o.setInflight(-1)
	r.sending = false
	var rej FieldRejection
	if werr != nil && !errors.As(werr, &rej) {
		// транспорт или отмена: сервер мог строку сохранить
		r.unsure = true
	}
	if !o.alive(r) {
		logger.Debug("row discarded during write, result dropped")
		return false, nil
	}
	r.busy = false
	if werr != nil {
		o.recordWriteErrorLocked(r, werr)
		logger.WithError(werr).Warn("row write failed")
		return false, nil
	}

	for _, c := range cells {
		if c.Model.Remember && c.Type != dsl.TypeFile {
			o.last[c.Name] = c.Value
		}
	}
	o.errs.ClearRow(rowID)
	r.cancel()
	o.removeLocked(rowID)
	logger.Info("row written")
	return true, nil
}

// prepareAll готовит ячейки параллельно. Ошибка одной ячейки не отменяет остальные.
func (o *Orchestrator) prepareAll(ctx context.Context, cells []column.UiState, ops column.FileOps) ([]column.UiState, []*column.Failure) {
	prepared := make([]column.UiState, len(cells))
	failures := make([]*column.Failure, len(cells))

	var g errgroup.Group
	g.SetLimit(o.opts.Parallel)
	for i, c := range cells {
		i, c := i, c
		g.Go(func() error {
			cctx := ctx
			if c.Type == dsl.TypeFile && o.opts.UploadTimeout > 0 {
				var cancel context.CancelFunc
				cctx, cancel = context.WithTimeout(ctx, o.opts.UploadTimeout)
				defer cancel()
			}
			next, err := column.Prepare(cctx, c, ops)
			prepared[i] = next
			var f *column.Failure
			if errors.As(err, &f) {
				failures[i] = f
			} else if err != nil {
				failures[i] = &column.Failure{Kind: column.KindValidation, Descriptor: syncerr.New(syncerr.KeyWrite, c.Name), Err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return prepared, failures
}

// stampLocked заполняет пустые ячейки времени и пользователя.
func (o *Orchestrator) stampLocked(r *row) {
	for i, c := range r.cells {
		t, ok := c.Value.(column.Text)
		if !ok || t.Text != "" {
			continue
		}
		switch c.Type {
		case dsl.TypeTimestamp:
			r.cells[i] = c.With(column.Text{Text: o.opts.Now().UTC().Format(time.RFC3339)})
		case dsl.TypeUser:
			if o.opts.User != "" {
				r.cells[i] = c.With(column.Text{Text: o.opts.User})
			}
		}
	}
}

// payload собирает строку для записи. Текстовые колонки уходят введёнными: сервер сворачивает
// ограничения сам, и повторная свёртка готового значения (два префикса, паттерн до префикса)
// дала бы другой результат.
func (o *Orchestrator) payload(edited, prepared []column.UiState) map[string]any {
	out := make(map[string]any, len(prepared))
	for i, c := range prepared {
		switch c.Type {
		case dsl.TypeID, dsl.TypeUnknown:
			continue
		case dsl.TypeText:
			out[c.Model.DBName] = column.Payload(edited[i].Value)
		default:
			out[c.Model.DBName] = column.Payload(c.Value)
		}
	}
	return out
}

// keepDeletions не отдаёт заменённые файлы в удаление: на них может ссылаться
// строка, сохранённая записью с неизвестным исходом.
type keepDeletions struct{ column.FileOps }

func (keepDeletions) QueueDeletion(string) {}

// recordWriteErrorLocked раскладывает отказ сервера по колонкам; прочее — ошибка строки.
func (o *Orchestrator) recordWriteErrorLocked(r *row, err error) {
	var rej FieldRejection
	if !errors.As(err, &rej) {
		o.errs.Replace(r.id, RowColumn, []syncerr.Descriptor{syncerr.New(syncerr.KeyWrite, o.tableID)})
		return
	}
	byDB := make(map[string]string, len(r.cells))
	for _, c := range r.cells {
		byDB[strings.ToLower(c.Model.DBName)] = c.Name
	}
	for field, ds := range rej.Descriptors() {
		name, ok := byDB[strings.ToLower(field)]
		if !ok {
			name = RowColumn
		}
		for _, d := range ds {
			o.errs.Record(r.id, name, d)
		}
	}
}

// dropOrphans удаляет файлы, загруженные для уже выброшенной строки.
func (o *Orchestrator) dropOrphans(before, after []column.UiState) {
	if o.opts.Files == nil {
		return
	}
	for i := range after {
		prev, ok1 := before[i].Value.(column.File)
		next, ok2 := after[i].Value.(column.File)
		if !ok1 || !ok2 || column.StateOf(prev) != column.FileLocalOnly || column.StateOf(next) != column.FileUploaded {
			continue
		}
		o.opts.Files.QueueDeletion(*next.ObjectURL)
	}
}
