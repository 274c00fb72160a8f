package tablestate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablesync/internal/column"
	"tablesync/internal/dsl"
	"tablesync/internal/location"
	"tablesync/internal/remote"
	"tablesync/internal/syncerr"
)

const itemsDSL = `
module inventory

table Items:
  id: id
  code: text prefix="SC-" pattern=^SC-[0-9]+$ remember
  qty: numeric
  photo: file db=photo_url
  at: timestamp
  by: user
`

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

type fakeRemote struct {
	mu      sync.Mutex
	table   *dsl.Table
	fetches int
	rows    []map[string]any
	err     error
	block   chan struct{}
}

func (f *fakeRemote) FetchTable(_ context.Context, _ string) (*dsl.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return f.table, nil
}

func (f *fakeRemote) WriteRow(ctx context.Context, _ string, row map[string]any) (map[string]any, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.rows = append(f.rows, row)
	return row, nil
}

func (f *fakeRemote) written() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.rows...)
}

type fakeFiles struct {
	mu      sync.Mutex
	fail    error
	gate    chan struct{}
	uploads []string
	deleted []string
}

func (f *fakeFiles) Upload(ctx context.Context, name string, _ []byte) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.uploads = append(f.uploads, name)
	return "http://store/files/" + name, nil
}

func (f *fakeFiles) QueueDeletion(ref string) {
	f.mu.Lock()
	f.deleted = append(f.deleted, ref)
	f.mu.Unlock()
}

func (f *fakeFiles) deletions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func itemsTable(t *testing.T) *dsl.Table {
	t.Helper()
	parsed, err := dsl.ParseTables(strings.NewReader(itemsDSL))
	require.NoError(t, err)
	return parsed[0]
}

func newLoaded(t *testing.T, rem *fakeRemote, opts Options) *Orchestrator {
	t.Helper()
	if rem.table == nil {
		rem.table = itemsTable(t)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	o := New("inventory.Items", rem, opts)
	st, err := o.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, column.Success, st.Status)
	return o
}

func cell(t *testing.T, o *Orchestrator, rowID int64, name string) column.UiState {
	t.Helper()
	cells, ok := o.Row(rowID)
	require.True(t, ok)
	for _, c := range cells {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no column %s", name)
	return column.UiState{}
}

func TestLoadIsOneShot(t *testing.T) {
	rem := &fakeRemote{}
	o := New("inventory.Items", rem, Options{})
	assert.Equal(t, column.Undetermined, o.State().Table.Status)

	st, err := o.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, column.NotFound, st.Status)
	assert.Empty(t, st.Columns)

	// таблица появилась, но статус уже определён
	rem.table = itemsTable(t)
	st, _ = o.Load(context.Background())
	assert.Equal(t, column.NotFound, st.Status)
	assert.Equal(t, 1, rem.fetches)

	_, err = o.NewRow()
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestNewRowDefaults(t *testing.T) {
	o := newLoaded(t, &fakeRemote{}, Options{})
	id, err := o.NewRow()
	require.NoError(t, err)

	assert.Equal(t, column.Text{}, cell(t, o, id, "code").Value)
	assert.Equal(t, column.Numeric{}, cell(t, o, id, "qty").Value)
	assert.Equal(t, column.File{}, cell(t, o, id, "photo").Value)
	assert.Equal(t, column.Null{}, cell(t, o, id, "id").Value)

	st := o.State()
	require.Len(t, st.Rows, 1)
	assert.Len(t, st.Table.Columns, 6)
}

func TestEditErrors(t *testing.T) {
	o := newLoaded(t, &fakeRemote{}, Options{})
	id, _ := o.NewRow()

	assert.ErrorIs(t, o.Edit(id, "qty", column.Text{Text: "x"}), ErrTypeMismatch)
	assert.ErrorIs(t, o.Edit(id, "nope", column.Text{}), ErrUnknownColumn)
	assert.ErrorIs(t, o.Edit(99, "qty", column.Float(1)), ErrUnknownRow)
	assert.ErrorIs(t, o.CaptureFile(id, "code", "a.jpg", "", []byte("x")), ErrTypeMismatch)
}

func TestEditInputValidation(t *testing.T) {
	o := newLoaded(t, &fakeRemote{}, Options{})
	id, _ := o.NewRow()

	require.NoError(t, o.EditInput(id, "qty", "many"))
	errs := o.Errors().ErrorsFor(id, "qty")
	require.Len(t, errs, 1)
	assert.Equal(t, syncerr.KeyValidationNumeric, errs[0].Key)
	assert.Equal(t, column.Numeric{}, cell(t, o, id, "qty").Value)

	require.NoError(t, o.EditInput(id, "qty", "2,5"))
	assert.Nil(t, o.Errors().ErrorsFor(id, "qty"))
	assert.Equal(t, column.Float(2.5), cell(t, o, id, "qty").Value)
}

func TestWriteSuccess(t *testing.T) {
	rem := &fakeRemote{}
	o := newLoaded(t, rem, Options{User: "anna"})
	id, _ := o.NewRow()
	require.NoError(t, o.EditInput(id, "code", "1234"))
	require.NoError(t, o.Edit(id, "qty", column.Float(3)))

	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	rows := rem.written()
	require.Len(t, rows, 1)
	// текст уходит введённым, префикс досводит сервер
	assert.Equal(t, "1234", rows[0]["code"])
	assert.Equal(t, 3.0, rows[0]["qty"])
	assert.Equal(t, "2026-10-19T09:30:00Z", rows[0]["at"])
	assert.Equal(t, "anna", rows[0]["by"])
	assert.Nil(t, rows[0]["photo_url"])
	assert.NotContains(t, rows[0], "id")

	_, exists := o.Row(id)
	assert.False(t, exists)
	st := o.State()
	assert.False(t, st.Sync.IsLoading)
	assert.Empty(t, st.Sync.SynchronisationErrors)

	// remember: code переносится, qty — нет
	next, _ := o.NewRow()
	assert.Equal(t, column.Text{Text: "1234"}, cell(t, o, next, "code").Value)
	assert.Equal(t, column.Numeric{}, cell(t, o, next, "qty").Value)
}

func TestWriteValidationFailureKeepsRow(t *testing.T) {
	rem := &fakeRemote{}
	o := newLoaded(t, rem, Options{})
	id, _ := o.NewRow()
	require.NoError(t, o.EditInput(id, "code", "abc"))

	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rem.written())

	errs := o.Errors().ErrorsFor(id, "code")
	require.Len(t, errs, 1)
	assert.Equal(t, syncerr.KeyValidationPattern, errs[0].Key)
	assert.Equal(t, column.Text{Text: "abc"}, cell(t, o, id, "code").Value)
	assert.False(t, o.State().Sync.IsLoading)

	// исправили — ошибка уходит
	require.NoError(t, o.EditInput(id, "code", "77"))
	ok, err = o.Write(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteUploadFailureThenRetry(t *testing.T) {
	rem := &fakeRemote{}
	files := &fakeFiles{fail: errors.New("offline")}
	o := newLoaded(t, rem, Options{Files: files, UploadTimeout: time.Second})
	id, _ := o.NewRow()
	require.NoError(t, o.CaptureFile(id, "photo", "shot.jpg", "file:///tmp/shot.jpg", []byte("jpeg")))

	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	errs := o.Errors().ErrorsFor(id, "photo")
	require.Len(t, errs, 1)
	assert.Equal(t, syncerr.New(syncerr.KeyUpload, "shot.jpg"), errs[0])

	f := cell(t, o, id, "photo").Value.(column.File)
	assert.Equal(t, column.FileLocalOnly, column.StateOf(f))
	assert.False(t, f.IsUploaded)
	assert.Empty(t, rem.written())

	files.mu.Lock()
	files.fail = nil
	files.mu.Unlock()

	ok, err = o.Write(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	rows := rem.written()
	require.Len(t, rows, 1)
	assert.Equal(t, "http://store/files/shot.jpg", rows[0]["photo_url"])
	assert.Nil(t, o.Errors().ErrorsFor(id, "photo"))
}

func TestReplacedFileDeletedOnce(t *testing.T) {
	rem := &fakeRemote{err: &remote.WriteError{Status: 400, Errors: []remote.FieldError{
		{Code: "constraint_violation", Field: "qty", Message: "no"},
	}}}
	files := &fakeFiles{}
	o := newLoaded(t, rem, Options{Files: files})
	id, _ := o.NewRow()

	require.NoError(t, o.CaptureFile(id, "photo", "a.jpg", "", []byte("a")))
	ok, _ := o.Write(context.Background(), id)
	assert.False(t, ok)
	// файл загружен, хотя запись строки не прошла
	assert.Equal(t, column.FileUploaded, column.StateOf(cell(t, o, id, "photo").Value.(column.File)))
	errs := o.Errors().ErrorsFor(id, "qty")
	require.Len(t, errs, 1)
	assert.Equal(t, syncerr.KeyRemote, errs[0].Key)

	require.NoError(t, o.CaptureFile(id, "photo", "b.jpg", "", []byte("b")))
	_, _ = o.Write(context.Background(), id)
	_, _ = o.Write(context.Background(), id)

	assert.Equal(t, []string{"http://store/files/a.jpg"}, files.deletions())
}

func TestRemoteFieldRejection(t *testing.T) {
	rem := &fakeRemote{err: &remote.WriteError{Status: 400, Errors: []remote.FieldError{
		{Code: "type_mismatch", Field: "photo_url", Message: "bad"},
		{Code: "readonly_field", Field: "version", Message: "ro"},
	}}}
	o := newLoaded(t, rem, Options{})
	id, _ := o.NewRow()

	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)

	photo := o.Errors().ErrorsFor(id, "photo")
	require.Len(t, photo, 1)
	assert.Equal(t, syncerr.New(syncerr.KeyRemote, "type_mismatch", "bad"), photo[0])
	assert.Len(t, o.Errors().ErrorsFor(id, RowColumn), 1)

	// строка остаётся, и её можно писать снова
	rem.mu.Lock()
	rem.err = nil
	rem.mu.Unlock()
	ok, _ = o.Write(context.Background(), id)
	assert.True(t, ok)
	assert.False(t, o.Errors().HasErrors(id))
}

func TestDiscardDuringUploadDropsResult(t *testing.T) {
	rem := &fakeRemote{}
	files := &fakeFiles{gate: make(chan struct{})}
	o := newLoaded(t, rem, Options{Files: files})
	id, _ := o.NewRow()
	require.NoError(t, o.CaptureFile(id, "photo", "a.jpg", "", []byte("a")))

	done := make(chan bool)
	go func() {
		ok, err := o.Write(context.Background(), id)
		assert.NoError(t, err)
		done <- ok
	}()

	require.Eventually(t, func() bool {
		st := o.State()
		return len(st.Rows) == 1 && st.Rows[0].Files["photo"] == column.FileUploading
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, o.Edit(id, "qty", column.Float(1)), ErrRowBusy)

	o.Discard(id)
	close(files.gate)

	assert.False(t, <-done)
	assert.Empty(t, rem.written())
	assert.Empty(t, o.State().Sync.SynchronisationErrors)
	assert.False(t, o.State().Sync.IsLoading)
	// загруженный для выброшенной строки файл убирается
	assert.Equal(t, []string{"http://store/files/a.jpg"}, files.deletions())
}

func TestWriteBusyRow(t *testing.T) {
	rem := &fakeRemote{block: make(chan struct{})}
	o := newLoaded(t, rem, Options{})
	id, _ := o.NewRow()

	done := make(chan struct{})
	go func() {
		_, _ = o.Write(context.Background(), id)
		close(done)
	}()
	require.Eventually(t, func() bool { return o.State().Sync.IsLoading }, 2*time.Second, 5*time.Millisecond)

	_, err := o.Write(context.Background(), id)
	assert.ErrorIs(t, err, ErrRowBusy)
	close(rem.block)
	<-done
	assert.False(t, o.State().Sync.IsLoading)
}

func TestWriteStampsLocation(t *testing.T) {
	rem := &fakeRemote{}
	loc := location.NewCollector(location.ProviderFunc(func(context.Context) (location.Data, error) {
		return location.Data{Latitude: 55.75, Longitude: 37.62}, nil
	}), 10*time.Millisecond)
	defer loc.Close()

	o := newLoaded(t, rem, Options{Location: loc})
	id, _ := o.NewRow()
	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)

	rows := rem.written()
	require.Len(t, rows, 1)
	assert.Equal(t, 55.75, rows[0]["latitude"])
	assert.Equal(t, 37.62, rows[0]["longitude"])
}

func TestWriteWithoutLocationFix(t *testing.T) {
	rem := &fakeRemote{}
	loc := location.NewCollector(location.ProviderFunc(func(ctx context.Context) (location.Data, error) {
		<-ctx.Done()
		return location.Data{}, ctx.Err()
	}), time.Hour)
	defer loc.Close()

	o := newLoaded(t, rem, Options{Location: loc, LocationWait: 20 * time.Millisecond})
	id, _ := o.NewRow()
	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotContains(t, rem.written()[0], "latitude")
}

func TestWatchSeesLoading(t *testing.T) {
	rem := &fakeRemote{}
	o := newLoaded(t, rem, Options{})

	var mu sync.Mutex
	var loading []bool
	cancel := o.Watch(func(s State) {
		mu.Lock()
		loading = append(loading, s.Sync.IsLoading)
		mu.Unlock()
	})

	id, _ := o.NewRow()
	_, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	cancel()

	mu.Lock()
	seen := len(loading)
	assert.Contains(t, loading, true)
	assert.False(t, loading[seen-1])
	mu.Unlock()

	// после отписки уведомлений нет
	_, _ = o.NewRow()
	mu.Lock()
	assert.Len(t, loading, seen)
	mu.Unlock()
}

func TestUnparsedInputBlocksWrite(t *testing.T) {
	rem := &fakeRemote{}
	o := newLoaded(t, rem, Options{})
	id, _ := o.NewRow()

	require.NoError(t, o.EditInput(id, "qty", "many"))
	ok, err := o.Write(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, rem.written())
	assert.Len(t, o.Errors().ErrorsFor(id, "qty"), 1)

	require.NoError(t, o.EditInput(id, "qty", "1"))
	ok, _ = o.Write(context.Background(), id)
	assert.True(t, ok)
}

func TestDiscardDeletesUploadedFiles(t *testing.T) {
	// отказ по полям — строка точно не сохранена
	rem := &fakeRemote{err: &remote.WriteError{Status: 400, Errors: []remote.FieldError{
		{Code: "type_mismatch", Field: "qty", Message: "bad"},
	}}}
	files := &fakeFiles{}
	o := newLoaded(t, rem, Options{Files: files})
	id, _ := o.NewRow()
	require.NoError(t, o.CaptureFile(id, "photo", "a.jpg", "", []byte("a")))

	ok, _ := o.Write(context.Background(), id)
	require.False(t, ok)
	assert.Empty(t, files.deletions())

	o.Discard(id)
	o.Discard(id)
	assert.Equal(t, []string{"http://store/files/a.jpg"}, files.deletions())
	assert.Empty(t, o.State().Rows)
}

// commitThenHang сохраняет строку и зависает до отмены: ответ до клиента не доходит.
type commitThenHang struct {
	fakeRemote
	committed chan struct{}
}

func (c *commitThenHang) WriteRow(ctx context.Context, _ string, row map[string]any) (map[string]any, error) {
	c.mu.Lock()
	c.rows = append(c.rows, row)
	c.mu.Unlock()
	close(c.committed)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestDiscardDuringWriteKeepsFiles(t *testing.T) {
	rem := &commitThenHang{committed: make(chan struct{})}
	files := &fakeFiles{}
	o := newLoaded(t, &rem.fakeRemote, Options{Files: files})
	o.remote = rem
	id, _ := o.NewRow()
	require.NoError(t, o.CaptureFile(id, "photo", "a.jpg", "", []byte("a")))

	done := make(chan bool)
	go func() {
		ok, _ := o.Write(context.Background(), id)
		done <- ok
	}()
	<-rem.committed
	o.Discard(id)

	assert.False(t, <-done)
	rows := rem.written()
	require.Len(t, rows, 1)
	assert.Equal(t, "http://store/files/a.jpg", rows[0]["photo_url"])
	assert.Empty(t, files.deletions())
	assert.False(t, o.State().Sync.IsLoading)
}

func TestUnknownWriteOutcomeKeepsFiles(t *testing.T) {
	rem := &fakeRemote{err: errors.New("connection reset")}
	files := &fakeFiles{}
	o := newLoaded(t, rem, Options{Files: files})
	id, _ := o.NewRow()
	require.NoError(t, o.CaptureFile(id, "photo", "a.jpg", "", []byte("a")))

	ok, _ := o.Write(context.Background(), id)
	require.False(t, ok)

	// замена файла после записи с неизвестным исходом не трогает прежний объект
	require.NoError(t, o.CaptureFile(id, "photo", "b.jpg", "", []byte("b")))
	ok, _ = o.Write(context.Background(), id)
	require.False(t, ok)

	// последующий отказ по полям не отменяет неизвестность первой записи
	rem.mu.Lock()
	rem.err = &remote.WriteError{Status: 400, Errors: []remote.FieldError{{Code: "type_mismatch", Field: "qty", Message: "bad"}}}
	rem.mu.Unlock()
	ok, _ = o.Write(context.Background(), id)
	require.False(t, ok)

	o.Discard(id)
	assert.Empty(t, files.deletions())
	assert.Empty(t, o.State().Rows)
}

const stackedDSL = `
module inventory

table Items:
  id: id
  code: text prefix="A-" prefix="B-"
  lot: text pattern=^[0-9]+$ prefix="SC-"
`

func TestRetryPreparesFromEditedText(t *testing.T) {
	parsed, err := dsl.ParseTables(strings.NewReader(stackedDSL))
	require.NoError(t, err)
	rem := &fakeRemote{table: parsed[0], err: errors.New("server down")}
	o := newLoaded(t, rem, Options{})
	id, _ := o.NewRow()
	require.NoError(t, o.EditInput(id, "code", "1"))
	require.NoError(t, o.EditInput(id, "lot", "77"))

	ok, _ := o.Write(context.Background(), id)
	require.False(t, ok)
	assert.Equal(t, column.Text{Text: "1"}, cell(t, o, id, "code").Value)
	assert.Equal(t, column.Text{Text: "77"}, cell(t, o, id, "lot").Value)

	rem.mu.Lock()
	rem.err = nil
	rem.mu.Unlock()

	// повтор сворачивает ограничения заново по введённому, а не по готовому значению
	for i := 0; i < 2; i++ {
		prepared, failures := o.prepareAll(context.Background(), mustRow(t, o, id), nil)
		for _, f := range failures {
			require.Nil(t, f)
		}
		assert.Equal(t, column.Text{Text: "B-A-1"}, prepared[1].Value)
		assert.Equal(t, column.Text{Text: "SC-77"}, prepared[2].Value)
	}

	ok, err = o.Write(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	rows := rem.written()
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["code"])
	assert.Equal(t, "77", rows[0]["lot"])
}

func mustRow(t *testing.T, o *Orchestrator, id int64) []column.UiState {
	t.Helper()
	cells, ok := o.Row(id)
	require.True(t, ok)
	return cells
}
