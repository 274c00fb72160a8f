package column

import (
	"context"
	"errors"

	"tablesync/internal/syncerr"
)

// FileOps — внешние операции с файлами, которые нужны Prepare.
// QueueDeletion не ждёт удаления: это просьба к очереди, а не операция.
type FileOps interface {
	Upload(ctx context.Context, fileName string, data []byte) (string, error)
	QueueDeletion(ref string)
}

// FileFuncs собирает FileOps из двух функций.
type FileFuncs struct {
	UploadFn func(ctx context.Context, fileName string, data []byte) (string, error)
	DeleteFn func(ref string)
}

func (f FileFuncs) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	if f.UploadFn == nil {
		return "", ErrNoUploader
	}
	return f.UploadFn(ctx, fileName, data)
}

func (f FileFuncs) QueueDeletion(ref string) {
	if f.DeleteFn != nil {
		f.DeleteFn(ref)
	}
}

// ErrNoUploader — подготовка файла без настроенной операции загрузки.
var ErrNoUploader = errors.New("no upload operation configured")

// FileState — состояние файловой ячейки.
type FileState int

const (
	FileEmpty FileState = iota
	FileLocalOnly
	FileUploading
	FileUploaded
)

func (s FileState) String() string {
	switch s {
	case FileLocalOnly:
		return "local_only"
	case FileUploading:
		return "uploading"
	case FileUploaded:
		return "uploaded"
	default:
		return "empty"
	}
}

// StateOf определяет состояние по значению. FileUploading знает только тот,
// кто держит загрузку в полёте, по значению его не отличить от FileLocalOnly.
func StateOf(f File) FileState {
	switch {
	case f.IsUploaded && f.ObjectURL != nil:
		return FileUploaded
	case len(f.Bytes) > 0 || f.LocalURL != "":
		return FileLocalOnly
	default:
		return FileEmpty
	}
}

// Capture кладёт в ячейку новый локальный файл. Если прежний файл уже был загружен,
// его ссылка запоминается в Superseded и будет удалена после загрузки нового.
func Capture(prev Value, fileName, localURL string, data []byte) File {
	next := File{FileName: fileName, LocalURL: localURL, Bytes: data}
	if p, ok := prev.(File); ok {
		next.Superseded = superseded(p)
	}
	return next
}

// Detach очищает файловую ячейку; загруженный файл уходит в удаление при следующем Prepare.
func Detach(prev Value) File {
	if p, ok := prev.(File); ok {
		return File{Superseded: superseded(p)}
	}
	return File{}
}

func superseded(p File) *string {
	if p.IsUploaded && p.ObjectURL != nil {
		ref := *p.ObjectURL
		return &ref
	}
	// локальный файл так и не ушёл — тянем старую ссылку дальше
	return p.Superseded
}

// Prepare переводит отредактированное значение в готовое к записи.
// Для текстовых колонок — свёртка ограничений, для файлов — загрузка и удаление заменённого.
// Возвращённое состояние всегда согласовано; ошибка (*Failure) говорит, что прогресса не было.
func Prepare(ctx context.Context, s UiState, ops FileOps) (UiState, error) {
	f, ok := s.Value.(File)
	if !ok {
		v, err := ApplyConstraints(s.Model, s.Value)
		return s.With(v), err
	}

	switch StateOf(f) {
	case FileUploaded:
		return s, nil
	case FileEmpty:
		if f.Superseded != nil && ops != nil {
			ops.QueueDeletion(*f.Superseded)
			return s.With(File{}), nil
		}
		return s, nil
	}

	if ops == nil {
		return s, &Failure{Kind: KindUpload, Descriptor: syncerr.New(syncerr.KeyUpload, f.FileName), Err: ErrNoUploader}
	}
	ref, err := ops.Upload(ctx, f.FileName, f.Bytes)
	if err != nil {
		return s, &Failure{Kind: KindUpload, Descriptor: syncerr.New(syncerr.KeyUpload, f.FileName), Err: err}
	}

	next := f
	next.ObjectURL = &ref
	next.IsUploaded = true
	next.Superseded = nil
	if f.Superseded != nil && *f.Superseded != ref {
		ops.QueueDeletion(*f.Superseded)
	}
	return s.With(next), nil
}
