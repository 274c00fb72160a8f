package column

import (
	"strconv"

	"tablesync/internal/dsl"
)

// Value — значение ячейки. Закрытый набор вариантов: Boolean, Text, Numeric, File, Null.
// Ветвление по варианту — type switch по всем пяти типам.
type Value interface {
	value()
}

// Boolean — отметка-чекбокс.
type Boolean struct {
	Checked bool
}

// Text — текстовое значение (в том числе Timestamp и User до форматирования).
type Text struct {
	Text string
}

// Numeric — число; Num == nil означает «нет значения».
type Numeric struct {
	Num *float64
}

// File — вложение. ObjectURL != nil только после успешной загрузки.
type File struct {
	FileName   string
	LocalURL   string
	ObjectURL  *string
	Bytes      []byte
	IsUploaded bool

	// Superseded — ссылка на ранее загруженный файл, который эта ячейка заменяет.
	// Удаляется после успешной загрузки нового файла, ровно один раз.
	Superseded *string
}

// Null — отсутствие значения (Id, Unknown).
type Null struct{}

func (Boolean) value() {}
func (Text) value()    {}
func (Numeric) value() {}
func (File) value()    {}
func (Null) value()    {}

// Default строит значение по умолчанию для типа колонки. Чистая функция.
func Default(t dsl.ColumnType) Value {
	switch t {
	case dsl.TypeBoolean:
		return Boolean{Checked: false}
	case dsl.TypeText, dsl.TypeTimestamp, dsl.TypeUser:
		return Text{Text: ""}
	case dsl.TypeNumeric:
		return Numeric{Num: nil}
	case dsl.TypeFile:
		return File{}
	default:
		return Null{}
	}
}

// Matches проверяет, что вариант значения соответствует типу колонки.
func Matches(t dsl.ColumnType, v Value) bool {
	switch v.(type) {
	case Boolean:
		return t == dsl.TypeBoolean
	case Text:
		return t == dsl.TypeText || t == dsl.TypeTimestamp || t == dsl.TypeUser
	case Numeric:
		return t == dsl.TypeNumeric
	case File:
		return t == dsl.TypeFile
	case Null:
		return t == dsl.TypeID || t == dsl.TypeUnknown
	default:
		return false
	}
}

// Float — удобный конструктор Numeric.
func Float(f float64) Numeric {
	return Numeric{Num: &f}
}

// Payload переводит значение в то, что уходит на запись в удалённое хранилище.
// Для файлов — ссылка на объект; незагруженный файл даёт nil.
func Payload(v Value) any {
	switch t := v.(type) {
	case Boolean:
		return t.Checked
	case Text:
		return t.Text
	case Numeric:
		if t.Num == nil {
			return nil
		}
		return *t.Num
	case File:
		if !t.IsUploaded || t.ObjectURL == nil {
			return nil
		}
		return *t.ObjectURL
	case Null:
		return nil
	default:
		return nil
	}
}

// Display — текстовое представление для логов и CLI.
func Display(v Value) string {
	switch t := v.(type) {
	case Boolean:
		return strconv.FormatBool(t.Checked)
	case Text:
		return t.Text
	case Numeric:
		if t.Num == nil {
			return ""
		}
		return strconv.FormatFloat(*t.Num, 'f', -1, 64)
	case File:
		if t.ObjectURL != nil {
			return *t.ObjectURL
		}
		return t.FileName
	default:
		return ""
	}
}
