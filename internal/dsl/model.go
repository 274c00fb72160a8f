package dsl

import (
	"regexp"
	"strconv"
	"strings"
)

// ColumnType — тип колонки. Набор закрытый, расширяется только вместе с column.Value.
type ColumnType string

const (
	TypeBoolean   ColumnType = "boolean"
	TypeID        ColumnType = "id"
	TypeNumeric   ColumnType = "numeric"
	TypeText      ColumnType = "text"
	TypeTimestamp ColumnType = "timestamp"
	TypeUser      ColumnType = "user"
	TypeFile      ColumnType = "file"
	TypeUnknown   ColumnType = "unknown"
)

// ParseColumnType понимает имена типов из DSL (с парой синонимов). Всё прочее — TypeUnknown.
func ParseColumnType(s string) ColumnType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool":
		return TypeBoolean
	case "id":
		return TypeID
	case "numeric", "number", "int", "float":
		return TypeNumeric
	case "text", "string":
		return TypeText
	case "timestamp", "datetime":
		return TypeTimestamp
	case "user":
		return TypeUser
	case "file":
		return TypeFile
	default:
		return TypeUnknown
	}
}

// Table описывает таблицу из DSL. После загрузки не меняется.
type Table struct {
	ID      string   `json:"id"` // "module.name"
	Module  string   `json:"module"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column ищет колонку по имени.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Column описывает колонку таблицы
type Column struct {
	ID          string
	Name        string
	DBName      string
	Width       int
	Type        ColumnType
	Constraints []Constraint // порядок важен
	Options     []string     // допустимые значения для перечислимого текста
	Catalog     string       // имя справочника, из которого берутся Options
	Remember    bool
}

// Constraint — ограничение колонки. Реализации: Prefix, Suffix, Pattern, MaxLength.
type Constraint interface {
	constraint()
	String() string
}

// Prefix дописывает текст в начало значения.
type Prefix struct{ Text string }

// Suffix дописывает текст в конец значения.
type Suffix struct{ Text string }

// Pattern требует совпадения значения с регулярным выражением.
type Pattern struct{ Re *regexp.Regexp }

// MaxLength ограничивает длину значения в рунах.
type MaxLength struct{ N int }

func (Prefix) constraint()    {}
func (Suffix) constraint()    {}
func (Pattern) constraint()   {}
func (MaxLength) constraint() {}

func (c Prefix) String() string    { return "prefix=" + c.Text }
func (c Suffix) String() string    { return "suffix=" + c.Text }
func (c Pattern) String() string   { return "pattern=" + c.Re.String() }
func (c MaxLength) String() string { return "maxlen=" + strconv.Itoa(c.N) }

