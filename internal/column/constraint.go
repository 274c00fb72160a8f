package column

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"tablesync/internal/dsl"
	"tablesync/internal/syncerr"
)

// Kind — класс сбоя подготовки ячейки.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

// Failure — сбой подготовки. Несёт дескриптор для агрегатора ошибок.
type Failure struct {
	Kind       Kind
	Descriptor syncerr.Descriptor
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Descriptor, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Descriptor)
}

func (f *Failure) Unwrap() error { return f.Err }

func validation(key string, params ...string) *Failure {
	return &Failure{Kind: KindValidation, Descriptor: syncerr.New(key, params...)}
}

// ErrNotTextual — сырое значение нельзя разобрать для колонки этого типа (File).
var ErrNotTextual = errors.New("column does not accept textual input")

// ApplyConstraints сворачивает ограничения колонки слева направо по текстовому значению.
// Boolean/Numeric/Null/File проходят без изменений. Пустой текст не трогаем.
// Prefix/Suffix не дописываются повторно, если значение уже их содержит.
// Свёртка рассчитана на введённый текст: повторная свёртка результата при нескольких
// аффиксах или проверке до аффикса даёт другое значение, поэтому готовое не сворачивают.
func ApplyConstraints(col dsl.Column, v Value) (Value, error) {
	t, ok := v.(Text)
	if !ok || t.Text == "" {
		return v, nil
	}
	s := t.Text
	for _, c := range col.Constraints {
		switch c := c.(type) {
		case dsl.Prefix:
			if !strings.HasPrefix(s, c.Text) {
				s = c.Text + s
			}
		case dsl.Suffix:
			if !strings.HasSuffix(s, c.Text) {
				s = s + c.Text
			}
		case dsl.Pattern:
			if !c.Re.MatchString(s) {
				return v, validation(syncerr.KeyValidationPattern, c.Re.String())
			}
		case dsl.MaxLength:
			if utf8.RuneCountInString(s) > c.N {
				return v, validation(syncerr.KeyValidationMaxLength, strconv.Itoa(c.N))
			}
		}
	}
	if len(col.Options) > 0 && !contains(col.Options, s) {
		return v, validation(syncerr.KeyValidationOption, s)
	}
	return Text{Text: s}, nil
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}

// ParseInput превращает сырой текст (например, результат сканирования) в значение нужного варианта.
func ParseInput(col dsl.Column, raw string) (Value, error) {
	switch col.Type {
	case dsl.TypeBoolean:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "", "false", "0", "no", "n", "off":
			return Boolean{Checked: false}, nil
		case "true", "1", "yes", "y", "on":
			return Boolean{Checked: true}, nil
		default:
			return Default(col.Type), validation(syncerr.KeyValidationBoolean, raw)
		}
	case dsl.TypeNumeric:
		s := strings.TrimSpace(raw)
		if s == "" {
			return Numeric{}, nil
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
		if err != nil {
			return Default(col.Type), validation(syncerr.KeyValidationNumeric, raw)
		}
		return Float(f), nil
	case dsl.TypeText, dsl.TypeTimestamp, dsl.TypeUser:
		return Text{Text: raw}, nil
	case dsl.TypeFile:
		return Default(col.Type), ErrNotTextual
	default:
		return Null{}, nil
	}
}
