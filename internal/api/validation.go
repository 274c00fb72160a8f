package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tablesync/internal/column"
	"tablesync/internal/dsl"
	"tablesync/internal/syncerr"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrTypeMismatch  = "type_mismatch"
	ErrOptionInvalid = "option_invalid"
	ErrConstraint    = "constraint_violation"
	ErrReadOnly      = "readonly_field"
	ErrNotFound      = "not_found"
)

var systemFields = []string{"version", "created_at", "updated_at"}

// ValidateRow валидирует и НОРМАЛИЗУЕТ obj под схему таблицы. Ключи obj — DBName колонок.
// Поля, которых нет в схеме (например, latitude/longitude), пропускаются как есть.
func ValidateRow(t *dsl.Table, obj map[string]any) []FieldError {
	var errs []FieldError

	for _, k := range systemFields {
		if _, ok := obj[k]; ok {
			errs = append(errs, ferr(ErrReadOnly, k, "Field '"+k+"' is read-only"))
		}
	}

	byDB := make(map[string]dsl.Column, len(t.Columns))
	for _, c := range t.Columns {
		byDB[c.DBName] = c
	}

	for name, val := range obj {
		c, ok := byDB[name]
		if !ok || val == nil {
			continue
		}
		if c.Type == dsl.TypeID {
			errs = append(errs, ferr(ErrReadOnly, name, "Field '"+name+"' is assigned by the server"))
			continue
		}
		norm, err := coerceValue(c, val)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, name, "Field '"+name+"' "+err.Error()))
			continue
		}
		if c.Type == dsl.TypeText {
			// клиент шлёт введённый текст: ограничения сворачиваются здесь ровно один раз
			v, err := column.ApplyConstraints(c, column.Text{Text: norm.(string)})
			var f *column.Failure
			if errors.As(err, &f) {
				errs = append(errs, constraintError(name, f.Descriptor))
				continue
			}
			norm = v.(column.Text).Text
		}
		obj[name] = norm
	}
	return errs
}

func constraintError(field string, d syncerr.Descriptor) FieldError {
	if d.Key == syncerr.KeyValidationOption {
		return ferr(ErrOptionInvalid, field, "Invalid value for '"+field+"'")
	}
	return ferr(ErrConstraint, field, "Field '"+field+"' violates "+d.String())
}

func coerceValue(c dsl.Column, v any) (any, error) {
	switch c.Type {
	case dsl.TypeText, dsl.TypeUser, dsl.TypeFile:
		return toStringStrict(v)
	case dsl.TypeNumeric:
		return toFloatStrict(v)
	case dsl.TypeBoolean:
		return toBoolStrict(v)
	case dsl.TypeTimestamp:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return s, nil
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, errors.New("must be RFC3339 datetime")
		}
		return s, nil
	default:
		// неизвестный тип — оставим как есть
		return v, nil
	}
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return "", errors.New("must be string")
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	default:
		return 0, errors.New("must be number")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

func statusForErrors(errs []FieldError) int {
	for _, e := range errs {
		if e.Code == ErrNotFound {
			return http.StatusNotFound
		}
	}
	return http.StatusBadRequest
}
