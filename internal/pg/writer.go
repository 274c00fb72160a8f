package pg

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"tablesync/internal/dsl"
)

// Writer пишет строки в Postgres (api.RowSink).
type Writer struct {
	DB *sql.DB
}

func NewWriter(db *sql.DB) *Writer { return &Writer{DB: db} }

// InsertRow вставляет провалидированную строку. Ключи data — DBName колонок;
// из посторонних ключей берутся только latitude/longitude.
func (w *Writer) InsertRow(ctx context.Context, t *dsl.Table, id string, data map[string]any) error {
	now := time.Now().UTC()
	cols := []string{`"id"`, `"version"`, `"created_at"`, `"updated_at"`}
	args := []any{id, int64(1), now, now}

	known := map[string]dsl.Column{}
	for _, c := range t.Columns {
		known[strings.ToLower(c.DBName)] = c
	}

	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		name := strings.ToLower(k)
		c, ok := known[name]
		coord := name == "latitude" || name == "longitude"
		if !coord && (!ok || name == "id") {
			continue
		}
		v := data[k]
		if ok && c.Type == dsl.TypeTimestamp {
			// пустая строка — NULL, а не ошибка приведения
			if s, isStr := v.(string); isStr && s == "" {
				v = nil
			}
		}
		cols = append(cols, sqlIdent(name))
		args = append(args, v)
	}

	ph := make([]string, len(args))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("insert into %s (%s) values (%s)", QualifiedName(t), strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := w.DB.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s: %w", t.ID, err)
	}
	return nil
}
