package api

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"
)

func flatten(rec *Record) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"version":    rec.Version,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Data {
		// пользовательские колонки не перетирают служебные поля
		if _, clash := out[k]; clash && k != "id" {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	return out
}

func sortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].ID < rs[j].ID })
}

func isNotExist(err error) bool { return errors.Is(err, fs.ErrNotExist) }

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
