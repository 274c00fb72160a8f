package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tablesync/internal/dsl"
)

// LoadCatalogs читает все справочники (*.yaml, *.yml) из папки dir.
func LoadCatalogs(dir string) (map[string]Catalog, error) {
	result := make(map[string]Catalog)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var c Catalog
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		// имя справочника — из файла, если не задано внутри
		if c.Name == "" {
			c.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		result[c.Name] = c
	}
	return result, nil
}

// Codes возвращает коды, действующие на дату at, в порядке Order (затем по коду).
func (c Catalog) Codes(at time.Time) []string {
	day := at.UTC().Format("2006-01-02")
	items := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		if it.ValidFrom != "" && day < it.ValidFrom {
			continue
		}
		if it.ValidTo != "" && day > it.ValidTo {
			continue
		}
		items = append(items, it)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Order != items[j].Order {
			return items[i].Order < items[j].Order
		}
		return items[i].Code < items[j].Code
	})
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Code)
	}
	return out
}

// Resolve подставляет в колонки с options=<catalog> список кодов справочника.
func Resolve(tables map[string]*dsl.Table, catalogs map[string]Catalog, at time.Time) error {
	for id, t := range tables {
		for i := range t.Columns {
			col := &t.Columns[i]
			if col.Catalog == "" {
				continue
			}
			c, ok := catalogs[col.Catalog]
			if !ok {
				return fmt.Errorf("%s.%s: unknown catalog %q", id, col.Name, col.Catalog)
			}
			col.Options = c.Codes(at)
		}
	}
	return nil
}
