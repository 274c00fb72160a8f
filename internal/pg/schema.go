package pg

import (
	"fmt"
	"sort"
	"strings"

	"tablesync/internal/dsl"
)

var reserved = map[string]struct{}{
	"user": {}, "select": {}, "table": {}, "insert": {}, "update": {}, "delete": {},
	"where": {}, "join": {}, "group": {}, "order": {}, "limit": {}, "offset": {},
	"primary": {}, "foreign": {}, "key": {}, "constraint": {}, "default": {},
	"from": {}, "into": {}, "values": {}, "unique": {}, "index": {}, "create": {},
	"drop": {}, "alter": {}, "schema": {}, "grant": {}, "revoke": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// элементарная плюрализация (items, moves, ...)
func plural(s string) string {
	s = strings.ToLower(s)
	if strings.HasSuffix(s, "s") {
		return s
	}
	return s + "s"
}

// schema = module (lower), table = plural(name) с защитой keyword'ов
func safeSchema(module string) string { return strings.ToLower(module) }

func safeTable(name string) string {
	t := plural(name)
	if isReserved(t) {
		t = "t_" + t
	}
	return t
}

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"` }

// QualifiedName — "schema"."table" для таблицы DSL.
func QualifiedName(t *dsl.Table) string {
	return sqlIdent(safeSchema(t.Module)) + "." + sqlIdent(safeTable(t.Name))
}

func mapType(c dsl.Column) string {
	switch c.Type {
	case dsl.TypeBoolean:
		return "boolean"
	case dsl.TypeNumeric:
		return "double precision"
	case dsl.TypeTimestamp:
		return "timestamp with time zone"
	default:
		// text, user, file (ссылка на объект), id и неизвестные
		return "text"
	}
}

// системные колонки; latitude/longitude заполняются, когда включена отметка координат
var systemColumns = []string{
	`"id" text primary key`,
	`"version" bigint not null`,
	`"created_at" timestamp with time zone not null`,
	`"updated_at" timestamp with time zone not null`,
	`"latitude" double precision null`,
	`"longitude" double precision null`,
}

var systemNames = map[string]struct{}{
	"id": {}, "version": {}, "created_at": {}, "updated_at": {}, "latitude": {}, "longitude": {},
}

// GenerateDDL возвращает карту ключ -> SQL DDL; ключи сортируются в порядке применения.
func GenerateDDL(tables map[string]*dsl.Table) (map[string]string, error) {
	out := make(map[string]string, len(tables)+1)

	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var schemas strings.Builder
	seenSchemas := map[string]struct{}{}

	for _, id := range keys {
		t := tables[id]
		if t.Module == "" {
			return nil, fmt.Errorf("%s: table has no module", id)
		}
		mod := safeSchema(t.Module)
		if _, ok := seenSchemas[mod]; !ok {
			fmt.Fprintf(&schemas, "create schema if not exists %s;\n", sqlIdent(mod))
			seenSchemas[mod] = struct{}{}
		}

		cols := append([]string(nil), systemColumns...)
		seen := map[string]struct{}{}
		for _, c := range t.Columns {
			name := strings.ToLower(c.DBName)
			if c.Type == dsl.TypeID {
				// id-колонка таблицы хранится в системном "id"
				if name != "id" {
					cols = append(cols, fmt.Sprintf("%s text null", sqlIdent(name)))
				}
				continue
			}
			if _, sys := systemNames[name]; sys {
				return nil, fmt.Errorf("%s.%s: db name %q duplicates a system column", id, c.Name, c.DBName)
			}
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("%s.%s: duplicate db name %q", id, c.Name, c.DBName)
			}
			seen[name] = struct{}{}
			cols = append(cols, fmt.Sprintf("%s %s null", sqlIdent(name), mapType(c)))
		}

		out["100_"+strings.ToLower(id)] = fmt.Sprintf("create table if not exists %s (\n  %s\n);\n",
			QualifiedName(t), strings.Join(cols, ",\n  "))
	}
	out["000_schemas"] = schemas.String()
	return out, nil
}
