// api/schema_lint.go
package api

import (
	"fmt"
	"sort"
	"strings"

	"tablesync/internal/dsl"
)

type SchemaIssue struct {
	Table   string `json:"table"` // ID: module.Table
	Column  string `json:"column"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LintTables проверяет противоречия в DSL. Вызывать до reference.Resolve:
// после него Options колонок со справочником уже заполнены.
func LintTables(tables map[string]*dsl.Table) []SchemaIssue {
	var issues []SchemaIssue

	ids := make([]string, 0, len(tables))
	for id := range tables {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		t := tables[id]
		seenDB := map[string]string{}
		idCols := 0
		for _, c := range t.Columns {
			add := func(code, msg string) {
				issues = append(issues, SchemaIssue{Table: id, Column: c.Name, Code: code, Message: msg})
			}

			if len(c.Constraints) > 0 && c.Type != dsl.TypeText {
				add("constraint_not_text", fmt.Sprintf("constraints apply only to text columns, column is %s", c.Type))
			}
			if c.Catalog != "" && len(c.Options) > 0 {
				add("options_conflict", "column has both inline enum values and options="+c.Catalog)
			}

			db := strings.ToLower(c.DBName)
			if prev, dup := seenDB[db]; dup {
				add("db_name_duplicate", fmt.Sprintf("db name %q already used by column %q", c.DBName, prev))
			}
			seenDB[db] = c.Name
			for _, sys := range systemFields {
				if db == sys {
					add("db_name_reserved", fmt.Sprintf("db name %q is a system field", c.DBName))
				}
			}
			if db == "id" && c.Type != dsl.TypeID {
				add("db_name_reserved", `db name "id" is reserved for the id column`)
			}

			if c.Type == dsl.TypeID {
				idCols++
			}
		}
		if idCols > 1 {
			issues = append(issues, SchemaIssue{Table: id, Code: "id_multiple", Message: "table has more than one id column"})
		}
	}
	return issues
}

// SchemaLint проверяет текущие схемы хранилища.
func (s *Storage) SchemaLint() []SchemaIssue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return LintTables(s.Tables)
}
