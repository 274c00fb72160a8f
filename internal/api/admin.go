package api

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"tablesync/internal/dsl"
	"tablesync/internal/reference"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ErrSchemaIssues — DSL загружен, но линтер нашёл блокирующие проблемы.
var ErrSchemaIssues = errors.New("schema has blocking issues")

// LoadSchema читает DSL и справочники, прогоняет линтер и подставляет коды справочников.
// Отсутствующая папка справочников — не ошибка.
func LoadSchema(dslRoot, catalogsRoot string, at time.Time) (map[string]*dsl.Table, []SchemaIssue, error) {
	tables, err := dsl.LoadAll(dslRoot)
	if err != nil {
		return nil, nil, err
	}
	if issues := LintTables(tables); len(issues) > 0 {
		return nil, issues, ErrSchemaIssues
	}

	catalogs, err := reference.LoadCatalogs(catalogsRoot)
	if errors.Is(err, fs.ErrNotExist) {
		catalogs, err = map[string]reference.Catalog{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if err := reference.Resolve(tables, catalogs, at); err != nil {
		return nil, nil, err
	}
	return tables, nil, nil
}

type reloadReq struct {
	DSLRoot      string `json:"dsl_root"`      // директория с *.dsl
	CatalogsRoot string `json:"catalogs_root"` // директория со справочниками
}

// POST /api/admin/reload
func AdminReloadHandler(storage *Storage, defDSL, defCatalogs string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reloadReq
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
				return
			}
		}

		dslRoot := strings.TrimSpace(req.DSLRoot)
		if dslRoot == "" {
			dslRoot = defDSL
		}
		catalogsRoot := strings.TrimSpace(req.CatalogsRoot)
		if catalogsRoot == "" {
			catalogsRoot = defCatalogs
		}

		tables, issues, err := LoadSchema(dslRoot, catalogsRoot, time.Now())
		if errors.Is(err, ErrSchemaIssues) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  err.Error(),
				"issues": issues,
				"hint":   "fix DSL and retry",
			})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "DSL load error", "details": err.Error()})
			return
		}

		storage.ReplaceTables(tables)
		log.WithFields(log.Fields{"dsl": dslRoot, "tables": len(tables)}).Info("schema reloaded")

		c.JSON(http.StatusOK, gin.H{
			"ok":           true,
			"dslRoot":      dslRoot,
			"catalogsRoot": catalogsRoot,
			"tables":       len(tables),
		})
	}
}
