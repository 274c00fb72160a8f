package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func tableParam(c *gin.Context, storage *Storage) (string, bool) {
	id, ok := storage.NormalizeTableName("", c.Param("table"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
	}
	return id, ok
}

// POST /api/tables/:table/rows
func CreateRowHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := tableParam(c, storage)
		if !ok {
			return
		}
		t, ok := storage.Table(id)
		if !ok { // схему успели перезагрузить
			c.JSON(http.StatusNotFound, gin.H{"error": "Table not found"})
			return
		}

		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}

		// валидация — без блокировок
		if errs := ValidateRow(t, obj); len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}

		rec, err := storage.Insert(c.Request.Context(), t, obj)
		if err != nil {
			log.WithError(err).WithField("table", id).Error("row insert failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store error", "details": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, flatten(rec))
	}
}

// GET /api/tables/:table/rows?limit=&offset=
func ListRowsHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := tableParam(c, storage)
		if !ok {
			return
		}
		all := storage.Rows(id)

		limit, offset := 50, 0
		if n, err := strconv.Atoi(c.Query("limit")); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
		if n, err := strconv.Atoi(c.Query("offset")); err == nil && n >= 0 {
			offset = n
		}
		start := min(offset, len(all))
		end := min(start+limit, len(all))

		out := make([]map[string]any, 0, end-start)
		for _, rec := range all[start:end] {
			out = append(out, flatten(rec))
		}
		c.Header("X-Total-Count", strconv.Itoa(len(all)))
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/tables/:table/rows/:id
func GetRowHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := tableParam(c, storage)
		if !ok {
			return
		}
		rec, ok := storage.Row(id, c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.JSON(http.StatusOK, flatten(rec))
	}
}
