package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

type metaTableListItem struct {
	ID     string `json:"id"`
	Module string `json:"module"`
	Name   string `json:"name"`
}

// GET /api/meta/tables
func MetaListHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		storage.mu.RLock()
		out := make([]metaTableListItem, 0, len(storage.Tables))
		for id, t := range storage.Tables {
			out = append(out, metaTableListItem{ID: id, Module: t.Module, Name: t.Name})
		}
		storage.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		c.JSON(http.StatusOK, out)
	}
}

// GET /api/meta/tables/:table — схема целиком, в формате dsl.Table
func MetaTableHandler(storage *Storage) gin.HandlerFunc {
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
		c.JSON(http.StatusOK, t)
	}
}
