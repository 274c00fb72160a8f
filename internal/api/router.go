// api/router.go
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Roots — откуда admin reload перечитывает схемы по умолчанию.
type Roots struct {
	DSL      string
	Catalogs string
}

func NewRouter(storage *Storage, roots Roots) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta/tables", MetaListHandler(storage))
		apiGroup.GET("/meta/tables/:table", MetaTableHandler(storage))

		apiGroup.POST("/tables/:table/rows", CreateRowHandler(storage))
		apiGroup.GET("/tables/:table/rows", ListRowsHandler(storage))
		apiGroup.GET("/tables/:table/rows/:id", GetRowHandler(storage))

		apiGroup.POST("/files", UploadFileHandler(storage))
		apiGroup.GET("/files/*key", DownloadFileHandler(storage))
		apiGroup.DELETE("/files/*key", DeleteFileHandler(storage))

		apiGroup.POST("/admin/reload", AdminReloadHandler(storage, roots.DSL, roots.Catalogs))
	}
	return r
}

func RunServer(addr string, storage *Storage, roots Roots) error {
	return NewRouter(storage, roots).Run(addr)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
