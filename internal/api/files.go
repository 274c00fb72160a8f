package api

import (
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// POST /api/files (multipart, поле "file")
func UploadFileHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storage.Files == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store not configured"})
			return
		}
		file, hdr, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart file not found (field name 'file')"})
			return
		}
		defer file.Close()

		store := storage.Files.Store
		key, size, sum, err := store.Put(store.NewKey(safeName(hdr)), file)
		if err != nil {
			log.WithError(err).Error("blob put failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "store error", "details": err.Error()})
			return
		}
		log.WithFields(log.Fields{"key": key, "size": size}).Info("file stored")
		c.JSON(http.StatusCreated, gin.H{
			"object_url": storage.Files.Ref(key),
			"key":        key,
			"file_name":  safeName(hdr),
			"size":       size,
			"sha256":     sum,
		})
	}
}

func safeName(h *multipart.FileHeader) string {
	name := strings.TrimSpace(filepath.Base(h.Filename))
	if name == "" || name == "." || name == "/" {
		return "file"
	}
	return name
}

func fileKey(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

// DELETE /api/files/*key — повторное удаление не ошибка
func DeleteFileHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storage.Files == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store not configured"})
			return
		}
		key := fileKey(c)
		if _, err := storage.Files.Store.Path(key); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}
		if err := storage.Files.Store.Delete(key); err != nil && !isNotExist(err) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed", "details": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GET /api/files/*key
func DownloadFileHandler(storage *Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		if storage.Files == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "blob store not configured"})
			return
		}
		p, err := storage.Files.Store.Path(fileKey(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid key"})
			return
		}
		if !fileExists(p) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.File(p)
	}
}
