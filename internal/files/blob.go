package files

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// BlobStore — хранилище байтов файлов по ключу.
type BlobStore interface {
	Put(key string, r io.Reader) (string, int64, string, error) // returns key, size, sha256
	Delete(key string) error
	Path(key string) (string, error) // local path (для local)
}

// ErrBadKey — ключ выходит за пределы корня хранилища.
var ErrBadKey = errors.New("invalid blob key")

type LocalBlobStore struct {
	Root string // например, "./uploads"
}

// NewKey генерирует ключ вида 2026/10/<ulid><ext>.
func (s *LocalBlobStore) NewKey(fileName string) string {
	// ulid.Make берёт общую потокобезопасную энтропию пакета
	id := ulid.Make().String()
	now := time.Now().UTC()
	ext := strings.ToLower(filepath.Ext(fileName))
	return path.Join(fmt.Sprintf("%04d/%02d", now.Year(), int(now.Month())), id+ext)
}

func (s *LocalBlobStore) Put(key string, r io.Reader) (string, int64, string, error) {
	if key == "" {
		key = s.NewKey("")
	}
	full, err := s.Path(key)
	if err != nil {
		return "", 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", 0, "", err
	}
	f, err := os.Create(full)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		return "", 0, "", err
	}
	return key, n, hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalBlobStore) Delete(key string) error {
	full, err := s.Path(key)
	if err != nil {
		return err
	}
	return os.Remove(full)
}

func (s *LocalBlobStore) Path(key string) (string, error) {
	clean := path.Clean("/" + strings.TrimPrefix(key, "/"))
	if clean == "/" || strings.Contains(key, "..") {
		return "", ErrBadKey
	}
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}
