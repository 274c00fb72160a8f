package files

import (
	"bytes"
	"context"
	"strings"
)

// Uploader кладёт файлы в BlobStore и отдаёт ссылку вида BaseURL/key.
type Uploader struct {
	Store   *LocalBlobStore
	BaseURL string
}

func (u *Uploader) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, _, _, err := u.Store.Put(u.Store.NewKey(fileName), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	return u.Ref(key), nil
}

// Ref собирает ссылку на объект по ключу.
func (u *Uploader) Ref(key string) string {
	return strings.TrimRight(u.BaseURL, "/") + "/" + key
}

// Key достаёт ключ из ссылки; ok=false, если ссылка не наша.
func (u *Uploader) Key(ref string) (string, bool) {
	prefix := strings.TrimRight(u.BaseURL, "/") + "/"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(ref, prefix)
	return key, key != ""
}

// Delete удаляет объект по ссылке.
func (u *Uploader) Delete(_ context.Context, ref string) error {
	key, ok := u.Key(ref)
	if !ok {
		return ErrBadKey
	}
	return u.Store.Delete(key)
}
