package files

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStorePutDelete(t *testing.T) {
	s := &LocalBlobStore{Root: t.TempDir()}
	key, n, sum, err := s.Put("", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Len(t, sum, 64)

	p, err := s.Path(key)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	require.NoError(t, s.Delete(key))
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalBlobStoreRejectsEscapingKeys(t *testing.T) {
	s := &LocalBlobStore{Root: t.TempDir()}
	_, err := s.Path("../../etc/passwd")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = s.Path("")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestNewKeyKeepsExtensionAndIsUnique(t *testing.T) {
	s := &LocalBlobStore{Root: t.TempDir()}
	a, b := s.NewKey("Photo.JPG"), s.NewKey("Photo.JPG")
	assert.True(t, strings.HasSuffix(a, ".jpg"))
	assert.NotEqual(t, a, b)
}

func TestNewKeyConcurrentUnique(t *testing.T) {
	s := &LocalBlobStore{Root: t.TempDir()}
	const workers, perWorker = 8, 200

	keys := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				keys <- s.NewKey("scan.png")
			}
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]struct{}, workers*perWorker)
	for k := range keys {
		_, dup := seen[k]
		require.False(t, dup, "duplicate key %s", k)
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestUploaderRoundTrip(t *testing.T) {
	u := &Uploader{Store: &LocalBlobStore{Root: t.TempDir()}, BaseURL: "https://files.example/"}
	ref, err := u.Upload(context.Background(), "a.png", []byte("png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "https://files.example/"))

	key, ok := u.Key(ref)
	require.True(t, ok)
	p, _ := u.Store.Path(key)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, bytes.Equal([]byte("png"), b))

	require.NoError(t, u.Delete(context.Background(), ref))
	assert.ErrorIs(t, u.Delete(context.Background(), "https://elsewhere/x"), ErrBadKey)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = u.Upload(ctx, "a.png", []byte("png"))
	assert.ErrorIs(t, err, context.Canceled)
}

type deleteRecorder struct {
	mu   sync.Mutex
	refs []string
	err  error
}

func (d *deleteRecorder) del(_ context.Context, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = append(d.refs, ref)
	return d.err
}

func (d *deleteRecorder) got() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.refs...)
}

func TestDeletionQueueAtMostOnce(t *testing.T) {
	rec := &deleteRecorder{}
	q := NewDeletionQueue(rec.del, time.Second)

	q.QueueDeletion("https://a")
	q.QueueDeletion("https://a")
	q.QueueDeletion("https://b")
	q.QueueDeletion("")
	q.Close()

	assert.Equal(t, []string{"https://a", "https://b"}, rec.got())
	assert.Equal(t, 0, q.Pending())

	// после Close запросы отбрасываются без паники
	q.QueueDeletion("https://c")
	assert.Len(t, rec.got(), 2)
}

func TestDeletionQueueFailureIsSwallowed(t *testing.T) {
	rec := &deleteRecorder{err: errors.New("gone")}
	q := NewDeletionQueue(rec.del, time.Second)
	q.QueueDeletion("https://a")
	q.QueueDeletion("https://b")
	q.Close()
	assert.Len(t, rec.got(), 2)
}
