package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/stretchr/testify/require"
)

// pngBytes encodes a w x h PNG, zero padded to padTo bytes when padTo is larger.
func pngBytes(t *testing.T, w, h, padTo int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	data := buf.Bytes()
	if padTo > len(data) {
		data = append(data, make([]byte, padTo-len(data))...)
	}
	return data
}

type fakeBackend struct {
	mu         sync.Mutex
	objects    map[string][]byte
	storeCalls int
	storeErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string][]byte)}
}

func (b *fakeBackend) Store(ctx context.Context, key string, reader io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.storeCalls++
	if b.storeErr != nil {
		return b.storeErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBackend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *fakeBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func (b *fakeBackend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *fakeBackend) GetURL(ctx context.Context, key string) (string, error) {
	return "http://files.test/" + key, nil
}

func (b *fakeBackend) StoreCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.storeCalls
}

func (b *fakeBackend) Has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}
