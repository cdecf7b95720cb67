package images

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploaderFixture struct {
	uploader *Uploader
	repo     Repository
	backend  *fakeBackend
	logs     *bytes.Buffer
}

func newUploaderFixture(t *testing.T, config UploaderConfig, repo Repository) *uploaderFixture {
	t.Helper()
	if repo == nil {
		repo = NewMemoryRepository()
	}
	backend := newFakeBackend()
	logs := &bytes.Buffer{}

	uploader, err := NewUploader(config, repo, backend, zerolog.New(logs))
	require.NoError(t, err)

	return &uploaderFixture{uploader: uploader, repo: repo, backend: backend, logs: logs}
}

func defaultTestConfig() UploaderConfig {
	return UploaderConfig{
		AllowedExtensions: []string{"png", "jpg"},
		Rules:             "required|mimes:png|max:2048",
	}
}

func TestUploader_Upload_ShouldStoreNewImage(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	file := NewUploadedFile("My Photo.PNG", pngBytes(t, 4, 3, 1024))

	// when
	result := f.uploader.Upload(context.Background(), file)

	// then
	require.True(t, result.Success)
	assert.Equal(t, "", result.Message)
	assert.Equal(t, OutcomeStored, result.Outcome)
	require.NotNil(t, result.Data)
	assert.NotEmpty(t, result.Data.ID)
	assert.Equal(t, "my-photo", result.Data.Name)
	assert.Equal(t, int64(1024), result.Data.Size)
	assert.Equal(t, "image/png", result.Data.MimeType)
	assert.Equal(t, "png", result.Data.Extension)
	assert.Equal(t, "uploads/images", result.Data.Location)
	assert.Equal(t, "uploads%2Fimages%2Fmy-photo.png", result.Data.FullPath)
	assert.Equal(t, 4, result.Data.Width)
	assert.Equal(t, 3, result.Data.Height)
	assert.Len(t, result.Data.Checksum, 64)

	assert.Equal(t, 1, f.backend.StoreCalls())
	assert.True(t, f.backend.Has("uploads/images/my-photo.png"))

	stats, err := f.repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

func TestUploader_Upload_ShouldUseConfiguredDirectory(t *testing.T) {
	// given
	config := defaultTestConfig()
	config.UploadDirectory = "media/originals/"
	f := newUploaderFixture(t, config, nil)

	// when
	result := f.uploader.Upload(context.Background(), NewUploadedFile("cat.png", pngBytes(t, 2, 2, 0)))

	// then
	require.True(t, result.Success)
	assert.Equal(t, "media/originals", result.Data.Location)
	assert.Equal(t, "media%2Foriginals%2Fcat.png", result.Data.FullPath)
	assert.True(t, f.backend.Has("media/originals/cat.png"))
}

func TestUploader_Upload_ShouldRejectDisallowedExtension(t *testing.T) {
	for _, name := range []string{"photo.gif", "photo.GIF", "photo", "photo.png.exe"} {
		t.Run(name, func(t *testing.T) {
			// given
			f := newUploaderFixture(t, defaultTestConfig(), nil)

			// when
			result := f.uploader.Upload(context.Background(), NewUploadedFile(name, pngBytes(t, 2, 2, 0)))

			// then
			assert.False(t, result.Success)
			assert.Equal(t, "Invalid image size or type.", result.Message)
			assert.Equal(t, OutcomeRejected, result.Outcome)
			assert.Nil(t, result.Data)
			assert.Equal(t, 0, f.backend.StoreCalls())
			stats, err := f.repo.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(0), stats.Count)
		})
	}
}

func TestUploader_Upload_ShouldRejectFilesBreakingRules(t *testing.T) {
	tests := []struct {
		name  string
		rules string
		file  func(t *testing.T) *UploadedFile
	}{
		{
			name:  "too large",
			rules: "required|mimes:png|max:1",
			file:  func(t *testing.T) *UploadedFile { return NewUploadedFile("big.png", pngBytes(t, 2, 2, 2048)) },
		},
		{
			name:  "not an image",
			rules: "required|mimes:png|max:2048",
			file:  func(t *testing.T) *UploadedFile { return NewUploadedFile("fake.png", []byte("just some text")) },
		},
		{
			name:  "empty",
			rules: "required",
			file:  func(t *testing.T) *UploadedFile { return NewUploadedFile("empty.png", nil) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			config := defaultTestConfig()
			config.Rules = tt.rules
			f := newUploaderFixture(t, config, nil)

			// when
			result := f.uploader.Upload(context.Background(), tt.file(t))

			// then
			assert.False(t, result.Success)
			assert.Equal(t, MessageInvalidImage, result.Message)
			assert.Equal(t, 0, f.backend.StoreCalls())
		})
	}
}

func TestUploader_Upload_ShouldRejectUnreadableDimensions(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	f.uploader.SetDimensionReader(func(r io.Reader) (int, int, error) {
		return 0, 0, errors.New("corrupt header")
	})

	// when
	result := f.uploader.Upload(context.Background(), NewUploadedFile("a.png", pngBytes(t, 2, 2, 0)))

	// then
	assert.False(t, result.Success)
	assert.Equal(t, MessageInvalidImage, result.Message)
	assert.Equal(t, 0, f.backend.StoreCalls())
}

func TestUploader_Upload_ShouldReuseDuplicate(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	content := pngBytes(t, 4, 4, 512)
	first := f.uploader.Upload(context.Background(), NewUploadedFile("Holiday Pic.png", content))
	require.True(t, first.Success)

	// when
	second := f.uploader.Upload(context.Background(), NewUploadedFile("holiday_pic.PNG", content))

	// then
	assert.True(t, second.Success)
	assert.Equal(t, "Image reused.", second.Message)
	assert.Equal(t, OutcomeReused, second.Outcome)
	require.NotNil(t, second.Data)
	assert.Equal(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, 1, f.backend.StoreCalls())

	stats, err := f.repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

func TestUploader_Upload_ShouldTreatDifferentSizesAsDifferentImages(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)

	// when
	first := f.uploader.Upload(context.Background(), NewUploadedFile("logo.png", pngBytes(t, 2, 2, 300)))
	second := f.uploader.Upload(context.Background(), NewUploadedFile("logo.png", pngBytes(t, 2, 2, 400)))

	// then
	assert.Equal(t, OutcomeStored, first.Outcome)
	assert.Equal(t, OutcomeStored, second.Outcome)
	assert.NotEqual(t, first.Data.ID, second.Data.ID)
	assert.Equal(t, 2, f.backend.StoreCalls())
}

func TestUploader_Upload_ShouldFallBackWhenNameHasNoSlug(t *testing.T) {
	f := newUploaderFixture(t, defaultTestConfig(), nil)

	result := f.uploader.Upload(context.Background(), NewUploadedFile("???.png", pngBytes(t, 2, 2, 0)))

	require.True(t, result.Success)
	assert.Equal(t, "image", result.Data.Name)
}

type failingInsertRepository struct {
	*MemoryRepository
	err error
}

func (r *failingInsertRepository) Insert(ctx context.Context, row *NewImage) (*Image, error) {
	return nil, r.err
}

func TestUploader_Upload_ShouldCaptureInsertFailure(t *testing.T) {
	// given
	repo := &failingInsertRepository{MemoryRepository: NewMemoryRepository(), err: errors.New("database is locked")}
	f := newUploaderFixture(t, defaultTestConfig(), repo)

	// when
	result := f.uploader.Upload(context.Background(), NewUploadedFile("My Photo.png", pngBytes(t, 2, 2, 0)))

	// then
	assert.False(t, result.Success)
	assert.Equal(t, "database is locked", result.Message)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	assert.Nil(t, result.Data)
	assert.False(t, f.backend.Has("uploads/images/my-photo.png"), "orphaned file must be removed")

	logged := f.logs.String()
	assert.Contains(t, logged, `"level":"error"`)
	assert.Contains(t, logged, `"imageRow"`)
	assert.Contains(t, logged, `"name":"my-photo"`)
	assert.Contains(t, logged, `"trace"`)
}

func TestUploader_Upload_ShouldCaptureStoreFailure(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	f.backend.storeErr = errors.New("disk full")

	// when
	result := f.uploader.Upload(context.Background(), NewUploadedFile("a.png", pngBytes(t, 2, 2, 0)))

	// then
	assert.False(t, result.Success)
	assert.Equal(t, "disk full", result.Message)
	stats, err := f.repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Count)
	assert.Contains(t, f.logs.String(), `"imageRow"`)
}

// staleLookupRepository misses the first lookup, like a second process that checked for
// the record just before another process inserted it.
type staleLookupRepository struct {
	*MemoryRepository
	mu     sync.Mutex
	missed bool
}

func (r *staleLookupRepository) FindByNameAndSize(ctx context.Context, name string, size int64) (*Image, error) {
	r.mu.Lock()
	if !r.missed {
		r.missed = true
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	r.mu.Unlock()
	return r.MemoryRepository.FindByNameAndSize(ctx, name, size)
}

func TestUploader_Upload_ShouldReuseWinnerWhenInsertLosesRace(t *testing.T) {
	// given
	content := pngBytes(t, 3, 3, 0)
	memory := NewMemoryRepository()
	winner, err := memory.Insert(context.Background(), &NewImage{
		Name:      "race",
		Size:      int64(len(content)),
		Extension: "png",
		Location:  DefaultUploadDirectory,
	})
	require.NoError(t, err)
	f := newUploaderFixture(t, defaultTestConfig(), &staleLookupRepository{MemoryRepository: memory})

	// when
	result := f.uploader.Upload(context.Background(), NewUploadedFile("race.png", content))

	// then
	assert.True(t, result.Success)
	assert.Equal(t, OutcomeReused, result.Outcome)
	assert.Equal(t, winner.ID, result.Data.ID)
}

func TestUploader_Upload_ShouldStoreOnceUnderConcurrentIdenticalUploads(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	content := pngBytes(t, 8, 8, 0)
	const uploads = 16

	results := make([]*Result, uploads)
	var wg sync.WaitGroup

	// when
	for i := 0; i < uploads; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.uploader.Upload(context.Background(), NewUploadedFile("same.png", content))
		}(i)
	}
	wg.Wait()

	// then
	stored := 0
	for _, result := range results {
		require.True(t, result.Success)
		assert.Equal(t, results[0].Data.ID, result.Data.ID)
		if result.Outcome == OutcomeStored {
			stored++
		}
	}
	assert.Equal(t, 1, stored)
	assert.Equal(t, 1, f.backend.StoreCalls())

	stats, err := f.repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Count)
}

// sizeFailingRepository fails every insert of one file size.
type sizeFailingRepository struct {
	*MemoryRepository
	size int64
}

func (r *sizeFailingRepository) Insert(ctx context.Context, row *NewImage) (*Image, error) {
	if row.Size == r.size {
		return nil, errors.New("insert timed out")
	}
	return r.MemoryRepository.Insert(ctx, row)
}

func TestUploader_Upload_ShouldKeepSharedFileWhenSameSlugInsertFails(t *testing.T) {
	// given
	good := pngBytes(t, 2, 2, 300)
	bad := pngBytes(t, 2, 2, 400)
	repo := &sizeFailingRepository{MemoryRepository: NewMemoryRepository(), size: int64(len(bad))}
	f := newUploaderFixture(t, defaultTestConfig(), repo)
	const rounds = 8

	var wg sync.WaitGroup

	// when
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.uploader.Upload(context.Background(), NewUploadedFile("logo.png", good))
		}()
		go func() {
			defer wg.Done()
			f.uploader.Upload(context.Background(), NewUploadedFile("logo.png", bad))
		}()
	}
	wg.Wait()

	// then
	stored, err := f.repo.FindByNameAndSize(context.Background(), "logo", int64(len(good)))
	require.NoError(t, err)
	assert.True(t, f.backend.Has(stored.StorageKey()), "file of the stored record must survive a failed insert")
}

type recordingListener struct {
	stored []*Image
}

func (l *recordingListener) ImageStored(img *Image) {
	l.stored = append(l.stored, img)
}

func TestUploader_Upload_ShouldNotifyListenersOnlyForNewImages(t *testing.T) {
	// given
	f := newUploaderFixture(t, defaultTestConfig(), nil)
	listener := &recordingListener{}
	f.uploader.AddListener(listener)
	content := pngBytes(t, 2, 2, 0)

	// when
	f.uploader.Upload(context.Background(), NewUploadedFile("a.png", content))
	f.uploader.Upload(context.Background(), NewUploadedFile("a.png", content))
	f.uploader.Upload(context.Background(), NewUploadedFile("a.gif", content))

	// then
	require.Len(t, listener.stored, 1)
	assert.Equal(t, "a", listener.stored[0].Name)
}

func TestNewUploader_ShouldFailFastOnBadRules(t *testing.T) {
	_, err := NewUploader(UploaderConfig{Rules: "required|dimensions:min_width=100"}, NewMemoryRepository(), newFakeBackend(), zerolog.Nop())

	assert.Error(t, err)
}

func TestNewUploader_ShouldApplyDefaults(t *testing.T) {
	u, err := NewUploader(UploaderConfig{}, NewMemoryRepository(), newFakeBackend(), zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, DefaultUploadDirectory, u.uploadDirectory)
	assert.Equal(t, DefaultAllowedExtensions, u.allowedExtensions)
	assert.Equal(t, DefaultRules, u.rules.String())
}
