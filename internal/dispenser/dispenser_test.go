package dispenser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/guidedimage/guidedimage_server/internal/demand"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dispenser *Dispenser
	image     *images.Image
	config    Config
	backend   storage.Backend
}

func newFixture(t *testing.T, width, height int) *fixture {
	t.Helper()
	root := t.TempDir()

	backend, err := storage.NewLocalStorage(&storage.BackendConfig{
		Type:      storage.BackendTypeLocal,
		LocalPath: root,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, width, height))))

	img := &images.Image{
		ID:        "img-1",
		Name:      "pic",
		Size:      int64(buf.Len()),
		Extension: "png",
		Location:  "uploads/images",
		Width:     width,
		Height:    height,
	}
	require.NoError(t, backend.Store(context.Background(), img.StorageKey(), &buf))

	config := Config{
		ThumbsDir:  filepath.Join(root, "images", ".thumbs"),
		ResizedDir: filepath.Join(root, "images", ".resized"),
		CacheDays:  2,
	}
	return &fixture{dispenser: New(config, backend), image: img, config: config, backend: backend}
}

func decodeSize(t *testing.T, v *Variant) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(v.Data))
	require.NoError(t, err)
	return cfg.Width, cfg.Height
}

func TestDispenser_Thumbnail(t *testing.T) {
	tests := []struct {
		method     string
		wantWidth  int
		wantHeight int
	}{
		{method: "crop", wantWidth: 10, wantHeight: 10},
		{method: "fit", wantWidth: 10, wantHeight: 5},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			// given
			f := newFixture(t, 40, 20)

			// when
			v, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail(tt.method, "10", "10"))

			// then
			require.NoError(t, err)
			assert.Equal(t, "image/png", v.ContentType)
			w, h := decodeSize(t, v)
			assert.Equal(t, tt.wantWidth, w)
			assert.Equal(t, tt.wantHeight, h)

			cached := filepath.Join(f.config.ThumbsDir, "10-10-"+tt.method+"_img-1_pic.png")
			assert.FileExists(t, cached)
		})
	}
}

func TestDispenser_Thumbnail_ShouldRejectInvalidDemands(t *testing.T) {
	f := newFixture(t, 40, 20)

	for _, d := range []demand.Thumbnail{
		demand.NewThumbnail("Crop", "10", "10"),
		demand.NewThumbnail("resize", "10", "10"),
		demand.NewThumbnail("crop", "_", "10"),
		demand.NewThumbnail("fit", "abc", "10"),
	} {
		_, err := f.dispenser.Thumbnail(context.Background(), f.image, d)
		assert.ErrorIs(t, err, demand.ErrInvalidDemand)
	}
}

func TestDispenser_Thumbnail_ShouldCachePerRecordWhenSlugsCollide(t *testing.T) {
	// given: a second record with the same slug overwrites the shared original
	f := newFixture(t, 40, 20)
	first, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("fit", "10", "10"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 20, 40))))
	other := *f.image
	other.ID = "img-2"
	other.Size = int64(buf.Len())
	other.Width, other.Height = 20, 40
	require.NoError(t, f.backend.Store(context.Background(), other.StorageKey(), &buf))

	// when
	second, err := f.dispenser.Thumbnail(context.Background(), &other, demand.NewThumbnail("fit", "10", "10"))

	// then
	require.NoError(t, err)
	w, h := decodeSize(t, first)
	assert.Equal(t, []int{10, 5}, []int{w, h})
	w, h = decodeSize(t, second)
	assert.Equal(t, []int{5, 10}, []int{w, h})
	assert.NotEqual(t, first.Data, second.Data)
	assert.FileExists(t, filepath.Join(f.config.ThumbsDir, "10-10-fit_img-2_pic.png"))
}

func TestDispenser_Thumbnail_ShouldServeFromCache(t *testing.T) {
	// given
	f := newFixture(t, 40, 20)
	first, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("crop", "8", "8"))
	require.NoError(t, err)

	// when: the original disappears, the cached variant is still served
	require.NoError(t, os.RemoveAll(filepath.Join(filepath.Dir(filepath.Dir(f.config.ThumbsDir)), "uploads")))
	second, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("crop", "8", "8"))

	// then
	require.NoError(t, err)
	assert.Equal(t, first.Data, second.Data)
}

func TestDispenser_ShouldReportMissingSource(t *testing.T) {
	f := newFixture(t, 40, 20)
	missing := *f.image
	missing.Name = "gone"

	_, err := f.dispenser.Thumbnail(context.Background(), &missing, demand.NewThumbnail("fit", "5", "5"))

	assert.ErrorIs(t, err, ErrSourceMissing)
}

func TestDispenser_Thumbnail_ConcurrentRequestsAgree(t *testing.T) {
	f := newFixture(t, 40, 20)
	var wg sync.WaitGroup
	results := make([]*Variant, 8)
	errs := make([]error, 8)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("crop", "6", "6"))
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Data, results[i].Data)
	}
}

func TestDispenser_Resize(t *testing.T) {
	tests := []struct {
		name       string
		resize     demand.Resize
		wantWidth  int
		wantHeight int
	}{
		{name: "width only keeps aspect", resize: demand.NewResize("20", "_"), wantWidth: 20, wantHeight: 10},
		{name: "box keeps aspect", resize: demand.NewResize("20", "4"), wantWidth: 8, wantHeight: 4},
		{name: "no upsize by default", resize: demand.NewResize("80", "_"), wantWidth: 40, wantHeight: 20},
		{name: "upsize allowed", resize: demand.NewResize("80", "_").WithUpsize("1"), wantWidth: 80, wantHeight: 40},
		{name: "stretch without aspect", resize: demand.NewResize("10", "15").WithAspect("0"), wantWidth: 10, wantHeight: 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 40, 20)

			v, err := f.dispenser.Resize(context.Background(), f.image, tt.resize)

			require.NoError(t, err)
			w, h := decodeSize(t, v)
			assert.Equal(t, tt.wantWidth, w)
			assert.Equal(t, tt.wantHeight, h)
		})
	}
}

func TestDispenser_Resize_ShouldRejectMissingDimensions(t *testing.T) {
	f := newFixture(t, 40, 20)

	_, err := f.dispenser.Resize(context.Background(), f.image, demand.NewResize("_", "null"))

	assert.ErrorIs(t, err, demand.ErrInvalidDemand)
}

func TestDispenser_ShouldRejectDimensionsOverTheBound(t *testing.T) {
	// given
	f := newFixture(t, 1, 100)
	over := strconv.Itoa(DefaultMaxDimension + 1)
	atBound := strconv.Itoa(DefaultMaxDimension)

	// when
	_, dummyErr := f.dispenser.Dummy(demand.NewDummy(over, "10", ""))
	_, thumbErr := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("crop", "10", over))
	_, resizeErr := f.dispenser.Resize(context.Background(), f.image, demand.NewResize(over, "_"))
	_, derivedErr := f.dispenser.Resize(context.Background(), f.image, demand.NewResize("100", "_").WithUpsize("1"))
	_, fitErr := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("fit", atBound, "10"))

	// then
	assert.ErrorIs(t, dummyErr, demand.ErrInvalidDemand)
	assert.ErrorIs(t, thumbErr, demand.ErrInvalidDemand)
	assert.ErrorIs(t, resizeErr, demand.ErrInvalidDemand)
	assert.ErrorIs(t, derivedErr, demand.ErrInvalidDemand, "1x100 scaled to width 100 is 100x10000")
	assert.NoError(t, fitErr)
}

func TestDispenser_ShouldHonourConfiguredMaxDimension(t *testing.T) {
	d := New(Config{MaxDimension: 50}, nil)

	_, okErr := d.Dummy(demand.NewDummy("50", "50", ""))
	_, overErr := d.Dummy(demand.NewDummy("51", "50", ""))

	assert.NoError(t, okErr)
	assert.ErrorIs(t, overErr, demand.ErrInvalidDemand)
	assert.Equal(t, DefaultMaxDimension, New(Config{}, nil).Config().MaxDimension)
}

func TestDispenser_Dummy(t *testing.T) {
	// given
	f := newFixture(t, 1, 1)

	// when
	v, err := f.dispenser.Dummy(demand.NewDummy("12", "7", "ff0000"))

	// then
	require.NoError(t, err)
	assert.Equal(t, "image/png", v.ContentType)
	decoded, err := png.Decode(bytes.NewReader(v.Data))
	require.NoError(t, err)
	assert.Equal(t, 12, decoded.Bounds().Dx())
	assert.Equal(t, 7, decoded.Bounds().Dy())
	assert.Equal(t, color.NRGBAModel.Convert(color.NRGBA{R: 0xff, A: 0xff}), color.NRGBAModel.Convert(decoded.At(3, 3)))

	_, err = f.dispenser.Dummy(demand.NewDummy("12", "_", ""))
	assert.ErrorIs(t, err, demand.ErrInvalidDemand)
}

func TestDispenser_EmptyCacheAndPurge(t *testing.T) {
	// given
	f := newFixture(t, 40, 20)
	_, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("fit", "10", "10"))
	require.NoError(t, err)
	_, err = f.dispenser.Resize(context.Background(), f.image, demand.NewResize("10", "_"))
	require.NoError(t, err)

	// when
	keptRemoved, err := f.dispenser.Purge(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	purged, err := f.dispenser.Purge(time.Now().Add(time.Hour))
	require.NoError(t, err)

	// then
	assert.Equal(t, 0, keptRemoved)
	assert.Equal(t, 2, purged)

	require.NoError(t, f.dispenser.EmptyCache())
	assert.NoDirExists(t, f.config.ThumbsDir)
	assert.NoDirExists(t, f.config.ResizedDir)

	removed, err := f.dispenser.Purge(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCacheSweeper_RunNow(t *testing.T) {
	f := newFixture(t, 40, 20)
	_, err := f.dispenser.Thumbnail(context.Background(), f.image, demand.NewThumbnail("fit", "10", "10"))
	require.NoError(t, err)

	old := time.Now().AddDate(0, 0, -40)
	require.NoError(t, os.Chtimes(filepath.Join(f.config.ThumbsDir, "10-10-fit_img-1_pic.png"), old, old))

	sweeper := NewCacheSweeper(f.dispenser, 30)

	assert.Equal(t, 1, sweeper.RunNow())
	assert.Equal(t, 0, sweeper.RunNow())
}
