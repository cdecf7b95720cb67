package dispenser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/guidedimage/guidedimage_server/internal/demand"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxDimension bounds output width and height when Config leaves it unset.
const DefaultMaxDimension = 4000

var ErrSourceMissing = errors.New("source image missing from storage")

type Config struct {
	ThumbsDir         string
	ResizedDir        string
	CacheDays         int
	AdditionalHeaders map[string]string
	MaxDimension      int
}

// Variant is an encoded image ready to be sent to a client.
type Variant struct {
	Data        []byte
	ContentType string
	ModTime     time.Time
}

// Dispenser produces thumbnails, resized copies and placeholders. Variants of stored
// images are cached on local disk and concurrent requests for one variant share the work.
type Dispenser struct {
	backend storage.Backend
	config  Config
	group   singleflight.Group
}

func New(config Config, backend storage.Backend) *Dispenser {
	if config.CacheDays < 0 {
		config.CacheDays = 0
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = DefaultMaxDimension
	}
	return &Dispenser{
		backend: backend,
		config:  config,
	}
}

func (d *Dispenser) Config() Config {
	return d.config
}

func (d *Dispenser) Thumbnail(ctx context.Context, img *images.Image, thumb demand.Thumbnail) (*Variant, error) {
	if !thumb.IsValid() || !thumb.ExistingImage.IsValid() || !thumb.HasBothDimensions() {
		return nil, fmt.Errorf("%w: thumbnail %q", demand.ErrInvalidDemand, thumb.Method())
	}
	width, _ := thumb.Width()
	height, _ := thumb.Height()
	if err := d.checkBounds(width, height); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d-%d-%s_", width, height, thumb.Method())
	return d.variant(ctx, d.config.ThumbsDir, name, img, func(src image.Image) (image.Image, error) {
		if thumb.Method() == demand.MethodCrop {
			return imaging.Fill(src, width, height, imaging.Center, imaging.Lanczos), nil
		}
		return imaging.Fit(src, width, height, imaging.Lanczos), nil
	})
}

func (d *Dispenser) Resize(ctx context.Context, img *images.Image, resize demand.Resize) (*Variant, error) {
	if !resize.IsValid() {
		return nil, fmt.Errorf("%w: resize", demand.ErrInvalidDemand)
	}
	width, _ := resize.Width()
	height, _ := resize.Height()
	if err := d.checkBounds(width, height); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d-%d-a%t-u%t_", width, height, resize.MaintainAspectRatio(), resize.AllowUpsizing())
	return d.variant(ctx, d.config.ResizedDir, name, img, func(src image.Image) (image.Image, error) {
		bounds := src.Bounds()
		w, h := resizeDimensions(bounds.Dx(), bounds.Dy(), resize)
		if w == bounds.Dx() && h == bounds.Dy() {
			return src, nil
		}
		// A derived side can outgrow the bound when upsizing a narrow source.
		if err := d.checkBounds(w, h); err != nil {
			return nil, err
		}
		return imaging.Resize(src, w, h, imaging.Lanczos), nil
	})
}

// Dummy renders a solid colour PNG. Placeholders are cheap and never cached.
func (d *Dispenser) Dummy(dummy demand.Dummy) (*Variant, error) {
	if !dummy.IsValid() {
		return nil, fmt.Errorf("%w: dummy", demand.ErrInvalidDemand)
	}
	if err := d.checkBounds(dummy.Width(), dummy.Height()); err != nil {
		return nil, err
	}
	fill, _ := dummy.Color()

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(dummy.Width(), dummy.Height(), fill), imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder: %w", err)
	}

	return &Variant{
		Data:        buf.Bytes(),
		ContentType: "image/png",
		ModTime:     time.Now(),
	}, nil
}

// EmptyCache removes every cached variant.
func (d *Dispenser) EmptyCache() error {
	for _, dir := range d.cacheDirs() {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to empty cache directory %s: %w", dir, err)
		}
	}
	return nil
}

// Purge removes cached variants last written before the cutoff and reports how many went.
func (d *Dispenser) Purge(olderThan time.Time) (int, error) {
	removed := 0
	for _, dir := range d.cacheDirs() {
		err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if entry.IsDir() {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				return err
			}
			if info.ModTime().Before(olderThan) {
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return err
				}
				removed++
			}
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to purge %s: %w", dir, err)
		}
	}
	return removed, nil
}

func (d *Dispenser) checkBounds(width, height int) error {
	if width > d.config.MaxDimension || height > d.config.MaxDimension {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", demand.ErrInvalidDemand, width, height, d.config.MaxDimension)
	}
	return nil
}

func (d *Dispenser) cacheDirs() []string {
	var dirs []string
	for _, dir := range []string{d.config.ThumbsDir, d.config.ResizedDir} {
		if dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// variant serves a cached transform of img. Cache files are keyed by record ID since
// records sharing a slug share one storage key.
func (d *Dispenser) variant(ctx context.Context, dir, prefix string, img *images.Image, transform func(image.Image) (image.Image, error)) (*Variant, error) {
	format, extension := outputFormat(img.Extension)
	cachePath := filepath.Join(dir, prefix+img.ID+"_"+img.Name+"."+extension)

	v, err, shared := d.group.Do(cachePath, func() (interface{}, error) {
		if cached, err := readCached(cachePath); err == nil {
			return cached, nil
		}

		src, err := d.loadSource(ctx, img)
		if err != nil {
			return nil, err
		}

		out, err := transform(src)
		if err != nil {
			return nil, err
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, out, format); err != nil {
			return nil, fmt.Errorf("failed to encode variant: %w", err)
		}

		if err := writeCached(cachePath, buf.Bytes()); err != nil {
			log.Warn().Err(err).Str("path", cachePath).Msg("Failed to cache image variant")
		}

		return &Variant{
			Data:        buf.Bytes(),
			ContentType: mimetype.Detect(buf.Bytes()).String(),
			ModTime:     time.Now(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("path", cachePath).Msg("Shared variant with concurrent request")
	}
	return v.(*Variant), nil
}

func (d *Dispenser) loadSource(ctx context.Context, img *images.Image) (image.Image, error) {
	reader, err := d.backend.Get(ctx, img.StorageKey())
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, img.StorageKey())
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	src, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", img.StorageKey(), err)
	}
	return src, nil
}

// outputFormat keeps the source format when imaging can encode it and falls back to PNG.
func outputFormat(extension string) (imaging.Format, string) {
	extension = strings.ToLower(extension)
	format, err := imaging.FormatFromExtension(extension)
	if err != nil {
		return imaging.PNG, "png"
	}
	return format, extension
}

func readCached(path string) (*Variant, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Variant{
		Data:        data,
		ContentType: mimetype.Detect(data).String(),
		ModTime:     info.ModTime(),
	}, nil
}

func writeCached(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".variant-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, path)
}

// resizeDimensions computes the output size for a resize demand on a srcWidth x srcHeight
// source. A missing dimension follows the other one when the aspect ratio is kept, or the
// source otherwise. Without upsizing the result never exceeds the source.
func resizeDimensions(srcWidth, srcHeight int, resize demand.Resize) (int, int) {
	width, hasWidth := resize.Width()
	height, hasHeight := resize.Height()

	if !resize.MaintainAspectRatio() {
		if !hasWidth {
			width = srcWidth
		}
		if !hasHeight {
			height = srcHeight
		}
		if !resize.AllowUpsizing() {
			width = min(width, srcWidth)
			height = min(height, srcHeight)
		}
		return width, height
	}

	var scale float64
	switch {
	case hasWidth && hasHeight:
		scale = math.Min(float64(width)/float64(srcWidth), float64(height)/float64(srcHeight))
	case hasWidth:
		scale = float64(width) / float64(srcWidth)
	case hasHeight:
		scale = float64(height) / float64(srcHeight)
	default:
		scale = 1
	}
	if !resize.AllowUpsizing() && scale > 1 {
		scale = 1
	}

	return max(1, int(math.Round(float64(srcWidth)*scale))), max(1, int(math.Round(float64(srcHeight)*scale)))
}
