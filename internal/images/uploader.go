package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	MessageInvalidImage = "Invalid image size or type."
	MessageImageReused  = "Image reused."

	DefaultUploadDirectory = "uploads/images"
	DefaultRules           = "required|mimes:png,gif,jpeg|max:2048"

	fallbackName = "image"
	lockStripes  = 64
)

var DefaultAllowedExtensions = []string{"gif", "jpg", "jpeg", "png"}

// DimensionReader reports the pixel size of encoded image data.
type DimensionReader func(r io.Reader) (width, height int, err error)

func DecodeDimensions(r io.Reader) (int, int, error) {
	config, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, err
	}
	return config.Width, config.Height, nil
}

// Listener is told about every image stored for the first time.
type Listener interface {
	ImageStored(img *Image)
}

type UploaderConfig struct {
	AllowedExtensions []string
	UploadDirectory   string
	Rules             string
}

type Uploader struct {
	repo              Repository
	backend           storage.Backend
	rules             *Rules
	allowedExtensions []string
	uploadDirectory   string
	readDimensions    DimensionReader
	logger            zerolog.Logger
	listeners         []Listener
	locks             [lockStripes]sync.Mutex
}

func NewUploader(config UploaderConfig, repo Repository, backend storage.Backend, logger zerolog.Logger) (*Uploader, error) {
	ruleString := config.Rules
	if ruleString == "" {
		ruleString = DefaultRules
	}
	rules, err := ParseRules(ruleString)
	if err != nil {
		return nil, fmt.Errorf("invalid upload rules: %w", err)
	}

	allowed := config.AllowedExtensions
	if len(allowed) == 0 {
		allowed = DefaultAllowedExtensions
	}

	uploadDirectory := strings.TrimSuffix(config.UploadDirectory, "/")
	if uploadDirectory == "" {
		uploadDirectory = DefaultUploadDirectory
	}

	return &Uploader{
		repo:              repo,
		backend:           backend,
		rules:             rules,
		allowedExtensions: allowed,
		uploadDirectory:   uploadDirectory,
		readDimensions:    DecodeDimensions,
		logger:            logger,
	}, nil
}

func (u *Uploader) SetDimensionReader(reader DimensionReader) {
	u.readDimensions = reader
}

func (u *Uploader) AddListener(listener Listener) {
	u.listeners = append(u.listeners, listener)
}

// Upload validates, deduplicates and stores one file. Expected failures come back as an
// unsuccessful Result, never as an error or panic.
func (u *Uploader) Upload(ctx context.Context, file *UploadedFile) *Result {
	if err := u.validate(file); err != nil {
		u.logger.Debug().Err(err).Msg("Upload rejected")
		return rejectedResult(MessageInvalidImage)
	}

	row, err := u.buildImageRow(file)
	if err != nil {
		u.logger.Debug().Err(err).Str("filename", file.OriginalName).Msg("Upload rejected")
		return rejectedResult(MessageInvalidImage)
	}

	unlock := u.lock(row.Name)
	defer unlock()

	existing, err := u.repo.FindByNameAndSize(ctx, row.Name, row.Size)
	if err == nil {
		return reusedResult(existing)
	}
	if !errors.Is(err, ErrNotFound) {
		return u.fail(row, err)
	}

	created, reused, err := u.persist(ctx, file, row)
	if err != nil {
		return u.fail(row, err)
	}
	if reused {
		return reusedResult(created)
	}

	u.logger.Info().
		Str("imageId", created.ID).
		Str("name", created.Name).
		Int64("size", created.Size).
		Msg("Image stored")

	for _, listener := range u.listeners {
		listener.ImageStored(created)
	}

	return storedResult(created)
}

func (u *Uploader) validate(file *UploadedFile) error {
	if err := u.rules.Check(file); err != nil {
		return err
	}

	extension := strings.ToLower(file.ClientExtension())
	if !slices.Contains(u.allowedExtensions, extension) {
		return fmt.Errorf("extension %q is not allowed", extension)
	}
	return nil
}

func (u *Uploader) buildImageRow(file *UploadedFile) (*NewImage, error) {
	width, height, err := u.readDimensions(bytes.NewReader(file.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to read image dimensions: %w", err)
	}

	name := Slug(file.BaseName())
	if name == "" {
		name = fallbackName
	}
	extension := strings.ToLower(file.ClientExtension())
	checksum := sha256.Sum256(file.Content)

	return &NewImage{
		Name:      name,
		Size:      file.Size(),
		MimeType:  file.MimeType(),
		Extension: extension,
		Location:  u.uploadDirectory,
		FullPath:  url.QueryEscape(fmt.Sprintf("%s/%s.%s", u.uploadDirectory, name, extension)),
		Width:     width,
		Height:    height,
		Checksum:  hex.EncodeToString(checksum[:]),
	}, nil
}

// persist stores the file and inserts its record. When another writer inserted the same
// (name, size) first, the winner's record is returned with reused set.
func (u *Uploader) persist(ctx context.Context, file *UploadedFile, row *NewImage) (img *Image, reused bool, err error) {
	key := row.StorageKey()

	existedBefore, err := u.backend.Exists(ctx, key)
	if err != nil {
		return nil, false, err
	}

	if err := u.backend.Store(ctx, key, bytes.NewReader(file.Content)); err != nil {
		return nil, false, err
	}

	created, err := u.repo.Insert(ctx, row)
	if err == nil {
		return created, false, nil
	}

	if errors.Is(err, ErrDuplicate) {
		winner, findErr := u.repo.FindByNameAndSize(ctx, row.Name, row.Size)
		if findErr == nil {
			u.logger.Warn().
				Str("name", row.Name).
				Int64("size", row.Size).
				Msg("Concurrent upload of the same image, reusing the stored record")
			return winner, true, nil
		}
		return nil, false, findErr
	}

	if !existedBefore {
		if delErr := u.backend.Delete(ctx, key); delErr != nil {
			u.logger.Warn().Err(delErr).Str("key", key).Msg("Failed to remove file after failed insert")
		}
	}
	return nil, false, err
}

func (u *Uploader) fail(row *NewImage, err error) *Result {
	u.logger.Error().
		Err(err).
		Interface("imageRow", row).
		Str("trace", string(debug.Stack())).
		Msg(err.Error())

	return failedResult(err.Error())
}

// lock serializes uploads sharing a slug inside this process. The slug covers both the
// (name, size) dedupe key and the storage key, which ignores size.
func (u *Uploader) lock(name string) func() {
	h := fnv.New32a()
	h.Write([]byte(name))
	m := &u.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}
