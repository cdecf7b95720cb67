package images

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/guidedimage/guidedimage_server/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

const defaultListLimit = 50

type Endpoints struct {
	uploader *Uploader
	repo     Repository
	backend  storage.Backend
}

func NewEndpoints(uploader *Uploader, repo Repository, backend storage.Backend) *Endpoints {
	return &Endpoints{
		uploader: uploader,
		repo:     repo,
		backend:  backend,
	}
}

func (e *Endpoints) Upload(ctx *fasthttp.RequestCtx) {
	contentType := string(ctx.Request.Header.ContentType())
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		ctx.Error("Content-Type must be multipart/form-data", fasthttp.StatusBadRequest)
		return
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.Error("Failed to parse multipart form", fasthttp.StatusBadRequest)
		return
	}

	files := form.File["file"]
	if len(files) == 0 {
		ctx.Error("No file uploaded", fasthttp.StatusBadRequest)
		return
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		ctx.Error("Failed to open uploaded file", fasthttp.StatusInternalServerError)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		log.Error().Err(err).Str("filename", fileHeader.Filename).Msg("Failed to read uploaded file")
		ctx.Error("Failed to read uploaded file", fasthttp.StatusInternalServerError)
		return
	}

	result := e.uploader.Upload(ctx, NewUploadedFile(fileHeader.Filename, content))
	if result.Data != nil {
		e.populateURL(ctx, result.Data)
	}
	writeJSON(ctx, statusForOutcome(result.Outcome), result)
}

func (e *Endpoints) GetImage(ctx *fasthttp.RequestCtx) {
	imageID, ok := ctx.UserValue("imageID").(string)
	if !ok || imageID == "" {
		ctx.Error("Image ID is required", fasthttp.StatusBadRequest)
		return
	}

	img, err := e.repo.GetByID(ctx, imageID)
	if errors.Is(err, ErrNotFound) {
		ctx.Error("Image not found", fasthttp.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("imageId", imageID).Msg("Failed to load image")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	e.populateURL(ctx, img)
	writeJSON(ctx, fasthttp.StatusOK, img)
}

func (e *Endpoints) ListImages(ctx *fasthttp.RequestCtx) {
	limit, err := queryInt(ctx, "limit", defaultListLimit)
	if err != nil {
		ctx.Error("Invalid limit", fasthttp.StatusBadRequest)
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	offset, err := queryInt(ctx, "offset", 0)
	if err != nil {
		ctx.Error("Invalid offset", fasthttp.StatusBadRequest)
		return
	}

	list, err := e.repo.List(ctx, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list images")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	for _, img := range list {
		e.populateURL(ctx, img)
	}

	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"images": list,
		"limit":  limit,
		"offset": offset,
	})
}

func (e *Endpoints) populateURL(ctx context.Context, img *Image) {
	url, err := e.backend.GetURL(ctx, img.StorageKey())
	if err != nil {
		log.Warn().Err(err).Str("imageId", img.ID).Msg("Failed to resolve image URL")
		return
	}
	img.URL = url
}

func statusForOutcome(outcome Outcome) int {
	switch outcome {
	case OutcomeStored:
		return fasthttp.StatusCreated
	case OutcomeReused:
		return fasthttp.StatusOK
	case OutcomeRejected:
		return fasthttp.StatusUnprocessableEntity
	default:
		return fasthttp.StatusInternalServerError
	}
}

func queryInt(ctx *fasthttp.RequestCtx, key string, fallback int) (int, error) {
	raw := ctx.QueryArgs().Peek(key)
	if len(raw) == 0 {
		return fallback, nil
	}
	value, err := strconv.Atoi(string(raw))
	if err != nil || value < 0 {
		return 0, errors.New("invalid " + key)
	}
	return value, nil
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body interface{}) {
	response, err := json.Marshal(body)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(response)
}
