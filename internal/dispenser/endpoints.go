package dispenser

import (
	"errors"

	"github.com/goccy/go-json"
	"github.com/guidedimage/guidedimage_server/internal/demand"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

type Endpoints struct {
	dispenser *Dispenser
	repo      images.Repository
}

func NewEndpoints(dispenser *Dispenser, repo images.Repository) *Endpoints {
	return &Endpoints{
		dispenser: dispenser,
		repo:      repo,
	}
}

func (e *Endpoints) Thumbnail(ctx *fasthttp.RequestCtx) {
	img, ok := e.loadImage(ctx)
	if !ok {
		return
	}

	thumb := demand.NewThumbnail(userValue(ctx, "method"), userValue(ctx, "width"), userValue(ctx, "height"))
	variant, err := e.dispenser.Thumbnail(ctx, img, thumb)
	if err != nil {
		writeError(ctx, img, err)
		return
	}

	e.dispenser.writeVariant(ctx, variant)
}

func (e *Endpoints) Resize(ctx *fasthttp.RequestCtx) {
	img, ok := e.loadImage(ctx)
	if !ok {
		return
	}

	resize := demand.NewResize(userValue(ctx, "width"), userValue(ctx, "height"))
	if aspect, ok := ctx.UserValue("aspect").(string); ok {
		resize = resize.WithAspect(aspect)
	}
	if upsize, ok := ctx.UserValue("upsize").(string); ok {
		resize = resize.WithUpsize(upsize)
	}

	variant, err := e.dispenser.Resize(ctx, img, resize)
	if err != nil {
		writeError(ctx, img, err)
		return
	}

	e.dispenser.writeVariant(ctx, variant)
}

func (e *Endpoints) Dummy(ctx *fasthttp.RequestCtx) {
	dummy := demand.NewDummy(userValue(ctx, "width"), userValue(ctx, "height"), userValue(ctx, "color"))

	variant, err := e.dispenser.Dummy(dummy)
	if err != nil {
		writeError(ctx, nil, err)
		return
	}

	e.dispenser.writeVariant(ctx, variant)
}

func (e *Endpoints) EmptyCache(ctx *fasthttp.RequestCtx) {
	if err := e.dispenser.EmptyCache(); err != nil {
		log.Error().Err(err).Msg("Failed to empty image cache")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	log.Info().Msg("Image cache emptied")

	response, _ := json.Marshal(map[string]bool{"success": true})
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(response)
}

func (e *Endpoints) loadImage(ctx *fasthttp.RequestCtx) (*images.Image, bool) {
	imageID := userValue(ctx, "imageID")
	if imageID == "" {
		ctx.Error("Image ID is required", fasthttp.StatusBadRequest)
		return nil, false
	}

	img, err := e.repo.GetByID(ctx, imageID)
	if errors.Is(err, images.ErrNotFound) {
		ctx.Error("Image not found", fasthttp.StatusNotFound)
		return nil, false
	}
	if err != nil {
		log.Error().Err(err).Str("imageId", imageID).Msg("Failed to load image")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return nil, false
	}
	return img, true
}

func writeError(ctx *fasthttp.RequestCtx, img *images.Image, err error) {
	switch {
	case errors.Is(err, demand.ErrInvalidDemand):
		ctx.Error(err.Error(), fasthttp.StatusBadRequest)
	case errors.Is(err, ErrSourceMissing):
		ctx.Error("Image file not found", fasthttp.StatusNotFound)
	default:
		event := log.Error().Err(err)
		if img != nil {
			event = event.Str("imageId", img.ID)
		}
		event.Msg("Failed to dispense image")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
	}
}

func userValue(ctx *fasthttp.RequestCtx, key string) string {
	value, _ := ctx.UserValue(key).(string)
	return value
}
