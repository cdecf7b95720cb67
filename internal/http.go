package internal

import (
	"strings"

	"github.com/guidedimage/guidedimage_server/internal/dispenser"
	"github.com/guidedimage/guidedimage_server/internal/feed"
	"github.com/guidedimage/guidedimage_server/internal/health"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/guidedimage/guidedimage_server/internal/middleware"
	"github.com/guidedimage/guidedimage_server/internal/status"
	"github.com/valyala/fasthttp"
)

type Handlers struct {
	Images    *images.Endpoints
	Dispenser *dispenser.Endpoints
	Feed      *feed.Handler
	Health    *health.HealthEndpoints
	Status    *status.StatusEndpoints
}

func NewRequestHandler(config *Config, handlers Handlers) fasthttp.RequestHandler {
	authMiddleware := middleware.NewAuthMiddleware(config.Auth.JWTSecret)
	corsMiddleware := middleware.NewCORSMiddleware(config.AllowedOrigins)
	prefix := "/" + strings.Trim(config.Routes.Prefix, "/")

	handler := func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())

		switch {
		case path == "/health":
			handlers.Health.Health(ctx)
		case path == "/status":
			authMiddleware.RequireAuth(handlers.Status.Status)(ctx)

		case path == prefix:
			if method == fasthttp.MethodGet {
				handlers.Images.ListImages(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == prefix+"/upload":
			if method == fasthttp.MethodPost {
				authMiddleware.RequireAuth(handlers.Images.Upload)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == prefix+"/empty-cache":
			if method == fasthttp.MethodPost {
				authMiddleware.RequireAuth(handlers.Dispenser.EmptyCache)(ctx)
			} else {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
			}
		case path == prefix+"/feed":
			authMiddleware.RequireAuth(handlers.Feed.HandleFastHTTP)(ctx)

		case strings.HasPrefix(path, prefix+"/"):
			if method != fasthttp.MethodGet {
				ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
				return
			}
			routeImage(ctx, handlers, strings.Split(strings.TrimPrefix(path, prefix+"/"), "/"))

		default:
			ctx.Error("Not Found", fasthttp.StatusNotFound)
		}
	}

	return corsMiddleware.Handle(handler)
}

// routeImage dispatches the GET routes below the prefix. parts never includes the prefix.
func routeImage(ctx *fasthttp.RequestCtx, handlers Handlers, parts []string) {
	switch {
	case parts[0] == "thumb":
		// thumb/{id}/{method}/{width}/{height}
		if len(parts) != 5 {
			ctx.Error("Not Found", fasthttp.StatusNotFound)
			return
		}
		ctx.SetUserValue("imageID", parts[1])
		ctx.SetUserValue("method", parts[2])
		ctx.SetUserValue("width", parts[3])
		ctx.SetUserValue("height", parts[4])
		handlers.Dispenser.Thumbnail(ctx)

	case parts[0] == "resize":
		// resize/{id}/{width}/{height}[/{aspect}[/{upsize}]]
		if len(parts) < 4 || len(parts) > 6 {
			ctx.Error("Not Found", fasthttp.StatusNotFound)
			return
		}
		ctx.SetUserValue("imageID", parts[1])
		ctx.SetUserValue("width", parts[2])
		ctx.SetUserValue("height", parts[3])
		if len(parts) > 4 {
			ctx.SetUserValue("aspect", parts[4])
		}
		if len(parts) > 5 {
			ctx.SetUserValue("upsize", parts[5])
		}
		handlers.Dispenser.Resize(ctx)

	case parts[0] == "dummy":
		// dummy/{width}/{height}[/{color}]
		if len(parts) < 3 || len(parts) > 4 {
			ctx.Error("Not Found", fasthttp.StatusNotFound)
			return
		}
		ctx.SetUserValue("width", parts[1])
		ctx.SetUserValue("height", parts[2])
		if len(parts) == 4 {
			ctx.SetUserValue("color", parts[3])
		}
		handlers.Dispenser.Dummy(ctx)

	case len(parts) == 1 && parts[0] != "":
		ctx.SetUserValue("imageID", parts[0])
		handlers.Images.GetImage(ctx)

	default:
		ctx.Error("Not Found", fasthttp.StatusNotFound)
	}
}
