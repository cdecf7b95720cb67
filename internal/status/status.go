package status

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/guidedimage/guidedimage_server/internal/images"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

// ClientCounter reports live feed connections.
type ClientCounter interface {
	ClientCount() int
}

type StatusEndpoints struct {
	version string
	repo    images.Repository
	feed    ClientCounter
}

func NewEndpoints(version string, repo images.Repository, feed ClientCounter) *StatusEndpoints {
	return &StatusEndpoints{
		version: version,
		repo:    repo,
		feed:    feed,
	}
}

type StatusResponse struct {
	Health      string `json:"health"`
	Version     string `json:"version"`
	Images      int64  `json:"images"`
	TotalBytes  int64  `json:"totalBytes"`
	FeedClients int    `json:"feedClients"`
}

func (se *StatusEndpoints) Status(ctx *fasthttp.RequestCtx) {
	stats, err := se.repo.Stats(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("Failed to read image stats")
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		Health:      "OK",
		Version:     se.version,
		Images:      stats.Count,
		TotalBytes:  stats.TotalBytes,
		FeedClients: se.feed.ClientCount(),
	}

	responseJSON, err := json.Marshal(response)
	if err != nil {
		ctx.Error("Internal Server Error", fasthttp.StatusInternalServerError)
		return
	}

	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(responseJSON)
}
