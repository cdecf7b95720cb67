package dispenser

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

const secondsPerDay = 24 * 60 * 60

// writeVariant sends a variant with the caching headers and answers conditional requests
// with 304 when the client copy is still current.
func (d *Dispenser) writeVariant(ctx *fasthttp.RequestCtx, v *Variant) {
	lastModified := v.ModTime.UTC().Truncate(time.Second)

	ctx.Response.Header.Set(fasthttp.HeaderCacheControl, "public, max-age="+strconv.Itoa(d.config.CacheDays*secondsPerDay))
	ctx.Response.Header.Set(fasthttp.HeaderExpires, string(fasthttp.AppendHTTPDate(nil, time.Now().AddDate(0, 0, d.config.CacheDays))))
	ctx.Response.Header.SetLastModified(lastModified)
	for name, value := range d.config.AdditionalHeaders {
		ctx.Response.Header.Set(name, value)
	}

	if !ctx.IfModifiedSince(lastModified) {
		ctx.NotModified()
		return
	}

	ctx.SetContentType(v.ContentType)
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBody(v.Data)
}
