package middleware

import (
	"regexp"
	"slices"

	"github.com/valyala/fasthttp"
)

var localhostOrigin = regexp.MustCompile(`^https?://localhost(:\d+)?$`)

type CORSMiddleware struct {
	allowedOrigins []string
}

// NewCORSMiddleware allows the listed origins. An empty list means any origin, without
// credentials. "http://localhost:*" matches localhost on any port.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{allowedOrigins: allowedOrigins}
}

func (cm *CORSMiddleware) Handle(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		origin := string(ctx.Request.Header.Peek("Origin"))

		switch {
		case len(cm.allowedOrigins) == 0:
			ctx.Response.Header.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && cm.isOriginAllowed(origin):
			ctx.Response.Header.Set("Access-Control-Allow-Origin", origin)
			ctx.Response.Header.Set("Access-Control-Allow-Credentials", "true")
			ctx.Response.Header.Add("Vary", "Origin")
		}

		ctx.Response.Header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		ctx.Response.Header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-Modified-Since")
		ctx.Response.Header.Set("Access-Control-Expose-Headers", "Cache-Control, Expires, Last-Modified")
		ctx.Response.Header.Set("Access-Control-Max-Age", "86400")

		if ctx.IsOptions() {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		next(ctx)
	}
}

func (cm *CORSMiddleware) isOriginAllowed(origin string) bool {
	if slices.Contains(cm.allowedOrigins, origin) {
		return true
	}
	for _, allowed := range cm.allowedOrigins {
		if (allowed == "http://localhost:*" || allowed == "https://localhost:*") && localhostOrigin.MatchString(origin) {
			return true
		}
	}
	return false
}
