package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

type ginContextKey string

const ginKey ginContextKey = "gin"

// contextWithGin stashes c in ctx so downstream code that only carries a
// plain context.Context (the transcoder, the upstream client) can still
// recover the original request's headers when it needs to.
func contextWithGin(c *gin.Context) context.Context {
	return context.WithValue(c.Request.Context(), ginKey, c)
}

// requestHeaders recovers the inbound HTTP headers from a context built
// by contextWithGin. Returns nil if ctx carries no gin.Context.
func requestHeaders(ctx context.Context) http.Header {
	v := ctx.Value(ginKey)
	c, ok := v.(*gin.Context)
	if !ok || c == nil || c.Request == nil {
		return nil
	}
	return c.Request.Header
}
