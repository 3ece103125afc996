package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// GinMiddleware traces API and websocket requests. Paths under any of the
// untraced prefixes (probes, scrapes) produce no spans.
func GinMiddleware(serviceName string, untraced ...string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, otelgin.WithFilter(func(r *http.Request) bool {
		return traced(r.URL.Path, untraced)
	}))
}

func traced(path string, untraced []string) bool {
	for _, prefix := range untraced {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
