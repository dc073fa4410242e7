package middleware

import (
	"fmt"
	"net/http"

	"callmesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// TracingMiddleware opens a server span per request, parented to the trace
// context in the request headers. A websocket upgrade keeps its span open
// for the life of the connection.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(attribute.String("http.client_ip", c.ClientIP()))
		if c.IsWebsocket() {
			span.SetAttributes(attribute.Bool("http.websocket", true))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if peerID, ok := c.Get(PeerIDKey); ok {
			span.SetAttributes(tracing.PeerIDKey.String(fmt.Sprint(peerID)))
		}

		switch {
		case len(c.Errors) > 0:
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
