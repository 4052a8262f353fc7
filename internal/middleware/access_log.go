package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/mbeoliero/kit/log"
)

// RequestIdHeader carries the request id on requests and responses
const RequestIdHeader = "X-Request-Id"

// AccessLog tags each request with an id and logs it once handled
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		requestId := string(c.GetHeader(RequestIdHeader))
		if requestId == "" {
			requestId = uuid.NewString()
		}
		c.Set("request_id", requestId)
		c.Header(RequestIdHeader, requestId)

		c.Next(ctx)

		log.CtxInfo(ctx, "request handled: request_id=%s, method=%s, path=%s, status=%d, latency=%v",
			requestId, c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start))
	}
}
