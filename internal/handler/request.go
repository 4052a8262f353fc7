package handler

import (
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/widechat/internal/entity"
)

// queryInt64 parses a required positive id from the query string
func queryInt64(c *app.RequestContext, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// pageRequest reads page, limit and cursor. Missing or malformed numbers fall back to defaults.
func pageRequest(c *app.RequestContext) entity.PageRequest {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return entity.PageRequest{
		Page:     page,
		PageSize: limit,
		Cursor:   c.Query("cursor"),
	}
}

// parseTimestamp accepts RFC 3339 or unix milliseconds
func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
