package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/mbeoliero/widechat/pkg/errcode"
)

// Response represents a standard API response
type Response struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data,omitempty"`
}

// Success sends a success response
func Success(ctx context.Context, c *app.RequestContext, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: 0,
		Msg:  "success",
		Data: data,
	})
}

// Error sends an error response
func Error(ctx context.Context, c *app.RequestContext, err error) {
	var e *errcode.Error
	if !errors.As(err, &e) {
		e = errcode.ErrInternalServer.Wrap(err)
	}

	c.JSON(StatusOf(e), Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// ErrorWithCode sends an error response with specific error code
func ErrorWithCode(ctx context.Context, c *app.RequestContext, e *errcode.Error) {
	c.JSON(StatusOf(e), Response{
		Code: e.Code,
		Msg:  e.Msg,
	})
}

// StatusOf maps an error code to its HTTP status
func StatusOf(e *errcode.Error) int {
	switch {
	case errors.Is(e, errcode.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(e, errcode.ErrConvNotFound):
		return http.StatusNotFound
	case errors.Is(e, errcode.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
