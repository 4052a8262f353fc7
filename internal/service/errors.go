package service

import (
	"errors"

	"github.com/mbeoliero/widechat/internal/repository"
	"github.com/mbeoliero/widechat/pkg/cassandra"
	"github.com/mbeoliero/widechat/pkg/errcode"
)

// toErrcode translates a repository error, falling back to fallback for unclassified failures
func toErrcode(err error, fallback *errcode.Error) *errcode.Error {
	var e *errcode.Error
	switch {
	case errors.Is(err, cassandra.ErrUnavailable):
		return errcode.ErrStorageUnavailable.Wrap(err)
	case errors.Is(err, repository.ErrInvalidCursor):
		return errcode.ErrInvalidParam.Wrap(err)
	case errors.As(err, &e):
		return e
	}
	return fallback.Wrap(err)
}
