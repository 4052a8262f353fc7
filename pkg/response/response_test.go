package response

import (
	"errors"
	"net/http"
	"testing"

	"github.com/mbeoliero/widechat/pkg/errcode"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  *errcode.Error
		want int
	}{
		{errcode.ErrInvalidParam, http.StatusBadRequest},
		{errcode.ErrInvalidParam.Wrap(errors.New("bad cursor")), http.StatusBadRequest},
		{errcode.ErrConvNotFound, http.StatusNotFound},
		{errcode.ErrStorageUnavailable.Wrap(errors.New("no hosts")), http.StatusServiceUnavailable},
		{errcode.ErrPartialWrite, http.StatusInternalServerError},
		{errcode.ErrSendFailed, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Msg)
	}
}
