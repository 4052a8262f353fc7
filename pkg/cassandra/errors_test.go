package cassandra

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		unavailable bool
	}{
		{"nil", nil, false},
		{"no connections", gocql.ErrNoConnections, true},
		{"no hosts", fmt.Errorf("dial: %w", gocql.ErrNoHosts), true},
		{"timeout", gocql.ErrTimeoutNoResponse, true},
		{"coordinator unavailable", &gocql.RequestErrUnavailable{}, true},
		{"write timeout", &gocql.RequestErrWriteTimeout{}, true},
		{"syntax", errors.New("line 1:0 no viable alternative"), false},
		{"not found", gocql.ErrNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrUnavailable))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, Unavailable(nil))

	cause := errors.New("dial tcp: connection refused")
	err := Unavailable(cause)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause.Error(), err.Error())
}
