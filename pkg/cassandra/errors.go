package cassandra

import (
	"errors"

	"github.com/gocql/gocql"
)

// ErrUnavailable matches (via errors.Is) any failure caused by the cluster being unreachable,
// overloaded or timing out, as opposed to a malformed statement.
var ErrUnavailable = errors.New("cassandra: storage unavailable")

type unavailableError struct {
	err error
}

func (e *unavailableError) Error() string { return e.err.Error() }

func (e *unavailableError) Unwrap() error { return e.err }

func (e *unavailableError) Is(target error) bool { return target == ErrUnavailable }

// Unavailable marks err as a storage availability failure.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return &unavailableError{err: err}
}

func classify(err error) error {
	if err == nil || !isUnavailable(err) {
		return err
	}
	return &unavailableError{err: err}
}

func isUnavailable(err error) bool {
	switch {
	case errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrNoConnectionsStarted),
		errors.Is(err, gocql.ErrSessionClosed),
		errors.Is(err, gocql.ErrConnectionClosed),
		errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoHosts),
		errors.Is(err, gocql.ErrUnavailable):
		return true
	}

	var unavailable *gocql.RequestErrUnavailable
	var writeTimeout *gocql.RequestErrWriteTimeout
	var readTimeout *gocql.RequestErrReadTimeout
	return errors.As(err, &unavailable) ||
		errors.As(err, &writeTimeout) ||
		errors.As(err, &readTimeout)
}
