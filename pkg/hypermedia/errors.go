package hypermedia

import (
	"errors"
	"fmt"
)

// ConnectionError is the connection-class failure kind: the remote site could not
// be reached or answered with a gateway error. It is distinct from every other
// failure a client may report.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: connection failure: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err, or any error it wraps, is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
