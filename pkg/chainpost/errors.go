package chainpost

import (
	"github.com/pkg/errors"

	"github.com/bmayton/chainpost/pkg/hypermedia"
)

var (
	// ErrBackoff is returned by Connect while reconnects are suppressed after a
	// failure. No network call is made.
	ErrBackoff = errors.New("chainpost: reconnect suppressed during backoff")

	// ErrNotConnected marks a reading dropped because no connection could be
	// established.
	ErrNotConnected = errors.New("chainpost: not connected")
)

// Drop reasons reported by DropReason.
const (
	ReasonNotConnected = "not_connected"
	ReasonConnection   = "connection"
	ReasonOther        = "other"
)

// DropReason classifies an error returned by PostData or PostMultiple. It
// returns "" for a nil error.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotConnected):
		return ReasonNotConnected
	case hypermedia.IsConnectionError(err):
		return ReasonConnection
	default:
		return ReasonOther
	}
}
