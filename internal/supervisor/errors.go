package supervisor

import (
	"context"
	"errors"
	"strings"

	"github.com/klask-io/klask-core/internal/index"
)

// ErrorKind buckets a crawl-ending error into the taxonomy spec.md assigns
// distinct handling to: retry, unit-level skip, or whole-crawl failure.
type ErrorKind string

const (
	// ErrorConfiguration is fatal and not retriable (bad credentials, an
	// unreachable repository URL that will never resolve).
	ErrorConfiguration ErrorKind = "configuration"
	// ErrorTransient covers 5xx/429 responses, timeouts, and connection
	// resets — worth retrying with backoff before giving up.
	ErrorTransient ErrorKind = "transient"
	// ErrorProtocol is a malformed SVN delta or corrupt Git pack: the unit
	// fails but the crawl continues.
	ErrorProtocol ErrorKind = "protocol"
	// ErrorBackend is an index backend that internal/index reported as
	// unavailable (index.ErrBackendUnavailable).
	ErrorBackend ErrorKind = "backend"
	// ErrorCancelled is cooperative cancellation unwinding.
	ErrorCancelled ErrorKind = "cancelled"
	// ErrorUnknown is anything not recognized by the rules above; treated
	// as non-retriable.
	ErrorUnknown ErrorKind = "unknown"
)

// classify maps err to its taxonomy bucket, the way the teacher's GitHub
// client treats a 5xx/429 status as retriable and everything else as
// terminal. Backend implementations wrap transport errors rather than
// swallow them, so string matching on the wrapped message is enough to spot
// the common transient shapes without each backend exporting its own
// sentinel error type.
func classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorCancelled
	}
	if index.IsBackendUnavailable(err) {
		return ErrorBackend
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return ErrorTransient
		}
	}
	for _, marker := range protocolMarkers {
		if strings.Contains(msg, marker) {
			return ErrorProtocol
		}
	}
	for _, marker := range configMarkers {
		if strings.Contains(msg, marker) {
			return ErrorConfiguration
		}
	}
	return ErrorUnknown
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"tls",
	"i/o timeout",
	"429",
	"502",
	"503",
	"504",
	"temporarily unavailable",
}

var protocolMarkers = []string{
	"malformed",
	"corrupt",
	"unexpected eof",
	"parsing",
	"invalid delta",
}

var configMarkers = []string{
	"401",
	"403",
	"unauthorized",
	"authentication",
	"not found",
	"404",
	"no such host",
}

// retriable reports whether kind should be retried at all before the unit
// is counted as failed.
func retriable(kind ErrorKind) bool {
	return kind == ErrorTransient
}
