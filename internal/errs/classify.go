package errs

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TransportClass categorizes a raw transport failure (socket error, dial
// failure, context cancellation) as transient or permanent. The router uses
// it to map a failed worker call onto a registry code (transient failures
// become GW-API-001). This is distinct from the *Error catalog: catalog
// codes describe *application* outcomes surfaced to a caller,
// TransportClass describes the underlying plumbing fault.
type TransportClass int

const (
	TransportUnknown TransportClass = iota
	TransportTransient
	TransportPermanent
)

func (c TransportClass) String() string {
	switch c {
	case TransportTransient:
		return "transient"
	case TransportPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifyTransport inspects err and reports whether the failure looks
// transient (worth reconnecting) or permanent (retrying would not help).
// Network errors, timeouts, and closed/reset connections are transient;
// context cancellation and everything else defaults to permanent.
func ClassifyTransport(err error) TransportClass {
	if err == nil {
		return TransportUnknown
	}
	if errors.Is(err, context.Canceled) {
		return TransportPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return TransportTransient
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return TransportTransient
		}
	}
	return TransportPermanent
}

// IsTransientTransport is a convenience wrapper around ClassifyTransport.
func IsTransientTransport(err error) bool {
	return ClassifyTransport(err) == TransportTransient
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"network is unreachable",
	"no such host",
	"dial tcp",
	"eof",
	"connection lost",
	"timeout",
	"deadline exceeded",
	"i/o timeout",
}
