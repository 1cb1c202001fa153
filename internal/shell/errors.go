package shell

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrKind buckets connect failures into the categories the retry policy
// cares about. Auth and unreachable failures are fatal for a device;
// timeouts and transport resets are worth retrying.
type ErrKind int

const (
	KindTransport ErrKind = iota
	KindTimeout
	KindAuth
	KindUnreachable
)

func (k ErrKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "authentication"
	case KindUnreachable:
		return "port unreachable"
	default:
		return "transport"
	}
}

// Retryable reports whether a failure of this kind is worth another
// connect attempt.
func (k ErrKind) Retryable() bool {
	return k == KindTimeout || k == KindTransport
}

// ConnectError wraps a failure to establish a device session.
type ConnectError struct {
	Host string
	Kind ErrKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Host, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// CommandError wraps a transport failure while sending a single command on
// an established session.
type CommandError struct {
	Host    string
	Command string
	Timeout bool
	Err     error
}

func (e *CommandError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: command %q timed out: %v", e.Host, e.Command, e.Err)
	}
	return fmt.Sprintf("%s: command %q failed: %v", e.Host, e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// wrapConnectError classifies a dial/handshake error into the taxonomy.
// Classification is heuristic for errors the ssh package only reports as
// strings; unknown failures default to the retryable transport bucket.
func wrapConnectError(host string, kind ErrKind, err error) *ConnectError {
	return &ConnectError{Host: host, Kind: kind, Err: err}
}

func classifyDialError(host string, err error) *ConnectError {
	msg := err.Error()

	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") ||
		strings.Contains(msg, "permission denied") {
		return wrapConnectError(host, KindAuth, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wrapConnectError(host, KindTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "i/o timeout") {
		return wrapConnectError(host, KindTimeout, err)
	}

	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") {
		return wrapConnectError(host, KindUnreachable, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return wrapConnectError(host, KindUnreachable, err)
	}

	return wrapConnectError(host, KindTransport, err)
}
