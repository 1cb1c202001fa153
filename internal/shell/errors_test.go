package shell

import (
	"errors"
	"fmt"
	"net"
	"testing"
)

func TestClassifyDialError_Auth(t *testing.T) {
	err := fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]")
	ce := classifyDialError("myhost", err)
	if ce.Kind != KindAuth {
		t.Errorf("kind = %v, want KindAuth", ce.Kind)
	}
	if ce.Kind.Retryable() {
		t.Error("auth failures must not be retryable")
	}
	if ce.Host != "myhost" {
		t.Errorf("host = %q", ce.Host)
	}
}

func TestClassifyDialError_Timeout(t *testing.T) {
	err := &net.OpError{Op: "dial", Net: "tcp", Err: &timeoutErr{}}
	ce := classifyDialError("myhost", err)
	if ce.Kind != KindTimeout {
		t.Errorf("kind = %v, want KindTimeout", ce.Kind)
	}
	if !ce.Kind.Retryable() {
		t.Error("timeouts should be retryable")
	}
}

func TestClassifyDialError_Refused(t *testing.T) {
	err := fmt.Errorf("dial tcp 10.0.0.1:22: connect: connection refused")
	ce := classifyDialError("10.0.0.1", err)
	if ce.Kind != KindUnreachable {
		t.Errorf("kind = %v, want KindUnreachable", ce.Kind)
	}
	if ce.Kind.Retryable() {
		t.Error("unreachable hosts must not be retried")
	}
}

func TestClassifyDialError_DNS(t *testing.T) {
	ce := classifyDialError("badhost", &net.DNSError{Err: "no such host", Name: "badhost"})
	if ce.Kind != KindUnreachable {
		t.Errorf("kind = %v, want KindUnreachable", ce.Kind)
	}
}

func TestClassifyDialError_UnknownDefaultsToTransport(t *testing.T) {
	ce := classifyDialError("myhost", fmt.Errorf("ssh: unexpected packet"))
	if ce.Kind != KindTransport {
		t.Errorf("kind = %v, want KindTransport", ce.Kind)
	}
	if !ce.Kind.Retryable() {
		t.Error("transport errors should be retryable")
	}
}

func TestConnectError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("boom")
	ce := wrapConnectError("h", KindTransport, inner)
	if !errors.Is(ce, inner) {
		t.Error("Unwrap should expose the inner error")
	}
}

// timeoutErr implements net.Error with Timeout() == true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
