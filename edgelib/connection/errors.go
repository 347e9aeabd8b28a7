package connection

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
)

type ErrorKind int

const (
	SendFailed ErrorKind = iota
	SendTimeout
	SendCancelled
	NotConnected
	ConnectFailure
	TeardownIncomplete
	PolicyHalt
)

func (k ErrorKind) String() string {
	switch k {
	case SendFailed:
		return "send failed"
	case SendTimeout:
		return "send timed out"
	case SendCancelled:
		return "send cancelled"
	case NotConnected:
		return "not connected"
	case ConnectFailure:
		return "connect failed"
	case TeardownIncomplete:
		return "teardown incomplete"
	case PolicyHalt:
		return "halted by reconnect policy"
	default:
		return fmt.Sprintf("unknown error kind %d", int(k))
	}
}

// Error is returned by every blocking operation on a management connection so
// that callers can branch on the Kind without string matching
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s (%T)", e.Op, e.Kind, e.Err, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of the first *Error in err's chain
func KindOf(err error) (ErrorKind, bool) {
	var connErr *Error
	if errors.As(err, &connErr) {
		return connErr.Kind, true
	}
	return SendFailed, false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Classify wraps a raw send error into an *Error, sorting timeouts and
// cancellations from every other failure
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var connErr *Error
	if errors.As(err, &connErr) {
		return err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(SendTimeout, op, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewError(SendTimeout, op, err)
	case errors.Is(err, context.Canceled):
		return NewError(SendCancelled, op, err)
	default:
		return NewError(SendFailed, op, err)
	}
}

// IsCertError reports whether err comes from verifying the peer's certificate
func IsCertError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
