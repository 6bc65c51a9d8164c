package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a backend failure for retry routing: transient
// failures are retried on the next drain, permanent rejections go straight
// to the dead-letter state.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermanent
)

// Error is a classified backend failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Op         string
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Message)
}

// IsPermanent reports whether err is a permanent rejection (validation
// failure, permission denied). Anything else, including plain transport
// errors, is treated as transient.
func IsPermanent(err error) bool {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind == KindPermanent
	}
	return false
}

// classifyStatus maps an HTTP status to an error kind. 408 and 429 are
// retryable despite being 4xx.
func classifyStatus(status int) ErrorKind {
	if status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests {
		return KindPermanent
	}
	return KindTransient
}

func newStatusError(op string, status int, body string) *Error {
	return &Error{Kind: classifyStatus(status), StatusCode: status, Op: op, Message: body}
}

func newTransportError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Message: err.Error()}
}
