package exchange

import (
	"context"
	"net"
	"net/url"

	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
)

// ErrUnknownSymbol is returned for symbols the exchange does not list.
var ErrUnknownSymbol = errors.New("unknown symbol")

// ErrOrderNotFound is returned when no order carries the requested client id.
var ErrOrderNotFound = errors.New("order not found")

const codeNoSuchOrder = -2013

// Error is a failure reported by or while talking to the exchange.
type Error struct {
	Op        string
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "exchange"
	if e.Transient {
		kind = "transient exchange"
	}
	return kind + " error in " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is worth retrying: network failures,
// timeouts, rate limits and unavailability.
func IsTransient(err error) bool {
	var exErr *Error
	if errors.As(err, &exErr) {
		return exErr.Transient
	}
	return false
}

// IsExchangeError reports whether err came from the exchange collaborator.
func IsExchangeError(err error) bool {
	var exErr *Error
	return errors.As(err, &exErr)
}

// binance codes that signal overload or connectivity trouble
var transientCodes = map[int64]struct{}{
	0:     {}, // non-json error body, usually a 5xx page
	-1000: {}, // unknown error
	-1001: {}, // disconnected
	-1003: {}, // too many requests
	-1006: {}, // unexpected response
	-1007: {}, // timeout
	-1008: {}, // server busy
	-1015: {}, // too many orders
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		_, transient := transientCodes[apiErr.Code]
		return &Error{Op: op, Transient: transient, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	var urlErr *url.Error
	transient := errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr)

	return &Error{Op: op, Transient: transient, Err: err}
}
