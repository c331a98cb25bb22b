package filtergraph

import (
	"errors"
	"fmt"
)

// Failure kinds reported by the engine. Use errors.Is to classify an error
// returned from any operation.
var (
	ErrFilterNotFound      = errors.New("filter not found")
	ErrPropertyRejected    = errors.New("property rejected")
	ErrSourceRejectedFrame = errors.New("buffer source rejected frame")
	ErrSinkNotReady        = errors.New("buffer sink needs more input")
	ErrSinkExhausted       = errors.New("buffer sink reached end of stream")
	ErrSinkFailed          = errors.New("buffer sink failed")
	ErrFilterCreation      = errors.New("filter creation failed")
	ErrGraphConfig         = errors.New("graph configuration invalid")
	ErrGraphParse          = errors.New("graph description parse failed")
	ErrLinkFailed          = errors.New("link failed")
	ErrCommandFailed       = errors.New("filter command failed")
	ErrFrameBuffer         = errors.New("frame buffer allocation failed")
)

// Usage errors raised by the wrapper itself, without an engine call.
var (
	ErrLibraryUnavailable = errors.New("libavfilter not available")
	ErrGraphClosed        = errors.New("graph closed")
	ErrFilterReleased     = errors.New("filter released by a failed parse")
	ErrAlreadyConfigured  = errors.New("graph already configured")
	ErrNotSource          = errors.New("filter is not a buffer source")
	ErrNotSink            = errors.New("filter is not a buffer sink")
	ErrInOutConsumed      = errors.New("pad list already consumed")
	ErrForeignInOut       = errors.New("pad list belongs to another graph")
	ErrFrameFreed         = errors.New("frame freed")
)

// AVError is a failed native call. Kind is one of the sentinel errors above
// and is what errors.Is matches against.
type AVError struct {
	Op   string // native function name
	Code int32  // AVERROR value returned by Op
	Kind error
	msg  string
}

func (e *AVError) Error() string {
	if e.msg != "" {
		return fmt.Sprintf("%v: %s: %s (%d)", e.Kind, e.Op, e.msg, e.Code)
	}
	return fmt.Sprintf("%v: %s returned %d", e.Kind, e.Op, e.Code)
}

func (e *AVError) Unwrap() error {
	return e.Kind
}

// avError converts a negative return code at the call site.
func (api *ffi) avError(op string, code int32, kind error) error {
	return &AVError{
		Op:   op,
		Code: code,
		Kind: kind,
		msg:  api.errorString(code),
	}
}
