package wire

import (
	"context"
	"errors"

	"periphcore/errcode"
	"periphcore/hal"
)

// Status is the result of closing a leader transaction.
type Status uint8

const (
	Success Status = iota
	DataTooLong
	NackAddress
	NackData
	OtherError
	Timeout
)

var statusNames = [...]string{"success", "data_too_long", "nack_address", "nack_data", "other_error", "timeout"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// Err converts a non-success status to an error carrying an errcode.
func (s Status) Err() error {
	var c errcode.Code
	switch s {
	case Success:
		return nil
	case DataTooLong:
		c = errcode.BufferFull
	case Timeout:
		c = errcode.Timeout
	default:
		c = errcode.Error
	}
	return &errcode.E{C: c, Op: "wire", Msg: s.String()}
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return Success
	case errors.Is(err, hal.ErrNackAddress), errors.Is(err, hal.ErrNack):
		return NackAddress
	case errors.Is(err, hal.ErrNackData):
		return NackData
	case errors.Is(err, hal.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Timeout
	}
	return OtherError
}
