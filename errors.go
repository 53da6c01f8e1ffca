package velvet

import (
	"errors"
	"fmt"
)

// Engine status sentinels. They are part of normal pump iteration and are
// never surfaced to the application as failures.
var (
	ErrAgain       = errors.New("resource temporarily unavailable")
	ErrEndOfStream = errors.New("end of stream")
)

var (
	ErrClosed                 = errors.New("closed")
	ErrInvalidConfig          = errors.New("invalid configuration")
	ErrUnsupportedFormat      = errors.New("unsupported container format")
	ErrCodecNotSupported      = errors.New("codec not supported")
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
	ErrUnsupportedWhence      = errors.New("unsupported seek whence")
	ErrProtocolViolation      = errors.New("engine protocol violation")
	ErrFrameSize              = errors.New("frame dimensions mismatch")
	ErrEngineUnavailable      = errors.New("engine not available")
	ErrEngineMismatch         = errors.New("context belongs to a different engine")
	ErrStreamNotFound         = errors.New("stream not found")
	ErrInvalidData            = errors.New("invalid data")
)

// EngineError is a failure reported by a media engine primitive. Msg holds
// the engine's own diagnostic string when one is available.
type EngineError struct {
	Op   string
	Code int
	Msg  string
	Err  error
}

func (e *EngineError) Error() string {
	switch {
	case e.Msg != "" && e.Code != 0:
		return fmt.Sprintf("%s: %s (code %d)", e.Op, e.Msg, e.Code)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: error code %d", e.Op, e.Code)
	}
}

func (e *EngineError) Unwrap() error { return e.Err }

// IOError wraps a failure of the underlying byte source or sink. It is
// fatal to the pipeline that observed it.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string { return "io " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() error { return e.Err }

// isStatus reports whether err is one of the engine status sentinels.
func isStatus(err error) bool {
	return errors.Is(err, ErrAgain) || errors.Is(err, ErrEndOfStream)
}
