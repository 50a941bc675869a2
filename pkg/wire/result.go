package wire

import "errors"

// Result is the outcome code shared by every layer of the bus. It travels
// on the wire inside Rst payloads, client-management responses and leaf
// protocol responses.
type Result uint32

const (
	ResultSuccess            Result = 0
	ResultError              Result = 1
	ResultNotReady           Result = 2
	ResultVersionMismatch    Result = 3
	ResultUnavailable        Result = 4
	ResultRejected           Result = 5
	ResultEndOfStream        Result = 6
	ResultAborted            Result = 7
	ResultInsufficientMemory Result = 8
)

// Sentinel errors corresponding to the non-success Result codes.
var (
	ErrError              = errors.New("error")
	ErrNotReady           = errors.New("not ready")
	ErrVersionMismatch    = errors.New("version mismatch")
	ErrUnavailable        = errors.New("unavailable")
	ErrRejected           = errors.New("rejected")
	ErrEndOfStream        = errors.New("end of stream")
	ErrAborted            = errors.New("aborted")
	ErrInsufficientMemory = errors.New("insufficient memory")
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "SUCCESS"
	case ResultError:
		return "ERROR"
	case ResultNotReady:
		return "NOT_READY"
	case ResultVersionMismatch:
		return "VERSION_MISMATCH"
	case ResultUnavailable:
		return "UNAVAILABLE"
	case ResultRejected:
		return "REJECTED"
	case ResultEndOfStream:
		return "END_OF_STREAM"
	case ResultAborted:
		return "ABORTED"
	case ResultInsufficientMemory:
		return "INSUFFICIENT_MEMORY"
	default:
		return "UNKNOWN"
	}
}

// Err returns the sentinel error for r, or nil for ResultSuccess.
// Unknown codes map to ErrError.
func (r Result) Err() error {
	switch r {
	case ResultSuccess:
		return nil
	case ResultNotReady:
		return ErrNotReady
	case ResultVersionMismatch:
		return ErrVersionMismatch
	case ResultUnavailable:
		return ErrUnavailable
	case ResultRejected:
		return ErrRejected
	case ResultEndOfStream:
		return ErrEndOfStream
	case ResultAborted:
		return ErrAborted
	case ResultInsufficientMemory:
		return ErrInsufficientMemory
	default:
		return ErrError
	}
}

// ResultOf maps an error back to its Result code. Wrapped sentinels are
// recognized; any other non-nil error is ResultError.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrNotReady):
		return ResultNotReady
	case errors.Is(err, ErrVersionMismatch):
		return ResultVersionMismatch
	case errors.Is(err, ErrUnavailable):
		return ResultUnavailable
	case errors.Is(err, ErrRejected):
		return ResultRejected
	case errors.Is(err, ErrEndOfStream):
		return ResultEndOfStream
	case errors.Is(err, ErrAborted):
		return ResultAborted
	case errors.Is(err, ErrInsufficientMemory):
		return ResultInsufficientMemory
	default:
		return ResultError
	}
}
