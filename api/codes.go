package api

import "fmt"

// ErrorCode is the result code carried by every Response. Anything other than
// Success is a failure.
type ErrorCode int32

const (
	// Success is the only non-failure code.
	Success ErrorCode = 0
	// Failed covers transport, handshake and plan resolution failures. The
	// caller may retry; nothing retries automatically.
	Failed ErrorCode = 1
	// ParamInvalid reports malformed configuration, an exhausted port range
	// or a missing request body.
	ParamInvalid ErrorCode = 2
	// InternalError reports an unexpected lookup failure in trusted state.
	InternalError ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case Success:
		return "SUCCESS"
	case Failed:
		return "FAILED"
	case ParamInvalid:
		return "PARAM_INVALID"
	case InternalError:
		return "INTERNAL_ERROR"
	}
	return fmt.Sprintf("ErrorCode(%d)", int32(c))
}
