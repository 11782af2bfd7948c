package errdefs

import (
	"fmt"

	"github.com/moby/flowkit/api"
	"github.com/pkg/errors"
)

type errFailed struct {
	cause string
}

// Failed creates an error for transport, handshake or plan resolution
// failures. The caller may retry.
func Failed(cause string, args ...interface{}) error {
	if len(args) != 0 {
		return errFailed{cause: fmt.Sprintf(cause, args...)}
	}
	return errFailed{cause: cause}
}

// Error returns the error message
func (e errFailed) Error() string {
	return e.cause
}

// IsFailed returns true if the error, or its cause, was created by Failed.
func IsFailed(err error) bool {
	_, ok := errors.Cause(err).(errFailed)
	return ok
}

type errParamInvalid struct {
	cause string
}

// ParamInvalid creates an error for malformed configuration, an exhausted
// port range or a missing request body.
func ParamInvalid(cause string, args ...interface{}) error {
	if len(args) != 0 {
		return errParamInvalid{cause: fmt.Sprintf(cause, args...)}
	}
	return errParamInvalid{cause: cause}
}

// Error returns the error message
func (e errParamInvalid) Error() string {
	return fmt.Sprintf("invalid parameter: %v", e.cause)
}

// IsParamInvalid returns true if the error, or its cause, was created by
// ParamInvalid.
func IsParamInvalid(err error) bool {
	_, ok := errors.Cause(err).(errParamInvalid)
	return ok
}

type errInternal struct {
	cause string
}

// Internal creates an error for an unexpected failure in state that should
// be trusted, such as a lookup that cannot miss.
func Internal(cause string, args ...interface{}) error {
	if len(args) != 0 {
		return errInternal{cause: fmt.Sprintf(cause, args...)}
	}
	return errInternal{cause: cause}
}

// Error returns the error message
func (e errInternal) Error() string {
	return fmt.Sprintf("internal error: %v", e.cause)
}

// IsInternal returns true if the error, or its cause, was created by
// Internal.
func IsInternal(err error) bool {
	_, ok := errors.Cause(err).(errInternal)
	return ok
}

// Code maps err onto the wire error code. Unclassified errors are FAILED.
func Code(err error) api.ErrorCode {
	switch {
	case err == nil:
		return api.Success
	case IsParamInvalid(err):
		return api.ParamInvalid
	case IsInternal(err):
		return api.InternalError
	}
	return api.Failed
}

// FromResponse converts a non-success response into the matching error
// class. It returns nil for a successful response.
func FromResponse(resp *api.Response) error {
	if resp == nil {
		return Internal("nil response")
	}
	switch resp.ErrorCode {
	case api.Success:
		return nil
	case api.ParamInvalid:
		return ParamInvalid(resp.ErrorMessage)
	case api.InternalError:
		return Internal(resp.ErrorMessage)
	}
	return Failed("%s: %s", resp.ErrorCode, resp.ErrorMessage)
}

// ToResponse builds a response carrying the class and message of err.
func ToResponse(err error) *api.Response {
	if err == nil {
		return &api.Response{ErrorCode: api.Success}
	}
	return api.NewErrorResponse(Code(err), err.Error())
}
