package errdefs

import (
	"testing"

	"github.com/moby/flowkit/api"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestPredicatesLookThroughWrapping(t *testing.T) {
	err := errors.Wrap(ParamInvalid("range %q is inverted", "10~1"), "allocate port")
	assert.True(t, IsParamInvalid(err))
	assert.False(t, IsFailed(err))
	assert.False(t, IsInternal(err))
	assert.Equal(t, `allocate port: invalid parameter: range "10~1" is inverted`, err.Error())

	err = errors.Wrapf(Internal("missing device"), "node %d", 2)
	assert.True(t, IsInternal(err))
	assert.Equal(t, api.InternalError, Code(err))
}

func TestCode(t *testing.T) {
	assert.Equal(t, api.Success, Code(nil))
	assert.Equal(t, api.Failed, Code(Failed("handshake")))
	assert.Equal(t, api.ParamInvalid, Code(ParamInvalid("no body")))
	assert.Equal(t, api.Failed, Code(errors.New("unclassified")))
}

func TestResponseConversion(t *testing.T) {
	assert.NoError(t, FromResponse(&api.Response{}))
	assert.True(t, IsInternal(FromResponse(nil)))

	err := FromResponse(api.NewErrorResponse(api.ParamInvalid, "missing %s", "body"))
	assert.True(t, IsParamInvalid(err))

	err = FromResponse(api.NewErrorResponse(api.Failed, "peer gone"))
	assert.True(t, IsFailed(err))
	assert.Equal(t, "FAILED: peer gone", err.Error())

	resp := ToResponse(ParamInvalid("bad"))
	assert.Equal(t, api.ParamInvalid, resp.ErrorCode)
	assert.Equal(t, "invalid parameter: bad", resp.ErrorMessage)
	assert.True(t, ToResponse(nil).OK())
}
