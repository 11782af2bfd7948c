package network

import (
	"errors"
	"net"
	"testing"

	"github.com/moby/flowkit/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	net.Listener
	closed bool
}

func (l *fakeListener) Close() error {
	l.closed = true
	return nil
}

func TestParsePortRange(t *testing.T) {
	rng, err := ParsePortRange(" 1024 ~ 1026 ")
	require.NoError(t, err)
	assert.Equal(t, PortRange{Start: 1024, End: 1026}, rng)
	assert.Equal(t, 3, rng.Size())
	assert.Equal(t, "1024~1026", rng.String())

	rng, err = ParsePortRange("65535~65535")
	require.NoError(t, err)
	assert.Equal(t, 1, rng.Size())

	for _, s := range []string{"", "   ", "1024-1026", "~1026", "x~1026", "1026~1024", "0~1026", "1023~1026", "1024~65536"} {
		_, err := ParsePortRange(s)
		assert.True(t, errdefs.IsParamInvalid(err), "range %q", s)
	}
}

func TestBindMainPortSkipsBusySegments(t *testing.T) {
	var tried []string
	l := &fakeListener{}
	m := &Manager{listen: func(proto, addr string) (net.Listener, error) {
		tried = append(tried, addr)
		if len(tried) < 3 {
			return nil, errors.New("address already in use")
		}
		return l, nil
	}}

	port, err := m.BindMainPort("10.0.0.1", "20000~21000")
	require.NoError(t, err)
	assert.Equal(t, int32(20000+2*SegmentSize), port)
	assert.Equal(t, []string{"10.0.0.1:20000", "10.0.0.1:20128", "10.0.0.1:20256"}, tried)
	assert.True(t, l.closed)

	// cached for the process lifetime
	port, err = m.BindMainPort("10.0.0.1", "30000~31000")
	require.NoError(t, err)
	assert.Equal(t, int32(20256), port)
	assert.Len(t, tried, 3)

	dataPort, ok := m.DataPort()
	assert.True(t, ok)
	assert.Equal(t, int32(20256), dataPort)
	assert.Equal(t, "10.0.0.1", m.DataIP())

	m.Finalize()
	_, ok = m.DataPort()
	assert.False(t, ok)
}

func TestBindMainPortFailures(t *testing.T) {
	m := &Manager{listen: func(proto, addr string) (net.Listener, error) {
		return nil, errors.New("address already in use")
	}}

	_, err := m.BindMainPort("10.0.0.1", "20000~20300")
	assert.True(t, errdefs.IsFailed(err))

	// out of range values are rejected before any bind attempt
	probed := false
	m = &Manager{listen: func(proto, addr string) (net.Listener, error) {
		probed = true
		return &fakeListener{}, nil
	}}
	_, err = m.BindMainPort("10.0.0.1", "0~1026")
	assert.True(t, errdefs.IsFailed(err))
	_, err = m.BindMainPort("10.0.0.1", "2000~1500")
	assert.True(t, errdefs.IsFailed(err))
	_, err = m.BindMainPort("10.0.0.1", " ")
	assert.True(t, errdefs.IsFailed(err))
	assert.False(t, probed)
}

func TestBindMainPortOnLoopback(t *testing.T) {
	m := NewManager()
	port, err := m.BindMainPort("127.0.0.1", "20000~65535")
	require.NoError(t, err)
	assert.Equal(t, 0, (int(port)-20000)%SegmentSize)
}
