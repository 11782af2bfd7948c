package xnet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddr(t *testing.T) {
	proto, addr := ParseAddr("unix:///var/run/flowkit.sock")
	assert.Equal(t, "unix", proto)
	assert.Equal(t, "/var/run/flowkit.sock", addr)

	proto, addr = ParseAddr("10.0.0.1:2509")
	assert.Equal(t, "tcp", proto)
	assert.Equal(t, "10.0.0.1:2509", addr)

	_, _, err := ParseProtoAddr("10.0.0.1:2509")
	assert.Error(t, err)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:16666", HostPort("10.0.0.1", 16666))
	assert.Equal(t, "[::1]:1024", HostPort("::1", 1024))
}
