package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
exception_catch: true
heartbeat:
  enabled: true
  interval: 5s
  timeout: 15s
  retries: 2
auth:
  key: s3cret
nodes:
  - node_id: 0
    local: true
    ip: 10.0.0.1
    available_ports: 20000~20100
    need_port_preemption: true
    devices:
      - device_id: 0
        device_type: CPU
      - device_id: 0
        ip: 10.0.1.1
        support_hcom: true
  - node_id: 1
    ip: 10.0.0.2
    port: 7070
    lazy_connect: true
    chip_count: 2
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.True(t, c.ExceptionCatch)
	assert.True(t, c.Heartbeat.Enabled)
	assert.Equal(t, 5*time.Second, c.Heartbeat.Interval)
	assert.Equal(t, 15*time.Second, c.Heartbeat.Timeout)
	assert.Equal(t, 2, c.Heartbeat.Retries)

	key, err := c.Auth.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), key)

	require.Len(t, c.Nodes, 2)
	local, ok := c.Node(0)
	require.True(t, ok)
	assert.True(t, local.Local)
	assert.True(t, local.NeedPortPreemption)

	devices, err := local.DeviceInfos()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, api.DeviceTypeCPU, devices[0].DeviceType)
	assert.Equal(t, "10.0.0.1", devices[0].HostIP)
	assert.Equal(t, api.DeviceTypeNPU, devices[1].DeviceType)
	assert.Equal(t, "10.0.1.1", devices[1].HostIP)
	assert.True(t, devices[1].SupportHcom)

	remote, ok := c.Node(1)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2:7070", remote.Address())

	_, ok = c.Node(9)
	assert.False(t, ok)
}

func TestChipCountFallback(t *testing.T) {
	n := NodeConfig{NodeID: 4, IP: "10.0.0.4", ChipCount: 3}
	devices, err := n.DeviceInfos()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	for i, d := range devices {
		assert.Equal(t, int32(4), d.NodeID)
		assert.Equal(t, int32(i), d.DeviceID)
		assert.Equal(t, api.DeviceTypeNPU, d.DeviceType)
		assert.Equal(t, "10.0.0.4", d.HostIP)
	}
}

func TestListenOverridesAddress(t *testing.T) {
	n := NodeConfig{IP: "10.0.0.4", Port: 1, Listen: "unix:///run/agent.sock"}
	assert.Equal(t, "unix:///run/agent.sock", n.Address())
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"empty", `nodes: []`},
		{"missing ip", "nodes:\n  - node_id: 1\n    port: 1\n"},
		{"bad port", "nodes:\n  - node_id: 1\n    ip: a\n    port: 70000\n"},
		{"bad range", "nodes:\n  - node_id: 1\n    local: true\n    available_ports: 9~1\n"},
		{"bad device type", "nodes:\n  - node_id: 1\n    local: true\n    devices:\n      - device_type: GPU\n"},
		{"duplicate device", "nodes:\n  - node_id: 1\n    local: true\n    devices:\n      - device_id: 1\n      - device_id: 1\n"},
		{"duplicate node", "nodes:\n  - node_id: 1\n    local: true\n  - node_id: 1\n    ip: a\n    port: 1\n"},
		{"two locals", "nodes:\n  - node_id: 1\n    local: true\n  - node_id: 2\n    local: true\n"},
		{"negative retries", "heartbeat:\n  retries: -1\nnodes:\n  - node_id: 1\n    local: true\n"},
		{"not yaml", "nodes: [::"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.True(t, errdefs.IsParamInvalid(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(keyFile, []byte("from-file"), 0600))

	doc := "auth:\n  key: inline\n  key_file: " + keyFile + "\nnodes:\n  - node_id: 0\n    local: true\n"
	path := filepath.Join(dir, "cluster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	key, err := c.Auth.Secret()
	require.NoError(t, err)
	assert.Equal(t, []byte("from-file"), key)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
