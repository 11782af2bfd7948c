package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCodecCarriesHeartbeatPayload(t *testing.T) {
	resp := &Response{
		ErrorCode: Failed,
		ClientID:  "c1",
		Heartbeat: &HeartbeatResponse{
			AbnormalType: AbnormalTypeSubmodelInstance,
			Submodels:    map[uint32][]string{7: {"sub_0", "sub_1"}},
		},
	}
	data, err := Marshal(resp)
	require.NoError(t, err)

	var out Response
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, resp, &out)

	again, err := Marshal(&out)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding must be deterministic")
}

func TestDeployPlanYAMLDefaultsRefIndex(t *testing.T) {
	doc := `
queues:
  - name: q0
    device: {node_id: 1, device_id: 0}
    owned: true
    depth: 8
  - name: q1
    device: {node_id: 2, device_id: 1}
    ref_index: 0
group_entries:
  - name: e0
    device: {node_id: 2, device_id: 1}
groups:
  1: [0]
bindings:
  - {src: 0, dst: 1}
`
	var plan DeployPlan
	require.NoError(t, yaml.Unmarshal([]byte(doc), &plan))
	require.Len(t, plan.Queues, 2)
	assert.Equal(t, NoRef, plan.Queues[0].RefIndex)
	assert.False(t, plan.Queues[0].HasRef())
	assert.Equal(t, int32(0), plan.Queues[1].RefIndex)
	assert.True(t, plan.Queues[1].HasRef())
	assert.Equal(t, NoRef, plan.GroupEntries[0].RefIndex)
	assert.True(t, plan.IsGroup(1))
	assert.False(t, plan.IsGroup(0))
	assert.Equal(t, 3, plan.EndpointCount())
	assert.Equal(t, []Binding{{Src: 0, Dst: 1}}, plan.Bindings)
}

func TestNodeInfoCopyIsDeep(t *testing.T) {
	n := &NodeInfo{NodeID: 1, Address: "10.0.0.1:2509"}
	n.AddDevice(DeviceInfo{NodeID: 1, DeviceID: 0})
	c := n.Copy()
	c.Devices[0].DataPort = 16666
	assert.Equal(t, int32(0), n.Devices[0].DataPort)
	assert.Nil(t, (*NodeInfo)(nil).Copy())
}

func TestDeviceKeyOrdering(t *testing.T) {
	a := DeviceKey{NodeID: 0, DeviceID: 3}
	b := DeviceKey{NodeID: 1, DeviceID: 0}
	c := DeviceKey{NodeID: 1, DeviceID: 0, DeviceType: DeviceTypeCPU}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, "node[1]/CPU[0]", c.String())
}
