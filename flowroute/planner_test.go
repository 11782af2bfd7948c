package flowroute

import (
	"context"
	"testing"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func device(node, id int32) api.DeviceInfo {
	return api.DeviceInfo{NodeID: node, DeviceID: id, SupportHcom: true}
}

func queue(name string, d api.DeviceInfo, owned bool) api.QueueInfo {
	return api.QueueInfo{Name: name, Device: d, Owned: owned, RefIndex: api.NoRef, Depth: 128, EnqueuePolicy: "FIFO"}
}

func rankTable() StaticRankTable {
	return StaticRankTable{
		device(1, 0).Key(): 0,
		device(1, 1).Key(): 1,
		device(2, 0).Key(): 2,
		device(2, 1).Key(): 3,
	}
}

func newTestPlanner() *Planner {
	return NewPlanner(NewTagTable(), rankTable())
}

// fanInPlan builds a group on node 2 device 0 that fans in from a channel
// located on node 1 device 0, plus a ref member pointing back at queue 0.
//
//	queues:  0 q_out   node1/dev0 owned
//	         1 g_in    node2/dev0 group(entries 0, 1)
//	         2 q_ext   node2/dev1 external
//	entries: 0 ch_0    node1/dev0  (global 3)
//	         1 ref     ref_index 0 (global 0)
//	         2 unused  node1/dev1  (global 5)
func fanInPlan() *api.DeployPlan {
	group := queue("g_in", device(2, 0), true)
	group.InstanceNum = 2
	group.InstanceIdx = 1
	return &api.DeployPlan{
		Queues: []api.QueueInfo{
			queue("q_out", device(1, 0), true),
			group,
			queue("q_ext", device(2, 1), false),
		},
		Groups: map[int32][]int32{1: {0, 1}},
		GroupEntries: []api.GroupEntryInfo{
			{Name: "ch_0", Device: device(1, 0), RefIndex: api.NoRef, Depth: 64},
			{Name: "ref", Device: device(2, 0), RefIndex: 0},
			{Name: "unused", Device: device(1, 1), RefIndex: api.NoRef},
		},
		Bindings: []api.Binding{{Src: 0, Dst: 1}, {Src: 1, Dst: 2}},
	}
}

func TestBindingPlacement(t *testing.T) {
	plan := &api.DeployPlan{
		Queues: []api.QueueInfo{
			queue("q1", device(1, 0), true),
			queue("q2", device(2, 0), false),
		},
		Bindings: []api.Binding{{Src: 0, Dst: 1}},
	}
	p := newTestPlanner()
	ctx := context.Background()

	node1, err := p.ResolveFlowRoutePlan(ctx, plan, 1, PlanAttributes{})
	require.NoError(t, err)
	assert.Equal(t, []api.Binding{{Src: 0, Dst: 1}}, node1.BindingsBeforeLoad)
	assert.Empty(t, node1.Bindings)
	assert.Equal(t, api.EndpointQueue, node1.Endpoints[0].Type)
	assert.Equal(t, api.EndpointNone, node1.Endpoints[1].Type)

	node2, err := p.ResolveFlowRoutePlan(ctx, plan, 2, PlanAttributes{})
	require.NoError(t, err)
	assert.Equal(t, []api.Binding{{Src: 0, Dst: 1}}, node2.Bindings)
	assert.Empty(t, node2.BindingsBeforeLoad)
	assert.Equal(t, api.EndpointNone, node2.Endpoints[0].Type)
	assert.Equal(t, api.EndpointExternalQueue, node2.Endpoints[1].Type)

	node3, err := p.ResolveFlowRoutePlan(ctx, plan, 3, PlanAttributes{})
	require.NoError(t, err)
	assert.Empty(t, node3.Bindings)
	assert.Empty(t, node3.BindingsBeforeLoad)
}

func TestForeignEndpointsAreNone(t *testing.T) {
	plan := fanInPlan()
	p := newTestPlanner()
	for _, node := range []int32{0, 1, 2, 3} {
		routes, err := p.ResolveFlowRoutePlan(context.Background(), plan, node, PlanAttributes{ExceptionCatch: true})
		require.NoError(t, err)
		require.Len(t, routes.Endpoints, plan.EndpointCount())

		for i, q := range plan.Queues {
			if q.Device.NodeID != node {
				assert.Equal(t, api.EndpointDesc{}, routes.Endpoints[i], "node %d queue %d", node, i)
			}
		}
		for i, e := range plan.GroupEntries {
			if e.Device.NodeID == node {
				continue
			}
			ep := routes.Endpoints[len(plan.Queues)+i]
			if ep.Type == api.EndpointTag {
				// the receiving end of a channel into a group hosted here
				assert.Equal(t, node, ep.NodeID, "node %d entry %d", node, i)
				continue
			}
			assert.Equal(t, api.EndpointDesc{}, ep, "node %d entry %d", node, i)
		}
	}
}

func TestQueueTypes(t *testing.T) {
	ref := queue("ref", device(1, 0), true)
	ref.RefIndex = 0
	dummy := queue("dummy", device(1, 0), true)
	dummy.Dummy = true
	fused := queue("fused", device(1, 0), true)
	fused.FusionOffset = 3
	fused.ModelID = 9
	fused.RootModelID = 4
	fused.IsDynamicSched = true
	plan := &api.DeployPlan{
		Queues: []api.QueueInfo{fused, ref, dummy, queue("ext", device(1, 1), false)},
	}

	routes, err := newTestPlanner().ResolveFlowRoutePlan(context.Background(), plan, 1, PlanAttributes{})
	require.NoError(t, err)

	want := []api.EndpointType{api.EndpointQueue, api.EndpointRefQueue, api.EndpointDummyQueue, api.EndpointExternalQueue}
	for i, typ := range want {
		assert.Equal(t, typ, routes.Endpoints[i].Type, "endpoint %d", i)
		require.NotNil(t, routes.Endpoints[i].Queue)
	}
	assert.Equal(t, &api.QueueDesc{Name: "fused", Depth: 128, EnqueuePolicy: "FIFO", FusionOffset: 3, RefIndex: api.NoRef}, routes.Endpoints[0].Queue)
	assert.Equal(t, uint32(9), routes.Endpoints[0].ModelID)
	assert.Equal(t, uint32(4), routes.Endpoints[0].RootModelID)
	assert.True(t, routes.Endpoints[0].IsDynamicSched)
	assert.Equal(t, int32(0), routes.Endpoints[1].Queue.RefIndex)
	assert.Equal(t, int32(1), routes.Endpoints[3].DeviceID)
}

func TestGroupIndexMapping(t *testing.T) {
	plan := fanInPlan()
	p := newTestPlanner()

	for _, attrs := range []PlanAttributes{{}, {HasNMappingNode: true}, {ExceptionCatch: true}} {
		routes, err := p.ResolveFlowRoutePlan(context.Background(), plan, 2, attrs)
		require.NoError(t, err)

		group := routes.Endpoints[1]
		require.Equal(t, api.EndpointGroup, group.Type)
		require.NotNil(t, group.Group)
		assert.Equal(t, []int32{3, 0}, group.Group.EndpointIndices)
		assert.Equal(t, int32(2), group.Group.InstanceNum)
		assert.Equal(t, int32(1), group.Group.InstanceIdx)
		assert.Equal(t, attrs.KeepOutOfOrder(), group.Group.KeepOutOfOrder)
	}
}

func TestTagResolution(t *testing.T) {
	plan := fanInPlan()
	tags := NewTagTable()
	tags.ID("seen-before")
	p := NewPlanner(tags, rankTable())

	routes, err := p.ResolveFlowRoutePlan(context.Background(), plan, 1, PlanAttributes{})
	require.NoError(t, err)

	tag := routes.Endpoints[3]
	require.Equal(t, api.EndpointTag, tag.Type)
	assert.Equal(t, int32(1), tag.NodeID)
	assert.Equal(t, int32(0), tag.DeviceID)
	assert.Equal(t, &api.TagDesc{
		Name:         "ch_0",
		TagID:        1,
		RankID:       0,
		PeerRankID:   2,
		PeerNodeID:   2,
		PeerDeviceID: 0,
		Depth:        64,
	}, tag.Tag)

	// a ref member is reached through its queue, never as a channel
	assert.Equal(t, api.EndpointNone, routes.Endpoints[4].Type)
	// not referenced by any bound group
	assert.Equal(t, api.EndpointNone, routes.Endpoints[5].Type)

	again, err := p.ResolveFlowRoutePlan(context.Background(), plan, 1, PlanAttributes{})
	require.NoError(t, err)
	assert.Equal(t, routes, again)
	assert.Equal(t, 2, tags.Len())
}

func TestTagResolutionOnGroupHost(t *testing.T) {
	plan := fanInPlan()
	tags := NewTagTable()
	p := NewPlanner(tags, rankTable())

	sender, err := p.ResolveFlowRoutePlan(context.Background(), plan, 1, PlanAttributes{})
	require.NoError(t, err)
	host, err := p.ResolveFlowRoutePlan(context.Background(), plan, 2, PlanAttributes{})
	require.NoError(t, err)

	group := host.Endpoints[1]
	require.Equal(t, api.EndpointGroup, group.Type)
	assert.Equal(t, []int32{3, 0}, group.Group.EndpointIndices)

	// the channel member is resolved from the host's side of the link
	tag := host.Endpoints[3]
	require.Equal(t, api.EndpointTag, tag.Type)
	assert.Equal(t, int32(2), tag.NodeID)
	assert.Equal(t, int32(0), tag.DeviceID)
	assert.Equal(t, &api.TagDesc{
		Name:         "ch_0",
		TagID:        sender.Endpoints[3].Tag.TagID,
		RankID:       2,
		PeerRankID:   0,
		PeerNodeID:   1,
		PeerDeviceID: 0,
		Depth:        64,
	}, tag.Tag)
	assert.Equal(t, 1, tags.Len())

	// the ref member points at q_out, which lives on node 1
	assert.Equal(t, api.EndpointNone, host.Endpoints[0].Type)
	assert.Equal(t, api.EndpointQueue, sender.Endpoints[0].Type)
	// unused entries stay unresolved on both sides
	assert.Equal(t, api.EndpointNone, host.Endpoints[5].Type)
}

func TestSameDeviceEntryIsNotAChannel(t *testing.T) {
	plan := fanInPlan()
	// move the channel onto the device hosting the group
	plan.GroupEntries[0].Device = device(2, 0)

	routes, err := newTestPlanner().ResolveFlowRoutePlan(context.Background(), plan, 2, PlanAttributes{})
	require.NoError(t, err)
	assert.Equal(t, api.EndpointNone, routes.Endpoints[3].Type)
}

func TestMalformedPlans(t *testing.T) {
	ctx := context.Background()
	p := newTestPlanner()

	_, err := p.ResolveFlowRoutePlan(ctx, nil, 1, PlanAttributes{})
	assert.True(t, errdefs.IsParamInvalid(err))

	plan := fanInPlan()
	plan.Groups[1] = nil
	_, err = p.ResolveFlowRoutePlan(ctx, plan, 2, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err), "empty group: %v", err)
	// the group is also discovered through the bindings on other nodes
	_, err = p.ResolveFlowRoutePlan(ctx, plan, 1, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))

	plan = fanInPlan()
	plan.Groups[1] = []int32{7}
	_, err = p.ResolveFlowRoutePlan(ctx, plan, 2, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))

	plan = fanInPlan()
	plan.GroupEntries[1].RefIndex = 42
	_, err = p.ResolveFlowRoutePlan(ctx, plan, 2, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))

	plan = fanInPlan()
	plan.Bindings = append(plan.Bindings, api.Binding{Src: 0, Dst: 3})
	_, err = p.ResolveFlowRoutePlan(ctx, plan, 1, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))

	plan = fanInPlan()
	_, err = NewPlanner(NewTagTable(), StaticRankTable{}).ResolveFlowRoutePlan(ctx, plan, 1, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))
	// node 2 hosts the receiving end of the channel
	_, err = NewPlanner(NewTagTable(), StaticRankTable{}).ResolveFlowRoutePlan(ctx, plan, 2, PlanAttributes{})
	assert.True(t, errdefs.IsFailed(err))
	// node 3 takes part in no channel and needs no ranks
	_, err = NewPlanner(NewTagTable(), StaticRankTable{}).ResolveFlowRoutePlan(ctx, plan, 3, PlanAttributes{})
	assert.NoError(t, err)
}

func TestStaticRankTable(t *testing.T) {
	n1 := &api.NodeInfo{NodeID: 1, Devices: []api.DeviceInfo{device(1, 0), {NodeID: 1, DeviceID: 9, DeviceType: api.DeviceTypeCPU}, device(1, 1)}}
	n2 := &api.NodeInfo{NodeID: 2, Devices: []api.DeviceInfo{device(2, 0)}}
	table := NewStaticRankTable(n1, n2)

	rank, err := table.RankID(device(2, 0))
	require.NoError(t, err)
	assert.Equal(t, int32(2), rank)
	rank, err = table.RankID(device(1, 1))
	require.NoError(t, err)
	assert.Equal(t, int32(1), rank)

	_, err = table.RankID(api.DeviceInfo{NodeID: 1, DeviceID: 9, DeviceType: api.DeviceTypeCPU})
	assert.True(t, errdefs.IsFailed(err))
}
