package flowroute

import (
	"context"
	"fmt"
	"sort"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PlanAttributes are facts about the whole deployment that influence every
// node's route plan.
type PlanAttributes struct {
	// HasNMappingNode is set when some node of the model fans N inputs into
	// one.
	HasNMappingNode bool
	// ExceptionCatch is set when exception catching is enabled for the run.
	ExceptionCatch bool
}

// KeepOutOfOrder reports whether groups must tolerate out of order delivery.
func (a PlanAttributes) KeepOutOfOrder() bool {
	return a.HasNMappingNode || a.ExceptionCatch
}

// Planner projects a DeployPlan onto single nodes. Apart from the shared tag
// table it keeps no state between calls.
type Planner struct {
	tags  *TagTable
	ranks RankResolver
}

// NewPlanner returns a planner that names channels through tags and
// resolves ranks through ranks.
func NewPlanner(tags *TagTable, ranks RankResolver) *Planner {
	return &Planner{tags: tags, ranks: ranks}
}

// groupPeer accumulates, for the device hosting one or more groups, the
// global indices of the group entries those groups reference.
type groupPeer struct {
	device  api.DeviceInfo
	entries map[int32]struct{}
}

type resolver struct {
	plan           *api.DeployPlan
	nodeID         int32
	keepOutOfOrder bool

	routes *api.FlowRoutePlan
	peers  map[api.DeviceKey]*groupPeer
}

// ResolveFlowRoutePlan builds the FlowRoutePlan of node nodeID. A malformed
// plan aborts resolution with a Failed error; no partial plan is returned.
func (p *Planner) ResolveFlowRoutePlan(ctx context.Context, plan *api.DeployPlan, nodeID int32, attrs PlanAttributes) (*api.FlowRoutePlan, error) {
	if plan == nil {
		return nil, errdefs.ParamInvalid("deploy plan is nil")
	}

	r := &resolver{
		plan:           plan,
		nodeID:         nodeID,
		keepOutOfOrder: attrs.KeepOutOfOrder(),
		routes: &api.FlowRoutePlan{
			Endpoints:          make([]api.EndpointDesc, plan.EndpointCount()),
			Bindings:           []api.Binding{},
			BindingsBeforeLoad: []api.Binding{},
		},
		peers: make(map[api.DeviceKey]*groupPeer),
	}

	if err := r.resolveQueues(); err != nil {
		return nil, errors.Wrapf(err, "resolve queues of node %d", nodeID)
	}
	if err := r.resolveBindings(); err != nil {
		return nil, errors.Wrapf(err, "resolve bindings of node %d", nodeID)
	}
	if err := p.resolveTags(r); err != nil {
		return nil, errors.Wrapf(err, "resolve tags of node %d", nodeID)
	}

	log.G(ctx).WithFields(logrus.Fields{
		"node.id":              nodeID,
		"endpoints":            len(r.routes.Endpoints),
		"bindings":             len(r.routes.Bindings),
		"bindings_before_load": len(r.routes.BindingsBeforeLoad),
	}).Debug("resolved flow route plan")
	return r.routes, nil
}

func (r *resolver) queue(index int32) (*api.QueueInfo, error) {
	if index < 0 || int(index) >= len(r.plan.Queues) {
		return nil, errdefs.Failed("queue index %d out of range [0, %d)", index, len(r.plan.Queues))
	}
	return &r.plan.Queues[index], nil
}

// groupEntries returns the local entry indices of the group at index.
func (r *resolver) groupEntries(index int32) ([]int32, error) {
	entries, ok := r.plan.Groups[index]
	if !ok {
		return nil, errdefs.Failed("queue %d is not a group", index)
	}
	if len(entries) == 0 {
		return nil, errdefs.Failed("group %d has no entries", index)
	}
	for _, e := range entries {
		if e < 0 || int(e) >= len(r.plan.GroupEntries) {
			return nil, errdefs.Failed("group %d references entry %d out of range [0, %d)", index, e, len(r.plan.GroupEntries))
		}
	}
	return entries, nil
}

// globalIndex translates a group member into the combined index space: a
// member referencing a queue maps to that queue, any other member to its own
// slot after the queues.
func (r *resolver) globalIndex(entry int32) (int32, error) {
	info := &r.plan.GroupEntries[entry]
	if info.HasRef() {
		if int(info.RefIndex) >= len(r.plan.Queues) {
			return 0, errdefs.Failed("group entry %d references queue %d out of range", entry, info.RefIndex)
		}
		return info.RefIndex, nil
	}
	return int32(len(r.plan.Queues)) + entry, nil
}

func (r *resolver) isLocal(device api.DeviceInfo) bool {
	return device.NodeID == r.nodeID
}

func endpointFor(q *api.QueueInfo, typ api.EndpointType) api.EndpointDesc {
	return api.EndpointDesc{
		Type:           typ,
		NodeID:         q.Device.NodeID,
		DeviceID:       q.Device.DeviceID,
		DeviceType:     q.Device.DeviceType,
		ModelID:        q.ModelID,
		IsDynamicSched: q.IsDynamicSched,
		RootModelID:    q.RootModelID,
	}
}

func queueType(q *api.QueueInfo) api.EndpointType {
	switch {
	case q.HasRef():
		return api.EndpointRefQueue
	case q.Dummy:
		return api.EndpointDummyQueue
	case q.Owned:
		return api.EndpointQueue
	}
	return api.EndpointExternalQueue
}

func (r *resolver) resolveQueues() error {
	for i := range r.plan.Queues {
		q := &r.plan.Queues[i]
		if !r.isLocal(q.Device) {
			continue
		}

		index := int32(i)
		if r.plan.IsGroup(index) {
			desc, err := r.resolveGroup(index, q)
			if err != nil {
				return err
			}
			r.routes.Endpoints[i] = desc
			continue
		}

		desc := endpointFor(q, queueType(q))
		desc.Queue = &api.QueueDesc{
			Name:          q.Name,
			Depth:         q.Depth,
			EnqueuePolicy: q.EnqueuePolicy,
			FusionOffset:  q.FusionOffset,
			RefIndex:      q.RefIndex,
		}
		r.routes.Endpoints[i] = desc
	}
	return nil
}

func (r *resolver) resolveGroup(index int32, q *api.QueueInfo) (api.EndpointDesc, error) {
	entries, err := r.groupEntries(index)
	if err != nil {
		return api.EndpointDesc{}, err
	}

	indices := make([]int32, 0, len(entries))
	for _, e := range entries {
		global, err := r.globalIndex(e)
		if err != nil {
			return api.EndpointDesc{}, err
		}
		indices = append(indices, global)
	}

	desc := endpointFor(q, api.EndpointGroup)
	desc.Group = &api.GroupDesc{
		InstanceNum:     q.InstanceNum,
		InstanceIdx:     q.InstanceIdx,
		EndpointIndices: indices,
		KeepOutOfOrder:  r.keepOutOfOrder,
	}
	return desc, nil
}

func (r *resolver) resolveBindings() error {
	for _, b := range r.plan.Bindings {
		src, err := r.queue(b.Src)
		if err != nil {
			return err
		}
		dst, err := r.queue(b.Dst)
		if err != nil {
			return err
		}
		if err := r.collectGroupPeer(b.Src, src); err != nil {
			return err
		}
		if err := r.collectGroupPeer(b.Dst, dst); err != nil {
			return err
		}

		switch {
		case r.isLocal(src.Device):
			r.routes.BindingsBeforeLoad = append(r.routes.BindingsBeforeLoad, b)
		case r.isLocal(dst.Device):
			r.routes.Bindings = append(r.routes.Bindings, b)
		}
	}
	return nil
}

// collectGroupPeer records the channel members of the group at index, if it
// is one, under the device hosting the group.
func (r *resolver) collectGroupPeer(index int32, q *api.QueueInfo) error {
	if !r.plan.IsGroup(index) {
		return nil
	}
	entries, err := r.groupEntries(index)
	if err != nil {
		return err
	}

	key := q.Device.Key()
	peer, ok := r.peers[key]
	if !ok {
		peer = &groupPeer{device: q.Device, entries: make(map[int32]struct{})}
		r.peers[key] = peer
	}
	for _, e := range entries {
		if r.plan.GroupEntries[e].HasRef() {
			continue
		}
		peer.entries[int32(len(r.plan.Queues))+e] = struct{}{}
	}
	return nil
}

// channelEnds returns both ends of the channel at index as seen from the
// node being resolved. The entry's own device is the local end when it sits
// on this node; otherwise a group host on this node is, with the entry's
// device as peer. Devices are searched in key order so the result does not
// depend on map iteration.
func (r *resolver) channelEnds(entry *api.GroupEntryInfo, index int32) (local, peer api.DeviceInfo, ok bool) {
	keys := make([]api.DeviceKey, 0, len(r.peers))
	for k := range r.peers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	self := entry.Device.Key()
	entryLocal := r.isLocal(entry.Device)
	for _, k := range keys {
		if k == self {
			continue
		}
		host := r.peers[k]
		if _, found := host.entries[index]; !found {
			continue
		}
		if entryLocal {
			return entry.Device, host.device, true
		}
		if r.isLocal(host.device) {
			return host.device, entry.Device, true
		}
	}
	return api.DeviceInfo{}, api.DeviceInfo{}, false
}

func (p *Planner) resolveTags(r *resolver) error {
	base := int32(len(r.plan.Queues))
	for i := range r.plan.GroupEntries {
		entry := &r.plan.GroupEntries[i]
		if entry.HasRef() {
			continue
		}
		index := base + int32(i)
		local, peer, ok := r.channelEnds(entry, index)
		if !ok {
			continue
		}

		rank, err := p.ranks.RankID(local)
		if err != nil {
			return errors.Wrapf(err, "group entry %d", i)
		}
		peerRank, err := p.ranks.RankID(peer)
		if err != nil {
			return errors.Wrapf(err, "peer of group entry %d", i)
		}

		name := entry.Name
		if name == "" {
			name = fmt.Sprintf("group_entry_%d", index)
		}
		r.routes.Endpoints[index] = api.EndpointDesc{
			Type:       api.EndpointTag,
			NodeID:     local.NodeID,
			DeviceID:   local.DeviceID,
			DeviceType: local.DeviceType,
			Tag: &api.TagDesc{
				Name:           name,
				TagID:          p.tags.ID(name),
				RankID:         rank,
				PeerRankID:     peerRank,
				PeerNodeID:     peer.NodeID,
				PeerDeviceID:   peer.DeviceID,
				PeerDeviceType: peer.DeviceType,
				Depth:          entry.Depth,
			},
		}
	}
	return nil
}
