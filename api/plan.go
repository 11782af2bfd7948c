package api

import "gopkg.in/yaml.v3"

// NoRef marks a queue or group entry that does not reference another queue.
const NoRef int32 = -1

// QueueInfo is one entry of the global queue list of a DeployPlan.
type QueueInfo struct {
	Name           string     `json:"name" yaml:"name"`
	Device         DeviceInfo `json:"device" yaml:"device"`
	ModelID        uint32     `json:"model_id" yaml:"model_id"`
	RootModelID    uint32     `json:"root_model_id,omitempty" yaml:"root_model_id,omitempty"`
	IsDynamicSched bool       `json:"is_dynamic_sched,omitempty" yaml:"is_dynamic_sched,omitempty"`
	Owned          bool       `json:"owned,omitempty" yaml:"owned,omitempty"`
	Dummy          bool       `json:"dummy,omitempty" yaml:"dummy,omitempty"`
	RefIndex       int32      `json:"ref_index" yaml:"ref_index"`
	Depth          uint32     `json:"depth" yaml:"depth"`
	EnqueuePolicy  string     `json:"enqueue_policy,omitempty" yaml:"enqueue_policy,omitempty"`
	FusionOffset   int32      `json:"fusion_offset,omitempty" yaml:"fusion_offset,omitempty"`
	InstanceNum    int32      `json:"instance_num,omitempty" yaml:"instance_num,omitempty"`
	InstanceIdx    int32      `json:"instance_idx,omitempty" yaml:"instance_idx,omitempty"`
}

// HasRef reports whether the queue references another queue.
func (q *QueueInfo) HasRef() bool {
	return q.RefIndex >= 0
}

// UnmarshalYAML defaults RefIndex to NoRef when the document omits it.
func (q *QueueInfo) UnmarshalYAML(value *yaml.Node) error {
	type plain QueueInfo
	p := plain{RefIndex: NoRef}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*q = QueueInfo(p)
	return nil
}

// GroupEntryInfo is one member channel of a group endpoint.
type GroupEntryInfo struct {
	Name     string     `json:"name" yaml:"name"`
	Device   DeviceInfo `json:"device" yaml:"device"`
	RefIndex int32      `json:"ref_index" yaml:"ref_index"`
	Depth    uint32     `json:"depth" yaml:"depth"`
}

// HasRef reports whether the entry references a queue of the global list.
func (e *GroupEntryInfo) HasRef() bool {
	return e.RefIndex >= 0
}

// UnmarshalYAML defaults RefIndex to NoRef when the document omits it.
func (e *GroupEntryInfo) UnmarshalYAML(value *yaml.Node) error {
	type plain GroupEntryInfo
	p := plain{RefIndex: NoRef}
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = GroupEntryInfo(p)
	return nil
}

// Binding links a source endpoint to a destination endpoint by index.
type Binding struct {
	Src int32 `json:"src_index" yaml:"src"`
	Dst int32 `json:"dst_index" yaml:"dst"`
}

// DeployPlan is the cluster-wide queue, group and binding topology of one
// compiled model.
//
// Indices below len(Queues) address queues; indices from len(Queues) on
// address GroupEntries, offset by len(Queues).
type DeployPlan struct {
	Queues []QueueInfo `json:"queues" yaml:"queues"`
	// Groups maps the queue index of a group endpoint to the indices of its
	// members in GroupEntries.
	Groups       map[int32][]int32 `json:"groups,omitempty" yaml:"groups,omitempty"`
	GroupEntries []GroupEntryInfo  `json:"group_entries,omitempty" yaml:"group_entries,omitempty"`
	Bindings     []Binding         `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// QueueCount returns the number of queues in the global list.
func (p *DeployPlan) QueueCount() int {
	return len(p.Queues)
}

// EndpointCount returns the size of the combined queue and group entry index
// space.
func (p *DeployPlan) EndpointCount() int {
	return len(p.Queues) + len(p.GroupEntries)
}

// IsGroup reports whether the queue at index is a group endpoint.
func (p *DeployPlan) IsGroup(index int32) bool {
	_, ok := p.Groups[index]
	return ok
}
