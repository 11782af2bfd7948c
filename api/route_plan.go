package api

import "fmt"

// EndpointType is the resolved kind of an endpoint on one node.
type EndpointType int32

const (
	EndpointNone EndpointType = iota
	EndpointQueue
	EndpointExternalQueue
	EndpointRefQueue
	EndpointDummyQueue
	EndpointGroup
	EndpointTag
)

func (t EndpointType) String() string {
	switch t {
	case EndpointNone:
		return "None"
	case EndpointQueue:
		return "Queue"
	case EndpointExternalQueue:
		return "ExternalQueue"
	case EndpointRefQueue:
		return "RefQueue"
	case EndpointDummyQueue:
		return "DummyQueue"
	case EndpointGroup:
		return "Group"
	case EndpointTag:
		return "Tag"
	}
	return fmt.Sprintf("EndpointType(%d)", int32(t))
}

// MarshalText renders the type by name.
func (t EndpointType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// QueueDesc is the payload of the queue endpoint types.
type QueueDesc struct {
	Name          string `json:"name" yaml:"name"`
	Depth         uint32 `json:"depth" yaml:"depth"`
	EnqueuePolicy string `json:"enqueue_policy,omitempty" yaml:"enqueue_policy,omitempty"`
	FusionOffset  int32  `json:"fusion_offset,omitempty" yaml:"fusion_offset,omitempty"`
	RefIndex      int32  `json:"ref_index" yaml:"ref_index"`
}

// GroupDesc is the payload of a group endpoint. EndpointIndices address the
// same index space as FlowRoutePlan.Endpoints.
type GroupDesc struct {
	InstanceNum     int32   `json:"instance_num" yaml:"instance_num"`
	InstanceIdx     int32   `json:"instance_idx" yaml:"instance_idx"`
	EndpointIndices []int32 `json:"endpoint_indices" yaml:"endpoint_indices"`
	KeepOutOfOrder  bool    `json:"keep_out_of_order" yaml:"keep_out_of_order"`
}

// TagDesc is the payload of a point-to-point channel endpoint.
type TagDesc struct {
	Name           string     `json:"name" yaml:"name"`
	TagID          uint64     `json:"tag_id" yaml:"tag_id"`
	RankID         int32      `json:"rank_id" yaml:"rank_id"`
	PeerRankID     int32      `json:"peer_rank_id" yaml:"peer_rank_id"`
	PeerNodeID     int32      `json:"peer_node_id" yaml:"peer_node_id"`
	PeerDeviceID   int32      `json:"peer_device_id" yaml:"peer_device_id"`
	PeerDeviceType DeviceType `json:"peer_device_type" yaml:"peer_device_type"`
	Depth          uint32     `json:"depth" yaml:"depth"`
}

// EndpointDesc is the view of one queue or group entry from one node.
// Exactly one of Queue, Group and Tag is set unless Type is EndpointNone.
type EndpointDesc struct {
	Type           EndpointType `json:"type" yaml:"type"`
	NodeID         int32        `json:"node_id" yaml:"node_id"`
	DeviceID       int32        `json:"device_id" yaml:"device_id"`
	DeviceType     DeviceType   `json:"device_type" yaml:"device_type"`
	ModelID        uint32       `json:"model_id" yaml:"model_id"`
	IsDynamicSched bool         `json:"is_dynamic_sched" yaml:"is_dynamic_sched"`
	RootModelID    uint32       `json:"root_model_id" yaml:"root_model_id"`

	Queue *QueueDesc `json:"queue_desc,omitempty" yaml:"queue_desc,omitempty"`
	Group *GroupDesc `json:"group_desc,omitempty" yaml:"group_desc,omitempty"`
	Tag   *TagDesc   `json:"tag_desc,omitempty" yaml:"tag_desc,omitempty"`
}

// FlowRoutePlan is the projection of a DeployPlan onto one node. Endpoint i
// denotes the same queue or group entry as index i of the DeployPlan.
type FlowRoutePlan struct {
	Endpoints []EndpointDesc `json:"endpoints" yaml:"endpoints"`
	// Bindings are links whose source is not owned by the node.
	Bindings []Binding `json:"bindings" yaml:"bindings"`
	// BindingsBeforeLoad are links whose source is owned by the node and
	// must exist before the model is loaded.
	BindingsBeforeLoad []Binding `json:"bindings_before_load" yaml:"bindings_before_load"`
}
