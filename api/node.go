package api

import "fmt"

// DeviceType identifies the kind of compute device.
type DeviceType int32

const (
	// DeviceTypeNPU is an accelerator chip.
	DeviceTypeNPU DeviceType = 0
	// DeviceTypeCPU is the host itself acting as a device.
	DeviceTypeCPU DeviceType = 1
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeNPU:
		return "NPU"
	case DeviceTypeCPU:
		return "CPU"
	}
	return fmt.Sprintf("DeviceType(%d)", int32(t))
}

// ParseDeviceType converts a configuration string into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch s {
	case "NPU", "npu", "":
		return DeviceTypeNPU, nil
	case "CPU", "cpu":
		return DeviceTypeCPU, nil
	}
	return DeviceTypeNPU, fmt.Errorf("unknown device type %q", s)
}

// DeviceInfo describes one accelerator endpoint. NodeID is the node-mesh
// index of the host the device belongs to.
type DeviceInfo struct {
	NodeID          int32      `json:"node_id" yaml:"node_id"`
	DeviceID        int32      `json:"device_id" yaml:"device_id"`
	DeviceType      DeviceType `json:"device_type" yaml:"device_type"`
	PhyDeviceID     int32      `json:"phy_device_id,omitempty" yaml:"phy_device_id,omitempty"`
	LogicalDeviceID int32      `json:"logical_device_id,omitempty" yaml:"logical_device_id,omitempty"`
	HcomDeviceID    int32      `json:"hcom_device_id,omitempty" yaml:"hcom_device_id,omitempty"`
	HostIP          string     `json:"host_ip,omitempty" yaml:"host_ip,omitempty"`
	DataPort        int32      `json:"data_port,omitempty" yaml:"data_port,omitempty"`
	ResourceType    string     `json:"resource_type,omitempty" yaml:"resource_type,omitempty"`
	SupportHcom     bool       `json:"support_hcom,omitempty" yaml:"support_hcom,omitempty"`
	SupportFlowGw   bool       `json:"support_flowgw,omitempty" yaml:"support_flowgw,omitempty"`
}

// DeviceKey uniquely identifies a device across the cluster.
type DeviceKey struct {
	NodeID     int32
	DeviceID   int32
	DeviceType DeviceType
}

// Key returns the cluster-wide identity of the device.
func (d DeviceInfo) Key() DeviceKey {
	return DeviceKey{NodeID: d.NodeID, DeviceID: d.DeviceID, DeviceType: d.DeviceType}
}

func (d DeviceInfo) String() string {
	return d.Key().String()
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("node[%d]/%s[%d]", k.NodeID, k.DeviceType, k.DeviceID)
}

// Less orders keys by node, then device type, then device id.
func (k DeviceKey) Less(o DeviceKey) bool {
	if k.NodeID != o.NodeID {
		return k.NodeID < o.NodeID
	}
	if k.DeviceType != o.DeviceType {
		return k.DeviceType < o.DeviceType
	}
	return k.DeviceID < o.DeviceID
}

// NodeInfo describes one physical host and its devices in order.
type NodeInfo struct {
	NodeID   int32        `json:"node_id" yaml:"node_id"`
	Address  string       `json:"address,omitempty" yaml:"address,omitempty"`
	ClientID string       `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Devices  []DeviceInfo `json:"devices" yaml:"devices"`
}

// AddDevice appends a device to the node.
func (n *NodeInfo) AddDevice(d DeviceInfo) {
	n.Devices = append(n.Devices, d)
}

// Copy returns a deep copy of the node info.
func (n *NodeInfo) Copy() *NodeInfo {
	if n == nil {
		return nil
	}
	c := *n
	c.Devices = append([]DeviceInfo(nil), n.Devices...)
	return &c
}
