// Package config loads the YAML description of a deployment: the nodes of
// the cluster, their devices and the knobs that govern how a controller
// talks to them.
package config

import (
	"os"
	"time"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/network"
	"github.com/moby/flowkit/xnet"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DeviceConfig is one device entry of a node.
type DeviceConfig struct {
	DeviceID        int32  `yaml:"device_id"`
	DeviceType      string `yaml:"device_type"`
	IP              string `yaml:"ip"`
	PhyDeviceID     int32  `yaml:"phy_device_id"`
	LogicalDeviceID int32  `yaml:"logical_device_id"`
	HcomDeviceID    int32  `yaml:"hcom_device_id"`
	ResourceType    string `yaml:"resource_type"`
	SupportHcom     bool   `yaml:"support_hcom"`
	SupportFlowGw   bool   `yaml:"support_flowgw"`
}

// NodeConfig describes one node of the deployment.
type NodeConfig struct {
	NodeID int32  `yaml:"node_id"`
	IP     string `yaml:"ip"`
	Port   int32  `yaml:"port"`
	// Listen overrides IP:Port as the agent address, e.g. a unix socket.
	Listen string `yaml:"listen"`

	Local              bool   `yaml:"local"`
	LazyConnect        bool   `yaml:"lazy_connect"`
	NeedPortPreemption bool   `yaml:"need_port_preemption"`
	AvailablePorts     string `yaml:"available_ports"`
	ChipCount          int    `yaml:"chip_count"`

	Devices []DeviceConfig `yaml:"devices"`
}

// Address is the dial address of the node's agent.
func (n *NodeConfig) Address() string {
	if n.Listen != "" {
		return n.Listen
	}
	return xnet.HostPort(n.IP, n.Port)
}

// Validate checks the node entry for obvious mistakes.
func (n *NodeConfig) Validate() error {
	if n.NodeID < 0 {
		return errdefs.ParamInvalid("node_id must not be negative, got %d", n.NodeID)
	}
	if !n.Local && n.Listen == "" {
		if n.IP == "" {
			return errdefs.ParamInvalid("node %d: ip is required", n.NodeID)
		}
		if n.Port <= 0 || n.Port > network.MaxPort {
			return errdefs.ParamInvalid("node %d: port %d out of range", n.NodeID, n.Port)
		}
	}
	if n.AvailablePorts != "" {
		if _, err := network.ParsePortRange(n.AvailablePorts); err != nil {
			return errors.Wrapf(err, "node %d", n.NodeID)
		}
	}
	if n.ChipCount < 0 {
		return errdefs.ParamInvalid("node %d: chip_count must not be negative", n.NodeID)
	}
	seen := make(map[api.DeviceKey]struct{}, len(n.Devices))
	for _, d := range n.Devices {
		typ, err := api.ParseDeviceType(d.DeviceType)
		if err != nil {
			return errdefs.ParamInvalid("node %d device %d: %v", n.NodeID, d.DeviceID, err)
		}
		key := api.DeviceKey{NodeID: n.NodeID, DeviceID: d.DeviceID, DeviceType: typ}
		if _, dup := seen[key]; dup {
			return errdefs.ParamInvalid("node %d: duplicate device %s", n.NodeID, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// DeviceInfos returns the node's devices. A node without an explicit device
// list gets ChipCount NPU devices numbered from zero on the node's ip.
func (n *NodeConfig) DeviceInfos() ([]api.DeviceInfo, error) {
	if len(n.Devices) == 0 {
		devices := make([]api.DeviceInfo, 0, n.ChipCount)
		for i := 0; i < n.ChipCount; i++ {
			devices = append(devices, api.DeviceInfo{
				NodeID:          n.NodeID,
				DeviceID:        int32(i),
				DeviceType:      api.DeviceTypeNPU,
				PhyDeviceID:     int32(i),
				LogicalDeviceID: int32(i),
				HostIP:          n.IP,
			})
		}
		return devices, nil
	}

	devices := make([]api.DeviceInfo, 0, len(n.Devices))
	for _, d := range n.Devices {
		typ, err := api.ParseDeviceType(d.DeviceType)
		if err != nil {
			return nil, errdefs.ParamInvalid("node %d device %d: %v", n.NodeID, d.DeviceID, err)
		}
		ip := d.IP
		if ip == "" {
			ip = n.IP
		}
		devices = append(devices, api.DeviceInfo{
			NodeID:          n.NodeID,
			DeviceID:        d.DeviceID,
			DeviceType:      typ,
			PhyDeviceID:     d.PhyDeviceID,
			LogicalDeviceID: d.LogicalDeviceID,
			HcomDeviceID:    d.HcomDeviceID,
			HostIP:          ip,
			ResourceType:    d.ResourceType,
			SupportHcom:     d.SupportHcom,
			SupportFlowGw:   d.SupportFlowGw,
		})
	}
	return devices, nil
}

// HeartbeatConfig controls the keepalive loop of every deployer.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	Retries  int           `yaml:"retries"`
}

// AuthConfig holds the shared handshake secret. KeyFile wins over Key.
type AuthConfig struct {
	Key     string `yaml:"key"`
	KeyFile string `yaml:"key_file"`
}

// Secret returns the configured key, or nil when authentication is off.
func (a AuthConfig) Secret() ([]byte, error) {
	if a.KeyFile != "" {
		b, err := os.ReadFile(a.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "read auth key file")
		}
		return b, nil
	}
	if a.Key == "" {
		return nil, nil
	}
	return []byte(a.Key), nil
}

// ClusterConfig is the top-level document.
type ClusterConfig struct {
	Nodes          []NodeConfig    `yaml:"nodes"`
	Heartbeat      HeartbeatConfig `yaml:"heartbeat"`
	Auth           AuthConfig      `yaml:"auth"`
	ExceptionCatch bool            `yaml:"exception_catch"`
}

// Node returns the entry for nodeID.
func (c *ClusterConfig) Node(nodeID int32) (*NodeConfig, bool) {
	for i := range c.Nodes {
		if c.Nodes[i].NodeID == nodeID {
			return &c.Nodes[i], true
		}
	}
	return nil, false
}

// Validate checks every node and rejects duplicate node ids.
func (c *ClusterConfig) Validate() error {
	if len(c.Nodes) == 0 {
		return errdefs.ParamInvalid("no nodes configured")
	}
	seen := make(map[int32]struct{}, len(c.Nodes))
	locals := 0
	for i := range c.Nodes {
		n := &c.Nodes[i]
		if err := n.Validate(); err != nil {
			return err
		}
		if _, dup := seen[n.NodeID]; dup {
			return errdefs.ParamInvalid("duplicate node_id %d", n.NodeID)
		}
		seen[n.NodeID] = struct{}{}
		if n.Local {
			locals++
		}
	}
	if locals > 1 {
		return errdefs.ParamInvalid("at most one node may be local, got %d", locals)
	}
	if c.Heartbeat.Interval < 0 || c.Heartbeat.Timeout < 0 || c.Heartbeat.Retries < 0 {
		return errdefs.ParamInvalid("heartbeat settings must not be negative")
	}
	return nil
}

// Parse decodes and validates a cluster document.
func Parse(data []byte) (*ClusterConfig, error) {
	var c ClusterConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errdefs.ParamInvalid("parse cluster config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load reads and parses the cluster document at path.
func Load(path string) (*ClusterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data)
}
