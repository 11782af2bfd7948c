package deployer

import (
	"context"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/config"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// allocateDevicePorts gives every device a data plane port. With port
// preemption enabled, CPU devices share the node's bound main port; every
// other device leases a port for its host ip.
func allocateDevicePorts(ctx context.Context, c *Config, devices []api.DeviceInfo) error {
	n := c.Node
	for i := range devices {
		d := &devices[i]
		var (
			port int32
			err  error
		)
		if d.DeviceType == api.DeviceTypeCPU && n.NeedPortPreemption {
			port, err = c.Network.BindMainPort(d.HostIP, n.AvailablePorts)
		} else {
			port, err = c.Ports.AllocatePort(d.HostIP, n.AvailablePorts)
		}
		if err != nil {
			return errdefs.Failed("allocate port for %s: %v", d, err)
		}
		d.DataPort = port
		log.G(ctx).WithFields(logrus.Fields{
			"device": d.String(),
			"port":   port,
		}).Debug("allocated data port")
	}
	return nil
}

// nodeFromConfig builds the node description from static configuration,
// optionally allocating ports for its devices. Allocation needs the node's
// available_ports range whenever there is a device to give a port to.
func nodeFromConfig(ctx context.Context, c *Config, withPorts bool) (*api.NodeInfo, error) {
	n := c.Node
	devices, err := n.DeviceInfos()
	if err != nil {
		return nil, errors.Wrapf(err, "node %d", n.NodeID)
	}
	if withPorts && len(devices) != 0 {
		if n.AvailablePorts == "" {
			return nil, errdefs.Failed("node %d: no available_ports to lease %d data ports from", n.NodeID, len(devices))
		}
		if err := allocateDevicePorts(ctx, c, devices); err != nil {
			return nil, errors.Wrapf(err, "node %d", n.NodeID)
		}
	}

	node := &api.NodeInfo{NodeID: n.NodeID}
	if n.Listen != "" || n.Port > 0 {
		node.Address = n.Address()
	}
	for _, d := range devices {
		node.AddDevice(d)
	}
	return node, nil
}

// applyInitResponse resizes node to the device count a remote peer reported
// and copies its data ports in device order.
func applyInitResponse(n *config.NodeConfig, node *api.NodeInfo, resp *api.InitResponse) {
	if resp == nil {
		return
	}
	count := int(resp.DeviceCount)
	if count < 0 {
		count = 0
	}
	if count < len(node.Devices) {
		node.Devices = node.Devices[:count]
	}
	for i := len(node.Devices); i < count; i++ {
		node.AddDevice(api.DeviceInfo{
			NodeID:          node.NodeID,
			DeviceID:        int32(i),
			DeviceType:      api.DeviceTypeNPU,
			PhyDeviceID:     int32(i),
			LogicalDeviceID: int32(i),
			HostIP:          n.IP,
		})
	}
	for i, port := range resp.DataPorts {
		if i >= len(node.Devices) {
			break
		}
		node.Devices[i].DataPort = port
	}
}
