package agent

import (
	"context"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/auth"
	"github.com/moby/flowkit/deployer"
	"github.com/moby/flowkit/errdefs"
)

// HealthReporter reports the abnormal state of the node for a heartbeat.
type HealthReporter interface {
	Health(ctx context.Context) *api.HeartbeatResponse
}

// HealthFunc adapts a function to HealthReporter.
type HealthFunc func(ctx context.Context) *api.HeartbeatResponse

// Health calls f.
func (f HealthFunc) Health(ctx context.Context) *api.HeartbeatResponse {
	return f(ctx)
}

// Config provides values for an Agent.
type Config struct {
	// NodeID is the node-mesh index the agent serves.
	NodeID int32

	// DeviceCount and DataPorts are reported to controllers in the init
	// handshake.
	DeviceCount int32
	DataPorts   []int32

	// Verifier checks the signed init payload. Nil accepts every
	// controller.
	Verifier auth.Verifier

	// Executor runs every request other than the session requests. Nil
	// acknowledges them.
	Executor deployer.Executor

	// Health answers heartbeats. Nil reports a healthy node.
	Health HealthReporter
}

func (c *Config) validate() error {
	if c.NodeID < 0 {
		return errdefs.ParamInvalid("node id must not be negative, got %d", c.NodeID)
	}
	if c.DeviceCount < 0 {
		return errdefs.ParamInvalid("device count must not be negative, got %d", c.DeviceCount)
	}
	if int(c.DeviceCount) < len(c.DataPorts) {
		return errdefs.ParamInvalid("%d data ports for %d devices", len(c.DataPorts), c.DeviceCount)
	}
	return nil
}
