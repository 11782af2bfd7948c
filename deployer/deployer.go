// Package deployer supervises the controller's connection to every node of
// a deployment. A Local deployer serves the controller's own node in
// process; a Remote deployer talks to a node agent over gRPC. Both keep
// the node's device descriptors, forward opaque requests, and optionally
// run a keepalive loop that feeds abnormal conditions into an
// abnormal.Registry.
package deployer

import (
	"context"
	"fmt"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/moby/flowkit/abnormal"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/auth"
	"github.com/moby/flowkit/config"
	"github.com/moby/flowkit/network"
)

const (
	defaultHeartbeatInterval = 5 * time.Second
	defaultHeartbeatStep     = 100 * time.Millisecond
	defaultHeartbeatTimeout  = 15 * time.Second
	defaultHeartbeatRetries  = 2
	defaultConnectAttempts   = 61
	defaultConnectDelay      = time.Second
	defaultInitTimeout       = 5 * time.Second
	defaultRetryDelay        = time.Second
	defaultDisconnectTimeout = 70 * time.Second
	defaultProcessPollSlack  = 5 * time.Second
)

// Deployer owns one supervised connection to one node.
type Deployer interface {
	// Initialize builds the node's device descriptors and, where
	// configured, connects and starts the keepalive loop.
	Initialize(ctx context.Context) error
	// Finalize stops the keepalive loop and releases the connection. A
	// second call is a no-op.
	Finalize(ctx context.Context) error
	// Process forwards req to the node. The error is reserved for
	// failures to reach the node; application failures are reported in
	// the response.
	Process(ctx context.Context, req *api.Request) (*api.Response, error)
	// ProcessWithTimeout sends req asynchronously with a per-attempt
	// timeout and retry count, and waits for the result however long it
	// takes, logging a warning every timeout plus poll slack.
	ProcessWithTimeout(ctx context.Context, req *api.Request, timeout time.Duration, retries int) (*api.Response, error)
	// NodeInfo returns a copy of the node's current description.
	NodeInfo() *api.NodeInfo
	// State returns the connection state.
	State() State
	// DeviceAbnormalCode returns the first non-success device error code
	// reported by heartbeats, or api.Success.
	DeviceAbnormalCode() api.ErrorCode
}

// State is the connection state of a deployer.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateExcepted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateExcepted:
		return "excepted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Executor runs a request against in-process deploy state.
type Executor interface {
	Execute(ctx context.Context, req *api.Request) (*api.Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req *api.Request) (*api.Response, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req *api.Request) (*api.Response, error) {
	return f(ctx, req)
}

// Config configures a deployer. Zero durations and counts fall back to the
// values of DefaultConfig.
type Config struct {
	// Node is the static description of the supervised node.
	Node *config.NodeConfig

	// Heartbeat enables the keepalive loop.
	Heartbeat         bool
	HeartbeatInterval time.Duration
	// HeartbeatStep is the sleep granularity of the keepalive loop, and so
	// bounds how long Finalize waits for the loop to notice it must stop.
	HeartbeatStep    time.Duration
	HeartbeatTimeout time.Duration
	HeartbeatRetries int

	ConnectAttempts uint
	ConnectDelay    time.Duration
	// InitTimeout bounds a single handshake attempt.
	InitTimeout       time.Duration
	RetryDelay        time.Duration
	DisconnectTimeout time.Duration
	ProcessPollSlack  time.Duration

	// Signer signs the init handshake when set.
	Signer auth.Signer

	// Ports, Network and Abnormal are process-wide services shared by all
	// deployers. Missing ones are replaced by private instances.
	Ports    *network.PortDistributor
	Network  *network.Manager
	Abnormal *abnormal.Registry

	Clock clock.Clock
}

// DefaultConfig returns the default deployer timings.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatStep:     defaultHeartbeatStep,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		HeartbeatRetries:  defaultHeartbeatRetries,
		ConnectAttempts:   defaultConnectAttempts,
		ConnectDelay:      defaultConnectDelay,
		InitTimeout:       defaultInitTimeout,
		RetryDelay:        defaultRetryDelay,
		DisconnectTimeout: defaultDisconnectTimeout,
		ProcessPollSlack:  defaultProcessPollSlack,
		Clock:             clock.NewClock(),
	}
}

// ConfigFor returns the configuration of node within cluster.
func ConfigFor(cluster *config.ClusterConfig, node *config.NodeConfig) *Config {
	c := DefaultConfig()
	c.Node = node
	c.Heartbeat = cluster.Heartbeat.Enabled
	if cluster.Heartbeat.Interval > 0 {
		c.HeartbeatInterval = cluster.Heartbeat.Interval
	}
	if cluster.Heartbeat.Timeout > 0 {
		c.HeartbeatTimeout = cluster.Heartbeat.Timeout
	}
	if cluster.Heartbeat.Retries > 0 {
		c.HeartbeatRetries = cluster.Heartbeat.Retries
	}
	return c
}

func (c *Config) complete() *Config {
	out := *c
	def := DefaultConfig()
	if out.Node == nil {
		out.Node = &config.NodeConfig{}
	}
	if out.HeartbeatInterval <= 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.HeartbeatStep <= 0 {
		out.HeartbeatStep = def.HeartbeatStep
	}
	if out.HeartbeatTimeout <= 0 {
		out.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if out.HeartbeatRetries < 0 {
		out.HeartbeatRetries = 0
	}
	if out.ConnectAttempts == 0 {
		out.ConnectAttempts = def.ConnectAttempts
	}
	if out.ConnectDelay <= 0 {
		out.ConnectDelay = def.ConnectDelay
	}
	if out.InitTimeout <= 0 {
		out.InitTimeout = def.InitTimeout
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = def.RetryDelay
	}
	if out.DisconnectTimeout <= 0 {
		out.DisconnectTimeout = def.DisconnectTimeout
	}
	if out.ProcessPollSlack <= 0 {
		out.ProcessPollSlack = def.ProcessPollSlack
	}
	if out.Ports == nil {
		out.Ports = network.NewPortDistributor()
	}
	if out.Network == nil {
		out.Network = network.NewManager()
	}
	if out.Abnormal == nil {
		out.Abnormal = abnormal.NewRegistry()
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	return &out
}

// New returns a Local deployer for a node marked local, and a Remote one
// otherwise. exec is only used by Local deployers.
func New(c *Config, exec Executor) Deployer {
	if c.Node != nil && c.Node.Local {
		return NewLocal(c, exec)
	}
	return NewRemote(c, nil)
}

func successResponse() *api.Response {
	return &api.Response{ErrorCode: api.Success}
}
