package deployer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/auth"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/moby/flowkit/transport"
	"github.com/sirupsen/logrus"
)

// Client is the transport a Remote deployer sends requests over.
type Client interface {
	Process(ctx context.Context, req *api.Request) (*api.Response, error)
	Close() error
}

// DialFunc creates a Client for addr.
type DialFunc func(ctx context.Context, addr string) (Client, error)

// DialGRPC dials a node agent with the default transport.
func DialGRPC(ctx context.Context, addr string) (Client, error) {
	return transport.Dial(ctx, addr)
}

// Remote supervises a node reached through its agent.
type Remote struct {
	cfg     *Config
	dial    DialFunc
	tracker *abnormalTracker

	// mu guards the fields below it.
	mu        sync.Mutex
	state     State
	node      *api.NodeInfo
	client    Client
	clientID  string
	ka        *keepalive
	finalized bool

	// connectMu serializes handshakes; the outcome of the first one is
	// cached for every later caller.
	connectMu   sync.Mutex
	connectDone bool
	connectErr  error

	// exception is set once a heartbeat round trip fails. Requests are then
	// acknowledged locally without reaching the node.
	exception atomic.Bool
}

var _ Deployer = (*Remote)(nil)

// NewRemote returns a Remote deployer. A nil dial uses DialGRPC.
func NewRemote(c *Config, dial DialFunc) *Remote {
	cfg := c.complete()
	if dial == nil {
		dial = DialGRPC
	}
	return &Remote{
		cfg:     cfg,
		dial:    dial,
		tracker: newAbnormalTracker(cfg.Node.NodeID, cfg.Abnormal),
	}
}

func (r *Remote) logContext(ctx context.Context) context.Context {
	ctx = log.WithModule(ctx, "remote")
	return log.WithLogger(ctx, log.G(ctx).WithFields(logrus.Fields{
		"node.id":   r.cfg.Node.NodeID,
		"node.addr": r.cfg.Node.Address(),
	}))
}

// Initialize creates the transport client and, unless the node is lazily
// connected, performs the handshake. Lazily connected nodes take their
// device layout from configuration and connect on first use.
func (r *Remote) Initialize(ctx context.Context) error {
	ctx = r.logContext(ctx)

	r.mu.Lock()
	if r.state != StateUninitialized {
		state := r.state
		r.mu.Unlock()
		return errdefs.Failed("node %d: cannot initialize while %s", r.cfg.Node.NodeID, state)
	}
	r.state = StateConnecting
	r.mu.Unlock()

	addr := r.cfg.Node.Address()
	client, err := r.dial(ctx, addr)
	if err != nil {
		r.setState(StateUninitialized)
		return errdefs.Failed("node %d: create client for %s: %v", r.cfg.Node.NodeID, addr, err)
	}

	node, err := nodeFromConfig(ctx, r.cfg, r.cfg.Node.LazyConnect && r.cfg.Node.AvailablePorts != "")
	if err != nil {
		client.Close()
		r.setState(StateUninitialized)
		return errdefs.Failed("%v", err)
	}
	node.Address = addr

	r.mu.Lock()
	r.client = client
	r.node = node
	r.mu.Unlock()

	if r.cfg.Node.LazyConnect {
		log.G(ctx).Info("lazy connect, deferring handshake")
		return nil
	}
	return r.Connect(ctx)
}

// Connect performs the init handshake once. Later calls return the cached
// outcome.
func (r *Remote) Connect(ctx context.Context) error {
	r.connectMu.Lock()
	defer r.connectMu.Unlock()

	if r.connectDone {
		return r.connectErr
	}

	r.mu.Lock()
	client := r.client
	r.mu.Unlock()
	if client == nil {
		return errdefs.Internal("node %d: connect before initialize", r.cfg.Node.NodeID)
	}

	r.connectDone = true
	r.connectErr = r.handshake(r.logContext(ctx), client)
	if r.connectErr != nil {
		r.setState(StateDisconnected)
	}
	return r.connectErr
}

func (r *Remote) handshake(ctx context.Context, client Client) error {
	logger := log.G(ctx)

	req := &api.Request{
		Type: api.RequestInit,
		Init: &api.InitRequest{NodeID: r.cfg.Node.NodeID},
	}
	if r.cfg.Signer != nil {
		payload, err := auth.NewPayload(r.cfg.Signer, req.Type)
		if err != nil {
			return errdefs.Failed("node %d: sign init request: %v", r.cfg.Node.NodeID, err)
		}
		req.Init.Auth = payload
	}

	var (
		resp     *api.Response
		rejected error
		attempts int
	)
	err := retry.Do(
		func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, r.cfg.InitTimeout)
			defer cancel()

			out, err := client.Process(callCtx, req)
			if err != nil {
				connectAttempts.WithLabelValues("error").Inc()
				return err
			}
			if !out.OK() {
				connectAttempts.WithLabelValues("rejected").Inc()
				rejected = errdefs.Failed("node %d: init rejected: %s: %s", r.cfg.Node.NodeID, out.ErrorCode, out.ErrorMessage)
				return retry.Unrecoverable(rejected)
			}
			connectAttempts.WithLabelValues("ok").Inc()
			resp = out
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(r.cfg.ConnectAttempts),
		retry.Delay(r.cfg.ConnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Debugf("init attempt %d failed", n+1)
		}),
	)
	if err != nil {
		logger.WithError(err).WithField("attempts", attempts).Error("handshake failed")
		if rejected != nil {
			return rejected
		}
		return errdefs.Failed("node %d: connect to %s failed after %d attempts: %v", r.cfg.Node.NodeID, r.cfg.Node.Address(), attempts, err)
	}

	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return errdefs.Failed("node %d finalized during handshake", r.cfg.Node.NodeID)
	}
	r.clientID = resp.ClientID
	r.node.ClientID = resp.ClientID
	if !r.cfg.Node.LazyConnect {
		applyInitResponse(r.cfg.Node, r.node, resp.Init)
	}
	r.state = StateConnected
	if r.cfg.Heartbeat {
		r.ka = startKeepalive(context.WithoutCancel(ctx), r.cfg.Clock, r.cfg.HeartbeatInterval, r.cfg.HeartbeatStep, r.heartbeat)
	}
	r.mu.Unlock()

	logger.WithFields(logrus.Fields{
		"client.id": resp.ClientID,
		"attempts":  attempts,
	}).Info("connected")
	return nil
}

// UpdateNodeInfo applies the device layout reported by the node.
func (r *Remote) UpdateNodeInfo(resp *api.InitResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.node != nil {
		applyInitResponse(r.cfg.Node, r.node, resp)
	}
}

func (r *Remote) heartbeat(ctx context.Context) {
	r.mu.Lock()
	client, clientID := r.client, r.clientID
	r.mu.Unlock()

	req := &api.Request{
		Type:      api.RequestHeartbeat,
		ClientID:  clientID,
		Heartbeat: &api.HeartbeatRequest{NodeID: r.cfg.Node.NodeID},
	}
	start := r.cfg.Clock.Now()
	resp, err := sendWithRetries(ctx, r.cfg.HeartbeatTimeout, r.cfg.HeartbeatRetries, r.cfg.RetryDelay, func(ctx context.Context) (*api.Response, error) {
		return client.Process(ctx, req)
	})
	heartbeatDuration.WithLabelValues(heartbeatResult(resp, err)).Observe(r.cfg.Clock.Since(start).Seconds())
	r.tracker.record(ctx, ParseHeartbeat(resp, err))

	if err == nil && !resp.OK() {
		err = errdefs.FromResponse(resp)
	}
	if err != nil {
		log.G(ctx).WithError(err).Warn("heartbeat failed, node presumed gone")
		if !r.exception.Swap(true) {
			exceptions.Inc()
		}
		r.setState(StateExcepted)
		return
	}
	log.G(ctx).Debug("heartbeat")
}

// Process connects if needed, stamps the client id on req and forwards it.
// Once the node is in the exception state the request is acknowledged
// without being sent.
func (r *Remote) Process(ctx context.Context, req *api.Request) (*api.Response, error) {
	if req == nil {
		return nil, errdefs.ParamInvalid("nil request")
	}
	if r.exception.Load() {
		log.G(r.logContext(ctx)).WithField("request.type", req.Type).Debug("node in exception state, skipping request")
		return successResponse(), nil
	}
	if err := r.Connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	client, clientID := r.client, r.clientID
	r.mu.Unlock()

	resp, err := client.Process(ctx, withClientID(req, clientID))
	if err != nil {
		return nil, errdefs.Failed("node %d: %s: %v", r.cfg.Node.NodeID, req.Type, err)
	}
	return resp, nil
}

// ProcessWithTimeout sends req on its own goroutine with up to retries
// retries of timeout each, and waits for the outcome. Every timeout plus
// poll slack without a result logs a warning; the request is never
// abandoned.
func (r *Remote) ProcessWithTimeout(ctx context.Context, req *api.Request, timeout time.Duration, retries int) (*api.Response, error) {
	if req == nil {
		return nil, errdefs.ParamInvalid("nil request")
	}
	ctx = r.logContext(ctx)
	return awaitProcess(ctx, r.cfg.Clock, timeout+r.cfg.ProcessPollSlack, req, func() (*api.Response, error) {
		if r.exception.Load() {
			return successResponse(), nil
		}
		if err := r.Connect(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		client, clientID := r.client, r.clientID
		r.mu.Unlock()

		stamped := withClientID(req, clientID)
		resp, err := sendWithRetries(ctx, timeout, retries, r.cfg.RetryDelay, func(ctx context.Context) (*api.Response, error) {
			return client.Process(ctx, stamped)
		})
		if err != nil {
			return nil, errdefs.Failed("node %d: %s: %v", r.cfg.Node.NodeID, req.Type, err)
		}
		return resp, nil
	})
}

// Finalize stops the keepalive loop and, unless the node is in the
// exception state, tells it the controller is leaving. The connection is
// Disconnected afterwards; Excepted keeps reporting a prior heartbeat
// failure.
func (r *Remote) Finalize(ctx context.Context) error {
	ctx = r.logContext(ctx)

	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return nil
	}
	r.finalized = true
	ka := r.ka
	r.ka = nil
	r.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}

	r.mu.Lock()
	state, client, clientID := r.state, r.client, r.clientID
	r.mu.Unlock()

	var err error
	if state == StateConnected && !r.exception.Load() {
		dctx, cancel := context.WithTimeout(ctx, r.cfg.DisconnectTimeout)
		resp, derr := client.Process(dctx, &api.Request{Type: api.RequestDisconnect, ClientID: clientID})
		cancel()
		switch {
		case derr != nil:
			err = errdefs.Failed("node %d: disconnect: %v", r.cfg.Node.NodeID, derr)
		case !resp.OK():
			err = errdefs.FromResponse(resp)
		}
		if err != nil {
			log.G(ctx).WithError(err).Warn("disconnect failed")
		}
	}
	if client != nil {
		if cerr := client.Close(); cerr != nil {
			log.G(ctx).WithError(cerr).Debug("failed to close client")
		}
	}

	r.setState(StateDisconnected)

	log.G(ctx).Info("remote node finalized")
	return err
}

// Disconnect is Finalize.
func (r *Remote) Disconnect(ctx context.Context) error {
	return r.Finalize(ctx)
}

// NodeInfo implements Deployer.
func (r *Remote) NodeInfo() *api.NodeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.node.Copy()
}

// State implements Deployer.
func (r *Remote) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ClientID returns the id the node assigned during the handshake.
func (r *Remote) ClientID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clientID
}

// Excepted reports whether a heartbeat has failed.
func (r *Remote) Excepted() bool {
	return r.exception.Load()
}

// DeviceAbnormalCode implements Deployer.
func (r *Remote) DeviceAbnormalCode() api.ErrorCode {
	return r.tracker.firstCode()
}

func (r *Remote) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}
