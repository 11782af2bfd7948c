package deployer

import (
	"context"
	"sync"
	"time"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
)

// Local supervises the controller's own node. Requests run in process
// through an Executor.
type Local struct {
	cfg     *Config
	exec    Executor
	tracker *abnormalTracker

	mu        sync.Mutex
	state     State
	node      *api.NodeInfo
	ka        *keepalive
	finalized bool
}

var _ Deployer = (*Local)(nil)

// NewLocal returns a Local deployer. A nil exec acknowledges every request.
func NewLocal(c *Config, exec Executor) *Local {
	cfg := c.complete()
	if exec == nil {
		exec = ExecutorFunc(func(context.Context, *api.Request) (*api.Response, error) {
			return successResponse(), nil
		})
	}
	return &Local{
		cfg:     cfg,
		exec:    exec,
		tracker: newAbnormalTracker(cfg.Node.NodeID, cfg.Abnormal),
	}
}

func (l *Local) logContext(ctx context.Context) context.Context {
	ctx = log.WithModule(ctx, "local")
	return log.WithLogger(ctx, log.G(ctx).WithField("node.id", l.cfg.Node.NodeID))
}

// Initialize allocates device ports, starts the executor if it has a
// Start method, and starts the keepalive loop when configured.
func (l *Local) Initialize(ctx context.Context) error {
	ctx = l.logContext(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateUninitialized {
		return errdefs.Failed("node %d: cannot initialize while %s", l.cfg.Node.NodeID, l.state)
	}
	l.state = StateConnecting

	node, err := nodeFromConfig(ctx, l.cfg, true)
	if err != nil {
		l.state = StateUninitialized
		return errdefs.Failed("%v", err)
	}
	if s, ok := l.exec.(interface{ Start(context.Context) error }); ok {
		if err := s.Start(ctx); err != nil {
			l.state = StateUninitialized
			return errdefs.Failed("node %d: start local executor: %v", l.cfg.Node.NodeID, err)
		}
	}
	l.node = node
	l.state = StateConnected

	if l.cfg.Heartbeat {
		l.ka = startKeepalive(context.WithoutCancel(ctx), l.cfg.Clock, l.cfg.HeartbeatInterval, l.cfg.HeartbeatStep, l.heartbeat)
	}
	log.G(ctx).WithField("devices", len(node.Devices)).Info("local node initialized")
	return nil
}

func (l *Local) heartbeat(ctx context.Context) {
	start := l.cfg.Clock.Now()
	req := &api.Request{
		Type:      api.RequestHeartbeat,
		Heartbeat: &api.HeartbeatRequest{NodeID: l.cfg.Node.NodeID},
	}
	resp, err := sendWithRetries(ctx, l.cfg.HeartbeatTimeout, l.cfg.HeartbeatRetries, l.cfg.RetryDelay, func(ctx context.Context) (*api.Response, error) {
		return l.exec.Execute(ctx, req)
	})
	heartbeatDuration.WithLabelValues(heartbeatResult(resp, err)).Observe(l.cfg.Clock.Since(start).Seconds())
	if err != nil {
		log.G(ctx).WithError(err).Warn("local heartbeat failed")
	}
	l.tracker.record(ctx, ParseHeartbeat(resp, err))
}

// Process runs req through the executor. Executor errors are turned into
// error responses.
func (l *Local) Process(ctx context.Context, req *api.Request) (*api.Response, error) {
	if req == nil {
		return nil, errdefs.ParamInvalid("nil request")
	}
	if state := l.State(); state != StateConnected {
		return nil, errdefs.Failed("node %d is %s", l.cfg.Node.NodeID, state)
	}
	resp, err := l.exec.Execute(ctx, req)
	if err != nil {
		return errdefs.ToResponse(err), nil
	}
	if resp == nil {
		return nil, errdefs.Internal("executor returned no response for %s", req.Type)
	}
	return resp, nil
}

// ProcessWithTimeout runs req on its own goroutine and waits for it,
// warning every timeout plus poll slack.
func (l *Local) ProcessWithTimeout(ctx context.Context, req *api.Request, timeout time.Duration, retries int) (*api.Response, error) {
	if req == nil {
		return nil, errdefs.ParamInvalid("nil request")
	}
	ctx = l.logContext(ctx)
	return awaitProcess(ctx, l.cfg.Clock, timeout+l.cfg.ProcessPollSlack, req, func() (*api.Response, error) {
		return sendWithRetries(ctx, timeout, retries, l.cfg.RetryDelay, func(ctx context.Context) (*api.Response, error) {
			return l.Process(ctx, req)
		})
	})
}

// Finalize stops the keepalive loop and the executor.
func (l *Local) Finalize(ctx context.Context) error {
	ctx = l.logContext(ctx)

	l.mu.Lock()
	if l.finalized {
		l.mu.Unlock()
		return nil
	}
	l.finalized = true
	ka := l.ka
	l.ka = nil
	l.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}

	var err error
	if s, ok := l.exec.(interface{ Stop(context.Context) error }); ok {
		if err = s.Stop(ctx); err != nil {
			log.G(ctx).WithError(err).Warn("failed to stop local executor")
		}
	}

	l.mu.Lock()
	l.state = StateDisconnected
	l.mu.Unlock()

	log.G(ctx).Info("local node finalized")
	return err
}

// NodeInfo implements Deployer.
func (l *Local) NodeInfo() *api.NodeInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.node.Copy()
}

// State implements Deployer.
func (l *Local) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// DeviceAbnormalCode implements Deployer.
func (l *Local) DeviceAbnormalCode() api.ErrorCode {
	return l.tracker.firstCode()
}

func heartbeatResult(resp *api.Response, err error) string {
	switch {
	case err != nil:
		return "error"
	case !resp.OK():
		return "failed"
	}
	return "ok"
}
