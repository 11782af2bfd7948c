// Package agent is the node side of the deployer protocol. It accepts the
// session requests of a controller (init, heartbeat, disconnect) and hands
// every other request to an executor.
package agent

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/auth"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/identity"
	"github.com/moby/flowkit/log"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

// Agent implements api.DeployerServer.
type Agent struct {
	config *Config

	mu      sync.Mutex
	clients map[string]struct{}
	server  *grpc.Server
	stopped bool
}

var _ api.DeployerServer = (*Agent)(nil)

// New returns a new agent, ready to be served.
func New(config *Config) (*Agent, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Agent{
		config:  config,
		clients: make(map[string]struct{}),
	}, nil
}

// Serve accepts connections on l until ctx is cancelled or Stop is called.
func (a *Agent) Serve(ctx context.Context, l net.Listener) error {
	ctx = log.WithModule(ctx, "agent")

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return errAgentStopped
	}
	if a.server != nil {
		a.mu.Unlock()
		return errAgentStarted
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor))
	api.RegisterDeployerServer(server, a)
	grpc_prometheus.Register(server)
	a.server = server
	a.mu.Unlock()

	log.G(ctx).WithFields(logrus.Fields{
		"node.id":   a.config.NodeID,
		"node.addr": l.Addr().String(),
	}).Info("agent listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(l)
	}()

	select {
	case <-ctx.Done():
		server.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if err == grpc.ErrServerStopped {
			return nil
		}
		return err
	}
}

// Stop stops a serving agent. Sessions are dropped.
func (a *Agent) Stop() {
	a.mu.Lock()
	server := a.server
	a.stopped = true
	a.clients = make(map[string]struct{})
	a.mu.Unlock()

	if server != nil {
		server.GracefulStop()
	}
}

// Clients lists the client ids of the open sessions.
func (a *Agent) Clients() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Process implements api.DeployerServer. Failures are reported in the
// response; the error return is never used.
func (a *Agent) Process(ctx context.Context, req *api.Request) (*api.Response, error) {
	ctx = log.WithModule(ctx, "agent")
	ctx = log.WithLogger(ctx, log.G(ctx).WithFields(logrus.Fields{
		"request.type": req.Type,
		"client.id":    req.ClientID,
	}))

	switch req.Type {
	case api.RequestInit:
		return a.init(ctx, req), nil
	case api.RequestHeartbeat:
		return a.heartbeat(ctx, req), nil
	case api.RequestDisconnect:
		return a.disconnect(ctx, req), nil
	}

	if !a.known(req.ClientID) {
		log.G(ctx).Warn("request from unknown client")
		return api.NewErrorResponse(api.ParamInvalid, "unknown client %q", req.ClientID), nil
	}
	if err := validatePayload(req); err != nil {
		return errdefs.ToResponse(err), nil
	}
	if a.config.Executor == nil {
		return &api.Response{}, nil
	}

	resp, err := a.config.Executor.Execute(ctx, req)
	if err != nil {
		log.G(ctx).WithError(err).Error("request failed")
		return errdefs.ToResponse(err), nil
	}
	if resp == nil {
		return &api.Response{}, nil
	}
	return resp, nil
}

func (a *Agent) init(ctx context.Context, req *api.Request) *api.Response {
	if req.Init == nil {
		return api.NewErrorResponse(api.ParamInvalid, "missing init body")
	}
	if req.Init.NodeID != a.config.NodeID {
		return api.NewErrorResponse(api.ParamInvalid, "init for node %d reached node %d", req.Init.NodeID, a.config.NodeID)
	}
	if a.config.Verifier != nil {
		if err := auth.VerifyPayload(a.config.Verifier, req.Type, req.Init.Auth); err != nil {
			log.G(ctx).WithError(err).Warn("rejected init request")
			return errdefs.ToResponse(err)
		}
	}

	id := identity.NewID()
	a.mu.Lock()
	a.clients[id] = struct{}{}
	a.mu.Unlock()

	log.G(ctx).WithField("client.id", id).Info("client connected")
	return &api.Response{
		ClientID: id,
		Init: &api.InitResponse{
			DeviceCount: a.config.DeviceCount,
			DataPorts:   append([]int32(nil), a.config.DataPorts...),
		},
	}
}

func (a *Agent) heartbeat(ctx context.Context, req *api.Request) *api.Response {
	if !a.known(req.ClientID) {
		return api.NewErrorResponse(api.Failed, "unknown client %q", req.ClientID)
	}
	resp := &api.Response{ClientID: req.ClientID}
	if a.config.Health != nil {
		resp.Heartbeat = a.config.Health.Health(ctx)
	}
	if resp.Heartbeat == nil {
		resp.Heartbeat = &api.HeartbeatResponse{AbnormalType: api.AbnormalTypeNone}
	}
	return resp
}

func (a *Agent) disconnect(ctx context.Context, req *api.Request) *api.Response {
	a.mu.Lock()
	_, ok := a.clients[req.ClientID]
	delete(a.clients, req.ClientID)
	a.mu.Unlock()

	if !ok {
		return api.NewErrorResponse(api.Failed, "unknown client %q", req.ClientID)
	}
	log.G(ctx).Info("client disconnected")
	return &api.Response{}
}

func (a *Agent) known(id string) bool {
	if !identity.Valid(id) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.clients[id]
	return ok
}

func validatePayload(req *api.Request) error {
	switch req.Type {
	case api.RequestUpdateDeployPlan:
		if req.DeployPlan == nil {
			return errdefs.ParamInvalid("missing deploy plan")
		}
	case api.RequestAddFlowRoutePlan:
		if req.RoutePlan == nil || req.RoutePlan.Plan == nil {
			return errdefs.ParamInvalid("missing flow route plan")
		}
	case api.RequestLoadModel, api.RequestUnloadModel:
		if req.Model == nil {
			return errdefs.ParamInvalid("missing model body")
		}
	case api.RequestDownloadConfig:
		if req.Config == nil {
			return errdefs.ParamInvalid("missing config body")
		}
	default:
		return errdefs.ParamInvalid("unsupported request type %s", req.Type)
	}
	return nil
}
