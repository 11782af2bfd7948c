package main

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/auth"
	"github.com/moby/flowkit/config"
	"github.com/moby/flowkit/deployer"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/flowroute"
	"github.com/moby/flowkit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

func loadCluster(cmd *cobra.Command) (*config.ClusterConfig, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errdefs.ParamInvalid("--config is required")
	}
	return config.Load(path)
}

// keyedMAC returns the handshake signer of the cluster, or nil when the
// cluster runs without authentication.
func keyedMAC(c *config.ClusterConfig) (*auth.KeyedMAC, error) {
	secret, err := c.Auth.Secret()
	if err != nil || secret == nil {
		return nil, err
	}
	return auth.NewKeyedMAC(secret)
}

func loadDeployPlan(path string) (*api.DeployPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var plan api.DeployPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, errdefs.ParamInvalid("parse deploy plan %s: %v", path, err)
	}
	return &plan, nil
}

// rankTable ranks the hcom capable devices of the cluster in configuration
// order.
func rankTable(c *config.ClusterConfig) (flowroute.StaticRankTable, error) {
	nodes := make([]*api.NodeInfo, 0, len(c.Nodes))
	for i := range c.Nodes {
		devices, err := c.Nodes[i].DeviceInfos()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, &api.NodeInfo{NodeID: c.Nodes[i].NodeID, Devices: devices})
	}
	return flowroute.NewStaticRankTable(nodes...), nil
}

func addPlanFlags(fs *pflag.FlagSet) {
	fs.Bool("exception-catch", false, "Exception catching is enabled for the run")
	fs.Bool("n-mapping", false, "The model contains an N-to-1 mapping node")
}

// planAttributes reads the plan flags. Exception catching is also enabled
// by the cluster configuration, when there is one.
func planAttributes(fs *pflag.FlagSet, c *config.ClusterConfig) (flowroute.PlanAttributes, error) {
	var attrs flowroute.PlanAttributes
	var err error
	if attrs.ExceptionCatch, err = fs.GetBool("exception-catch"); err != nil {
		return attrs, err
	}
	if attrs.HasNMappingNode, err = fs.GetBool("n-mapping"); err != nil {
		return attrs, err
	}
	if c != nil {
		attrs.ExceptionCatch = attrs.ExceptionCatch || c.ExceptionCatch
	}
	return attrs, nil
}

func printYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// serveMetrics exposes the prometheus registry on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	go func() {
		log.G(ctx).WithField("addr", addr).Info("serving metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.G(ctx).WithError(err).Error("metrics server failed")
		}
	}()
}

// loggingExecutor acknowledges every request and logs it.
func loggingExecutor() deployer.Executor {
	return deployer.ExecutorFunc(func(ctx context.Context, req *api.Request) (*api.Response, error) {
		entry := log.G(ctx).WithFields(logrus.Fields{"request.type": req.Type})
		if req.RoutePlan != nil && req.RoutePlan.Plan != nil {
			entry = entry.WithField("endpoints", len(req.RoutePlan.Plan.Endpoints))
		}
		entry.Info("request received")
		return &api.Response{}, nil
	})
}
