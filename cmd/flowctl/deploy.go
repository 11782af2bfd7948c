package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moby/flowkit/abnormal"
	"github.com/moby/flowkit/api"
	"github.com/moby/flowkit/config"
	"github.com/moby/flowkit/deployer"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/flowroute"
	"github.com/moby/flowkit/log"
	"github.com/moby/flowkit/network"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const routePlanTimeout = 30 * time.Second

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Connect to every node of a cluster and supervise it",
	Long: `Create one deployer per configured node, initialize it and keep it
alive until interrupted. With --plan, the flow route plan of each node is
resolved and pushed once the nodes are up.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cluster, err := loadCluster(cmd)
		if err != nil {
			return err
		}
		planPath, err := cmd.Flags().GetString("plan")
		if err != nil {
			return err
		}
		rootModelID, err := cmd.Flags().GetUint32("root-model")
		if err != nil {
			return err
		}
		once, err := cmd.Flags().GetBool("once")
		if err != nil {
			return err
		}
		metricsAddr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}

		attrs, err := planAttributes(cmd.Flags(), cluster)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		serveMetrics(ctx, metricsAddr)

		var plan *api.DeployPlan
		if planPath != "" {
			if plan, err = loadDeployPlan(planPath); err != nil {
				return err
			}
		}

		c, err := newFleet(cluster)
		if err != nil {
			return err
		}
		defer c.close(context.WithoutCancel(ctx))

		go c.watch(ctx)

		if err := c.initialize(ctx); err != nil {
			return err
		}
		if plan != nil {
			if err := c.pushRoutePlans(ctx, plan, rootModelID, attrs); err != nil {
				return err
			}
		}
		if once {
			return nil
		}

		log.G(ctx).WithField("nodes", len(c.deployers)).Info("cluster deployed, waiting for signal")
		<-ctx.Done()
		return nil
	},
}

func init() {
	deployCmd.Flags().StringP("plan", "p", "", "Deploy plan whose flow routes are pushed to the nodes")
	addPlanFlags(deployCmd.Flags())
	deployCmd.Flags().Uint32("root-model", 0, "Root model id the flow route plans belong to")
	deployCmd.Flags().Bool("once", false, "Exit after the nodes are initialized and the plans pushed")
	deployCmd.Flags().String("metrics-addr", "", "Address to expose prometheus metrics on")
}

// fleet holds the deployers of one run along with the services they
// share.
type fleet struct {
	config    *config.ClusterConfig
	ports     *network.PortDistributor
	network   *network.Manager
	abnormal  *abnormal.Registry
	deployers []deployer.Deployer
}

func newFleet(cc *config.ClusterConfig) (*fleet, error) {
	mac, err := keyedMAC(cc)
	if err != nil {
		return nil, err
	}
	c := &fleet{
		config:   cc,
		ports:    network.NewPortDistributor(),
		network:  network.NewManager(),
		abnormal: abnormal.NewRegistry(),
	}
	for i := range cc.Nodes {
		cfg := deployer.ConfigFor(cc, &cc.Nodes[i])
		cfg.Ports = c.ports
		cfg.Network = c.network
		cfg.Abnormal = c.abnormal
		if mac != nil {
			cfg.Signer = mac
		}
		c.deployers = append(c.deployers, deployer.New(cfg, loggingExecutor()))
	}
	return c, nil
}

func (c *fleet) initialize(ctx context.Context) error {
	for _, d := range c.deployers {
		if err := d.Initialize(ctx); err != nil {
			return err
		}
		node := d.NodeInfo()
		log.G(ctx).WithFields(logrus.Fields{
			"node.id": node.NodeID,
			"state":   d.State(),
			"devices": len(node.Devices),
		}).Info("node initialized")
	}
	return nil
}

func (c *fleet) pushRoutePlans(ctx context.Context, plan *api.DeployPlan, rootModelID uint32, attrs flowroute.PlanAttributes) error {
	ranks, err := rankTable(c.config)
	if err != nil {
		return err
	}
	planner := flowroute.NewPlanner(flowroute.NewTagTable(), ranks)

	for _, d := range c.deployers {
		nodeID := d.NodeInfo().NodeID
		routes, err := planner.ResolveFlowRoutePlan(ctx, plan, nodeID, attrs)
		if err != nil {
			return err
		}
		resp, err := d.ProcessWithTimeout(ctx, &api.Request{
			Type: api.RequestAddFlowRoutePlan,
			RoutePlan: &api.AddFlowRoutePlanRequest{
				RootModelID: rootModelID,
				NodeID:      nodeID,
				Plan:        routes,
			},
		}, routePlanTimeout, 0)
		if err != nil {
			return err
		}
		if err := errdefs.FromResponse(resp); err != nil {
			return err
		}
		log.G(ctx).WithFields(logrus.Fields{
			"node.id":   nodeID,
			"endpoints": len(routes.Endpoints),
		}).Info("flow route plan pushed")
	}
	return nil
}

func (c *fleet) watch(ctx context.Context) {
	ch, cancel := c.abnormal.Watch()
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case abnormal.NodeAbnormalEvent:
				log.G(ctx).WithField("node.id", ev.NodeID).Warn("node abnormal")
			case abnormal.DeviceAbnormalEvent:
				log.G(ctx).WithFields(logrus.Fields{
					"device": ev.Device.ID,
					"code":   ev.Device.ErrorCode,
				}).Warn("device abnormal")
			case abnormal.SubmodelAbnormalEvent:
				log.G(ctx).WithField("submodel", ev.Submodel.ID).Warn("submodel instance abnormal")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *fleet) close(ctx context.Context) {
	for _, d := range c.deployers {
		if err := d.Finalize(ctx); err != nil {
			log.G(ctx).WithError(err).Warn("failed to finalize deployer")
		}
	}
	c.ports.Finalize()
	c.network.Finalize()
	c.abnormal.Close()
}
