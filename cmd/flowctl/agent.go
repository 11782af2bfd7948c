package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/moby/flowkit/agent"
	"github.com/moby/flowkit/deployer"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/log"
	"github.com/moby/flowkit/xnet"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Serve the deployer protocol for one node",
	Long: `Run the node side of the deployer protocol. The node's data ports are
leased from its configured range before the listener is opened.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cluster, err := loadCluster(cmd)
		if err != nil {
			return err
		}
		nodeID, err := cmd.Flags().GetInt32("node")
		if err != nil {
			return err
		}
		listen, err := cmd.Flags().GetString("listen")
		if err != nil {
			return err
		}
		metricsAddr, err := cmd.Flags().GetString("metrics-addr")
		if err != nil {
			return err
		}

		nc, ok := cluster.Node(nodeID)
		if !ok {
			return errdefs.ParamInvalid("node %d is not part of the cluster", nodeID)
		}
		if listen == "" {
			listen = nc.Address()
		}
		if listen == "" {
			return errdefs.ParamInvalid("node %d has no address to listen on", nodeID)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		ctx = log.WithModule(ctx, "agent")
		serveMetrics(ctx, metricsAddr)

		// The node runs a local deployer of its own to lease data ports and
		// execute the requests the controller sends.
		self := *nc
		self.Local = true
		cfg := deployer.ConfigFor(cluster, &self)
		cfg.Heartbeat = false
		local := deployer.NewLocal(cfg, loggingExecutor())
		if err := local.Initialize(ctx); err != nil {
			return err
		}
		defer local.Finalize(context.WithoutCancel(ctx))

		node := local.NodeInfo()
		ac := &agent.Config{
			NodeID:      nodeID,
			DeviceCount: int32(len(node.Devices)),
			Executor:    deployer.ExecutorFunc(local.Process),
		}
		for _, d := range node.Devices {
			if d.DataPort > 0 {
				ac.DataPorts = append(ac.DataPorts, d.DataPort)
			}
		}
		mac, err := keyedMAC(cluster)
		if err != nil {
			return err
		}
		if mac != nil {
			ac.Verifier = mac
		}

		a, err := agent.New(ac)
		if err != nil {
			return err
		}

		proto, addr := xnet.ParseAddr(listen)
		l, err := xnet.Listen(proto, addr)
		if err != nil {
			return err
		}
		log.G(ctx).WithFields(logrus.Fields{
			"node.id":    nodeID,
			"addr":       l.Addr().String(),
			"data_ports": ac.DataPorts,
		}).Info("agent listening")

		return a.Serve(ctx, l)
	},
}

func init() {
	agentCmd.Flags().Int32P("node", "n", 0, "Node id served by this agent")
	agentCmd.Flags().String("listen", "", "Listen address, defaults to the configured node address")
	agentCmd.Flags().String("metrics-addr", "", "Address to expose prometheus metrics on")
}
