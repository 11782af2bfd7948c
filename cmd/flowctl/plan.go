package main

import (
	"context"

	"github.com/moby/flowkit/config"
	"github.com/moby/flowkit/errdefs"
	"github.com/moby/flowkit/flowroute"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Resolve the flow route plan of one node",
	Long: `Project a cluster-wide deploy plan onto one node and print the
resulting flow route plan. Channel ranks are taken from the devices of the
cluster configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		planPath, err := cmd.Flags().GetString("plan")
		if err != nil {
			return err
		}
		if planPath == "" {
			return errdefs.ParamInvalid("--plan is required")
		}
		nodeID, err := cmd.Flags().GetInt32("node")
		if err != nil {
			return err
		}
		plan, err := loadDeployPlan(planPath)
		if err != nil {
			return err
		}

		var cluster *config.ClusterConfig
		ranks := flowroute.StaticRankTable{}
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			if cluster, err = loadCluster(cmd); err != nil {
				return err
			}
			if ranks, err = rankTable(cluster); err != nil {
				return err
			}
		}
		attrs, err := planAttributes(cmd.Flags(), cluster)
		if err != nil {
			return err
		}

		planner := flowroute.NewPlanner(flowroute.NewTagTable(), ranks)
		out, err := planner.ResolveFlowRoutePlan(context.Background(), plan, nodeID, attrs)
		if err != nil {
			return err
		}
		return printYAML(cmd.OutOrStdout(), out)
	},
}

func init() {
	planCmd.Flags().StringP("plan", "p", "", "Deploy plan file (YAML)")
	planCmd.Flags().Int32P("node", "n", 0, "Node id to resolve the plan for")
	addPlanFlags(planCmd.Flags())
}
