package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"neuroswarm/pkg/neuroswarm"
)

func newCheckpointCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoint",
		Short: "Show the most recent swarm checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				cp, ok, err := client.LatestCheckpoint(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, "no checkpoints")
					return nil
				}
				fmt.Fprintf(out, "id=%s topology=%s active=%t taken=%s coordination=%s\n",
					cp.ID, cp.Topology, cp.Active, humanize.Time(cp.CheckpointAt), humanize.Bytes(uint64(len(cp.Coordination))))
				fmt.Fprintf(out, "agents=%s\n", strings.Join(cp.ActiveAgentIDs, ","))
				return nil
			})
		},
	}
}

func newRestoreCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Rehydrate the swarm from its latest checkpoint and report it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				restored, err := client.Restore(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, id := range restored {
					agent, ok := client.Agent(id)
					if !ok {
						continue
					}
					fmt.Fprintf(out, "restored id=%s type=%s status=%s training_progress=%.4f\n",
						agent.ID, agent.Type, agent.Status, agent.TrainingProgress)
				}
				fmt.Fprintf(out, "restored_agents=%d\n", len(restored))
				printMetrics(out, client.Metrics())
				return nil
			})
		},
	}
}
