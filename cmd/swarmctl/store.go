package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"neuroswarm/internal/model"
	"neuroswarm/pkg/neuroswarm"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the agent store schema and report its layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				out := cmd.OutOrStdout()
				cfg := client.Config()
				info, err := client.StoreInfo(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "initialized store=%s path=%s journal_mode=%s\n", cfg.Store.Kind, cfg.Store.Path, info.JournalMode)
				fmt.Fprintf(out, "tables=%s\n", strings.Join(info.Tables, ","))
				fmt.Fprintf(out, "indexes=%s\n", strings.Join(info.Indexes, ","))
				return nil
			})
		},
	}
}

func newAgentsCmd(flags *globalFlags) *cobra.Command {
	var (
		status    string
		agentType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List persisted agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filterStatus model.AgentStatus
			if status != "" {
				parsed, err := model.ParseAgentStatus(status)
				if err != nil {
					return err
				}
				filterStatus = parsed
			}
			var filterType model.AgentType
			if agentType != "" {
				parsed, err := model.ParseAgentType(agentType)
				if err != nil {
					return err
				}
				filterType = parsed
			}
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				agents, err := client.StoredAgents(ctx, filterStatus, filterType, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(agents) == 0 {
					fmt.Fprintln(out, "no agents found")
					return nil
				}
				for _, agent := range agents {
					fmt.Fprintf(out, "id=%s type=%s status=%s layers=%s memory=%s inferences=%s last_active=%s\n",
						agent.ID,
						agent.Type,
						agent.Status,
						formatLayers(agent.Topology.Layers),
						humanize.Bytes(uint64(max(agent.MemoryBytes, 0))),
						humanize.Comma(agent.TotalInferences),
						humanize.Time(agent.LastActive),
					)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&agentType, "type", "", "filter by agent type")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of agents (0 for all)")
	return cmd
}

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <agent-id>",
		Short: "Show one persisted agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				agent, ok, err := client.StoredAgent(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%w: agent %s", neuroswarm.ErrNotFound, args[0])
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "id=%s\n", agent.ID)
				fmt.Fprintf(out, "type=%s\n", agent.Type)
				fmt.Fprintf(out, "status=%s\n", agent.Status)
				if agent.CognitivePattern != "" {
					fmt.Fprintf(out, "cognitive_pattern=%s\n", agent.CognitivePattern)
				}
				fmt.Fprintf(out, "layers=%s activation=%s learning_rate=%g momentum=%g\n",
					formatLayers(agent.Topology.Layers), agent.Topology.Activation, agent.Topology.LearningRate, agent.Topology.Momentum)
				fmt.Fprintf(out, "created=%s last_active=%s\n", humanize.Time(agent.CreatedAt), humanize.Time(agent.LastActive))
				fmt.Fprintf(out, "memory=%s spawn_time=%s\n", humanize.Bytes(uint64(max(agent.MemoryBytes, 0))), agent.SpawnTime)
				fmt.Fprintf(out, "inferences=%s avg_inference=%s\n", humanize.Comma(agent.TotalInferences), agent.AvgInferenceTime)
				fmt.Fprintf(out, "training_progress=%.4f performance_score=%.4f\n", agent.TrainingProgress, agent.PerformanceScore)
				return nil
			})
		},
	}
}

func newMetricsCmd(flags *globalFlags) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "metrics <agent-id>",
		Short: "List recorded metric samples of an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				samples, err := client.AgentMetrics(ctx, args[0], kind)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(samples) == 0 {
					fmt.Fprintln(out, "no metrics found")
					return nil
				}
				for _, sample := range samples {
					fmt.Fprintf(out, "kind=%s value=%.4f unit=%s recorded=%s\n",
						sample.Kind, sample.Value, sample.Unit, sample.RecordedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "only samples of this kind")
	return cmd
}

func formatLayers(layers []int) string {
	parts := make([]string, len(layers))
	for i, size := range layers {
		parts[i] = fmt.Sprint(size)
	}
	return strings.Join(parts, "-")
}
