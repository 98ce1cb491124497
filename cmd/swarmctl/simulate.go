package main

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"neuroswarm/internal/model"
	"neuroswarm/pkg/neuroswarm"
)

type simulateOptions struct {
	agents     int
	agentType  string
	inferences int
	epochs     int
	share      bool
	checkpoint bool
}

func newSimulateCmd(flags *globalFlags) *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Spawn, exercise and train a small swarm on XOR",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.agents <= 0 {
				return fmt.Errorf("--agents must be > 0")
			}
			agentType, err := model.ParseAgentType(opts.agentType)
			if err != nil {
				return err
			}
			return withClient(cmd, flags, func(ctx context.Context, client *neuroswarm.Client) error {
				return runSimulate(ctx, cmd.OutOrStdout(), client, agentType, opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.agents, "agents", 3, "number of agents to spawn")
	cmd.Flags().StringVar(&opts.agentType, "type", string(model.AgentTypeMLP), "agent type")
	cmd.Flags().IntVar(&opts.inferences, "inferences", 4, "inferences per agent")
	cmd.Flags().IntVar(&opts.epochs, "epochs", 50, "training epochs per agent (0 skips training)")
	cmd.Flags().BoolVar(&opts.share, "share", true, "share knowledge from the best agent to the rest")
	cmd.Flags().BoolVar(&opts.checkpoint, "checkpoint", true, "checkpoint the swarm before exiting")
	return cmd
}

func xorSamples() []model.TrainingSample {
	return []model.TrainingSample{
		{Inputs: []float64{0, 0}, Outputs: []float64{0}},
		{Inputs: []float64{0, 1}, Outputs: []float64{1}},
		{Inputs: []float64{1, 0}, Outputs: []float64{1}},
		{Inputs: []float64{1, 1}, Outputs: []float64{0}},
	}
}

func runSimulate(ctx context.Context, out io.Writer, client *neuroswarm.Client, agentType model.AgentType, opts simulateOptions) error {
	topology := model.Topology{Layers: []int{2, 4, 1}, Activation: "sigmoid", LearningRate: 0.5, Momentum: 0.5}
	data := xorSamples()

	ids := make([]string, 0, opts.agents)
	for i := 0; i < opts.agents; i++ {
		agent, err := client.Spawn(ctx, neuroswarm.SpawnRequest{
			Type:     agentType,
			Topology: topology,
			Metadata: map[string]string{"source": "simulate"},
		})
		if err != nil {
			return fmt.Errorf("spawn agent %d: %w", i+1, err)
		}
		ids = append(ids, agent.ID)
		fmt.Fprintf(out, "spawned id=%s type=%s memory=%s spawn_time=%s\n",
			agent.ID, agent.Type, humanize.Bytes(uint64(max(agent.MemoryBytes, 0))), agent.SpawnTime)
	}

	for _, id := range ids {
		for i := 0; i < opts.inferences; i++ {
			if _, err := client.Infer(ctx, id, data[i%len(data)].Inputs); err != nil {
				return fmt.Errorf("infer %s: %w", id, err)
			}
		}
	}

	best, bestAccuracy := "", math.Inf(-1)
	if opts.epochs > 0 {
		for _, id := range ids {
			session, err := client.Train(ctx, id, data, opts.epochs)
			if err != nil {
				return fmt.Errorf("train %s: %w", id, err)
			}
			fmt.Fprintf(out, "trained id=%s epochs=%d accuracy=%.4f convergence_epoch=%d duration=%s\n",
				id, session.Epochs, session.FinalAccuracy, session.ConvergenceEpoch, session.Duration)
			if session.FinalAccuracy > bestAccuracy {
				best, bestAccuracy = id, session.FinalAccuracy
			}
		}
	}

	if opts.share && best != "" && len(ids) > 1 {
		targets := make([]string, 0, len(ids)-1)
		for _, id := range ids {
			if id != best {
				targets = append(targets, id)
			}
		}
		updated, err := client.ShareKnowledge(ctx, best, targets)
		if err != nil {
			return fmt.Errorf("share knowledge: %w", err)
		}
		fmt.Fprintf(out, "shared source=%s targets=%d\n", best, len(updated))
	}

	if opts.checkpoint {
		cp, err := client.Checkpoint(ctx)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		fmt.Fprintf(out, "checkpoint id=%s agents=%d\n", cp.ID, len(cp.ActiveAgentIDs))
	}

	printMetrics(out, client.Metrics())
	topo := client.Topology()
	fmt.Fprintf(out, "topology nodes=%d edges=%d network_health=%d\n", len(topo.Nodes), len(topo.Edges), topo.Health)
	return nil
}

func printMetrics(out io.Writer, m neuroswarm.PerformanceMetrics) {
	fmt.Fprintf(out, "metrics spawned=%s inferences=%s avg_spawn=%s avg_inference=%s memory=%s learning=%d health=%d\n",
		humanize.Comma(m.TotalAgentsSpawned),
		humanize.Comma(m.TotalInferences),
		m.AverageSpawnTime,
		m.AverageInferenceTime,
		humanize.Bytes(uint64(max(m.MemoryUsage, 0))),
		m.ActiveLearningTasks,
		m.SystemHealthScore,
	)
}
