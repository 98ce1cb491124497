package platform

import (
	"math"
	"time"

	"neuroswarm/internal/model"
)

type TopologyNode struct {
	ID               string            `json:"id"`
	Type             model.AgentType   `json:"type"`
	Status           model.AgentStatus `json:"status"`
	AvgInferenceTime time.Duration     `json:"avg_inference_time"`
	MemoryBytes      int64             `json:"memory_bytes"`
}

type TopologyEdge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Weight float64 `json:"weight"`
}

type NetworkTopology struct {
	Nodes  []TopologyNode `json:"nodes"`
	Edges  []TopologyEdge `json:"edges"`
	Health int            `json:"health"`
}

// BuildTopology connects every unordered pair of agents once, weighting the
// edge by the weaker of the two connection strengths.
func BuildTopology(agents []model.AgentRecord) NetworkTopology {
	topology := NetworkTopology{
		Nodes:  make([]TopologyNode, 0, len(agents)),
		Edges:  make([]TopologyEdge, 0, len(agents)*(len(agents)-1)/2+1),
		Health: NetworkHealth(agents),
	}
	for i, a := range agents {
		topology.Nodes = append(topology.Nodes, TopologyNode{
			ID:               a.ID,
			Type:             a.Type,
			Status:           a.Status,
			AvgInferenceTime: a.AvgInferenceTime,
			MemoryBytes:      a.MemoryBytes,
		})
		for _, b := range agents[i+1:] {
			topology.Edges = append(topology.Edges, TopologyEdge{
				Source: a.ID,
				Target: b.ID,
				Weight: math.Min(a.ConnectionStrength, b.ConnectionStrength),
			})
		}
	}
	return topology
}
