package diagram

import (
	"fmt"

	"github.com/rendis/relay/pkg/schema"
)

// Build constructs a Model from a Workflow and optional step results.
// Steps without declared dependencies hang off the virtual start node;
// declared dependencies become edges; fallback agents become dashed
// satellite nodes linked to their primary.
func Build(wf *schema.Workflow, results []schema.StepResult) (*Model, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}

	resultMap := make(map[string]*schema.StepResult, len(results))
	for i := range results {
		resultMap[results[i].AgentID] = &results[i]
	}

	known := make(map[string]bool, len(wf.Steps))
	for _, step := range wf.Steps {
		known[step.AgentID] = true
	}

	nodes := make([]*Node, 0, len(wf.Steps)+2)
	var edges []Edge

	startNode := &Node{ID: "__start__", Label: "Start", Kind: NodeKindStart}
	nodes = append(nodes, startNode)

	dependedOn := make(map[string]bool)
	for _, step := range wf.Steps {
		node := &Node{
			ID:        step.AgentID,
			Label:     step.AgentID,
			Kind:      NodeKindAgent,
			Condition: step.Condition,
		}
		overlayStatus(node, resultMap)
		nodes = append(nodes, node)

		if len(step.DependsOn) == 0 {
			edges = append(edges, Edge{From: "__start__", To: step.AgentID, Kind: EdgeKindDependency})
		}
		for _, dep := range step.DependsOn {
			label := ""
			if !known[dep] {
				label = "undeclared"
			}
			edges = append(edges, Edge{From: dep, To: step.AgentID, Label: label, Kind: EdgeKindDependency})
			dependedOn[dep] = true
		}

		if step.Policy() == schema.OnErrorFallback && step.FallbackAgentID != "" {
			fbID := fmt.Sprintf("%s__fallback", step.AgentID)
			fbNode := &Node{
				ID:    fbID,
				Label: step.FallbackAgentID,
				Kind:  NodeKindFallback,
			}
			overlayStatus(fbNode, resultMap)
			nodes = append(nodes, fbNode)
			edges = append(edges, Edge{From: step.AgentID, To: fbID, Label: "on failure", Kind: EdgeKindFallback})
		}
	}

	endNode := &Node{ID: "__end__", Label: "End", Kind: NodeKindEnd}
	nodes = append(nodes, endNode)
	for _, step := range wf.Steps {
		if !dependedOn[step.AgentID] {
			edges = append(edges, Edge{From: step.AgentID, To: "__end__", Kind: EdgeKindDependency})
		}
	}

	return &Model{
		Title: titleOf(wf),
		Nodes: nodes,
		Edges: edges,
	}, nil
}

// overlayStatus applies a step result to a node when one exists.
func overlayStatus(node *Node, resultMap map[string]*schema.StepResult) {
	res, ok := resultMap[node.Label]
	if !ok {
		res, ok = resultMap[node.ID]
	}
	if !ok {
		return
	}
	node.Status = &StatusOverlay{
		Status:     string(res.Status),
		DurationMs: res.DurationMs,
		RetryCount: res.RetryCount,
		Error:      res.Error,
	}
}

func titleOf(wf *schema.Workflow) string {
	if wf.Name != "" {
		return wf.Name
	}
	return wf.ID
}
