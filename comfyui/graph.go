// Package comfyui implements the local node-graph renderer backend:
// workflow template handling, parameter injection, job submission over
// HTTP, and completion waiting over WebSocket with polling fallback.
//
// graph.go contains the in-memory workflow graph representation parsed
// from a workflow template JSON file.
package comfyui

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"imagerouter/core"
)

// Node is one step of a workflow template: a class type and named input
// fields. Field identity is backend-defined, so the injector only ever
// mutates fields that already exist in Inputs.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// Graph is a workflow template: node-id -> Node. Node ids are stable
// identifiers assigned at template-authoring time.
//
// Iteration order is deterministic: node ids sorted numerically when both
// sides parse as integers, lexically otherwise. This matches the authoring
// convention that the positive prompt encoder carries the lower node id,
// which the injector relies on to tell positive from negative.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// ParseGraph parses a workflow template from its JSON representation.
func ParseGraph(data []byte) (*Graph, error) {
	var nodes map[string]*Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, err
	}

	order := make([]string, 0, len(nodes))
	for id := range nodes {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		return nodeIDLess(order[i], order[j])
	})

	return &Graph{nodes: nodes, order: order}, nil
}

// LoadGraph reads and parses a workflow template file. Failures are
// TemplateErrors: a missing or unparsable template fails the whole
// request.
func LoadGraph(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewTemplateError(path, err)
	}
	g, err := ParseGraph(data)
	if err != nil {
		return nil, core.NewTemplateError(path, err)
	}
	return g, nil
}

// nodeIDLess orders node ids numerically when possible, lexically
// otherwise. Numeric ids always sort before non-numeric ones.
func nodeIDLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in iteration order.
func (g *Graph) NodeIDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// FindNodeByType returns the first node in iteration order with the given
// class type.
func (g *Graph) FindNodeByType(classType string) (string, bool) {
	for _, id := range g.order {
		if g.nodes[id].ClassType == classType {
			return id, true
		}
	}
	return "", false
}

// FindNodesByTypes returns all node ids whose class type is any of the
// given types, in iteration order.
func (g *Graph) FindNodesByTypes(classTypes ...string) []string {
	want := make(map[string]bool, len(classTypes))
	for _, t := range classTypes {
		want[t] = true
	}
	var out []string
	for _, id := range g.order {
		if want[g.nodes[id].ClassType] {
			out = append(out, id)
		}
	}
	return out
}

// Clone deep-copies the graph so the caller can mutate it without
// touching the parsed template. Input values are deep-copied through a
// JSON round trip since node inputs may hold nested connection arrays.
func (g *Graph) Clone() *Graph {
	nodes := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		inputs := make(map[string]interface{}, len(n.Inputs))
		for k, v := range n.Inputs {
			inputs[k] = cloneValue(v)
		}
		nodes[id] = &Node{ClassType: n.ClassType, Inputs: inputs}
	}
	order := make([]string, len(g.order))
	copy(order, g.order)
	return &Graph{nodes: nodes, order: order}
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON emits the graph in the wire format the backend accepts:
// a plain node-id -> node object mapping.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.nodes)
}

// ModelName returns the model the template loads: ckpt_name from the
// first CheckpointLoaderSimple node, or unet_name from the first
// UNETLoader node. Empty when the template declares neither.
func (g *Graph) ModelName() string {
	if id, ok := g.FindNodeByType("CheckpointLoaderSimple"); ok {
		if name, ok := g.nodes[id].Inputs["ckpt_name"].(string); ok {
			return name
		}
	}
	if id, ok := g.FindNodeByType("UNETLoader"); ok {
		if name, ok := g.nodes[id].Inputs["unet_name"].(string); ok {
			return name
		}
	}
	return ""
}
