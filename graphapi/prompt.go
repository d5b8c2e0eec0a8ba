package graphapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Prompt is the data that is enqueued to an instance of ComfyUI
type Prompt struct {
	ClientID string        `json:"client_id"`
	Nodes    ResolvedGraph `json:"prompt"`
}

// NodeRef points at an output slot of another node. It serializes as ["id", slot].
type NodeRef struct {
	NodeID NodeID
	Slot   int
}

func Ref(id NodeID, slot int) NodeRef {
	return NodeRef{NodeID: id, Slot: slot}
}

func (r NodeRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{string(r.NodeID), r.Slot})
}

func (r NodeRef) String() string {
	return fmt.Sprintf("[%s, %d]", r.NodeID, r.Slot)
}

// PromptNode is a node of the canonical, directly executable graph
type PromptNode struct {
	// Inputs can be one of:
	//	float64, bool, string, nil
	//	NodeRef pointing at another node's output
	//	any other JSON value the engine accepts verbatim
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
	// Meta is carried through untouched for canonical templates
	Meta json.RawMessage `json:"_meta,omitempty"`
}

func (p *PromptNode) UnmarshalJSON(b []byte) error {
	type Alias PromptNode
	alias := &Alias{}
	if err := json.Unmarshal(b, alias); err != nil {
		return err
	}
	*p = PromptNode(*alias)
	if p.Inputs == nil {
		p.Inputs = make(map[string]interface{})
	}
	for k, v := range p.Inputs {
		if ref, ok := asNodeRef(v); ok {
			p.Inputs[k] = ref
		}
	}
	return nil
}

// asNodeRef recognizes the ["id", slot] form of a decoded input value
func asNodeRef(v interface{}) (NodeRef, bool) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return NodeRef{}, false
	}
	id, ok := arr[0].(string)
	if !ok {
		return NodeRef{}, false
	}
	slot, ok := arr[1].(float64)
	if !ok || slot != float64(int(slot)) {
		return NodeRef{}, false
	}
	return NodeRef{NodeID: NodeID(id), Slot: int(slot)}, true
}

// ResolvedGraph maps node ids to executable nodes
type ResolvedGraph map[NodeID]*PromptNode

// IDs returns the node ids in ascending order, numeric ids first
func (g ResolvedGraph) IDs() []NodeID {
	retv := make([]NodeID, 0, len(g))
	for id := range g {
		retv = append(retv, id)
	}
	SortNodeIDs(retv)
	return retv
}

func (g ResolvedGraph) Node(id NodeID) (*PromptNode, bool) {
	n, ok := g[id]
	return n, ok
}

// Input returns the value of a node input and whether the key is present
func (g ResolvedGraph) Input(id NodeID, name string) (interface{}, bool) {
	n, ok := g[id]
	if !ok {
		return nil, false
	}
	v, ok := n.Inputs[name]
	return v, ok
}

// HasInput is true when the input is present and non-null
func (g ResolvedGraph) HasInput(id NodeID, name string) bool {
	v, ok := g.Input(id, name)
	return ok && v != nil
}

// SetInput assigns an input value. It reports false when the node does not exist.
func (g ResolvedGraph) SetInput(id NodeID, name string, value interface{}) bool {
	n, ok := g[id]
	if !ok {
		return false
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]interface{})
	}
	n.Inputs[name] = value
	return true
}

// References returns every (node, input) pair whose value points at id
func (g ResolvedGraph) References(id NodeID) []string {
	retv := make([]string, 0)
	for _, nid := range g.IDs() {
		for name, v := range g[nid].Inputs {
			if ref, ok := v.(NodeRef); ok && ref.NodeID == id {
				retv = append(retv, fmt.Sprintf("%s.%s", nid, name))
			}
		}
	}
	sort.Strings(retv)
	return retv
}

// ParseResolvedGraph decodes a canonical prompt: an object keyed by node id whose
// values carry class_type and inputs.
func ParseResolvedGraph(data []byte) (ResolvedGraph, error) {
	g := make(ResolvedGraph)
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	for id, n := range g {
		if n == nil {
			delete(g, id)
		}
	}
	return g, nil
}

// Document is a parsed template file in either of its two shapes. Exactly one of
// Graph (editor shape) or Prompt (canonical shape) is set.
type Document struct {
	Graph  *Graph
	Prompt ResolvedGraph
}

func (d *Document) IsEditorShape() bool {
	return d.Graph != nil
}

// ParseDocument detects the template shape: an object with a "nodes" array is an
// editor graph, anything else is read as a canonical prompt.
func ParseDocument(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("workflow document is empty")
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("workflow document must be a JSON object, found %q", trimmed[0])
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, err
	}
	if nodes, ok := probe["nodes"]; ok {
		if n := bytes.TrimSpace(nodes); len(n) > 0 && n[0] == '[' {
			g, err := NewGraphFromJsonReader(bytes.NewReader(trimmed))
			if err != nil {
				return nil, err
			}
			return &Document{Graph: g}, nil
		}
	}

	p, err := ParseResolvedGraph(trimmed)
	if err != nil {
		return nil, err
	}
	return &Document{Prompt: p}, nil
}
