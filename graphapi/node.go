package graphapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a node within a graph. Editor graphs carry numeric ids while
// canonical prompts key nodes by string, so both decode into the same type.
type NodeID string

func (id *NodeID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = NodeID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("node id must be a number or string: %w", err)
	}
	// 12.0 and 12 name the same node
	if f, err := n.Float64(); err == nil && f == float64(int64(f)) {
		*id = NodeID(strconv.FormatInt(int64(f), 10))
		return nil
	}
	*id = NodeID(n.String())
	return nil
}

func (id NodeID) String() string {
	return string(id)
}

// NodeKind classifies a node by how the flattener treats it.
type NodeKind int

const (
	// NodeKindRegular nodes are executed by the engine
	NodeKindRegular NodeKind = iota
	// NodeKindStore nodes publish their first linked input under a name (SetNode)
	NodeKindStore
	// NodeKindFetch nodes read a named value published by a Store (GetNode)
	NodeKindFetch
	// NodeKindConstant nodes hold a literal in their first widget (PrimitiveNode)
	NodeKindConstant
	// NodeKindReroute nodes pass their single input straight through
	NodeKindReroute
	// NodeKindComment nodes are annotations and never produce values
	NodeKindComment
)

func (k NodeKind) String() string {
	switch k {
	case NodeKindStore:
		return "store"
	case NodeKindFetch:
		return "fetch"
	case NodeKindConstant:
		return "constant"
	case NodeKindReroute:
		return "reroute"
	case NodeKindComment:
		return "comment"
	}
	return "regular"
}

const (
	storeTitlePrefix = "Set_"
	fetchTitlePrefix = "Get_"
)

// GraphNode is a single node of an editor-authored graph
type GraphNode struct {
	ID           NodeID                 `json:"id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title,omitempty"`
	Order        int                    `json:"order"`
	Mode         int                    `json:"mode"`
	WidgetValues WidgetValues           `json:"widgets_values"`
	Inputs       []Slot                 `json:"inputs,omitempty"`
	Outputs      []Slot                 `json:"outputs,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Graph        *Graph                 `json:"-"`
}

// Kind reports how the node participates in flattening
func (n *GraphNode) Kind() NodeKind {
	switch n.Type {
	case "SetNode":
		return NodeKindStore
	case "GetNode":
		return NodeKindFetch
	case "PrimitiveNode":
		return NodeKindConstant
	case "Reroute":
		return NodeKindReroute
	case "Note", "MarkdownNote":
		return NodeKindComment
	}
	if strings.HasPrefix(n.Type, "Note") || strings.HasPrefix(n.Type, "Markdown") {
		return NodeKindComment
	}
	return NodeKindRegular
}

// IsIndirection is true for nodes that only forward or alias values
func (n *GraphNode) IsIndirection() bool {
	switch n.Kind() {
	case NodeKindStore, NodeKindFetch, NodeKindConstant, NodeKindReroute:
		return true
	}
	return false
}

// AliasName returns the name a Store or Fetch node is keyed by: the title with the
// Set_/Get_ prefix removed, or the first widget value when no title is given.
func (n *GraphNode) AliasName() string {
	prefix := storeTitlePrefix
	if n.Kind() == NodeKindFetch {
		prefix = fetchTitlePrefix
	}
	if name := strings.TrimPrefix(n.Title, prefix); name != "" {
		return name
	}
	if n.WidgetValues.IsDict() {
		return ""
	}
	if v, ok := n.WidgetValues.At(0); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// FirstLinkedInput returns the first input slot that carries a link
func (n *GraphNode) FirstLinkedInput() *Slot {
	for i := range n.Inputs {
		if n.Inputs[i].IsLinked() {
			return &n.Inputs[i]
		}
	}
	return nil
}

func (n *GraphNode) GetInputWithName(name string) *Slot {
	for i, s := range n.Inputs {
		if s.Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}
