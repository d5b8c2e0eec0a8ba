package graphapi

import "encoding/json"

// NodeObjects is the node catalog reported by the engine's /object_info endpoint
type NodeObjects struct {
	Objects map[string]*NodeObject
	// Raw keeps the undecoded response for path queries
	Raw json.RawMessage
}

// NodeObject represents the metadata that describes how to generate an instance of a node for a graph.
type NodeObject struct {
	Input       *NodeObjectInput `json:"input"`
	Output      []interface{}    `json:"output"` // output type
	OutputName  []string         `json:"output_name"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	OutputNode  bool             `json:"output_node"`
}

// NewNodeObjects decodes an /object_info response
func NewNodeObjects(data []byte) (*NodeObjects, error) {
	objects := make(map[string]*NodeObject)
	if err := json.Unmarshal(data, &objects); err != nil {
		return nil, err
	}
	return &NodeObjects{Objects: objects, Raw: json.RawMessage(data)}, nil
}

func (n *NodeObjects) GetNodeObjectByName(name string) *NodeObject {
	val, ok := n.Objects[name]
	if ok {
		return val
	}
	return nil
}

// NodeObjectInput holds the raw input declarations of a node class
type NodeObjectInput struct {
	Required map[string]json.RawMessage `json:"required"`
	Optional map[string]json.RawMessage `json:"optional,omitempty"`
}
