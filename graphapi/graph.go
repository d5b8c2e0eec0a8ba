package graphapi

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Graph is an editor-authored workflow: a node array plus the links between them.
type Graph struct {
	Nodes      []*GraphNode          `json:"nodes"`
	Links      []*Link               `json:"links"`
	LastNodeID int                   `json:"last_node_id"`
	LastLinkID int                   `json:"last_link_id"`
	Version    float32               `json:"version"`
	NodesByID  map[NodeID]*GraphNode `json:"-"`
	LinksByID  map[int]*Link         `json:"-"`
}

func (t *Graph) UnmarshalJSON(b []byte) error {
	// Create an alias type to avoid recursive call to UnmarshalJSON
	type Alias Graph

	alias := &Alias{}

	if err := json.Unmarshal(b, alias); err != nil {
		return err
	}

	t.Nodes = make([]*GraphNode, 0, len(alias.Nodes))
	t.Links = make([]*Link, 0, len(alias.Links))
	t.LastNodeID = alias.LastNodeID
	t.LastLinkID = alias.LastLinkID
	t.Version = alias.Version
	t.NodesByID = make(map[NodeID]*GraphNode)
	t.LinksByID = make(map[int]*Link)

	for _, node := range alias.Nodes {
		if node == nil {
			continue
		}
		if _, dup := t.NodesByID[node.ID]; dup {
			return fmt.Errorf("duplicate node id %s", node.ID)
		}
		// Give the node a pointer to it's parent graph
		node.Graph = t
		t.NodesByID[node.ID] = node
		t.Nodes = append(t.Nodes, node)
	}

	for _, link := range alias.Links {
		if link == nil {
			continue
		}
		t.LinksByID[link.ID] = link
		t.Links = append(t.Links, link)
	}

	return nil
}

func (t *Graph) GetLinkById(id int) *Link {
	val, ok := t.LinksByID[id]
	if ok {
		return val
	}
	return nil
}

func (t *Graph) GetNodeById(id NodeID) *GraphNode {
	val, ok := t.NodesByID[id]
	if ok {
		return val
	}
	return nil
}

func NewGraphFromJsonReader(r io.Reader) (*Graph, error) {
	fileContent, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	graph := &Graph{}
	if err := json.Unmarshal(fileContent, graph); err != nil {
		return nil, err
	}
	return graph, nil
}

func NewGraphFromJsonFile(path string) (*Graph, error) {
	freader, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer freader.Close()

	return NewGraphFromJsonReader(freader)
}

func NewGraphFromJsonString(data string) (*Graph, error) {
	return NewGraphFromJsonReader(strings.NewReader(data))
}
