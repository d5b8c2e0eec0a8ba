package graphapi

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
)

// ErrUnresolvedReference marks a link that cannot be followed to a real source
var ErrUnresolvedReference = errors.New("unresolved reference")

// Warning is a recoverable diagnostic about a reference that could not be resolved.
// Input is empty for diagnostics about a node as a whole.
type Warning struct {
	NodeID NodeID
	Input  string
	Err    error
}

func (w Warning) String() string {
	if w.Input == "" {
		return fmt.Sprintf("node %s: %v", w.NodeID, w.Err)
	}
	return fmt.Sprintf("node %s input %q: %v", w.NodeID, w.Input, w.Err)
}

func (w Warning) log() {
	if w.Input == "" {
		slog.Warn("graph reference warning", "node", w.NodeID, "error", w.Err)
		return
	}
	slog.Warn("graph reference warning", "node", w.NodeID, "input", w.Input, "error", w.Err)
}

// SymbolTable indexes the indirection nodes of a graph. It is built in two phases:
// Stores and Constants are defined first, then every Fetch is bound by name. Fetches
// may therefore appear anywhere in the node array relative to their Store.
type SymbolTable struct {
	// Stores maps a name to the Store node defining it
	Stores map[string]NodeID
	// Fetches maps a Fetch node to the Store node it names
	Fetches map[NodeID]NodeID
	// Constants maps a Constant node to its literal value
	Constants map[NodeID]interface{}
}

// BuildSymbolTable indexes g. Diagnostics are logged and returned; none of them are fatal.
func BuildSymbolTable(g *Graph) (*SymbolTable, []Warning) {
	st := &SymbolTable{
		Stores:    make(map[string]NodeID),
		Fetches:   make(map[NodeID]NodeID),
		Constants: make(map[NodeID]interface{}),
	}
	warnings := make([]Warning, 0)
	warn := func(id NodeID, format string, args ...interface{}) {
		w := Warning{NodeID: id, Err: fmt.Errorf("%w: %s", ErrUnresolvedReference, fmt.Sprintf(format, args...))}
		w.log()
		warnings = append(warnings, w)
	}

	// phase one: definitions
	for _, n := range g.Nodes {
		switch n.Kind() {
		case NodeKindStore:
			name := n.AliasName()
			if name == "" {
				warn(n.ID, "store node has no name")
				continue
			}
			if prev, dup := st.Stores[name]; dup {
				warn(n.ID, "store name %q already defined by node %s", name, prev)
				continue
			}
			st.Stores[name] = n.ID
		case NodeKindConstant:
			v, ok := n.WidgetValues.At(0)
			if !ok {
				warn(n.ID, "constant node has no value")
				continue
			}
			st.Constants[n.ID] = v
		}
	}

	// phase two: uses
	for _, n := range g.Nodes {
		if n.Kind() != NodeKindFetch {
			continue
		}
		name := n.AliasName()
		storeID, ok := st.Stores[name]
		if !ok {
			warn(n.ID, "no store named %q", name)
			continue
		}
		st.Fetches[n.ID] = storeID
	}

	return st, warnings
}

// SortNodeIDs orders ids numerically where possible, non-numeric ids last
func SortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		a, aerr := strconv.ParseInt(string(ids[i]), 10, 64)
		b, berr := strconv.ParseInt(string(ids[j]), 10, 64)
		switch {
		case aerr == nil && berr == nil:
			return a < b
		case aerr == nil:
			return true
		case berr == nil:
			return false
		}
		return ids[i] < ids[j]
	})
}
