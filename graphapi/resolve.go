package graphapi

import "fmt"

// Target is where a fully dereferenced link ends: either a literal or a node output
type Target struct {
	Constant bool
	Value    interface{}
	Ref      NodeRef
}

// InputValue returns the value to place in a prompt input
func (t Target) InputValue() interface{} {
	if t.Constant {
		return t.Value
	}
	return t.Ref
}

// Resolver follows links through indirection nodes. It is shared by the flattener
// and the repair pass.
type Resolver struct {
	graph       *Graph
	symbols     *SymbolTable
	precomputed map[NodeID]interface{}
}

// NewResolver returns a Resolver for g. Nodes listed in precomputed resolve to the
// given literal instead of being referenced.
func NewResolver(g *Graph, symbols *SymbolTable, precomputed map[NodeID]interface{}) *Resolver {
	if precomputed == nil {
		precomputed = make(map[NodeID]interface{})
	}
	return &Resolver{graph: g, symbols: symbols, precomputed: precomputed}
}

func (r *Resolver) Symbols() *SymbolTable {
	return r.symbols
}

func (r *Resolver) IsPrecomputed(id NodeID) bool {
	_, ok := r.precomputed[id]
	return ok
}

func unresolved(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrUnresolvedReference, fmt.Sprintf(format, args...))
}

// ResolveLink dereferences a link until it reaches an executable node, a constant or
// a precomputed node. Every node is visited at most once, so a cycle of indirections
// ends as an unresolved reference.
func (r *Resolver) ResolveLink(linkID int) (Target, error) {
	link := r.graph.GetLinkById(linkID)
	if link == nil {
		return Target{}, unresolved("link %d not found", linkID)
	}

	visited := make(map[NodeID]bool)
	// every hop visits a new node, so the chain cannot exceed the node count
	for hops := 0; hops <= len(r.graph.Nodes); hops++ {
		src := link.OriginID
		if visited[src] {
			return Target{}, unresolved("cycle through node %s", src)
		}
		visited[src] = true

		if v, ok := r.precomputed[src]; ok {
			return Target{Constant: true, Value: v}, nil
		}

		node := r.graph.GetNodeById(src)
		if node == nil {
			return Target{}, unresolved("link %d source node %s not found", link.ID, src)
		}

		var next *Slot
		switch node.Kind() {
		case NodeKindRegular:
			return Target{Ref: NodeRef{NodeID: src, Slot: link.OriginSlot}}, nil
		case NodeKindConstant:
			v, ok := r.symbols.Constants[src]
			if !ok {
				return Target{}, unresolved("constant node %s has no value", src)
			}
			return Target{Constant: true, Value: v}, nil
		case NodeKindComment:
			return Target{}, unresolved("node %s is an annotation", src)
		case NodeKindFetch:
			storeID, ok := r.symbols.Fetches[src]
			if !ok {
				return Target{}, unresolved("fetch node %s (%q) has no matching store", src, node.AliasName())
			}
			if visited[storeID] {
				return Target{}, unresolved("cycle through node %s", storeID)
			}
			visited[storeID] = true
			store := r.graph.GetNodeById(storeID)
			next = store.FirstLinkedInput()
			if next == nil {
				return Target{}, unresolved("store node %s (%q) has no upstream value", storeID, store.AliasName())
			}
		case NodeKindStore, NodeKindReroute:
			next = node.FirstLinkedInput()
			if next == nil {
				return Target{}, unresolved("%s node %s has no upstream value", node.Kind(), src)
			}
		}

		link = r.graph.GetLinkById(*next.Link)
		if link == nil {
			return Target{}, unresolved("link %d not found", *next.Link)
		}
	}
	return Target{}, unresolved("link %d exceeds the indirection depth", linkID)
}

// ResolveInput resolves the named input of a raw node through its link
func (r *Resolver) ResolveInput(id NodeID, name string) (Target, error) {
	node := r.graph.GetNodeById(id)
	if node == nil {
		return Target{}, unresolved("node %s not found", id)
	}
	slot := node.GetInputWithName(name)
	if slot == nil {
		return Target{}, unresolved("node %s has no input %q", id, name)
	}
	if !slot.IsLinked() {
		return Target{}, unresolved("input %q of node %s is not linked", name, id)
	}
	return r.ResolveLink(*slot.Link)
}
