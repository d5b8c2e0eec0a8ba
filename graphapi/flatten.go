package graphapi

import (
	"errors"
	"log/slog"
)

// ErrMissingClassType is reported for executable nodes without a type
var ErrMissingClassType = errors.New("node has no class type")

// FlattenOptions control Flatten
type FlattenOptions struct {
	// Precomputed nodes are inlined as literals and left out of the result
	Precomputed map[NodeID]interface{}
}

// Flattened is the output of Flatten
type Flattened struct {
	Nodes    ResolvedGraph
	Resolver *Resolver
	Warnings []Warning
}

// Flatten converts an editor graph into a canonical graph. Indirection and comment
// nodes are removed and every reference through them is rewritten to point at the
// underlying source, or replaced by the literal it carries. References that cannot
// be resolved are omitted and reported as warnings.
func Flatten(g *Graph, opts FlattenOptions) *Flattened {
	symbols, warnings := BuildSymbolTable(g)
	resolver := NewResolver(g, symbols, opts.Precomputed)

	retv := &Flattened{
		Nodes:    make(ResolvedGraph),
		Resolver: resolver,
		Warnings: warnings,
	}

	for _, node := range g.Nodes {
		if node.IsIndirection() || node.Kind() == NodeKindComment || resolver.IsPrecomputed(node.ID) {
			continue
		}

		if node.Type == "" {
			w := Warning{NodeID: node.ID, Err: ErrMissingClassType}
			slog.Warn("node has no class type", "node", node.ID)
			retv.Warnings = append(retv.Warnings, w)
		}

		pn := &PromptNode{
			ClassType: node.Type,
			Inputs:    make(map[string]interface{}),
		}

		cursor := newWidgetCursor(node.WidgetValues)
		for _, in := range node.Inputs {
			switch {
			case in.IsLinked():
				if in.IsWidget() {
					cursor.skip(in.Name)
				}
				t, err := resolver.ResolveLink(*in.Link)
				if err != nil {
					w := Warning{NodeID: node.ID, Input: in.Name, Err: err}
					w.log()
					retv.Warnings = append(retv.Warnings, w)
					continue
				}
				pn.Inputs[in.Name] = t.InputValue()
			case in.HasValue:
				pn.Inputs[in.Name] = in.Value
			case in.IsWidget():
				if v, ok := cursor.claim(in.Name); ok && v != nil {
					pn.Inputs[in.Name] = v
				}
			}
		}

		retv.Nodes[node.ID] = pn
	}

	return retv
}
