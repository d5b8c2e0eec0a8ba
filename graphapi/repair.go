package graphapi

import (
	"log/slog"
	"sort"
)

// RequiredInputs lists, per node, the inputs that must be present before submission.
// Values are the expected slot types and are only used for diagnostics.
type RequiredInputs map[NodeID]map[string]string

// InputFix describes the outcome of repairing a single input
type InputFix struct {
	NodeID NodeID
	Input  string
	Value  interface{}
	Err    error
}

// RepairReport lists the inputs the repair pass patched and those it could not
type RepairReport struct {
	Repaired   []InputFix
	Unrepaired []InputFix
}

func (r RepairReport) OK() bool {
	return len(r.Unrepaired) == 0
}

// Repair checks the required inputs of every listed node present in nodes. A missing
// or null input is re-derived from the raw graph through the resolver and patched in
// place. Nodes absent from nodes are ignored. Repair never fails; it reports.
func Repair(nodes ResolvedGraph, resolver *Resolver, required RequiredInputs) RepairReport {
	report := RepairReport{
		Repaired:   make([]InputFix, 0),
		Unrepaired: make([]InputFix, 0),
	}

	ids := make([]NodeID, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	SortNodeIDs(ids)

	for _, id := range ids {
		if _, ok := nodes.Node(id); !ok {
			continue
		}
		names := make([]string, 0, len(required[id]))
		for name := range required[id] {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			if nodes.HasInput(id, name) {
				continue
			}
			if resolver == nil {
				fix := InputFix{NodeID: id, Input: name, Err: unresolved("no source graph to repair from")}
				slog.Warn("cannot repair required input", "node", id, "input", name, "type", required[id][name], "error", fix.Err)
				report.Unrepaired = append(report.Unrepaired, fix)
				continue
			}
			t, err := resolver.ResolveInput(id, name)
			if err != nil {
				fix := InputFix{NodeID: id, Input: name, Err: err}
				slog.Warn("cannot repair required input", "node", id, "input", name, "type", required[id][name], "error", err)
				report.Unrepaired = append(report.Unrepaired, fix)
				continue
			}
			nodes.SetInput(id, name, t.InputValue())
			slog.Info("repaired required input", "node", id, "input", name, "value", t.InputValue())
			report.Repaired = append(report.Repaired, InputFix{NodeID: id, Input: name, Value: t.InputValue()})
		}
	}
	return report
}
