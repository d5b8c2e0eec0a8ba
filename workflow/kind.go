package workflow

import (
	"fmt"
	"log/slog"

	"github.com/richinsley/comfyvideo/graphapi"
)

// Kind identifies a template family
type Kind string

const (
	Standard     Kind = "standard"
	Mega         Kind = "mega"
	SteadyDancer Kind = "steadydancer"
)

// Kinds lists the known template kinds
var Kinds = []Kind{Standard, Mega, SteadyDancer}

// SelectKind picks the template for a job. Pose-driven jobs ask for SteadyDancer
// explicitly; otherwise an installed all-in-one model selects Mega.
func SelectKind(p *Params, catalog *ModelCatalog) Kind {
	if p.UseSteadyDancer {
		return SteadyDancer
	}
	if m, ok := catalog.MegaModel(); ok {
		slog.Info("all-in-one model installed, using mega template", "model", m)
		return Mega
	}
	return Standard
}

// Injector applies job parameters to a loaded template of one kind. All changes
// are made in place on the template's resolved nodes.
type Injector interface {
	Inject(t *Template, p *Params, catalog *ModelCatalog) error
}

// InjectorFunc adapts a function to the Injector interface
type InjectorFunc func(t *Template, p *Params, catalog *ModelCatalog) error

func (f InjectorFunc) Inject(t *Template, p *Params, catalog *ModelCatalog) error {
	return f(t, p, catalog)
}

var injectors = map[Kind]Injector{}

// Register installs the injector for kind, replacing any previous one
func Register(kind Kind, inj Injector) {
	injectors[kind] = inj
}

// InjectorFor returns the injector registered for kind
func InjectorFor(kind Kind) (Injector, error) {
	inj, ok := injectors[kind]
	if !ok {
		return nil, fmt.Errorf("no injector registered for template kind %q", kind)
	}
	return inj, nil
}

// inputs sets node inputs of a resolved graph, skipping nodes the template does
// not contain.
type inputs struct {
	nodes graphapi.ResolvedGraph
}

func (in inputs) set(id, name string, value interface{}) bool {
	if !in.nodes.SetInput(graphapi.NodeID(id), name, value) {
		slog.Debug("template has no such node", "node", id, "input", name)
		return false
	}
	return true
}

func (in inputs) has(id string) bool {
	_, ok := in.nodes.Node(graphapi.NodeID(id))
	return ok
}

func (in inputs) get(id, name string) (interface{}, bool) {
	v, ok := in.nodes.Input(graphapi.NodeID(id), name)
	return v, ok && v != nil
}

// setDefault assigns value only when the input is missing or null
func (in inputs) setDefault(id, name string, value interface{}) {
	if !in.has(id) {
		return
	}
	if _, ok := in.get(id, name); !ok {
		in.set(id, name, value)
	}
}

// setRef points an input at the first of the candidate sources present in the
// graph, when the input is missing.
func (in inputs) setRef(id, name string, candidates ...graphapi.NodeRef) {
	if !in.has(id) {
		return
	}
	if _, ok := in.get(id, name); ok {
		return
	}
	for _, ref := range candidates {
		if in.has(string(ref.NodeID)) {
			in.set(id, name, ref)
			slog.Info("restored missing reference", "node", id, "input", name, "source", ref.String())
			return
		}
	}
	slog.Warn("cannot restore missing reference, no source node present", "node", id, "input", name)
}
