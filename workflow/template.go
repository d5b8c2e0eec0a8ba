package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/graphapi"
)

// Template is a template file resolved into an executable graph. Each job loads
// its own Template since injection mutates Nodes.
type Template struct {
	Kind Kind
	Path string
	// Raw is the editor graph the nodes were flattened from; nil for canonical templates
	Raw      *graphapi.Graph
	Nodes    graphapi.ResolvedGraph
	Resolver *graphapi.Resolver
	Warnings []graphapi.Warning
}

// IsEditorShape reports whether the template was authored as an editor graph
func (t *Template) IsEditorShape() bool {
	return t.Raw != nil
}

// RawWidgets returns the widget values the editor stored for a node
func (t *Template) RawWidgets(id string) (graphapi.WidgetValues, bool) {
	if t.Raw == nil {
		return graphapi.WidgetValues{}, false
	}
	n := t.Raw.GetNodeById(graphapi.NodeID(id))
	if n == nil {
		return graphapi.WidgetValues{}, false
	}
	return n.WidgetValues, true
}

// LoadFile reads and resolves a template file. Precomputed nodes are replaced by
// the supplied literals.
func LoadFile(path string, precomputed map[graphapi.NodeID]interface{}) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.Configurationf("workflow file not found: %s", path)
		}
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot read workflow file "+path)
	}
	t, err := Load(data, precomputed)
	if err != nil {
		var e *errdefs.Error
		if errors.As(err, &e) {
			e.Msg = path + ": " + e.Msg
		}
		return nil, err
	}
	t.Path = path
	return t, nil
}

// Load resolves template content in either shape
func Load(data []byte, precomputed map[graphapi.NodeID]interface{}) (*Template, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errdefs.Configurationf("workflow file is empty")
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, errdefs.Configurationf("workflow file is not JSON (starts with %q)", string(trimmed[:min(len(trimmed), 16)]))
	}
	if !json.Valid(trimmed) {
		// report the decoder's position
		var v interface{}
		err := json.Unmarshal(trimmed, &v)
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "malformed workflow JSON")
	}

	doc, err := graphapi.ParseDocument(trimmed)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "invalid workflow")
	}

	if !doc.IsEditorShape() {
		return &Template{Nodes: doc.Prompt}, nil
	}

	flat := graphapi.Flatten(doc.Graph, graphapi.FlattenOptions{Precomputed: precomputed})
	slog.Info("flattened editor workflow", "nodes", len(doc.Graph.Nodes), "resolved", len(flat.Nodes), "warnings", len(flat.Warnings))
	return &Template{
		Raw:      doc.Graph,
		Nodes:    flat.Nodes,
		Resolver: flat.Resolver,
		Warnings: flat.Warnings,
	}, nil
}

// Repair checks the critical inputs of an editor-shape template and restores the
// missing ones from the raw links. Canonical templates are submitted as authored.
func (t *Template) Repair(required graphapi.RequiredInputs) graphapi.RepairReport {
	if !t.IsEditorShape() {
		return graphapi.RepairReport{}
	}
	return graphapi.Repair(t.Nodes, t.Resolver, required)
}

// Inject applies p using the injector registered for the template's kind
func (t *Template) Inject(p *Params, catalog *ModelCatalog) error {
	inj, err := InjectorFor(t.Kind)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot inject parameters")
	}
	if catalog == nil {
		catalog = EmptyModelCatalog()
	}
	return inj.Inject(t, p, catalog)
}
