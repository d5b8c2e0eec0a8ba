package workflow

import (
	_ "embed"
	"fmt"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/graphapi"
	"gopkg.in/yaml.v3"
)

//go:embed manifest.yaml
var defaultManifest []byte

// TemplateSpec describes one template kind
type TemplateSpec struct {
	File string `yaml:"file"`
	// EndImageFile replaces File when the job supplies an end image
	EndImageFile string `yaml:"end_image_file,omitempty"`
	// FinalOutput is the node whose video is returned in preference to others
	FinalOutput string `yaml:"final_output,omitempty"`
	// Precomputed maps node ids to the job parameter that replaces them
	Precomputed map[string]string `yaml:"precomputed,omitempty"`
}

// Manifest lists the template kinds and the inputs checked after injection
type Manifest struct {
	CriticalInputs map[string]map[string]string `yaml:"critical_inputs"`
	Templates      map[Kind]*TemplateSpec       `yaml:"templates"`
}

// LoadManifest returns the built-in manifest
func LoadManifest() (*Manifest, error) {
	return ParseManifest(defaultManifest)
}

// ParseManifest decodes a YAML manifest
func ParseManifest(data []byte) (*Manifest, error) {
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "invalid template manifest")
	}
	for _, kind := range Kinds {
		spec, ok := m.Templates[kind]
		if !ok || spec == nil || spec.File == "" {
			return nil, errdefs.Configurationf("template manifest has no file for %s", kind)
		}
		for id, param := range spec.Precomputed {
			if _, ok := precomputedParams[param]; !ok {
				return nil, errdefs.Configurationf("template %s: node %s uses unknown parameter %q", kind, id, param)
			}
		}
	}
	return m, nil
}

// Spec returns the description of kind
func (m *Manifest) Spec(kind Kind) (*TemplateSpec, error) {
	spec, ok := m.Templates[kind]
	if !ok || spec == nil {
		return nil, errdefs.Configurationf("unknown template kind %q", kind)
	}
	return spec, nil
}

// SetFiles overrides the template paths of kind. Empty values keep the current path.
func (m *Manifest) SetFiles(kind Kind, file, endImageFile string) error {
	spec, err := m.Spec(kind)
	if err != nil {
		return err
	}
	if file != "" {
		spec.File = file
	}
	if endImageFile != "" {
		spec.EndImageFile = endImageFile
	}
	return nil
}

// File returns the template path to load for a job
func (m *Manifest) File(kind Kind, p *Params) (string, error) {
	spec, err := m.Spec(kind)
	if err != nil {
		return "", err
	}
	if p != nil && p.EndImagePath != "" && spec.EndImageFile != "" {
		return spec.EndImageFile, nil
	}
	return spec.File, nil
}

// Files returns every template path in the manifest
func (m *Manifest) Files() []string {
	retv := make([]string, 0, len(Kinds)+1)
	for _, kind := range Kinds {
		spec := m.Templates[kind]
		retv = append(retv, spec.File)
		if spec.EndImageFile != "" {
			retv = append(retv, spec.EndImageFile)
		}
	}
	return retv
}

// RequiredInputs returns the critical-input table in the form the repair pass uses
func (m *Manifest) RequiredInputs() graphapi.RequiredInputs {
	retv := make(graphapi.RequiredInputs, len(m.CriticalInputs))
	for id, inputs := range m.CriticalInputs {
		names := make(map[string]string, len(inputs))
		for name, typ := range inputs {
			names[name] = typ
		}
		retv[graphapi.NodeID(id)] = names
	}
	return retv
}

// Precomputed returns the literal values that replace the precomputed nodes of kind
func (m *Manifest) Precomputed(kind Kind, p *Params) (map[graphapi.NodeID]interface{}, error) {
	spec, err := m.Spec(kind)
	if err != nil {
		return nil, err
	}
	if len(spec.Precomputed) == 0 {
		return nil, nil
	}
	retv := make(map[graphapi.NodeID]interface{}, len(spec.Precomputed))
	for id, param := range spec.Precomputed {
		fn, ok := precomputedParams[param]
		if !ok {
			return nil, fmt.Errorf("node %s: unknown parameter %q", id, param)
		}
		retv[graphapi.NodeID(id)] = fn(p)
	}
	return retv, nil
}

var precomputedParams = map[string]func(*Params) interface{}{
	"frames_per_16":      func(p *Params) interface{} { return p.Length / 16 },
	"megapixel":          func(p *Params) interface{} { return p.Megapixel },
	"overlapping_frames": func(p *Params) interface{} { return p.OverlappingFrames },
}
