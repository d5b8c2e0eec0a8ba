package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/graphapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name     string
		path     string
		contains string
	}{
		{"missing", filepath.Join(dir, "nope.json"), "workflow file not found"},
		{"empty", write("empty.json", "  \n"), "empty"},
		{"not json", write("text.json", "hello"), "not JSON"},
		{"malformed", write("broken.json", `{"1": {"class_type": `), "malformed workflow JSON"},
		{"array", write("array.json", `[1, 2]`), "invalid workflow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(tt.path, nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadCanonicalTemplate(t *testing.T) {
	tpl, err := LoadFile("testdata/standard_api.json", nil)
	require.NoError(t, err)
	assert.False(t, tpl.IsEditorShape())
	assert.Len(t, tpl.Nodes, 14)
	v, _ := tpl.Nodes.Input("541", "vae")
	assert.Equal(t, graphapi.Ref("38", 0), v)

	// canonical templates are not repaired
	m, err := LoadManifest()
	require.NoError(t, err)
	report := tpl.Repair(m.RequiredInputs())
	assert.Empty(t, report.Repaired)
	assert.Empty(t, report.Unrepaired)
}

func TestManifest(t *testing.T) {
	m, err := LoadManifest()
	require.NoError(t, err)

	p := DefaultParams()
	file, err := m.File(Standard, p)
	require.NoError(t, err)
	assert.Equal(t, "/new_Wan22_api.json", file)

	p.EndImagePath = "/tmp/end.jpg"
	file, _ = m.File(Standard, p)
	assert.Equal(t, "/new_Wan22_flf2v_api.json", file)

	file, _ = m.File(Mega, p)
	assert.Equal(t, "/RapidAIO Mega (V2.5).json", file)

	spec, err := m.Spec(SteadyDancer)
	require.NoError(t, err)
	assert.Equal(t, "83", spec.FinalOutput)

	pre, err := m.Precomputed(Mega, DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, map[graphapi.NodeID]interface{}{"592": 5, "593": 0.5, "585": 1}, pre)

	required := m.RequiredInputs()
	assert.Equal(t, "INT", required["77"]["width"])
	assert.Len(t, required, 4)

	require.NoError(t, m.SetFiles(Mega, "/custom/mega.json", ""))
	file, _ = m.File(Mega, p)
	assert.Equal(t, "/custom/mega.json", file)
	assert.Contains(t, m.Files(), "/custom/mega.json")

	_, err = m.Spec(Kind("other"))
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration))
}

func TestParseManifestRejectsUnknownParameter(t *testing.T) {
	data := []byte(`
templates:
  standard: {file: /a.json}
  mega:
    file: /b.json
    precomputed: {"1": nonsense}
  steadydancer: {file: /c.json}
`)
	_, err := ParseManifest(data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonsense")

	_, err = ParseManifest([]byte("templates:\n  standard: {file: /a.json}\n"))
	assert.Error(t, err)
}
