package job

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/richinsley/comfyvideo/client/comfytest"
	"github.com/richinsley/comfyvideo/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthRunner(t *testing.T, srv *comfytest.Server) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	r := newRunner(t, srv, t.TempDir())
	for _, kind := range workflow.Kinds {
		file := filepath.Join(dir, string(kind)+".json")
		require.NoError(t, os.WriteFile(file, []byte("{}"), 0o644))
		require.NoError(t, r.opts.Manifest.SetFiles(kind, file, file))
	}
	return r, dir
}

func checkNamed(t *testing.T, report *HealthReport, name string) Check {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q in %+v", name, report.Checks)
	return Check{}
}

func TestHealthCheckHealthy(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.ObjectInfo = objectInfo
	r, dir := healthRunner(t, srv)
	model := filepath.Join(dir, "clip_vision_h.safetensors")
	require.NoError(t, os.WriteFile(model, make([]byte, 2048), 0o644))

	report := r.HealthCheck(context.Background(), []string{model})
	assert.True(t, report.Healthy, "%+v", report.Checks)
	assert.True(t, checkNamed(t, report, "comfyui").OK)
	assert.True(t, checkNamed(t, report, "node_catalog").OK)
	assert.True(t, checkNamed(t, report, "model clip_vision_h.safetensors").OK)
	require.Len(t, report.Devices, 1)
	assert.Equal(t, "cuda", report.Devices[0].Type)
}

func TestHealthCheckFailures(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.ObjectInfo = `{"SaveImage": {}}`
	r, dir := healthRunner(t, srv)
	require.NoError(t, r.opts.Manifest.SetFiles(workflow.SteadyDancer, filepath.Join(dir, "gone.json"), ""))

	report := r.HealthCheck(context.Background(), []string{filepath.Join(dir, "yolov10m.onnx")})
	assert.False(t, report.Healthy)
	assert.False(t, checkNamed(t, report, "node_catalog").OK)
	assert.False(t, checkNamed(t, report, "workflow "+filepath.Join(dir, "gone.json")).OK)
	assert.False(t, checkNamed(t, report, "model yolov10m.onnx").OK)
	assert.True(t, checkNamed(t, report, "system_stats").OK)
}

func TestHealthCheckUnreachable(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.PingFailures = 10
	r, _ := healthRunner(t, srv)

	report := r.HealthCheck(context.Background(), nil)
	assert.False(t, report.Healthy)
	assert.False(t, checkNamed(t, report, "comfyui").OK)
	assert.False(t, checkNamed(t, report, "node_catalog").OK)
}
