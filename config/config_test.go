package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/job"
	"github.com/richinsley/comfyvideo/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	b := cfg.ClientBootstrap()
	assert.Equal(t, 180, b.ProbeAttempts)
	assert.Equal(t, time.Second, b.ProbeInterval)
	assert.Equal(t, 5*time.Second, b.ProbeTimeout)
	assert.Equal(t, 36, b.ChannelAttempts)
	assert.Equal(t, 5*time.Second, b.ChannelInterval)
	assert.Equal(t, "/example_image.png", cfg.Jobs.DefaultImage)
	assert.Equal(t, workflow.DefaultMegaModel, cfg.Models.DefaultMega)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "comfyvideo.yaml", `
server:
  address: comfy.internal
  port: 8288
bootstrap:
  probe_interval: 2s
  channel_attempts: 4
models:
  search_dirs: [/models/a, /models/b]
log:
  format: json
`)
	cfg, err := Load(Options{File: path, Required: true})
	require.NoError(t, err)

	assert.Equal(t, "comfy.internal", cfg.Server.Address)
	assert.Equal(t, 8288, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Bootstrap.ProbeInterval)
	assert.Equal(t, 4, cfg.Bootstrap.ChannelAttempts)
	assert.Equal(t, 180, cfg.Bootstrap.ProbeAttempts)
	assert.Equal(t, []string{"/models/a", "/models/b"}, cfg.Models.SearchDirs)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeFile(t, "comfyvideo.yaml", "server:\n  port: 8288\n")
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("WORKFLOWS_MEGA", "/w/mega.json")
	t.Setenv("MODELS_SEARCH_DIRS", "/a,/b")
	t.Setenv("BOOTSTRAP_PROBE_TIMEOUT", "250ms")
	t.Setenv("JOB_KEEP_SCRATCH", "true")

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/w/mega.json", cfg.Workflows.Mega)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Models.SearchDirs)
	assert.Equal(t, 250*time.Millisecond, cfg.Bootstrap.ProbeTimeout)
	assert.True(t, cfg.Jobs.KeepScratch)
}

func TestEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "LOG_LEVEL=debug\nJOB_SCRATCH_ROOT=/scratch\n")
	t.Setenv("LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("JOB_SCRATCH_ROOT") })

	cfg, err := Load(Options{EnvFile: env})
	require.NoError(t, err)

	// the process environment wins over the file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/scratch", cfg.Jobs.ScratchRoot)
}

func TestMissingFiles(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	_, err := Load(Options{File: missing, EnvFile: filepath.Join(t.TempDir(), ".env")})
	assert.NoError(t, err)

	_, err = Load(Options{File: missing, Required: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)
}

func TestInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "server:\n  hostname: x\n"},
		{"bad duration", "bootstrap:\n  probe_interval: soon\n"},
		{"not yaml", "server: [\n"},
		{"bad level", "log:\n  level: loud\n"},
		{"bad port", "server:\n  port: 70000\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(Options{File: writeFile(t, "c.yaml", tt.content), Required: true})
			if err == nil {
				t.Fatalf("expected an error for %q", tt.content)
			}
			if !errors.Is(err, errdefs.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestEmptyFile(t *testing.T) {
	cfg, err := Load(Options{File: writeFile(t, "c.yaml", ""), Required: true})
	require.NoError(t, err)
	assert.Equal(t, 8188, cfg.Server.Port)
}

func TestManifestOverrides(t *testing.T) {
	cfg := Default()
	cfg.Workflows.Mega = "/custom/mega.json"
	cfg.Workflows.StandardEndImage = "/custom/flf2v.json"

	m, err := cfg.Manifest()
	require.NoError(t, err)

	p := workflow.DefaultParams()
	file, err := m.File(workflow.Mega, p)
	require.NoError(t, err)
	assert.Equal(t, "/custom/mega.json", file)

	file, err = m.File(workflow.Standard, p)
	require.NoError(t, err)
	assert.Equal(t, "/new_Wan22_api.json", file)

	p.EndImagePath = "/tmp/end.jpg"
	file, err = m.File(workflow.Standard, p)
	require.NoError(t, err)
	assert.Equal(t, "/custom/flf2v.json", file)
}

func TestJobOptions(t *testing.T) {
	cfg := Default()
	cfg.Server.Address = "10.0.0.2"
	cfg.Jobs.UploadInputs = true

	opts, err := cfg.JobOptions()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", opts.Address)
	assert.Equal(t, 8188, opts.Port)
	assert.True(t, opts.UploadInputs)
	require.NotNil(t, opts.Manifest)

	placer, ok := opts.Placer.(*job.SymlinkPlacer)
	require.True(t, ok)
	assert.Equal(t, "/ComfyUI/models/checkpoints", placer.CheckpointDir)
}
