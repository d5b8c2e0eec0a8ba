package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/client/comfytest"
	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const objectInfo = `{
  "WanVideoModelLoader": {
    "input": {"required": {"model": [["Wan2_2-I2V-A14B-HIGH.safetensors", "Wan2_2-I2V-A14B-LOW.safetensors"]]}}
  }
}`

// writeConfig points every template at the job package fixture and keeps the
// bootstrap retries short
func writeConfig(t *testing.T, srv *comfytest.Server) string {
	t.Helper()
	host, port := srv.Address()
	tmpl, err := filepath.Abs("../../job/testdata/standard_api.json")
	require.NoError(t, err)
	dir := t.TempDir()

	content := fmt.Sprintf(`server:
  address: %q
  port: %d
bootstrap:
  probe_attempts: 3
  probe_interval: 1ms
  probe_timeout: 1s
  channel_attempts: 3
  channel_interval: 10ms
workflows:
  standard: %q
  standard_end_image: %q
  mega: %q
  steadydancer: %q
jobs:
  scratch_root: %q
models:
  search_dirs: []
  checkpoint_dir: %q
  health_files: []
log:
  level: error
`, host, port, tmpl, tmpl, tmpl, tmpl, dir, filepath.Join(dir, "checkpoints"))

	path := filepath.Join(dir, "comfyvideo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func videoServer(t *testing.T) *comfytest.Server {
	srv := comfytest.NewServer(t)
	srv.ObjectInfo = objectInfo
	srv.Files["vid_00001.mp4"] = []byte("final video")
	srv.History = func(id string) string {
		return `{"` + id + `": {"outputs": {"131": {"gifs": [{"filename": "vid_00001.mp4", "subfolder": "", "type": "output"}]}}}}`
	}
	return srv
}

func TestRunFromStdin(t *testing.T) {
	srv := videoServer(t)
	srv.Script = func(id string) []string {
		return []string{
			comfytest.Executing(id, "541"),
			comfytest.Progress(id, "541", 1, 2),
			comfytest.Progress(id, "541", 2, 2),
			comfytest.Executing(id, ""),
		}
	}
	video := filepath.Join(t.TempDir(), "out.mp4")

	out, _, err := execute(t, `{"input": {"image_base64": "aW1hZ2U=", "prompt": "a cat"}}`,
		"run", "-", "--config", writeConfig(t, srv), "--progress", "-o", video)
	require.NoError(t, err)

	var res job.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("final video")), res.Video)

	data, err := os.ReadFile(video)
	require.NoError(t, err)
	assert.Equal(t, "final video", string(data))
}

func TestRunFromFile(t *testing.T) {
	srv := videoServer(t)
	jobFile := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(jobFile, []byte(`{"image_base64": "aW1hZ2U="}`), 0o644))

	out, _, err := execute(t, "", "run", jobFile, "--config", writeConfig(t, srv))
	require.NoError(t, err)
	assert.Contains(t, out, `"video":`)
	assert.Len(t, srv.Prompts(), 1)
}

func TestRunReportsJobError(t *testing.T) {
	srv := videoServer(t)

	out, _, err := execute(t, `{"width": "wide"}`, "run", "-", "--config", writeConfig(t, srv))
	require.ErrorIs(t, err, errJobFailed)

	var res job.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Empty(t, res.Video)
	assert.Contains(t, res.Error, "cannot decode job input")
}

func TestRunNeedsJobArgument(t *testing.T) {
	srv := videoServer(t)
	_, _, err := execute(t, "", "run", "--config", writeConfig(t, srv))
	assert.Error(t, err)
}

func TestHealthcheckHealthy(t *testing.T) {
	srv := videoServer(t)

	out, _, err := execute(t, "", "healthcheck", "--config", writeConfig(t, srv))
	require.NoError(t, err, out)
	assert.Contains(t, out, "[ok] comfyui")
	assert.Contains(t, out, "[ok] node_catalog")
	assert.Contains(t, out, "Name: cuda:0 Test GPU")
	assert.True(t, strings.HasSuffix(out, "\nhealthy\n"), out)
}

func TestHealthcheckUnhealthyJSON(t *testing.T) {
	srv := comfytest.NewServer(t)

	out, _, err := execute(t, "", "healthcheck", "--json", "--config", writeConfig(t, srv))
	require.ErrorIs(t, err, errUnhealthy)

	var report job.HealthReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.Healthy)
}

func TestFlagsOverrideConfig(t *testing.T) {
	srv := videoServer(t)

	_, _, err := execute(t, "", "healthcheck", "--config", writeConfig(t, srv), "--port", "70000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)

	_, _, err = execute(t, "", "healthcheck", "--config", writeConfig(t, srv), "--log-format", "xml")
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)
}

func TestMissingConfigFile(t *testing.T) {
	_, _, err := execute(t, "", "healthcheck", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConfiguration), "got %v", err)
}

func TestProgressHandlersDrawPerNode(t *testing.T) {
	var out bytes.Buffer
	handlers := progressHandlers(&out)(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	handlers.OnExecuting(&client.PromptMessageExecuting{NodeID: "541", Title: "WanVideo Sampler"})
	handlers.OnProgress(&client.PromptMessageProgress{NodeID: "541", Value: 1, Max: 4})
	handlers.OnProgress(&client.PromptMessageProgress{NodeID: "541", Value: 4, Max: 4})
	// out of range values must not break the handler
	handlers.OnProgress(&client.PromptMessageProgress{NodeID: "541", Value: 9, Max: 4})
	assert.Contains(t, out.String(), "WanVideo Sampler")

	handlers.OnExecuting(&client.PromptMessageExecuting{NodeID: "28", Title: "Decode"})
	handlers.OnProgress(&client.PromptMessageProgress{NodeID: "28", Value: 1, Max: 2})
	assert.Contains(t, out.String(), "Decode")
}
