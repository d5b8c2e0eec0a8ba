package job

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/client/comfytest"
	"github.com/richinsley/comfyvideo/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const objectInfo = `{
  "WanVideoModelLoader": {
    "input": {"required": {"model": [["Wan2_2-I2V-A14B-HIGH.safetensors", "Wan2_2-I2V-A14B-LOW.safetensors"]]}}
  }
}`

func fastBootstrap() client.BootstrapConfig {
	return client.BootstrapConfig{
		ProbeAttempts:   3,
		ProbeInterval:   time.Millisecond,
		ProbeTimeout:    time.Second,
		ChannelAttempts: 3,
		ChannelInterval: 10 * time.Millisecond,
	}
}

func newRunner(t *testing.T, srv *comfytest.Server, scratch string) *Runner {
	t.Helper()
	m, err := workflow.LoadManifest()
	require.NoError(t, err)
	require.NoError(t, m.SetFiles(workflow.Standard, "testdata/standard_api.json", "testdata/standard_api.json"))

	host, port := srv.Address()
	r, err := NewRunner(Options{
		Address:     host,
		Port:        port,
		Bootstrap:   fastBootstrap(),
		ScratchRoot: scratch,
		Manifest:    m,
	})
	require.NoError(t, err)
	return r
}

func runJob(t *testing.T, r *Runner, job string) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.Handle(ctx, []byte(job))
}

type submitted struct {
	ClientID string `json:"client_id"`
	Prompt   map[string]struct {
		ClassType string                 `json:"class_type"`
		Inputs    map[string]interface{} `json:"inputs"`
	} `json:"prompt"`
}

func TestHandleStandardJob(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.ObjectInfo = objectInfo
	srv.Files["vid_00001.mp4"] = []byte("final video")
	srv.History = func(id string) string {
		return `{"` + id + `": {"outputs": {"131": {"gifs": [{"filename": "vid_00001.mp4", "subfolder": "", "type": "output"}]}}, "status": {"status_str": "success", "completed": true, "messages": []}}}`
	}
	scratch := t.TempDir()
	r := newRunner(t, srv, scratch)

	res := runJob(t, r, `{"input": {"image_base64": "aW1hZ2U=", "prompt": "a dog runs", "width": 500, "steps": 8, "length": 40}}`)
	require.Empty(t, res.Error)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("final video")), res.Video)

	prompts := srv.Prompts()
	require.Len(t, prompts, 1)
	var sub submitted
	require.NoError(t, json.Unmarshal(prompts[0], &sub))
	assert.NotEmpty(t, sub.ClientID)

	nodes := sub.Prompt
	assert.Equal(t, "a dog runs", nodes["135"].Inputs["positive_prompt"])
	assert.Equal(t, 496.0, nodes["235"].Inputs["value"])
	assert.Equal(t, 832.0, nodes["236"].Inputs["value"])
	assert.Equal(t, 40.0, nodes["541"].Inputs["num_frames"])
	assert.Equal(t, true, nodes["541"].Inputs["fun_or_fl2v_model"])
	assert.Equal(t, 8.0, nodes["569"].Inputs["value"])
	assert.Equal(t, 4.0, nodes["575"].Inputs["value"])
	assert.Equal(t, 0.0, nodes["498"].Inputs["context_overlap"])

	image, _ := nodes["244"].Inputs["image"].(string)
	assert.True(t, strings.HasSuffix(image, ImageFile), image)
	assert.True(t, strings.HasPrefix(image, scratch), image)

	// the scratch directory is gone once the job is over
	entries, err := os.ReadDir(scratch)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleDefaultImage(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.ObjectInfo = objectInfo
	srv.Files["v.mp4"] = []byte("v")
	srv.History = func(id string) string {
		return `{"` + id + `": {"outputs": {"9": {"videos": [{"filename": "v.mp4", "type": "output"}]}}}}`
	}
	r := newRunner(t, srv, t.TempDir())
	def := filepath.Join(t.TempDir(), "example_image.png")
	require.NoError(t, os.WriteFile(def, []byte("png"), 0o644))
	r.opts.DefaultImage = def

	res := runJob(t, r, `{}`)
	require.Empty(t, res.Error)

	var sub submitted
	require.NoError(t, json.Unmarshal(srv.Prompts()[0], &sub))
	assert.Equal(t, def, sub.Prompt["244"].Inputs["image"])
}

func TestHandleRejectedPrompt(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.Reject = `{"error": {"type": "prompt_outputs_failed_validation", "message": "Prompt outputs failed validation"}, "node_errors": {"122": {}}}`
	r := newRunner(t, srv, t.TempDir())

	res := runJob(t, r, `{"prompt": "x"}`)
	assert.Empty(t, res.Video)
	assert.Contains(t, res.Error, "Prompt outputs failed validation")
	assert.Contains(t, res.Error, "122")
}

func TestHandleInvalidInput(t *testing.T) {
	srv := comfytest.NewServer(t)
	r := newRunner(t, srv, t.TempDir())

	res := runJob(t, r, `{"width": "wide"}`)
	assert.Contains(t, res.Error, "cannot decode job input")
	assert.Empty(t, srv.Prompts())
}

func TestHandleVideoNotFound(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.History = func(id string) string {
		return `{"` + id + `": {"outputs": {"131": {"images": []}}}}`
	}
	r := newRunner(t, srv, t.TempDir())

	res := runJob(t, r, `{}`)
	assert.Equal(t, Result{Error: ErrVideoNotFound}, res)
}

func TestHandleResourceExhausted(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.Script = func(id string) []string {
		return []string{
			comfytest.ExecutionError(id, "540", "torch.OutOfMemoryError", "CUDA out of memory"),
			comfytest.Executing(id, ""),
		}
	}
	srv.History = func(id string) string {
		return `{"` + id + `": {"status": {"status_str": "error", "completed": false, "messages": []}}}`
	}
	r := newRunner(t, srv, t.TempDir())

	res := runJob(t, r, `{}`)
	assert.Contains(t, res.Error, "CUDA out of memory")
	assert.Contains(t, res.Error, "width")
}

func TestHandleServerUnreachable(t *testing.T) {
	srv := comfytest.NewServer(t)
	srv.PingFailures = 100
	r := newRunner(t, srv, t.TempDir())

	res := runJob(t, r, `{}`)
	assert.True(t, strings.HasPrefix(res.Error, "cannot reach ComfyUI server at "), res.Error)
}

func TestHandleMissingTemplate(t *testing.T) {
	srv := comfytest.NewServer(t)
	r := newRunner(t, srv, t.TempDir())
	require.NoError(t, r.opts.Manifest.SetFiles(workflow.Standard, filepath.Join(t.TempDir(), "none.json"), ""))

	res := runJob(t, r, `{}`)
	assert.Contains(t, res.Error, "workflow file not found")
}

func TestHandleRecoversPanics(t *testing.T) {
	srv := comfytest.NewServer(t)
	r := newRunner(t, srv, t.TempDir())
	r.opts.Handlers = func(*slog.Logger) *client.MessageHandlers {
		return &client.MessageHandlers{
			OnStarted: func(*client.PromptMessageStarted) { panic("handler blew up") },
		}
	}
	srv.Script = func(id string) []string {
		return []string{
			`{"type": "execution_start", "data": {"prompt_id": "` + id + `"}}`,
			comfytest.Executing(id, ""),
		}
	}

	res := runJob(t, r, `{}`)
	assert.Equal(t, "internal error: handler blew up", res.Error)
}

func TestHandleJSON(t *testing.T) {
	srv := comfytest.NewServer(t)
	r := newRunner(t, srv, t.TempDir())

	out := r.HandleJSON(context.Background(), []byte(`[]`))
	assert.JSONEq(t, `{"error": "job input must be a JSON object"}`, string(out))
}
