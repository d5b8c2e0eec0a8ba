package workflow

import (
	"testing"

	"github.com/richinsley/comfyvideo/graphapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTemplate(t *testing.T, kind Kind, path string, p *Params) *Template {
	t.Helper()
	m, err := LoadManifest()
	require.NoError(t, err)
	pre, err := m.Precomputed(kind, p)
	require.NoError(t, err)
	tpl, err := LoadFile(path, pre)
	require.NoError(t, err)
	tpl.Kind = kind
	return tpl
}

func input(t *testing.T, tpl *Template, id, name string) interface{} {
	t.Helper()
	v, ok := tpl.Nodes.Input(graphapi.NodeID(id), name)
	if !ok {
		t.Fatalf("node %s has no input %s", id, name)
	}
	return v
}

func TestInjectorsRegistered(t *testing.T) {
	for _, kind := range Kinds {
		_, err := InjectorFor(kind)
		assert.NoError(t, err, kind)
	}
	_, err := InjectorFor(Kind("other"))
	assert.Error(t, err)
}

func TestInjectStandard(t *testing.T) {
	p := DefaultParams()
	p.ImagePath = "/task/input_image.jpg"
	p.Prompt = "a dancer"
	p.Width, p.Height = 500, 830
	p.Steps = 2
	p.Seed = 7
	for i := 0; i < 5; i++ {
		p.Loras = append(p.Loras, LoraPair{High: "high.safetensors", Low: "low.safetensors", HighWeight: 0.5, LowWeight: 1.0})
	}
	tpl := loadTemplate(t, Standard, "testdata/standard_api.json", p)
	catalog := NewModelCatalog([]byte(`{"WanVideoModelLoader": {"model": ["Wan2_2-I2V-A14B-HIGH.safetensors", "other.safetensors"]}}`))

	require.NoError(t, tpl.Inject(p, catalog))

	assert.Equal(t, "/task/input_image.jpg", input(t, tpl, "244", "image"))
	assert.Equal(t, 81, input(t, tpl, "541", "num_frames"))
	assert.Equal(t, true, input(t, tpl, "541", "fun_or_fl2v_model"))
	assert.Equal(t, "a dancer", input(t, tpl, "135", "positive_prompt"))
	assert.Equal(t, int64(7), input(t, tpl, "220", "seed"))
	assert.Equal(t, 1.0, input(t, tpl, "540", "cfg"))
	assert.Equal(t, 496, input(t, tpl, "235", "value"))
	assert.Equal(t, 832, input(t, tpl, "236", "value"))
	assert.Equal(t, 48, input(t, tpl, "498", "context_overlap"))
	assert.Equal(t, 2, input(t, tpl, "569", "value"))
	assert.Equal(t, 2, input(t, tpl, "575", "value"))

	// installed model kept, missing one replaced by an I2V model
	assert.Equal(t, "Wan2_2-I2V-A14B-HIGH.safetensors", input(t, tpl, "122", "model"))
	assert.Equal(t, "Wan2_2-I2V-A14B-HIGH.safetensors", input(t, tpl, "549", "model"))

	assert.Equal(t, "high.safetensors", input(t, tpl, "279", "lora_3"))
	assert.Equal(t, 0.5, input(t, tpl, "279", "strength_3"))
	assert.Equal(t, "low.safetensors", input(t, tpl, "553", "lora_0"))
	_, ok := tpl.Nodes.Input("279", "lora_4")
	assert.False(t, ok, "only four LoRA pairs apply")

	_, ok = tpl.Nodes.Node("617")
	assert.False(t, ok)
}

func TestInjectMega(t *testing.T) {
	p := DefaultParams()
	p.ImagePath = "/task/input_image.jpg"
	p.Prompt = "first\nsecond"
	p.NegativePrompt = "blur"
	p.Loras = []LoraPair{{High: "ignored.safetensors"}}
	tpl := loadTemplate(t, Mega, "testdata/mega.json", p)
	require.True(t, tpl.IsEditorShape())

	// precomputed node inlined, not emitted
	_, ok := tpl.Nodes.Node("592")
	assert.False(t, ok)
	assert.Equal(t, 5, input(t, tpl, "561", "total"))

	catalog := NewModelCatalog([]byte(objectInfo))
	require.NoError(t, tpl.Inject(p, catalog))

	assert.Equal(t, "/task/input_image.jpg", input(t, tpl, "597", "image"))
	assert.Equal(t, "first\nsecond", input(t, tpl, "591", "Multi_prompts"))
	assert.Equal(t, "wan2.2-rapid-mega-aio-nsfw-v12.1.safetensors", input(t, tpl, "574", "ckpt_name"))
	assert.Equal(t, "rapid-mega-out/vid", input(t, tpl, "595", "value"))
	assert.Equal(t, "blur", input(t, tpl, "567", "text"))
	assert.Equal(t, 81, input(t, tpl, "576", "num_frames"))
	assert.Equal(t, 0.8, input(t, tpl, "576", "empty_frame_level"))
	assert.Equal(t, 480, input(t, tpl, "572", "width"))
	assert.Equal(t, 832, input(t, tpl, "572", "height"))
	assert.Equal(t, 1, input(t, tpl, "572", "strength"))
	assert.Equal(t, 2.0, input(t, tpl, "572", "batch_size"))
	assert.Equal(t, 7.02, input(t, tpl, "562", "shift"))

	assert.Equal(t, int64(42), input(t, tpl, "563", "seed"))
	assert.Equal(t, 4, input(t, tpl, "563", "steps"))
	assert.Equal(t, "euler_a", input(t, tpl, "563", "sampler_name"))
	assert.Equal(t, "beta", input(t, tpl, "563", "scheduler"))
	assert.Equal(t, 0.9, input(t, tpl, "563", "denoise"))

	assert.Equal(t, "video/h264-mp4", input(t, tpl, "584", "format"))
	assert.Equal(t, true, input(t, tpl, "584", "save_output"))
	_, ok = tpl.Nodes.Input("584", "videopreview")
	assert.False(t, ok)
}

func TestMegaCheckpointFallsBackToLoaderChoice(t *testing.T) {
	p := DefaultParams()
	tpl := loadTemplate(t, Mega, "testdata/mega.json", p)
	catalog := NewModelCatalog([]byte(`{
		"WanVideoModelLoader": {"model": ["Rapid-MEGA-v3.safetensors"]},
		"CheckpointLoaderSimple": {"input": {"required": {"ckpt_name": [["sd15.safetensors"]]}}}
	}`))
	require.NoError(t, tpl.Inject(p, catalog))
	assert.Equal(t, "sd15.safetensors", input(t, tpl, "574", "ckpt_name"))

	tpl = loadTemplate(t, Mega, "testdata/mega.json", p)
	require.NoError(t, tpl.Inject(p, EmptyModelCatalog()))
	assert.Equal(t, "wan2.2-rapid-mega-aio-nsfw-v10.safetensors", input(t, tpl, "574", "ckpt_name"))
}

func TestMegaSamplerExplicit(t *testing.T) {
	p := DefaultParams()
	p.Sampler, p.SamplerSet = "dpmpp_2m", true
	tpl := loadTemplate(t, Mega, "testdata/mega.json", p)
	require.NoError(t, tpl.Inject(p, EmptyModelCatalog()))
	assert.Equal(t, "dpmpp_2m", input(t, tpl, "563", "sampler_name"))
}

func TestInjectSteadyDancer(t *testing.T) {
	p := DefaultParams()
	p.UseSteadyDancer = true
	p.ImagePath = "/task/input_image.jpg"
	p.VideoPath = "/task/input_video.mp4"
	p.NegativePrompt = "static"
	tpl := loadTemplate(t, SteadyDancer, "testdata/steadydancer.json", p)

	// the alias pair is resolved to the image loader
	assert.Equal(t, graphapi.Ref("76", 0), input(t, tpl, "77", "image"))
	_, ok := tpl.Nodes.Input("63", "clip_embeds")
	assert.False(t, ok, "reference through a fetch without a store is omitted")
	assert.NotEmpty(t, tpl.Warnings)

	catalog := NewModelCatalog([]byte(`{
		"WanVideoModelLoader": {"model": ["Wan21_I2V_SteadyDancer_fp16-Q5_K_M_fix_5d_tensor.gguf", "another.gguf"]},
		"OnnxDetectionModelLoader": {"input": {"required": {
			"vitpose_model": [["vitpose_h_wholebody_model.onnx"]],
			"yolo_model": [["yolov10m.onnx"]]
		}}}
	}`))
	require.NoError(t, tpl.Inject(p, catalog))

	assert.Equal(t, "/task/input_image.jpg", input(t, tpl, "76", "image"))
	assert.Equal(t, "/task/input_video.mp4", input(t, tpl, "75", "video"))
	assert.Equal(t, "Wan21_I2V_SteadyDancer_fp16-Q5_K_M_fix_5d_tensor.gguf", input(t, tpl, "22", "model"))
	assert.Equal(t, SteadyDancerVAE, input(t, tpl, "38", "model_name"))
	assert.Equal(t, SteadyDancerClipVision, input(t, tpl, "59", "clip_name"))
	assert.Equal(t, "static", input(t, tpl, "92", "negative_prompt"))
	assert.Equal(t, "vitpose_h_wholebody_model.onnx", input(t, tpl, "129", "vitpose_model"))
	assert.Equal(t, "yolov10m.onnx", input(t, tpl, "129", "yolo_model"))

	// fallback references
	assert.Equal(t, graphapi.Ref("65", 0), input(t, tpl, "63", "clip_embeds"))
	assert.Equal(t, graphapi.Ref("68", 0), input(t, tpl, "63", "start_image"))
	assert.Equal(t, graphapi.Ref("38", 0), input(t, tpl, "63", "vae"))
	assert.Equal(t, graphapi.Ref("59", 0), input(t, tpl, "65", "clip_vision"))
	assert.Equal(t, graphapi.Ref("68", 0), input(t, tpl, "65", "image_1"))
	assert.Equal(t, graphapi.Ref("129", 0), input(t, tpl, "130", "model"))
	_, ok = tpl.Nodes.Input("130", "images")
	assert.False(t, ok, "no source node for pose images")

	// sizing
	assert.Equal(t, 480, input(t, tpl, "63", "width"))
	assert.Equal(t, 81, input(t, tpl, "63", "num_frames"))
	assert.Equal(t, 832, input(t, tpl, "68", "height"))
	assert.Equal(t, 480, input(t, tpl, "77", "width"))
	assert.Equal(t, "ref", input(t, tpl, "130", "align_to"))

	assert.Equal(t, 16, input(t, tpl, "87", "context_overlap"))
	assert.Equal(t, 81, input(t, tpl, "87", "context_frames"))

	assert.Equal(t, 4, input(t, tpl, "119", "steps"))
	assert.Equal(t, 5.0, input(t, tpl, "119", "shift"))
	assert.Equal(t, graphapi.Ref("122", 3), input(t, tpl, "119", "scheduler"))
	assert.Equal(t, "comfy", input(t, tpl, "119", "rope_function"))
	assert.Equal(t, 2, input(t, tpl, "119", "start_step"))
	assert.Equal(t, "beta", input(t, tpl, "122", "scheduler"))

	assert.Equal(t, 24.0, input(t, tpl, "83", "frame_rate"))
	assert.Equal(t, "WanVideoWrapper_SteadyDancer", input(t, tpl, "83", "filename_prefix"))
	assert.Equal(t, false, input(t, tpl, "117", "save_output"))

	m, err := LoadManifest()
	require.NoError(t, err)
	report := tpl.Repair(m.RequiredInputs())
	assert.True(t, report.OK())
}

func TestMatchChoice(t *testing.T) {
	assert.Equal(t, "onnx/yolov10m.onnx", matchChoice(yoloCandidates, []string{"other.onnx", "onnx/yolov10m.onnx"}, ""))
	assert.Equal(t, "other.onnx", matchChoice(yoloCandidates, []string{"other.onnx"}, ""))
	assert.Equal(t, "detection/yolov10m.onnx", matchChoice(yoloCandidates, nil, ""))
	assert.Equal(t, SteadyDancerLora, matchChoice(loraCandidates, []string{"unrelated.safetensors"}, SteadyDancerLora))
}
