package workflow

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/richinsley/comfyvideo/graphapi"
)

func init() {
	Register(SteadyDancer, InjectorFunc(injectSteadyDancer))
}

// model files the SteadyDancer template loads besides the diffusion model
const (
	SteadyDancerVAE        = "wanvideo/Wan2_1_VAE_bf16.safetensors"
	SteadyDancerClipVision = "clip_vision_h.safetensors"
	SteadyDancerLora       = "WanVideo/Lightx2v/lightx2v_I2V_14B_480p_cfg_step_distill_rank64_bf16.safetensors"

	sdDefaultShift   = 5.0
	sdDefaultOverlap = 16
	sdFrameRate      = 24
	sdDefaultPrefix  = "WanVideoWrapper_SteadyDancer"

	poseDetectorClass = "OnnxDetectionModelLoader"
	loraSelectClass   = "WanVideoLoraSelect"
)

var (
	loraCandidates = []string{
		SteadyDancerLora,
		"Lightx2v/lightx2v_I2V_14B_480p_cfg_step_distill_rank64_bf16.safetensors",
		"lightx2v_I2V_14B_480p_cfg_step_distill_rank64_bf16.safetensors",
	}
	vitposeCandidates = []string{
		"detection/vitpose_h_wholebody_model.onnx",
		"onnx/vitpose_h_wholebody_model.onnx",
		"vitpose_h_wholebody_model.onnx",
	}
	yoloCandidates = []string{
		"detection/yolov10m.onnx",
		"onnx/yolov10m.onnx",
		"yolov10m.onnx",
	}
)

// sdFallbacks lists, per node input, the sources wired in when flattening left the
// input unset. The first source present in the graph is used.
var sdFallbacks = []struct {
	node    string
	input   string
	sources []graphapi.NodeRef
}{
	{"65", "clip_vision", refs("59")},
	{"65", "image_1", refs("68", "76")},
	{"82", "clip_vision", refs("59")},
	{"82", "image_1", refs("81", "77")},
	{"81", "images", refs("77", "130")},
	{"72", "image", refs("77", "130")},
	{"72", "vae", refs("38")},
	{"71", "embeds", refs("63")},
	{"71", "pose_latents_positive", refs("72")},
	{"71", "clip_vision_embeds", refs("82")},
	{"130", "model", refs("129")},
	{"130", "images", refs("91")},
	{"70", "model", refs("22")},
	{"70", "block_swap_args", refs("39")},
	{"63", "clip_embeds", refs("65")},
	{"63", "start_image", refs("68", "76")},
	{"63", "vae", refs("38")},
	{"119", "image_embeds", refs("71")},
}

func refs(ids ...string) []graphapi.NodeRef {
	retv := make([]graphapi.NodeRef, len(ids))
	for i, id := range ids {
		retv[i] = graphapi.Ref(graphapi.NodeID(id), 0)
	}
	return retv
}

func injectSteadyDancer(t *Template, p *Params, catalog *ModelCatalog) error {
	in := inputs{t.Nodes}
	w, h := p.Size()
	shift := p.ShiftOr(sdDefaultShift)

	// media
	if p.ImagePath != "" {
		in.set("76", "image", p.ImagePath)
	}
	if p.VideoPath != "" {
		in.set("75", "video", p.VideoPath)
	} else {
		slog.Warn("no input video given, SteadyDancer needs one for pose detection")
	}

	// models
	if in.has("22") {
		if name, ok := steadyDancerModel(catalog); ok {
			in.set("22", "model", name)
		} else {
			slog.Warn("no diffusion model installed for SteadyDancer", "models", catalog.Models())
		}
	}
	in.set("38", "model_name", SteadyDancerVAE)
	in.set("59", "clip_name", SteadyDancerClipVision)
	in.set("69", "lora", matchChoice(loraCandidates, catalog.Choices(loraSelectClass, "lora"), SteadyDancerLora))

	in.set("92", "positive_prompt", p.Prompt)
	in.set("92", "negative_prompt", p.NegativePrompt)

	if in.has("129") {
		in.set("129", "vitpose_model", matchChoice(vitposeCandidates, catalog.Choices(poseDetectorClass, "vitpose_model"), ""))
		in.set("129", "yolo_model", matchChoice(yoloCandidates, catalog.Choices(poseDetectorClass, "yolo_model"), ""))
	}

	for _, fb := range sdFallbacks {
		in.setRef(fb.node, fb.input, fb.sources...)
	}

	// sizing
	if in.has("63") {
		in.set("63", "width", w)
		in.set("63", "height", h)
		in.set("63", "num_frames", p.Length)
	}
	in.set("68", "width", w)
	in.set("68", "height", h)
	in.setDefault("77", "width", w)
	in.setDefault("77", "height", h)
	if in.has("130") {
		in.set("130", "width", w)
		in.set("130", "height", h)
		in.set("130", "align_to", p.AlignTo)
		in.set("130", "draw_face_points", p.DrawFacePoints)
		in.set("130", "draw_head", p.DrawHead)
	}

	// context window
	if in.has("87") {
		overlap := sdDefaultOverlap
		if p.ContextOverlap != nil {
			overlap = *p.ContextOverlap
		}
		in.set("87", "context_frames", p.ContextFrames)
		in.set("87", "context_stride", p.ContextStride)
		in.set("87", "context_overlap", overlap)
	}

	if in.has("119") {
		injectSteadyDancerSampler(in, p, shift)
	}
	if in.has("122") {
		in.set("122", "scheduler", p.Scheduler)
		in.set("122", "steps", p.Steps)
		in.set("122", "shift", shift)
	}
	in.set("123", "cfg", p.CFG)
	in.set("124", "seed", p.Seed)

	// the pose preview is not an output, 83 is
	if in.has("83") {
		in.set("83", "frame_rate", p.FrameRateOr(sdFrameRate))
		in.set("83", "filename_prefix", p.PrefixOr(sdDefaultPrefix))
		in.set("83", "format", p.FormatOr(DefaultFormat))
		in.set("83", "save_output", true)
	}
	in.set("117", "save_output", false)

	applyLoras(in, p.Loras)
	return nil
}

func injectSteadyDancerSampler(in inputs, p *Params, shift float64) {
	in.set("119", "steps", p.Steps)
	in.set("119", "cfg", p.CFG)
	in.set("119", "shift", shift)
	in.set("119", "seed", p.Seed)

	if _, ok := in.get("119", "scheduler"); !ok {
		if in.has("122") {
			// the scheduler node's fourth output
			in.set("119", "scheduler", graphapi.Ref("122", 3))
		} else {
			in.set("119", "scheduler", p.Scheduler)
		}
	}

	rope, ok := in.get("119", "rope_function")
	if !ok || rope == false || rope == "False" {
		in.set("119", "rope_function", "comfy")
	}
	for _, name := range []string{"start_step", "riflex_freq_index"} {
		if v, present := in.nodes.Input("119", name); present {
			in.set("119", name, toInt(v))
		}
	}
}

// steadyDancerModel prefers a SteadyDancer model, then any GGUF model
func steadyDancerModel(catalog *ModelCatalog) (string, bool) {
	if m, ok := catalog.FirstContaining("steadydancer"); ok {
		return m, true
	}
	if m, ok := catalog.FirstContaining("gguf"); ok {
		return m, true
	}
	if models := catalog.Models(); len(models) > 0 {
		slog.Warn("no SteadyDancer model installed, using first model", "model", models[0])
		return models[0], true
	}
	return "", false
}

// matchChoice returns the first available option matching a candidate, where
// one string may be a path suffix of the other. Without a match it falls back to
// def when set, then the first option, then the first candidate.
func matchChoice(candidates, available []string, def string) string {
	for _, c := range candidates {
		for _, a := range available {
			if c == a || strings.HasSuffix(c, a) || strings.HasSuffix(a, c) {
				return a
			}
		}
	}
	if def != "" {
		return def
	}
	if len(available) > 0 {
		return available[0]
	}
	return candidates[0]
}

// toInt coerces an engine integer that may have been authored as a float or
// string. Unparseable values become 0.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(f)
		}
	}
	return 0
}
