package workflow

import (
	"log/slog"
)

func init() {
	Register(Mega, InjectorFunc(injectMega))
}

const (
	// DefaultMegaModel is the checkpoint the mega template is authored against
	DefaultMegaModel = "wan2.2-rapid-mega-aio-nsfw-v12.1.safetensors"

	megaDefaultPrefix = "rapid-mega-out/vid"
	megaDefaultShift  = 7.02
	megaFrameRate     = 16

	megaStartImage    = "597"
	megaPrompts       = "591"
	megaCheckpoint    = "574"
	megaFilename      = "595"
	megaNegative      = "567"
	megaStartToEnd    = "576"
	megaVaceToVideo   = "572"
	megaModelSampling = "562"
	megaSampler       = "563"
	megaVideoCombine  = "584"
)

func injectMega(t *Template, p *Params, catalog *ModelCatalog) error {
	in := inputs{t.Nodes}
	w, h := p.Size()

	if p.ImagePath != "" {
		in.set(megaStartImage, "image", p.ImagePath)
	}
	in.set(megaPrompts, "Multi_prompts", p.Prompt)
	in.setDefault(megaPrompts, "prefix", "")
	in.setDefault(megaPrompts, "suffix", "")

	if in.has(megaCheckpoint) {
		in.set(megaCheckpoint, "ckpt_name", megaCheckpointName(in, catalog))
	}

	in.set(megaFilename, "value", p.PrefixOr(megaDefaultPrefix))
	in.set(megaNegative, "text", p.NegativePrompt)

	if in.has(megaStartToEnd) {
		in.set(megaStartToEnd, "num_frames", p.Length)
		in.setDefault(megaStartToEnd, "empty_frame_level", 1.0)
	}

	if in.has(megaVaceToVideo) {
		in.set(megaVaceToVideo, "width", w)
		in.set(megaVaceToVideo, "height", h)
		in.set(megaVaceToVideo, "length", p.Length)
		// image-to-video
		in.set(megaVaceToVideo, "strength", 1)
		in.setDefault(megaVaceToVideo, "batch_size", 1)
	}

	in.set(megaModelSampling, "shift", p.ShiftOr(megaDefaultShift))

	if in.has(megaSampler) {
		in.set(megaSampler, "seed", p.Seed)
		in.set(megaSampler, "steps", p.Steps)
		in.set(megaSampler, "cfg", p.CFG)
		in.set(megaSampler, "sampler_name", templateChoice(in, megaSampler, "sampler_name", p.Sampler, p.SamplerSet))
		in.set(megaSampler, "scheduler", templateChoice(in, megaSampler, "scheduler", p.Scheduler, p.SchedulerSet))
		in.setDefault(megaSampler, "denoise", 1.0)
	}

	if in.has(megaVideoCombine) {
		injectMegaVideoCombine(t, in, p)
	}

	if len(p.Loras) > 0 {
		slog.Warn("mega template does not support LoRA, ignoring pairs", "count", len(p.Loras))
	}
	return nil
}

// megaCheckpointName picks the all-in-one checkpoint. The name must be one the
// checkpoint loader offers when the engine reports any.
func megaCheckpointName(in inputs, catalog *ModelCatalog) string {
	current := ""
	if v, ok := in.get(megaCheckpoint, "ckpt_name"); ok {
		current, _ = v.(string)
	}

	name := current
	if m, ok := catalog.MegaModel(); ok {
		name = m
	} else if models := catalog.Models(); len(models) > 0 {
		name = models[0]
	}
	if name == "" {
		name = DefaultMegaModel
	}
	if name != current {
		slog.Info("mega checkpoint updated", "node", megaCheckpoint, "from", current, "to", name)
	}

	if ckpts := catalog.Checkpoints(); len(ckpts) > 0 {
		for _, c := range ckpts {
			if c == name {
				return name
			}
		}
		slog.Warn("checkpoint not offered by the loader, using its first choice", "model", name, "substitute", ckpts[0])
		return ckpts[0]
	}
	return name
}

// templateChoice keeps the template's sampler setting unless the job chose one.
// An empty or "randomize" template value is replaced by the job's default.
func templateChoice(in inputs, id, name, jobValue string, explicit bool) string {
	if explicit {
		return jobValue
	}
	if v, ok := in.get(id, name); ok {
		if s, _ := v.(string); s != "" && s != "randomize" {
			return s
		}
	}
	return jobValue
}

func injectMegaVideoCombine(t *Template, in inputs, p *Params) {
	prefix := p.PrefixOr(megaDefaultPrefix)
	if widgets, ok := t.RawWidgets(megaVideoCombine); ok && widgets.IsDict() {
		for k, v := range widgets.Dict() {
			if k == "videopreview" {
				continue
			}
			in.set(megaVideoCombine, k, v)
		}
		return
	}
	in.set(megaVideoCombine, "frame_rate", p.FrameRateOr(megaFrameRate))
	in.set(megaVideoCombine, "loop_count", 0)
	in.set(megaVideoCombine, "filename_prefix", prefix)
	in.set(megaVideoCombine, "format", p.FormatOr(DefaultFormat))
	in.set(megaVideoCombine, "save_output", true)
	in.set(megaVideoCombine, "pingpong", false)
}
