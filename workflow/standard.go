package workflow

import (
	"fmt"
	"log/slog"
)

func init() {
	Register(Standard, InjectorFunc(injectStandard))
}

// nodes of the standard image-to-video templates
const (
	stdStartImage   = "244"
	stdEndImage     = "617"
	stdVideoEncode  = "541"
	stdTextEncode   = "135"
	stdNoise        = "220"
	stdSampler      = "540"
	stdWidth        = "235"
	stdHeight       = "236"
	stdContext      = "498"
	stdSteps        = "569"
	stdStartStep    = "575"
	stdHighLora     = "279"
	stdLowLora      = "553"
	stdHighModel    = "122"
	stdLowModel     = "549"
	stdMaxStartStep = 4
)

func injectStandard(t *Template, p *Params, catalog *ModelCatalog) error {
	in := inputs{t.Nodes}
	w, h := p.Size()

	in.set(stdVideoEncode, "num_frames", p.Length)
	if p.ImagePath != "" {
		// image-to-video mode
		in.set(stdStartImage, "image", p.ImagePath)
		in.set(stdVideoEncode, "fun_or_fl2v_model", true)
	}
	in.set(stdTextEncode, "positive_prompt", p.Prompt)
	in.set(stdNoise, "seed", p.Seed)
	in.set(stdSampler, "seed", p.Seed)
	in.set(stdSampler, "cfg", p.CFG)
	in.set(stdWidth, "value", w)
	in.set(stdHeight, "value", h)

	overlap := ContextOverlap(p.ContextOverlap, p.Length)
	if p.ContextOverlap != nil && *p.ContextOverlap != overlap {
		slog.Warn("context_overlap exceeds length, adjusted", "requested", *p.ContextOverlap, "length", p.Length, "context_overlap", overlap)
	}
	in.set(stdContext, "context_overlap", overlap)

	in.set(stdSteps, "value", p.Steps)
	in.set(stdStartStep, "value", min(p.Steps, stdMaxStartStep))

	if p.EndImagePath != "" {
		in.set(stdEndImage, "image", p.EndImagePath)
	}

	for _, id := range []string{stdHighModel, stdLowModel} {
		checkModel(in, id, catalog)
	}
	applyLoras(in, p.Loras)
	return nil
}

// checkModel replaces a node's model when the engine does not have it installed
func checkModel(in inputs, id string, catalog *ModelCatalog) {
	v, ok := in.get(id, "model")
	if !ok {
		return
	}
	current, _ := v.(string)
	if name, changed := catalog.ResolveModel(current); changed {
		slog.Warn("configured model not installed, substituting", "node", id, "model", current, "substitute", name)
		in.set(id, "model", name)
	}
}

func applyLoras(in inputs, loras []LoraPair) {
	for i, pair := range loras {
		if i >= MaxLoraPairs {
			slog.Warn("ignoring extra LoRA pairs", "max", MaxLoraPairs, "given", len(loras))
			break
		}
		if pair.High != "" && in.has(stdHighLora) {
			in.set(stdHighLora, fmt.Sprintf("lora_%d", i), pair.High)
			in.set(stdHighLora, fmt.Sprintf("strength_%d", i), pair.HighWeight)
			slog.Info("applied LoRA", "slot", i, "node", stdHighLora, "lora", pair.High, "weight", pair.HighWeight)
		}
		if pair.Low != "" && in.has(stdLowLora) {
			in.set(stdLowLora, fmt.Sprintf("lora_%d", i), pair.Low)
			in.set(stdLowLora, fmt.Sprintf("strength_%d", i), pair.LowWeight)
			slog.Info("applied LoRA", "slot", i, "node", stdLowLora, "lora", pair.Low, "weight", pair.LowWeight)
		}
	}
}
