package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/workflow"
)

// MaxPromptLength is the prompt line length above which a warning is logged.
// Very long prompts are a common cause of out of memory failures.
const MaxPromptLength = 500

// Number is a numeric job field. It accepts a JSON number or a string holding one.
type Number struct {
	Value float64
	Set   bool
	raw   string
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("%s is not a number", b)
	}
	*n = Number{Value: v, Set: true, raw: s}
	return nil
}

// Int returns the value truncated to an int
func (n Number) Int() int {
	return int(n.Value)
}

// Int64 returns the value as an int64 without going through float64 when the
// field was written as an integer
func (n Number) Int64() int64 {
	if i, err := strconv.ParseInt(n.raw, 10, 64); err == nil {
		return i
	}
	return int64(n.Value)
}

// Flag is a boolean job field. It accepts true/false, "true"/"false" and 0/1.
type Flag struct {
	Value bool
	Set   bool
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = Flag{}
		return nil
	}
	s := string(b)
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("%s is not a boolean", b)
	}
	*f = Flag{Value: v, Set: true}
	return nil
}

// PromptText is a prompt given as one string or as a list of strings. A list is
// joined with newlines, one prompt per line.
type PromptText struct {
	Text string
	Set  bool
}

func (p *PromptText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = PromptText{}
		return nil
	}
	if len(b) > 0 && b[0] == '[' {
		var items []interface{}
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			if item == nil {
				continue
			}
			s := fmt.Sprint(item)
			if s == "" {
				continue
			}
			lines = append(lines, s)
		}
		*p = PromptText{Text: strings.Join(lines, "\n"), Set: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("prompt must be a string or a list of strings")
	}
	*p = PromptText{Text: s, Set: true}
	return nil
}

// Lines returns the non-empty prompt lines
func (p PromptText) Lines() []string {
	var lines []string
	for _, l := range strings.Split(p.Text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// LoraPairInput is one entry of lora_pairs
type LoraPairInput struct {
	High       string `json:"high"`
	Low        string `json:"low"`
	HighWeight Number `json:"high_weight"`
	LowWeight  Number `json:"low_weight"`
}

// SourceKind tells how a media input is supplied
type SourceKind string

const (
	SourcePath   SourceKind = "path"
	SourceURL    SourceKind = "url"
	SourceBase64 SourceKind = "base64"
)

// MediaSource is a media input before it is materialized into a file
type MediaSource struct {
	Kind  SourceKind
	Value string
}

func pickSource(path, url, b64 string) (MediaSource, bool) {
	switch {
	case path != "":
		return MediaSource{Kind: SourcePath, Value: path}, true
	case url != "":
		return MediaSource{Kind: SourceURL, Value: url}, true
	case b64 != "":
		return MediaSource{Kind: SourceBase64, Value: b64}, true
	}
	return MediaSource{}, false
}

// Input is the decoded job input. Every field is optional.
type Input struct {
	ImagePath   string `json:"image_path"`
	ImageURL    string `json:"image_url"`
	ImageBase64 string `json:"image_base64"`

	EndImagePath   string `json:"end_image_path"`
	EndImageURL    string `json:"end_image_url"`
	EndImageBase64 string `json:"end_image_base64"`

	VideoPath   string `json:"video_path"`
	VideoURL    string `json:"video_url"`
	VideoBase64 string `json:"video_base64"`

	Prompt         PromptText `json:"prompt"`
	NegativePrompt string     `json:"negative_prompt"`

	Width  Number `json:"width"`
	Height Number `json:"height"`
	Length Number `json:"length"`

	Steps     Number  `json:"steps"`
	Seed      Number  `json:"seed"`
	CFG       Number  `json:"cfg"`
	Sampler   *string `json:"sampler"`
	Scheduler *string `json:"scheduler"`

	ContextOverlap Number `json:"context_overlap"`
	ContextFrames  Number `json:"context_frames"`
	ContextStride  Number `json:"context_stride"`
	Shift          Number `json:"shift"`

	Megapixel         Number `json:"megapixel"`
	OverlappingFrames Number `json:"overlapping_frames"`

	FilenamePrefix string `json:"filename_prefix"`
	FrameRate      Number `json:"frame_rate"`
	Format         string `json:"format"`

	LoraPairs []LoraPairInput `json:"lora_pairs"`

	UseSteadyDancer Flag   `json:"use_steadydancer"`
	AlignTo         string `json:"align_to"`
	DrawFacePoints  string `json:"draw_face_points"`
	DrawHead        string `json:"draw_head"`
}

// DecodeInput decodes a job. The input may be wrapped as {"input": {...}} or be
// the bare input object.
func DecodeInput(data []byte) (*Input, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return &Input{}, nil
	}
	if data[0] != '{' {
		return nil, errdefs.InvalidInputf("job input must be a JSON object")
	}

	var envelope struct {
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidInput, err, "cannot decode job input")
	}
	if inner := bytes.TrimSpace(envelope.Input); len(inner) > 0 && !bytes.Equal(inner, []byte("null")) {
		if inner[0] != '{' {
			return nil, errdefs.InvalidInputf("job input must be a JSON object")
		}
		data = inner
	}

	in := &Input{}
	if err := json.Unmarshal(data, in); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidInput, err, "cannot decode job input")
	}
	return in, nil
}

// Image returns the source of the start image
func (in *Input) Image() (MediaSource, bool) {
	return pickSource(in.ImagePath, in.ImageURL, in.ImageBase64)
}

// EndImage returns the source of the optional end image
func (in *Input) EndImage() (MediaSource, bool) {
	return pickSource(in.EndImagePath, in.EndImageURL, in.EndImageBase64)
}

// Video returns the source of the optional driving video
func (in *Input) Video() (MediaSource, bool) {
	return pickSource(in.VideoPath, in.VideoURL, in.VideoBase64)
}

// Params applies the input over the defaults. Media paths are left empty, they
// are filled in once the inputs are materialized.
func (in *Input) Params() *workflow.Params {
	p := workflow.DefaultParams()

	if in.Prompt.Set {
		p.Prompt = in.Prompt.Text
	}
	p.NegativePrompt = in.NegativePrompt

	setInt(&p.Width, in.Width)
	setInt(&p.Height, in.Height)
	setInt(&p.Length, in.Length)
	setInt(&p.Steps, in.Steps)
	if in.Seed.Set {
		p.Seed = in.Seed.Int64()
	}
	if in.CFG.Set {
		p.CFG = in.CFG.Value
	}
	if in.Sampler != nil {
		p.Sampler, p.SamplerSet = *in.Sampler, true
	}
	if in.Scheduler != nil {
		p.Scheduler, p.SchedulerSet = *in.Scheduler, true
	}

	if in.ContextOverlap.Set {
		v := in.ContextOverlap.Int()
		p.ContextOverlap = &v
	}
	setInt(&p.ContextFrames, in.ContextFrames)
	setInt(&p.ContextStride, in.ContextStride)
	if in.Shift.Set {
		v := in.Shift.Value
		p.Shift = &v
	}
	if in.Megapixel.Set {
		p.Megapixel = in.Megapixel.Value
	}
	setInt(&p.OverlappingFrames, in.OverlappingFrames)

	p.FilenamePrefix = in.FilenamePrefix
	if in.FrameRate.Set {
		p.FrameRate = in.FrameRate.Value
	}
	if in.Format != "" {
		p.Format = in.Format
	}

	for _, lp := range in.LoraPairs {
		p.Loras = append(p.Loras, workflow.LoraPair{
			High:       lp.High,
			Low:        lp.Low,
			HighWeight: weightOr(lp.HighWeight, 1.0),
			LowWeight:  weightOr(lp.LowWeight, 1.0),
		})
	}

	p.UseSteadyDancer = in.UseSteadyDancer.Value
	if in.AlignTo != "" {
		p.AlignTo = in.AlignTo
	}
	if in.DrawFacePoints != "" {
		p.DrawFacePoints = in.DrawFacePoints
	}
	if in.DrawHead != "" {
		p.DrawHead = in.DrawHead
	}
	return p
}

// CheckPrompt logs a warning for every prompt line longer than MaxPromptLength
// and returns the number of lines
func CheckPrompt(logger *slog.Logger, p *workflow.Params) int {
	lines := PromptText{Text: p.Prompt}.Lines()
	if len(lines) > 1 {
		logger.Info("multi prompt mode", "prompts", len(lines), "frames_per_prompt", p.Length,
			"total_frames", p.Length*len(lines))
	}
	for i, line := range lines {
		if len(line) > MaxPromptLength {
			logger.Warn("prompt is longer than recommended and may exhaust GPU memory",
				"prompt", i+1, "length", len(line), "max", MaxPromptLength)
		}
	}
	return len(lines)
}

// LogValue keeps inline media out of the logs
func (in *Input) LogValue() slog.Value {
	attrs := []slog.Attr{}
	for _, src := range []struct {
		name string
		get  func() (MediaSource, bool)
	}{{"image", in.Image}, {"end_image", in.EndImage}, {"video", in.Video}} {
		s, ok := src.get()
		if !ok {
			continue
		}
		if s.Kind == SourceBase64 {
			attrs = append(attrs, slog.String(src.name, fmt.Sprintf("<base64 data, length: %d>", len(s.Value))))
		} else {
			attrs = append(attrs, slog.String(src.name, string(s.Kind)+":"+s.Value))
		}
	}
	if in.Prompt.Set {
		attrs = append(attrs, slog.Int("prompt_length", len(in.Prompt.Text)))
	}
	if in.Width.Set || in.Height.Set {
		attrs = append(attrs, slog.Float64("width", in.Width.Value), slog.Float64("height", in.Height.Value))
	}
	if in.Length.Set {
		attrs = append(attrs, slog.Float64("length", in.Length.Value))
	}
	if len(in.LoraPairs) > 0 {
		attrs = append(attrs, slog.Int("lora_pairs", len(in.LoraPairs)))
	}
	if in.UseSteadyDancer.Value {
		attrs = append(attrs, slog.Bool("use_steadydancer", true))
	}
	return slog.GroupValue(attrs...)
}

func setInt(dst *int, n Number) {
	if n.Set {
		*dst = n.Int()
	}
}

func weightOr(n Number, def float64) float64 {
	if n.Set {
		return n.Value
	}
	return def
}
