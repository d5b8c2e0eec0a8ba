package workflow

import (
	"math"
)

const (
	DefaultSteps     = 4
	DefaultSeed      = 42
	DefaultCFG       = 1.0
	DefaultSampler   = "euler_a"
	DefaultScheduler = "beta"
	DefaultPrompt    = "running man, grab the gun"
	DefaultWidth     = 480
	DefaultHeight    = 832
	DefaultLength    = 81
	DefaultFormat    = "video/h264-mp4"

	// MaxLoraPairs is the number of LoRA slots the standard template exposes
	MaxLoraPairs = 4
)

// LoraPair is a LoRA applied to the high and low noise models
type LoraPair struct {
	High       string
	Low        string
	HighWeight float64
	LowWeight  float64
}

// Params are the normalized job parameters applied to a template. Paths refer to
// files the engine can read. Zero values of optional fields mean the template's
// own default applies.
type Params struct {
	ImagePath    string
	EndImagePath string
	VideoPath    string

	Prompt         string
	NegativePrompt string

	Width  int
	Height int
	Length int

	Steps     int
	Seed      int64
	CFG       float64
	Sampler   string
	Scheduler string
	// SamplerSet and SchedulerSet report whether the job chose them explicitly
	SamplerSet   bool
	SchedulerSet bool

	ContextOverlap *int
	ContextFrames  int
	ContextStride  int
	Shift          *float64

	Megapixel         float64
	OverlappingFrames int

	FilenamePrefix string
	FrameRate      float64
	Format         string

	Loras []LoraPair

	UseSteadyDancer bool
	AlignTo         string
	DrawFacePoints  string
	DrawHead        string
}

// DefaultParams returns the parameters of a job that sets nothing
func DefaultParams() *Params {
	return &Params{
		Prompt:            DefaultPrompt,
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		Length:            DefaultLength,
		Steps:             DefaultSteps,
		Seed:              DefaultSeed,
		CFG:               DefaultCFG,
		Sampler:           DefaultSampler,
		Scheduler:         DefaultScheduler,
		ContextFrames:     81,
		ContextStride:     4,
		Megapixel:         0.5,
		OverlappingFrames: 1,
		Format:            DefaultFormat,
		AlignTo:           "ref",
		DrawFacePoints:    "weak",
		DrawHead:          "full",
	}
}

// Size returns width and height rounded to the engine's latent grid
func (p *Params) Size() (int, int) {
	return RoundToMultipleOf16(p.Width), RoundToMultipleOf16(p.Height)
}

// ShiftOr returns the job's shift, or def when the job does not set one
func (p *Params) ShiftOr(def float64) float64 {
	if p.Shift != nil {
		return *p.Shift
	}
	return def
}

// PrefixOr returns the job's filename prefix, or def
func (p *Params) PrefixOr(def string) string {
	if p.FilenamePrefix != "" {
		return p.FilenamePrefix
	}
	return def
}

// FrameRateOr returns the job's frame rate, or def
func (p *Params) FrameRateOr(def float64) float64 {
	if p.FrameRate > 0 {
		return p.FrameRate
	}
	return def
}

// FormatOr returns the job's output format, or def
func (p *Params) FormatOr(def string) string {
	if p.Format != "" {
		return p.Format
	}
	return def
}

// RoundToMultipleOf16 returns the multiple of 16 nearest to v, never less than 16.
// Ties round to the even multiple.
func RoundToMultipleOf16(v int) int {
	r := int(math.RoundToEven(float64(v)/16.0)) * 16
	if r < 16 {
		return 16
	}
	return r
}

// ContextOverlap returns the context window overlap for a sequence of length
// frames. A supplied overlap is capped below the length; otherwise short
// sequences get none and long ones get 60% of the length, at most 48.
func ContextOverlap(supplied *int, length int) int {
	if supplied != nil {
		if length <= 1 {
			return 0
		}
		return min(*supplied, length-1)
	}
	if length < 50 {
		return min(0, max(1, int(float64(length)*0.3)))
	}
	return min(48, max(0, int(float64(length)*0.6)))
}
