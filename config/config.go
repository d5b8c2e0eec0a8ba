// Package config loads the runtime settings of comfyvideo. Values are layered:
// built-in defaults, then an optional YAML file, then a .env file and the
// process environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/job"
	"github.com/richinsley/comfyvideo/workflow"
	"gopkg.in/yaml.v3"
)

// Config holds every setting. Environment variables are named after the section
// and the field, e.g. SERVER_ADDRESS, BOOTSTRAP_PROBE_ATTEMPTS, WORKFLOWS_MEGA,
// JOB_SCRATCH_ROOT, MODELS_SEARCH_DIRS (comma separated) and LOG_LEVEL.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Bootstrap BootstrapConfig `yaml:"bootstrap" envconfig:"BOOTSTRAP"`
	Workflows WorkflowsConfig `yaml:"workflows" envconfig:"WORKFLOWS"`
	Jobs      JobsConfig      `yaml:"jobs" envconfig:"JOB"`
	Models    ModelsConfig    `yaml:"models" envconfig:"MODELS"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	TLS     bool   `yaml:"tls"`
}

// BootstrapConfig bounds the connection retries made by every job
type BootstrapConfig struct {
	ProbeAttempts   int           `yaml:"probe_attempts" split_words:"true"`
	ProbeInterval   time.Duration `yaml:"probe_interval" split_words:"true"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout" split_words:"true"`
	ChannelAttempts int           `yaml:"channel_attempts" split_words:"true"`
	ChannelInterval time.Duration `yaml:"channel_interval" split_words:"true"`
}

// WorkflowsConfig overrides the template files of the embedded manifest.
// Empty values keep the manifest's paths.
type WorkflowsConfig struct {
	Standard         string `yaml:"standard"`
	StandardEndImage string `yaml:"standard_end_image" split_words:"true"`
	Mega             string `yaml:"mega"`
	SteadyDancer     string `yaml:"steadydancer"`
}

type JobsConfig struct {
	ScratchRoot  string `yaml:"scratch_root" split_words:"true"`
	DefaultImage string `yaml:"default_image" split_words:"true"`
	KeepScratch  bool   `yaml:"keep_scratch" split_words:"true"`
	UploadInputs bool   `yaml:"upload_inputs" split_words:"true"`
}

type ModelsConfig struct {
	SearchDirs    []string `yaml:"search_dirs" split_words:"true"`
	CheckpointDir string   `yaml:"checkpoint_dir" split_words:"true"`
	DefaultMega   string   `yaml:"default_mega" split_words:"true"`
	// HealthFiles are the model files the health check expects to find
	HealthFiles []string `yaml:"health_files" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the settings of the stock worker image
func Default() *Config {
	bootstrap := client.DefaultBootstrapConfig()
	return &Config{
		Server: ServerConfig{
			Address: "127.0.0.1",
			Port:    8188,
		},
		Bootstrap: BootstrapConfig{
			ProbeAttempts:   bootstrap.ProbeAttempts,
			ProbeInterval:   bootstrap.ProbeInterval,
			ProbeTimeout:    bootstrap.ProbeTimeout,
			ChannelAttempts: bootstrap.ChannelAttempts,
			ChannelInterval: bootstrap.ChannelInterval,
		},
		Jobs: JobsConfig{
			ScratchRoot:  ".",
			DefaultImage: "/example_image.png",
		},
		Models: ModelsConfig{
			SearchDirs: []string{
				"/ComfyUI/models/diffusion_models",
				"/workspace/models",
			},
			CheckpointDir: "/ComfyUI/models/checkpoints",
			DefaultMega:   workflow.DefaultMegaModel,
			HealthFiles: []string{
				"/ComfyUI/models/diffusion_models/Wan21_I2V_SteadyDancer_fp16-Q5_K_M_fix_5d_tensor.gguf",
				"/ComfyUI/models/vae/Wan2_1_VAE_bf16.safetensors",
				"/ComfyUI/models/text_encoders/umt5-xxl-enc-bf16.safetensors",
				"/ComfyUI/models/clip_vision/" + workflow.SteadyDancerClipVision,
				"/ComfyUI/models/onnx/vitpose_h_wholebody_model.onnx",
				"/ComfyUI/models/onnx/yolov10m.onnx",
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Options select the sources Load reads
type Options struct {
	// File is a YAML config file. A missing file is only an error when Required is set.
	File     string
	Required bool
	// EnvFile is a dotenv file loaded into the environment when present.
	// Variables already set in the environment win.
	EnvFile string
}

// Load builds a Config from defaults, the YAML file and the environment
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		switch {
		case err == nil:
			if err := decodeYAML(data, cfg); err != nil {
				return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, fmt.Sprintf("invalid config file %s", opts.File))
			}
		case errors.Is(err, fs.ErrNotExist) && !opts.Required:
		default:
			return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot read config file")
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, fmt.Sprintf("invalid env file %s", opts.EnvFile))
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "error processing environment configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// Validate reports the first setting that cannot work
func (c *Config) Validate() error {
	switch {
	case c.Server.Address == "":
		return errdefs.Configurationf("server address is empty")
	case c.Server.Port < 1 || c.Server.Port > 65535:
		return errdefs.Configurationf("server port %d out of range", c.Server.Port)
	case c.Bootstrap.ProbeAttempts < 1 || c.Bootstrap.ChannelAttempts < 1:
		return errdefs.Configurationf("bootstrap attempts must be at least 1")
	case c.Bootstrap.ProbeTimeout <= 0:
		return errdefs.Configurationf("bootstrap probe timeout must be positive")
	case c.Bootstrap.ProbeInterval < 0 || c.Bootstrap.ChannelInterval < 0:
		return errdefs.Configurationf("bootstrap intervals must not be negative")
	case !oneOf(c.Log.Level, logLevels):
		return errdefs.Configurationf("unknown log level %q, want one of %s", c.Log.Level, strings.Join(logLevels, ", "))
	case !oneOf(c.Log.Format, logFormats):
		return errdefs.Configurationf("unknown log format %q, want one of %s", c.Log.Format, strings.Join(logFormats, ", "))
	}
	return nil
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if strings.EqualFold(v, o) {
			return true
		}
	}
	return false
}

// ClientBootstrap converts the bootstrap settings for the client package
func (c *Config) ClientBootstrap() client.BootstrapConfig {
	return client.BootstrapConfig{
		ProbeAttempts:   c.Bootstrap.ProbeAttempts,
		ProbeInterval:   c.Bootstrap.ProbeInterval,
		ProbeTimeout:    c.Bootstrap.ProbeTimeout,
		ChannelAttempts: c.Bootstrap.ChannelAttempts,
		ChannelInterval: c.Bootstrap.ChannelInterval,
	}
}

// Manifest returns the embedded template manifest with the configured file overrides
func (c *Config) Manifest() (*workflow.Manifest, error) {
	m, err := workflow.LoadManifest()
	if err != nil {
		return nil, err
	}
	overrides := []struct {
		kind      workflow.Kind
		file, end string
	}{
		{workflow.Standard, c.Workflows.Standard, c.Workflows.StandardEndImage},
		{workflow.Mega, c.Workflows.Mega, ""},
		{workflow.SteadyDancer, c.Workflows.SteadyDancer, ""},
	}
	for _, o := range overrides {
		if err := m.SetFiles(o.kind, o.file, o.end); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// JobOptions returns runner options for the configured engine and filesystem
func (c *Config) JobOptions() (job.Options, error) {
	m, err := c.Manifest()
	if err != nil {
		return job.Options{}, err
	}
	return job.Options{
		Address:          c.Server.Address,
		Port:             c.Server.Port,
		TLS:              c.Server.TLS,
		Bootstrap:        c.ClientBootstrap(),
		ScratchRoot:      c.Jobs.ScratchRoot,
		KeepScratch:      c.Jobs.KeepScratch,
		DefaultImage:     c.Jobs.DefaultImage,
		DefaultMegaModel: c.Models.DefaultMega,
		UploadInputs:     c.Jobs.UploadInputs,
		Manifest:         m,
		Placer: &job.SymlinkPlacer{
			SearchDirs:    c.Models.SearchDirs,
			CheckpointDir: c.Models.CheckpointDir,
		},
	}, nil
}
