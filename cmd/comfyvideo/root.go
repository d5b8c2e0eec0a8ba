package main

import (
	"log/slog"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/richinsley/comfyvideo/config"
	"github.com/spf13/cobra"
)

const (
	configFileName = ".comfyvideo.yaml"
	envFileName    = ".env"
)

// app carries the flags shared by every command and the config they resolve to
type app struct {
	configFile string
	logLevel   string
	logFormat  string
	address    string
	port       int

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "comfyvideo",
		Short: "Generate videos with ComfyUI workflow templates",
		Long: `comfyvideo fills a Wan video workflow template with the parameters of a job,
runs it on a ComfyUI server and returns the produced video as base64.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default is $HOME/"+configFileName+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&a.address, "address", "", "ComfyUI server address")
	flags.IntVar(&a.port, "port", 0, "ComfyUI server port")

	cmd.AddCommand(newRunCmd(a), newHealthcheckCmd(a))
	return cmd
}

// load resolves the configuration and installs the default logger
func (a *app) load(cmd *cobra.Command, args []string) error {
	opts := config.Options{EnvFile: envFileName}
	if a.configFile != "" {
		path, err := homedir.Expand(a.configFile)
		if err != nil {
			return err
		}
		opts.File = path
		opts.Required = true
	} else if home, err := homedir.Dir(); err == nil {
		opts.File = filepath.Join(home, configFileName)
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("address") {
		cfg.Server.Address = a.address
	}
	if flags.Changed("port") {
		cfg.Server.Port = a.port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(newLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()))
	a.cfg = cfg
	return nil
}
