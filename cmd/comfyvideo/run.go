package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/job"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var errJobFailed = errors.New("job failed")

func newRunCmd(a *app) *cobra.Command {
	var (
		progress bool
		output   string
	)
	cmd := &cobra.Command{
		Use:   "run <job.json|->",
		Short: "Run one job and print its result as JSON",
		Long: `Run reads a job from a JSON file, or from stdin when the argument is "-",
and prints {"video": "<base64>"} or {"error": "<message>"}.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readJob(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			opts, err := a.cfg.JobOptions()
			if err != nil {
				return err
			}
			if progress {
				opts.Handlers = progressHandlers(cmd.ErrOrStderr())
			}
			runner, err := job.NewRunner(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res := runner.Handle(ctx, raw)

			if res.Error == "" && output != "" {
				if err := writeVideo(output, res.Video); err != nil {
					return err
				}
			}

			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(res); err != nil {
				return err
			}
			if res.Error != "" {
				return errJobFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&progress, "progress", false, "show a progress bar for each executing node")
	cmd.Flags().StringVarP(&output, "output", "o", "", "also write the decoded video to this file")
	return cmd
}

func readJob(stdin io.Reader, arg string) ([]byte, error) {
	if arg == "-" {
		return io.ReadAll(stdin)
	}
	path, err := homedir.Expand(arg)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func writeVideo(path, video string) error {
	data, err := base64.StdEncoding.DecodeString(video)
	if err != nil {
		return fmt.Errorf("cannot decode video: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	slog.Info("wrote video", "path", path, "bytes", len(data))
	return nil
}

// progressHandlers adds a progress bar per executing node to the default handlers
func progressHandlers(w io.Writer) func(*slog.Logger) *client.MessageHandlers {
	return func(logger *slog.Logger) *client.MessageHandlers {
		var bar *progressbar.ProgressBar
		var currentNodeTitle string

		return client.DefaultMessageHandlers().
			WithExecutingHandler(func(msg *client.PromptMessageExecuting) {
				bar = nil // new node, new bar
				currentNodeTitle = msg.Title
				logger.Debug("executing node", "node_id", msg.NodeID, "title", msg.Title)
			}).
			WithProgressHandler(func(msg *client.PromptMessageProgress) {
				if bar == nil {
					bar = progressbar.NewOptions(msg.Max,
						progressbar.OptionSetWriter(w),
						progressbar.OptionSetDescription(currentNodeTitle),
						progressbar.OptionShowCount(),
						progressbar.OptionShowIts(),
						progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
					)
				}
				if err := bar.Set(msg.Value); err != nil {
					logger.Debug("cannot update progress bar", "node_id", msg.NodeID, "error", err)
				}
			})
	}
}
