package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/richinsley/comfyvideo/job"
	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("worker is unhealthy")

func newHealthcheckCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check the ComfyUI server, workflow templates and model files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.cfg.JobOptions()
			if err != nil {
				return err
			}
			runner, err := job.NewRunner(opts)
			if err != nil {
				return err
			}

			report := runner.HealthCheck(cmd.Context(), a.cfg.Models.HealthFiles)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printReport(cmd.OutOrStdout(), report)
			}

			if !report.Healthy {
				return errUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, report *job.HealthReport) {
	for _, c := range report.Checks {
		status := "ok"
		if !c.OK {
			status = "FAIL"
		}
		fmt.Fprintf(w, "[%s] %s", status, c.Name)
		if c.Detail != "" {
			fmt.Fprintf(w, ": %s", c.Detail)
		}
		fmt.Fprintln(w)
	}

	if len(report.Devices) > 0 {
		fmt.Fprintln(w, "Devices:")
		for _, dev := range report.Devices {
			fmt.Fprintf(w, "\tIndex: %d\n", dev.Index)
			fmt.Fprintf(w, "\tName: %s\n", dev.Name)
			fmt.Fprintf(w, "\tType: %s\n", dev.Type)
			fmt.Fprintf(w, "\tVRAM Total: %d MB\n", dev.VRAM_Total>>20)
			fmt.Fprintf(w, "\tVRAM Free: %d MB\n", dev.VRAM_Free>>20)
		}
	}

	if report.Healthy {
		fmt.Fprintln(w, "healthy")
	} else {
		fmt.Fprintln(w, "unhealthy")
	}
}
