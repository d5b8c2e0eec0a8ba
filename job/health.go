package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfyvideo/client"
	"github.com/richinsley/comfyvideo/workflow"
)

// Check is the outcome of one health check
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the result of HealthCheck. Healthy is false when any check failed.
type HealthReport struct {
	Healthy bool         `json:"healthy"`
	Checks  []Check      `json:"checks"`
	Devices []client.GPU `json:"devices,omitempty"`
}

func (h *HealthReport) add(name string, ok bool, format string, args ...any) {
	h.Checks = append(h.Checks, Check{Name: name, OK: ok, Detail: fmt.Sprintf(format, args...)})
	if !ok {
		h.Healthy = false
	}
}

// HealthCheck verifies that the engine answers, that its node catalog has a model
// loader, and that the template and model files are present
func (r *Runner) HealthCheck(ctx context.Context, modelFiles []string) *HealthReport {
	report := &HealthReport{Healthy: true}
	c := r.newClient()

	timeout := r.opts.Bootstrap.ProbeTimeout
	pctx, cancel := context.WithTimeout(ctx, timeout)
	err := c.Ping(pctx)
	cancel()
	if err != nil {
		report.add("comfyui", false, "not reachable at %s: %v", c.BaseAddress(), err)
	} else {
		report.add("comfyui", true, "reachable at %s", c.BaseAddress())
	}

	if err == nil {
		objects, err := c.GetObjectInfos(ctx)
		switch {
		case err != nil:
			report.add("node_catalog", false, "cannot read object_info: %v", err)
		case objects.GetNodeObjectByName(workflow.VideoModelLoader) != nil,
			objects.GetNodeObjectByName(workflow.CheckpointLoader) != nil:
			report.add("node_catalog", true, "%d node types", len(objects.Objects))
		default:
			report.add("node_catalog", false, "neither %s nor %s is installed", workflow.VideoModelLoader, workflow.CheckpointLoader)
		}
	} else {
		report.add("node_catalog", false, "skipped, engine not reachable")
	}

	for _, file := range r.opts.Manifest.Files() {
		if _, err := os.Stat(file); err != nil {
			report.add("workflow "+file, false, "missing")
		} else {
			report.add("workflow "+file, true, "present")
		}
	}

	for _, model := range modelFiles {
		fi, err := os.Stat(model)
		if err != nil {
			report.add("model "+filepath.Base(model), false, "missing: %s", model)
			continue
		}
		report.add("model "+filepath.Base(model), true, "%.1f MB", float64(fi.Size())/(1024*1024))
	}

	stats, err := c.GetSystemStats(ctx)
	if err != nil {
		report.add("system_stats", false, "cannot read system stats: %v", err)
		return report
	}
	report.Devices = stats.Devices
	names := make([]string, 0, len(stats.Devices))
	for _, d := range stats.Devices {
		names = append(names, fmt.Sprintf("%s (%d MB free of %d MB)", d.Name, d.VRAM_Free>>20, d.VRAM_Total>>20))
	}
	if len(names) == 0 {
		names = append(names, "no devices")
	}
	report.add("system_stats", true, "%s", strings.Join(names, ", "))
	return report
}
