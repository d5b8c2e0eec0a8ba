package client

import (
	"strings"

	"github.com/richinsley/comfyvideo/errdefs"
)

// markers matched verbatim; "OOM" would match too many words if folded
var resourceMarkers = []string{"OutOfMemoryError", "OOM"}

// markers matched case-insensitively
var resourceMarkersFold = []string{"allocation", "out of memory"}

// ResourceHints are attached to every resource exhaustion failure
var ResourceHints = []string{
	"reduce width/height",
	"reduce length (frame count)",
	"shorten the prompt",
	"lower batch_size if the template exposes it",
}

// IsResourceExhaustion reports whether an engine error message describes the
// device running out of memory.
func IsResourceExhaustion(msg string) bool {
	for _, m := range resourceMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	lower := strings.ToLower(msg)
	for _, m := range resourceMarkersFold {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ClassifyExecutionError turns an engine error message into an ErrResourceExhausted
// or ErrExecution error.
func ClassifyExecutionError(msg string) error {
	if IsResourceExhaustion(msg) {
		return errdefs.ResourceExhaustedf("GPU out of memory (OOM): %s", msg).WithHints(ResourceHints...)
	}
	return errdefs.Executionf("ComfyUI execution error: %s", msg)
}

// CheckHistory inspects a finished prompt's record. The record's own error wins;
// errors item saw on the websocket only explain a record without outputs.
func CheckHistory(record *HistoryRecord, item *QueueItem) error {
	if record.Error != nil && record.Error.Message != "" {
		return ClassifyExecutionError(record.Error.Message)
	}
	if msg, failed := record.Status.ExecutionError(); failed {
		if msg == "" {
			msg = lastReported(item)
		}
		if msg == "" {
			msg = "execution failed"
		}
		return ClassifyExecutionError(msg)
	}
	if record.Outputs == nil {
		if msg := lastReported(item); msg != "" {
			return ClassifyExecutionError(msg)
		}
		return errdefs.OutputMissingf("No outputs found in execution history")
	}
	return nil
}

func lastReported(item *QueueItem) string {
	last := item.LastError()
	if last == nil {
		return ""
	}
	if last.ExceptionType != "" {
		return last.ExceptionType + ": " + last.ExceptionMessage
	}
	return last.ExceptionMessage
}
