package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/graphapi"
)

// MessageHandlers defines optional callback functions for handling different message types
// from a QueueItem. All handlers are optional - only provide handlers for the messages you care about.
type MessageHandlers struct {
	// OnStarted is called when execution begins
	OnStarted func(*PromptMessageStarted)

	// OnExecuting is called when a node starts executing
	OnExecuting func(*PromptMessageExecuting)

	// OnProgress is called with progress updates during node execution
	OnProgress func(*PromptMessageProgress)

	// OnData is called when output data is available
	OnData func(*PromptMessageData)

	// OnError is called for every execution error. Waiting continues until the
	// server signals completion.
	OnError func(*PromptMessageStoppedException)

	// OnStopped is called once the server signals completion
	OnStopped func(*PromptMessageStopped)

	// OnComplete is called after the message loop exits, regardless of success or failure
	OnComplete func()
}

// DefaultMessageHandlers returns MessageHandlers that log started, executing,
// error and stopped messages. Progress is left to the caller.
func DefaultMessageHandlers() *MessageHandlers {
	return &MessageHandlers{
		OnStarted: func(msg *PromptMessageStarted) {
			slog.Info("Execution started", "prompt_id", msg.PromptID)
		},
		OnExecuting: func(msg *PromptMessageExecuting) {
			slog.Info("Executing node", "node_id", msg.NodeID, "title", msg.Title)
		},
		OnError: func(err *PromptMessageStoppedException) {
			attrs := []any{
				"node_id", err.NodeID,
				"node_type", err.NodeType,
				"error", err.ExceptionMessage,
			}
			if IsResourceExhaustion(err.ExceptionType + " " + err.ExceptionMessage) {
				attrs = append(attrs, "out_of_memory", true)
			}
			slog.Error("Execution error", attrs...)
		},
		OnStopped: func(msg *PromptMessageStopped) {
			if len(msg.Exceptions) == 0 {
				slog.Info("Execution completed")
			} else {
				slog.Warn("Execution completed with errors", "errors", len(msg.Exceptions))
			}
		},
	}
}

// WithStartedHandler adds a started handler (builder pattern)
func (h *MessageHandlers) WithStartedHandler(fn func(*PromptMessageStarted)) *MessageHandlers {
	h.OnStarted = fn
	return h
}

// WithExecutingHandler adds an executing handler (builder pattern)
func (h *MessageHandlers) WithExecutingHandler(fn func(*PromptMessageExecuting)) *MessageHandlers {
	h.OnExecuting = fn
	return h
}

// WithProgressHandler adds a progress handler (builder pattern)
func (h *MessageHandlers) WithProgressHandler(fn func(*PromptMessageProgress)) *MessageHandlers {
	h.OnProgress = fn
	return h
}

// WithDataHandler adds a data handler (builder pattern)
func (h *MessageHandlers) WithDataHandler(fn func(*PromptMessageData)) *MessageHandlers {
	h.OnData = fn
	return h
}

// WithErrorHandler adds an error handler (builder pattern)
func (h *MessageHandlers) WithErrorHandler(fn func(*PromptMessageStoppedException)) *MessageHandlers {
	h.OnError = fn
	return h
}

// WithStoppedHandler adds a stopped handler (builder pattern)
func (h *MessageHandlers) WithStoppedHandler(fn func(*PromptMessageStopped)) *MessageHandlers {
	h.OnStopped = fn
	return h
}

// WithCompleteHandler adds a complete handler (builder pattern)
func (h *MessageHandlers) WithCompleteHandler(fn func()) *MessageHandlers {
	h.OnComplete = fn
	return h
}

// ProcessMessages reads the notification channel until the server signals that qi
// is done. Execution errors are recorded on qi and do not end the wait. A channel
// that closes first is a connectivity failure.
func (c *ComfyClient) ProcessMessages(src MessageSource, qi *QueueItem, handlers *MessageHandlers) (*PromptMessageStopped, error) {
	if handlers == nil {
		handlers = &MessageHandlers{}
	}

	// Ensure OnComplete is called when we exit
	if handlers.OnComplete != nil {
		defer handlers.OnComplete()
	}

	for {
		raw, err := src.ReadMessage()
		if err != nil {
			return nil, errdefs.Wrap(errdefs.ErrConnectivity, err,
				fmt.Sprintf("notification channel closed before prompt %s completed", qi.PromptID))
		}

		for _, msg := range c.OnWindowSocketMessage(raw, qi) {
			switch msg.Type {
			case "started":
				if handlers.OnStarted != nil {
					handlers.OnStarted(msg.ToPromptMessageStarted())
				}
			case "executing":
				if handlers.OnExecuting != nil {
					handlers.OnExecuting(msg.ToPromptMessageExecuting())
				}
			case "progress":
				if handlers.OnProgress != nil {
					handlers.OnProgress(msg.ToPromptMessageProgress())
				}
			case "data":
				if handlers.OnData != nil {
					handlers.OnData(msg.ToPromptMessageData())
				}
			case "error":
				if handlers.OnError != nil {
					handlers.OnError(msg.ToPromptMessageStoppedException())
				}
			case "stopped":
				stopped := msg.ToPromptMessageStopped()
				if handlers.OnStopped != nil {
					handlers.OnStopped(stopped)
				}
				return stopped, nil
			default:
				slog.Warn("Unknown message type received", "type", msg.Type)
			}
		}
	}
}

// Execute queues a prompt, waits for the completion signal on src and returns the
// checked execution record. src must already be connected so no notification for
// the new prompt is missed.
//
// Example:
//
//	ws, err := c.Connect(ctx, client.DefaultBootstrapConfig())
//	...
//	record, err := c.Execute(ctx, ws, nodes, client.DefaultMessageHandlers())
func (c *ComfyClient) Execute(ctx context.Context, src MessageSource, nodes graphapi.ResolvedGraph, handlers *MessageHandlers) (*HistoryRecord, error) {
	item, err := c.QueuePrompt(ctx, nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}

	if _, err := c.ProcessMessages(src, item, handlers); err != nil {
		return nil, err
	}

	record, err := c.GetHistory(ctx, item.PromptID)
	if err != nil {
		return nil, err
	}
	if err := CheckHistory(record, item); err != nil {
		return nil, err
	}
	return record, nil
}
