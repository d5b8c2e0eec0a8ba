package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/richinsley/comfyvideo/graphapi"
)

type WSStatusMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"Data"`
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous type equivalent to StatusMessage
	// to avoid infinite recursion
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type

	// Determine the type of Data and unmarshal it accordingly
	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "execution_start":
		sm.Data = &WSMessageDataExecutionStart{}
	case "execution_cached":
		sm.Data = &WSMessageDataExecutionCached{}
	case "executing":
		sm.Data = &WSMessageDataExecuting{}
	case "progress":
		sm.Data = &WSMessageDataProgress{}
	case "executed":
		sm.Data = &WSMessageDataExecuted{}
	case "execution_interrupted":
		sm.Data = &WSMessageExecutionInterrupted{}
	case "execution_error":
		sm.Data = &WSMessageExecutionError{}
	default:
		sm.Data = nil
	}

	if sm.Data != nil && len(temp.Data) > 0 {
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return fmt.Errorf("%s message: %w", sm.Type, err)
		}
	}

	return nil
}

type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/

type WSMessageDataExecutionStart struct {
	PromptID string `json:"prompt_id"`
}

type WSMessageDataExecutionCached struct {
	Nodes    []interface{} `json:"nodes"`
	PromptID string        `json:"prompt_id"`
}

// WSMessageDataExecuting names the node being run. A nil Node is the completion signal.
type WSMessageDataExecuting struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

func (mde *WSMessageDataExecuting) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node     json.RawMessage `json:"node"`
		PromptID string          `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	mde.PromptID = temp.PromptID
	mde.Node = nil
	if raw := bytes.TrimSpace(temp.Node); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var id graphapi.NodeID
		if err := json.Unmarshal(raw, &id); err != nil {
			return err
		}
		s := id.String()
		mde.Node = &s
	}
	return nil
}

/*
{"type": "executing", "data": {"node": "12", "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
{"type": "executing", "data": {"node": null, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/

type WSMessageDataProgress struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	PromptID string `json:"prompt_id"`
	Node     string `json:"node"`
}

/*
{"type": "progress", "data": {"value": 1, "max": 20, "prompt_id": "ed98...", "node": "3"}}
*/

type WSMessageDataExecuted struct {
	Node     string                   `json:"node"`
	Output   map[string]*[]DataOutput `json:"output"`
	PromptID string                   `json:"prompt_id"`
}

func (mde *WSMessageDataExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node      graphapi.NodeID        `json:"node"`
		OutputRaw map[string]interface{} `json:"output"`
		PromptID  string                 `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	mde.Output = make(map[string]*[]DataOutput)
	for k, v := range temp.OutputRaw {
		val, ok := v.([]interface{})
		if !ok {
			continue
		}
		entries := make([]DataOutput, 0, len(val))
		for _, i := range val {
			switch item := i.(type) {
			case map[string]interface{}:
				entry, ok := dataOutputFromMap(item)
				if !ok {
					slog.Warn("WSMessageDataExecuted output entry has no filename", "key", k)
					continue
				}
				entries = append(entries, entry)
			case string:
				// handle raw text output
				entries = append(entries, DataOutput{Type: "text", Text: item})
			default:
				entries = append(entries, DataOutput{Type: "unknown", Text: fmt.Sprint(item)})
			}
		}
		mde.Output[k] = &entries
	}

	mde.PromptID = temp.PromptID
	mde.Node = temp.Node.String()
	return nil
}

/*
{"type": "executed", "data": {"node": "83", "output": {"gifs": [{"filename": "WanVideoWrapper_SteadyDancer_00001.mp4", "subfolder": "", "type": "output", "format": "video/h264-mp4"}]}, "prompt_id": "3bcf5bac-19e1-4219-a0eb-50a84e4db2ea"}}
*/

type WSMessageExecutionInterrupted struct {
	PromptID string   `json:"prompt_id"`
	Node     string   `json:"node_id"`
	NodeType string   `json:"node_type"`
	Executed []string `json:"executed"`
}

type WSMessageExecutionError struct {
	PromptID         string                 `json:"prompt_id"`
	Node             string                 `json:"node_id"`
	NodeType         string                 `json:"node_type"`
	Executed         []string               `json:"executed"`
	ExceptionMessage string                 `json:"exception_message"`
	ExceptionType    string                 `json:"exception_type"`
	Traceback        []string               `json:"traceback"`
	CurrentInputs    map[string]interface{} `json:"current_inputs"`
}

/*
{"type": "execution_error", "data": {"prompt_id": "dc70...", "node_id": "63", "node_type": "WanVideoImageToVideoEncode", "exception_message": "Allocation on device", "exception_type": "torch.OutOfMemoryError", "traceback": ["..."]}}
*/
