package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DataOutput is a single output entry of a node: a file known to the server by
// filename, subfolder and type, or an inline text value.
type DataOutput struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
	Format    string `json:"format,omitempty"`
	FullPath  string `json:"fullpath,omitempty"` // local path, reported by some video nodes
	Text      string `json:"-"`                  // for "text" type data output
}

func dataOutputFromMap(m map[string]interface{}) (DataOutput, bool) {
	entry := DataOutput{}
	entry.Filename, _ = m["filename"].(string)
	entry.FullPath, _ = m["fullpath"].(string)
	if entry.Filename == "" && entry.FullPath == "" {
		return entry, false
	}
	entry.Subfolder, _ = m["subfolder"].(string)
	entry.Type, _ = m["type"].(string)
	entry.Format, _ = m["format"].(string)
	return entry, true
}

type SystemStats struct {
	System  System `json:"system"`
	Devices []GPU  `json:"devices"`
}

type System struct {
	OS             string `json:"os"`
	PythonVersion  string `json:"python_version"`
	EmbeddedPython bool   `json:"embedded_python"`
	ComfyUIVersion string `json:"comfyui_version"`
}

type GPU struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	Index            int    `json:"index"`
	VRAM_Total       int64  `json:"vram_total"`
	VRAM_Free        int64  `json:"vram_free"`
	Torch_VRAM_Total int64  `json:"torch_vram_total"`
	Torch_VRAM_Free  int64  `json:"torch_vram_free"`
}

type PromptError struct {
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details"`
	ExtraInfo map[string]interface{} `json:"extra_info"`
}

// UnmarshalJSON accepts the structured error object as well as a bare message
// string such as {"error": "no prompt"}.
func (p *PromptError) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = PromptError{Message: s}
		return nil
	}
	type promptError PromptError
	var obj promptError
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*p = PromptError(obj)
	return nil
}

// PromptErrorMessage is the body of a rejected /prompt request
//
//	{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", "details": "", "extra_info": {}},
//	 "node_errors": {}}
//
// Some rejections carry a plain string instead: {"error": "no prompt", "node_errors": []}.
type PromptErrorMessage struct {
	Error      *PromptError    `json:"error"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// FailedNodes returns the ids listed in node_errors, sorted
func (p *PromptErrorMessage) FailedNodes() []string {
	var byNode map[string]json.RawMessage
	if len(p.NodeErrors) == 0 || json.Unmarshal(p.NodeErrors, &byNode) != nil {
		return nil
	}
	retv := make([]string, 0, len(byNode))
	for id := range byNode {
		retv = append(retv, id)
	}
	sort.Strings(retv)
	return retv
}

func (p *PromptErrorMessage) String() string {
	msg := "prompt rejected"
	if p.Error != nil && p.Error.Message != "" {
		msg = p.Error.Message
		if p.Error.Details != "" {
			msg += ": " + p.Error.Details
		}
	}
	if nodes := p.FailedNodes(); len(nodes) > 0 {
		msg += fmt.Sprintf(" (nodes %s)", strings.Join(nodes, ", "))
	}
	return msg
}

// HistoryError is the error attached to a history record, sent either as an
// object with a message or as a bare string.
type HistoryError struct {
	Message string
	Raw     json.RawMessage
}

func (h *HistoryError) UnmarshalJSON(b []byte) error {
	h.Raw = append(json.RawMessage(nil), b...)
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		h.Message = s
		return nil
	}
	var obj struct {
		Message          string `json:"message"`
		ExceptionMessage string `json:"exception_message"`
	}
	if err := json.Unmarshal(b, &obj); err == nil && (obj.Message != "" || obj.ExceptionMessage != "") {
		h.Message = obj.Message
		if h.Message == "" {
			h.Message = obj.ExceptionMessage
		}
		return nil
	}
	h.Message = string(bytes.TrimSpace(b))
	return nil
}

type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages"`
}

// ExecutionError returns the execution_error message recorded in the status, if any
func (s *HistoryStatus) ExecutionError() (string, bool) {
	if s == nil {
		return "", false
	}
	for _, raw := range s.Messages {
		// each message is a [type, data] pair
		var pair []json.RawMessage
		if json.Unmarshal(raw, &pair) != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if json.Unmarshal(pair[0], &kind) != nil || kind != "execution_error" {
			continue
		}
		var data WSMessageExecutionError
		if json.Unmarshal(pair[1], &data) != nil {
			continue
		}
		msg := data.ExceptionMessage
		if data.ExceptionType != "" {
			msg = data.ExceptionType + ": " + msg
		}
		return msg, true
	}
	return "", s.StatusStr == "error"
}

// NodeOutput holds the output collections of one node keyed by collection name
type NodeOutput map[string]json.RawMessage

// Entries decodes the file entries of the collection named key
func (n NodeOutput) Entries(key string) []DataOutput {
	raw, ok := n[key]
	if !ok {
		return nil
	}
	var items []interface{}
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	retv := make([]DataOutput, 0, len(items))
	for _, i := range items {
		if m, ok := i.(map[string]interface{}); ok {
			if entry, ok := dataOutputFromMap(m); ok {
				retv = append(retv, entry)
			}
		}
	}
	return retv
}

// HistoryRecord is the execution record of one prompt from /history/{prompt_id}
type HistoryRecord struct {
	PromptID string
	// Outputs is nil when the record has no outputs key at all
	Outputs map[string]NodeOutput
	// OutputOrder lists the output node ids in the order the server sent them
	OutputOrder []string
	Status      *HistoryStatus
	Error       *HistoryError
}

func (h *HistoryRecord) UnmarshalJSON(b []byte) error {
	var temp struct {
		Outputs json.RawMessage `json:"outputs"`
		Status  *HistoryStatus  `json:"status"`
		Error   *HistoryError   `json:"error"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}
	h.Status = temp.Status
	h.Error = temp.Error
	h.Outputs = nil
	h.OutputOrder = nil

	raw := bytes.TrimSpace(temp.Outputs)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	// walk the object by token to keep the node order
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return err
	} // consume opening brace
	h.Outputs = make(map[string]NodeOutput)
	h.OutputOrder = make([]string, 0)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := t.(string)
		var out NodeOutput
		if err := dec.Decode(&out); err != nil {
			return fmt.Errorf("outputs of node %s: %w", key, err)
		}
		if _, dup := h.Outputs[key]; !dup {
			h.OutputOrder = append(h.OutputOrder, key)
		}
		h.Outputs[key] = out
	}
	if _, err := dec.Token(); err != nil { // consume closing brace
		return err
	}
	return nil
}
