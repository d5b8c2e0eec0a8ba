package client

import "github.com/richinsley/comfyvideo/graphapi"

// QueueItem is a prompt accepted by the server
type QueueItem struct {
	PromptID   string                 `json:"prompt_id"`
	Number     int                    `json:"number"`
	NodeErrors map[string]interface{} `json:"node_errors"`
	Prompt     graphapi.ResolvedGraph `json:"-"`
	// Errors collects the execution errors reported over the websocket
	Errors []*PromptMessageStoppedException `json:"-"`
}

// LastError returns the most recent execution error, or nil
func (qi *QueueItem) LastError() *PromptMessageStoppedException {
	if qi == nil || len(qi.Errors) == 0 {
		return nil
	}
	return qi.Errors[len(qi.Errors)-1]
}
