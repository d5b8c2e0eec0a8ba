package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/richinsley/comfyvideo/graphapi"
)

// ComfyClient talks to a single ComfyUI server. Each client carries its own
// client id, which names its notification channel, so concurrent jobs use
// independent clients.
type ComfyClient struct {
	serverBaseAddress string
	serverAddress     string
	serverPort        int
	scheme            string
	clientid          string
	httpclient        *http.Client
}

// NewComfyClient creates a client for the server at server_address:server_port
func NewComfyClient(server_address string, server_port int) *ComfyClient {
	return NewComfyClientWithID(server_address, server_port, uuid.New().String())
}

// NewComfyClientWithID creates a client with a caller supplied client id
func NewComfyClientWithID(server_address string, server_port int, clientid string) *ComfyClient {
	sbaseaddr := server_address + ":" + strconv.Itoa(server_port)
	return &ComfyClient{
		serverBaseAddress: sbaseaddr,
		serverAddress:     server_address,
		serverPort:        server_port,
		scheme:            "http",
		clientid:          clientid,
		httpclient:        &http.Client{},
	}
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// BaseAddress returns host:port of the server
func (c *ComfyClient) BaseAddress() string {
	return c.serverBaseAddress
}

// SetTLS switches both HTTP and websocket traffic to their secure schemes
func (c *ComfyClient) SetTLS(enabled bool) {
	if enabled {
		c.scheme = "https"
	} else {
		c.scheme = "http"
	}
}

// return the underlying http client
func (c *ComfyClient) HttpClient() *http.Client {
	return c.httpclient
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

func (c *ComfyClient) endpoint(path string, params url.Values) string {
	u := url.URL{Scheme: c.scheme, Host: c.serverBaseAddress, Path: path}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// WebSocketURL returns the notification channel address for this client
func (c *ComfyClient) WebSocketURL() string {
	scheme := "ws"
	if c.scheme == "https" {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: c.serverBaseAddress, Path: "/ws"}
	u.RawQuery = url.Values{"clientId": {c.clientid}}.Encode()
	return u.String()
}

// OnWindowSocketMessage parses a message received from the websocket connection
// to ComfyUI and translates it into the PromptMessages that concern qi. Messages
// for other prompts translate to nothing.
func (c *ComfyClient) OnWindowSocketMessage(msg string, qi *QueueItem) []PromptMessage {
	message := &WSStatusMessage{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		slog.Error("Deserializing Status Message:", "error", err)
		return nil
	}

	mine := func(promptID string) bool {
		// progress messages from older servers carry no prompt id
		return promptID == "" || promptID == qi.PromptID
	}

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		slog.Debug("queue status", "queue_remaining", s.Status.ExecInfo.QueueRemaining)
	case "execution_start":
		s := message.Data.(*WSMessageDataExecutionStart)
		if s.PromptID == qi.PromptID {
			return []PromptMessage{{
				Type:    "started",
				Message: &PromptMessageStarted{PromptID: s.PromptID},
			}}
		}
	case "execution_cached":
		// this is probably not usefull for us
	case "executing":
		s := message.Data.(*WSMessageDataExecuting)
		if s.PromptID != qi.PromptID {
			return nil
		}
		if s.Node == nil {
			// final node was processed
			return []PromptMessage{{
				Type:    "stopped",
				Message: &PromptMessageStopped{QueueItem: qi, Exceptions: qi.Errors},
			}}
		}
		title := *s.Node
		if n, ok := qi.Prompt.Node(graphapi.NodeID(*s.Node)); ok {
			title = n.ClassType
		}
		return []PromptMessage{{
			Type:    "executing",
			Message: &PromptMessageExecuting{NodeID: *s.Node, Title: title},
		}}
	case "progress":
		s := message.Data.(*WSMessageDataProgress)
		if mine(s.PromptID) {
			return []PromptMessage{{
				Type:    "progress",
				Message: &PromptMessageProgress{Value: s.Value, Max: s.Max, NodeID: s.Node},
			}}
		}
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		if s.PromptID != qi.PromptID {
			return nil
		}
		mdata := &PromptMessageData{
			NodeID: s.Node,
			Data:   make(map[string][]DataOutput),
		}
		for k, v := range s.Output {
			mdata.Data[k] = *v
		}
		return []PromptMessage{{Type: "data", Message: mdata}}
	case "execution_interrupted":
		s := message.Data.(*WSMessageExecutionInterrupted)
		if s.PromptID == qi.PromptID {
			slog.Warn("execution interrupted", "prompt_id", s.PromptID, "node_id", s.Node)
		}
	case "execution_error":
		s := message.Data.(*WSMessageExecutionError)
		if !mine(s.PromptID) {
			return nil
		}
		exception := &PromptMessageStoppedException{
			NodeID:           s.Node,
			NodeType:         s.NodeType,
			ExceptionMessage: s.ExceptionMessage,
			ExceptionType:    s.ExceptionType,
			Traceback:        s.Traceback,
		}
		// the run is not over until the completion signal arrives
		qi.Errors = append(qi.Errors, exception)
		return []PromptMessage{{Type: "error", Message: exception}}
	case "execution_success", "progress_state", "crystools.monitor":
	default:
		slog.Debug("Unhandled message type", "type", message.Type)
	}
	return nil
}

func (e *PromptMessageStoppedException) Error() string {
	return fmt.Sprintf("node %s (%s): %s: %s", e.NodeID, e.NodeType, e.ExceptionType, e.ExceptionMessage)
}
