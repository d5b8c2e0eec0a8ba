package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/richinsley/comfyvideo/errdefs"
	"github.com/richinsley/comfyvideo/graphapi"
)

/*
@routes.get("/")
@routes.get("/view")
@routes.get("/system_stats")
@routes.get("/object_info")
@routes.get("/history/{prompt_id}")

@routes.post("/prompt")
@routes.post("/upload/image")
*/

// statusError is returned for unexpected HTTP status codes
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (c *ComfyClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, params), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Ping checks that the server answers on its root path
func (c *ComfyClient) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/", nil)
	return err
}

func (c *ComfyClient) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	body, err := c.get(ctx, "/system_stats", nil)
	if err != nil {
		return nil, err
	}

	retv := &SystemStats{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, err
	}
	return retv, nil
}

// GetObjectInfos retrieves the node catalog of the server
func (c *ComfyClient) GetObjectInfos(ctx context.Context) (*graphapi.NodeObjects, error) {
	body, err := c.get(ctx, "/object_info", nil)
	if err != nil {
		return nil, err
	}
	return graphapi.NewNodeObjects(body)
}

// QueuePrompt submits a resolved graph. A rejected prompt is returned as an
// errdefs.ErrSubmission error carrying the server's message; it is never retried.
func (c *ComfyClient) QueuePrompt(ctx context.Context, nodes graphapi.ResolvedGraph) (*QueueItem, error) {
	prompt := graphapi.Prompt{
		ClientID: c.clientid,
		Nodes:    nodes,
	}
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConfiguration, err, "cannot encode prompt")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/prompt", nil), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConnectivity, err, "cannot submit prompt")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConnectivity, err, "cannot read prompt response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		perror := &PromptErrorMessage{}
		if perr := json.Unmarshal(body, perror); perr != nil || perror.Error == nil {
			slog.Error("error unmarshalling prompt error", "status", resp.StatusCode, "body", truncate(string(body), 512))
			return nil, errdefs.Submissionf("prompt rejected with status %d", resp.StatusCode)
		}
		return nil, errdefs.Submissionf("%s", perror.String())
	}

	item := &QueueItem{Prompt: nodes}
	if err := json.Unmarshal(body, item); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrSubmission, err, "malformed prompt response")
	}
	if item.PromptID == "" {
		return nil, errdefs.Submissionf("prompt response carries no prompt_id")
	}
	slog.Info("prompt queued", "prompt_id", item.PromptID, "number", item.Number)
	return item, nil
}

// GetHistory retrieves the execution record of a prompt
func (c *ComfyClient) GetHistory(ctx context.Context, promptID string) (*HistoryRecord, error) {
	body, err := c.get(ctx, "/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrConnectivity, err, "cannot fetch history")
	}

	history := make(map[string]*HistoryRecord)
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, errdefs.Wrap(errdefs.ErrExecution, err, "malformed history record")
	}
	record, ok := history[promptID]
	if !ok || record == nil {
		return nil, errdefs.OutputMissingf("no history record for prompt %s", promptID)
	}
	record.PromptID = promptID
	return record, nil
}

// GetView downloads an output file by filename, subfolder and type
func (c *ComfyClient) GetView(ctx context.Context, item DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", item.Filename)
	params.Add("subfolder", item.Subfolder)
	ftype := item.Type
	if ftype == "" {
		ftype = string(OutputImageType)
	}
	params.Add("type", ftype)
	return c.get(ctx, "/view", params)
}
