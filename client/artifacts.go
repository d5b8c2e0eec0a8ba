package client

import (
	"context"
	"encoding/base64"
	"log/slog"
	"os"
)

// VideoOutputKeys are the output collections that hold generated videos, in the
// order they are looked up. The first key present on a node wins.
var VideoOutputKeys = []string{"gifs", "videos"}

// Artifact is one generated file and its contents
type Artifact struct {
	NodeID string
	Output DataOutput
	Data   []byte
}

// Base64 returns the contents encoded for transport
func (a *Artifact) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// ArtifactSet holds the artifacts of a record grouped by node
type ArtifactSet struct {
	ByNode map[string][]*Artifact
	// Order lists every output node in record order, including those without artifacts
	Order []string
}

// Select returns the first artifact of the preferred node, or of the first node
// in record order that produced one. It returns nil when nothing was produced.
func (s *ArtifactSet) Select(preferred string) *Artifact {
	if preferred != "" {
		if items := s.ByNode[preferred]; len(items) > 0 {
			return items[0]
		}
		slog.Warn("final output node produced no video, falling back", "node", preferred)
	}
	for _, id := range s.Order {
		if items := s.ByNode[id]; len(items) > 0 {
			return items[0]
		}
	}
	return nil
}

// Count returns the number of artifacts in the set
func (s *ArtifactSet) Count() int {
	n := 0
	for _, items := range s.ByNode {
		n += len(items)
	}
	return n
}

// ExtractVideos collects the video outputs of a record. An entry's fullpath is
// read when it is readable, otherwise the file is fetched from /view. Entries
// that cannot be read are logged and skipped.
func (c *ComfyClient) ExtractVideos(ctx context.Context, record *HistoryRecord) *ArtifactSet {
	set := &ArtifactSet{
		ByNode: make(map[string][]*Artifact),
		Order:  make([]string, 0, len(record.OutputOrder)),
	}

	for _, nodeID := range record.OutputOrder {
		set.Order = append(set.Order, nodeID)
		out := record.Outputs[nodeID]

		var entries []DataOutput
		for _, key := range VideoOutputKeys {
			if _, ok := out[key]; ok {
				entries = out.Entries(key)
				break
			}
		}

		items := make([]*Artifact, 0, len(entries))
		for _, entry := range entries {
			data, err := c.readArtifact(ctx, entry)
			if err != nil {
				slog.Warn("cannot read video output", "node", nodeID, "filename", entry.Filename, "error", err)
				continue
			}
			items = append(items, &Artifact{NodeID: nodeID, Output: entry, Data: data})
		}
		set.ByNode[nodeID] = items
	}
	return set
}

func (c *ComfyClient) readArtifact(ctx context.Context, entry DataOutput) ([]byte, error) {
	if entry.FullPath != "" {
		data, err := os.ReadFile(entry.FullPath)
		if err == nil {
			return data, nil
		}
		if entry.Filename == "" {
			return nil, err
		}
		slog.Debug("fullpath not readable, fetching from server", "path", entry.FullPath, "error", err)
	}
	return c.GetView(ctx, entry)
}
