package workflow

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// node classes whose choices list the installed models
const (
	VideoModelLoader = "WanVideoModelLoader"
	CheckpointLoader = "CheckpointLoaderSimple"
)

var megaMarkers = []string{"mega", "aio", "all-in-one", "allinone"}

// IsMegaModelName reports whether a model file is an all-in-one checkpoint
func IsMegaModelName(name string) bool {
	lower := strings.ToLower(name)
	for _, m := range megaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// ModelCatalog answers model questions from an /object_info document. Model
// lists are deduplicated and sorted so selection among equally qualified
// names is stable.
type ModelCatalog struct {
	raw         gjson.Result
	models      []string
	checkpoints []string
}

// NewModelCatalog reads the model lists out of raw object_info JSON
func NewModelCatalog(raw []byte) *ModelCatalog {
	c := &ModelCatalog{raw: gjson.ParseBytes(raw)}

	video := firstList(c.raw.Get(VideoModelLoader), "model", "input.required.model")
	c.checkpoints = uniqueSorted(firstList(c.raw.Get(CheckpointLoader), "ckpt_name", "input.required.ckpt_name"))
	c.models = uniqueSorted(append(video, c.checkpoints...))

	slog.Debug("model catalog", "models", len(c.models), "checkpoints", len(c.checkpoints))
	return c
}

// EmptyModelCatalog is used when the engine's catalog cannot be read
func EmptyModelCatalog() *ModelCatalog {
	return &ModelCatalog{}
}

// Models returns every model name offered by the video and checkpoint loaders
func (c *ModelCatalog) Models() []string {
	return c.models
}

// Checkpoints returns the names offered by the checkpoint loader
func (c *ModelCatalog) Checkpoints() []string {
	return c.checkpoints
}

// HasClass reports whether the engine knows the node class
func (c *ModelCatalog) HasClass(class string) bool {
	return c.raw.Get(class).Exists()
}

// Choices returns the options of a node class input, required or optional
func (c *ModelCatalog) Choices(class, input string) []string {
	return firstList(c.raw.Get(class), "input.required."+input, "input.optional."+input)
}

// Contains reports whether name is an installed model
func (c *ModelCatalog) Contains(name string) bool {
	i := sort.SearchStrings(c.models, name)
	return i < len(c.models) && c.models[i] == name
}

// FirstContaining returns the first model whose lowercased name contains marker
func (c *ModelCatalog) FirstContaining(marker string) (string, bool) {
	marker = strings.ToLower(marker)
	for _, m := range c.models {
		if strings.Contains(strings.ToLower(m), marker) {
			return m, true
		}
	}
	return "", false
}

// MegaModel returns the first all-in-one model, if any
func (c *ModelCatalog) MegaModel() (string, bool) {
	for _, m := range c.models {
		if IsMegaModelName(m) {
			return m, true
		}
	}
	return "", false
}

// ResolveModel returns the model to use in place of current. An installed
// current model is kept; otherwise an I2V model is preferred, then the first
// model. changed is false when current is kept or nothing is installed.
func (c *ModelCatalog) ResolveModel(current string) (name string, changed bool) {
	if len(c.models) == 0 || c.Contains(current) {
		return current, false
	}
	if m, ok := c.FirstContaining("i2v"); ok {
		return m, true
	}
	return c.models[0], true
}

// firstList returns the string list found under the first path that exists.
// Combo declarations nest the list one level down.
func firstList(node gjson.Result, paths ...string) []string {
	for _, path := range paths {
		r := node.Get(path)
		if !r.Exists() || !r.IsArray() {
			continue
		}
		items := r.Array()
		if len(items) > 0 && items[0].IsArray() {
			items = items[0].Array()
		}
		retv := make([]string, 0, len(items))
		for _, item := range items {
			if item.Type == gjson.String {
				retv = append(retv, item.String())
			}
		}
		return retv
	}
	return nil
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	retv := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		retv = append(retv, n)
	}
	sort.Strings(retv)
	return retv
}
