package graphapi

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Widget marks an input slot that is backed by one of the node's widget values
type Widget struct {
	Name string `json:"name"`
}

// WidgetValues holds a node's widgets_values, which the editor writes either as a
// positional list or as a mapping keyed by widget name.
type WidgetValues struct {
	list []interface{}
	dict map[string]interface{}
}

func NewWidgetList(values ...interface{}) WidgetValues {
	return WidgetValues{list: values}
}

func NewWidgetDict(values map[string]interface{}) WidgetValues {
	return WidgetValues{dict: values}
}

func (w *WidgetValues) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	w.list, w.dict = nil, nil
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '[':
		return json.Unmarshal(b, &w.list)
	case '{':
		return json.Unmarshal(b, &w.dict)
	}
	return errors.New("widgets_values must be a list or an object")
}

func (w WidgetValues) MarshalJSON() ([]byte, error) {
	if w.dict != nil {
		return json.Marshal(w.dict)
	}
	if w.list == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(w.list)
}

// IsDict is true when the values are keyed by widget name
func (w WidgetValues) IsDict() bool {
	return w.dict != nil
}

func (w WidgetValues) Len() int {
	if w.dict != nil {
		return len(w.dict)
	}
	return len(w.list)
}

// At returns the positional value at index i. It always fails for dict values.
func (w WidgetValues) At(i int) (interface{}, bool) {
	if i < 0 || i >= len(w.list) {
		return nil, false
	}
	return w.list[i], true
}

// Lookup returns the value stored under name. It always fails for list values.
func (w WidgetValues) Lookup(name string) (interface{}, bool) {
	v, ok := w.dict[name]
	return v, ok
}

// Dict returns the name-keyed values, or nil for list values
func (w WidgetValues) Dict() map[string]interface{} {
	return w.dict
}

// controlAfterGenerate lists the values of the COMBO the editor inserts right after
// a seed or noise_seed widget.
var controlAfterGenerate = map[string]bool{
	"fixed":     true,
	"increment": true,
	"decrement": true,
	"randomize": true,
}

func isSeedWidget(name string) bool {
	return name == "seed" || name == "noise_seed"
}

// widgetCursor hands out positional widget values in declaration order
type widgetCursor struct {
	values WidgetValues
	index  int
}

func newWidgetCursor(values WidgetValues) *widgetCursor {
	return &widgetCursor{values: values}
}

// claim returns the value for the widget-backed input named name and advances past it
func (c *widgetCursor) claim(name string) (interface{}, bool) {
	if c.values.IsDict() {
		return c.values.Lookup(name)
	}
	v, ok := c.values.At(c.index)
	if !ok {
		return nil, false
	}
	c.index++
	if isSeedWidget(name) {
		c.skipControl()
	}
	return v, true
}

// skip consumes the slot of a widget-backed input that is fed by a link instead
func (c *widgetCursor) skip(name string) {
	if c.values.IsDict() || c.index >= c.values.Len() {
		return
	}
	c.index++
	if isSeedWidget(name) {
		c.skipControl()
	}
}

func (c *widgetCursor) skipControl() {
	if v, ok := c.values.At(c.index); ok {
		if s, ok := v.(string); ok && controlAfterGenerate[s] {
			c.index++
		}
	}
}
