package graphapi

import (
	"encoding/json"
	"fmt"
)

// Slot is an input or output connection point of a GraphNode
type Slot struct {
	Name   string  `json:"name"`             // The name of the slot
	Type   string  `json:"type"`             // The type of the data the slot accepts
	Link   *int    `json:"link"`             // Id of the link feeding an input slot
	Links  []int   `json:"links,omitempty"`  // Ids of the links leaving an output slot
	Widget *Widget `json:"widget,omitempty"` // set when the input backs a widget
	// Value is an inline literal stored on the input itself. HasValue separates an
	// explicit null from an absent key.
	Value    interface{} `json:"value,omitempty"`
	HasValue bool        `json:"-"`
}

func (s *Slot) UnmarshalJSON(b []byte) error {
	var raw struct {
		Name   string           `json:"name"`
		Type   interface{}      `json:"type"`
		Link   *int             `json:"link"`
		Links  []int            `json:"links"`
		Widget *Widget          `json:"widget"`
		Value  *json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	s.Name = raw.Name
	s.Link = raw.Link
	s.Links = raw.Links
	s.Widget = raw.Widget
	switch t := raw.Type.(type) {
	case nil:
		s.Type = ""
	case string:
		s.Type = t
	default:
		// the editor uses -1 and similar markers for untyped slots
		s.Type = fmt.Sprint(t)
	}

	s.Value, s.HasValue = nil, false
	if raw.Value != nil {
		if err := json.Unmarshal(*raw.Value, &s.Value); err != nil {
			return err
		}
		s.HasValue = true
	} else if hasKey(b, "value") {
		// "value": null decodes to a nil RawMessage pointer
		s.HasValue = true
	}
	return nil
}

func hasKey(b []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

func (s *Slot) IsLinked() bool {
	return s.Link != nil
}

func (s *Slot) IsWidget() bool {
	return s.Widget != nil
}
