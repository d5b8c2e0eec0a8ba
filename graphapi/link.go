package graphapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Link is a directed edge from an output slot of OriginID to an input slot of TargetID
type Link struct {
	ID         int
	OriginID   NodeID
	OriginSlot int
	TargetID   NodeID
	TargetSlot int
	Type       string
	// Internal flag to track serialization format
	// true = object format, false = tuple format
	isObjectFormat bool
}

type linkObject struct {
	ID         int         `json:"id"`
	OriginID   NodeID      `json:"origin_id"`
	OriginSlot int         `json:"origin_slot"`
	TargetID   NodeID      `json:"target_id"`
	TargetSlot int         `json:"target_slot"`
	Type       interface{} `json:"type"`
}

func (l *Link) UnmarshalJSON(b []byte) error {
	// Try to unmarshal as array (tuple format) first
	var tmp []json.RawMessage
	if err := json.Unmarshal(b, &tmp); err == nil {
		if len(tmp) < 6 {
			return errors.New("wrong number of fields in JSON array")
		}

		if err := json.Unmarshal(tmp[0], &l.ID); err != nil {
			return fmt.Errorf("link id: %w", err)
		}
		if err := json.Unmarshal(tmp[1], &l.OriginID); err != nil {
			return fmt.Errorf("link %d origin: %w", l.ID, err)
		}
		if err := json.Unmarshal(tmp[2], &l.OriginSlot); err != nil {
			return fmt.Errorf("link %d origin slot: %w", l.ID, err)
		}
		if err := json.Unmarshal(tmp[3], &l.TargetID); err != nil {
			return fmt.Errorf("link %d target: %w", l.ID, err)
		}
		if err := json.Unmarshal(tmp[4], &l.TargetSlot); err != nil {
			return fmt.Errorf("link %d target slot: %w", l.ID, err)
		}
		var t interface{}
		if err := json.Unmarshal(tmp[5], &t); err != nil {
			return fmt.Errorf("link %d type: %w", l.ID, err)
		}
		l.Type = linkTypeString(t)
		l.isObjectFormat = false
		return nil
	}

	var obj linkObject
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}

	l.ID = obj.ID
	l.OriginID = obj.OriginID
	l.OriginSlot = obj.OriginSlot
	l.TargetID = obj.TargetID
	l.TargetSlot = obj.TargetSlot
	l.Type = linkTypeString(obj.Type)
	l.isObjectFormat = true
	return nil
}

func (l *Link) MarshalJSON() ([]byte, error) {
	if l.isObjectFormat {
		return json.Marshal(linkObject{
			ID:         l.ID,
			OriginID:   l.OriginID,
			OriginSlot: l.OriginSlot,
			TargetID:   l.TargetID,
			TargetSlot: l.TargetSlot,
			Type:       l.Type,
		})
	}

	return json.Marshal([]interface{}{
		l.ID,
		l.OriginID,
		l.OriginSlot,
		l.TargetID,
		l.TargetSlot,
		l.Type,
	})
}

func linkTypeString(t interface{}) string {
	switch v := t.(type) {
	case nil:
		return ""
	case string:
		return v
	}
	return fmt.Sprint(t)
}
