package hal

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Link is a single HAL link object.
type Link struct {
	Href   string `json:"href"`
	Title  string `json:"title,omitempty"`
	Method string `json:"method,omitempty"`
}

// LinkList holds the links of one relation. HAL allows a relation to carry a
// single link object or an array of them; both decode into a LinkList.
type LinkList []Link

func (l *LinkList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var many []Link
		if err := json.Unmarshal(data, &many); err != nil {
			return fmt.Errorf("link array: %w", err)
		}
		*l = many
		return nil
	}
	var one Link
	if err := json.Unmarshal(data, &one); err != nil {
		return fmt.Errorf("link object: %w", err)
	}
	*l = LinkList{one}
	return nil
}

// Links maps relation names to their links.
type Links map[string]LinkList

// First returns the first link of rel.
func (l Links) First(rel string) (Link, bool) {
	list, ok := l[rel]
	if !ok || len(list) == 0 {
		return Link{}, false
	}
	return list[0], true
}

// embeddedList decodes an _embedded entry, which may be one resource or many.
type embeddedList []json.RawMessage

func (e *embeddedList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = nil
		return nil
	}
	if data[0] == '[' {
		var many []json.RawMessage
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*e = many
		return nil
	}
	*e = embeddedList{json.RawMessage(append([]byte(nil), data...))}
	return nil
}
