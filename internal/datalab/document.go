package datalab

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Hyrsta/AiSpea/internal/dialogue"
)

// buildDocument renders a conversation in the dialogue input shape. Message
// content becomes the turn text; name is kept only when set.
func buildDocument(c conversation, msgs []message) (*dialogue.Document, error) {
	tags := make([]any, 0, len(c.Tags))
	for _, t := range c.Tags {
		tags = append(tags, t)
	}
	metadata := map[string]any{
		"conversation_id": json.Number(fmt.Sprint(c.ID)),
		"dataset":         c.Dataset,
		"split":           string(c.Split),
		"status":          string(c.Status),
		"source":          c.Source,
		"notes":           c.Notes,
		"tags":            tags,
	}

	turns := make([]dialogue.Turn, 0, len(msgs))
	for i, m := range msgs {
		meta, err := decodeObject(m.Meta)
		if err != nil {
			return nil, fmt.Errorf("datalab: conversation %d message %d meta: %w", c.ID, i, err)
		}
		t := dialogue.Turn{"role": m.Role, "text": m.Content, "meta": meta}
		if m.Name != "" {
			t["name"] = m.Name
		}
		turns = append(turns, t)
	}

	labels, err := decodeObject(c.Labels)
	if err != nil {
		return nil, fmt.Errorf("datalab: conversation %d labels: %w", c.ID, err)
	}
	return dialogue.NewDocument(metadata, turns, labels), nil
}

// decodeObject decodes a jsonb object; empty input and JSON null give an
// empty map. Numbers stay json.Number as in files parsed by dialogue.
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return obj, nil
}
