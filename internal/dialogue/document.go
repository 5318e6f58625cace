// Package dialogue loads dialogue documents and exposes their turns as an
// indexed sequence of training samples.
//
// A document is a single JSON object:
//
//	{
//	  "metadata": { ... },
//	  "dialog":   [ {"role": "child", "text": "..."}, ... ],
//	  "labels":   { ... }
//	}
//
// All three keys are optional. Unknown keys are ignored at the top level and
// preserved everywhere else.
package dialogue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"
)

var (
	// ErrIO reports that a document could not be opened or read.
	ErrIO = errors.New("dialogue: i/o error")

	// ErrParse reports that the input is not a well-formed dialogue document.
	ErrParse = errors.New("dialogue: parse error")
)

// Turn is one dialogue turn. The schema is open: role and text are the only
// keys the package knows about and neither is required.
type Turn map[string]any

// Role returns the turn's "role" value, or "" when absent or not a string.
func (t Turn) Role() string { return t.str("role") }

// Text returns the turn's "text" value, or "" when absent or not a string.
func (t Turn) Text() string { return t.str("text") }

func (t Turn) str(key string) string {
	s, _ := t[key].(string)
	return s
}

// Document is a parsed dialogue file. It is read-only after construction;
// the maps returned by its accessors are shared with every [Sample] built
// from it and must not be modified.
type Document struct {
	metadata map[string]any
	turns    []Turn
	labels   map[string]any
}

// NewDocument builds a document from already-decoded parts. Nil maps and
// slices are replaced by empty ones.
func NewDocument(metadata map[string]any, turns []Turn, labels map[string]any) *Document {
	if metadata == nil {
		metadata = map[string]any{}
	}
	if turns == nil {
		turns = []Turn{}
	}
	if labels == nil {
		labels = map[string]any{}
	}
	return &Document{metadata: metadata, turns: turns, labels: labels}
}

// Metadata returns the document-level metadata.
func (d *Document) Metadata() map[string]any { return d.metadata }

// Labels returns the document-level labels.
func (d *Document) Labels() map[string]any { return d.labels }

// Turns returns the turns in conversation order.
func (d *Document) Turns() []Turn { return d.turns }

// Len returns the number of turns.
func (d *Document) Len() int { return len(d.turns) }

// MarshalJSON renders the document back into the input file format.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Metadata map[string]any `json:"metadata"`
		Dialog   []Turn         `json:"dialog"`
		Labels   map[string]any `json:"labels"`
	}{d.metadata, d.turns, d.labels})
}

// Load reads the whole file at path and parses it. The file is closed before
// Load returns.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %q)", err, path)
	}
	return doc, nil
}

// LoadFromReader reads r to EOF and parses the result. The caller owns r.
func LoadFromReader(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return Parse(data)
}

// Parse decodes a UTF-8 JSON dialogue document. Numbers are kept as
// [json.Number] so they survive a round trip unchanged.
func Parse(data []byte) (*Document, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: input is not valid UTF-8", ErrParse)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var top any
	if err := dec.Decode(&top); err != nil {
		return nil, parseErr(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: unexpected data after top-level value at offset %d", ErrParse, dec.InputOffset())
	}

	obj, ok := top.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value must be an object, got %s", ErrParse, jsonKind(top))
	}

	metadata, err := objectField(obj, "metadata")
	if err != nil {
		return nil, err
	}
	labels, err := objectField(obj, "labels")
	if err != nil {
		return nil, err
	}
	turns, err := dialogField(obj)
	if err != nil {
		return nil, err
	}
	return NewDocument(metadata, turns, labels), nil
}

func objectField(obj map[string]any, key string) (map[string]any, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q must be an object, got %s", ErrParse, key, jsonKind(v))
	}
	return m, nil
}

func dialogField(obj map[string]any) ([]Turn, error) {
	v, ok := obj["dialog"]
	if !ok || v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: \"dialog\" must be an array, got %s", ErrParse, jsonKind(v))
	}
	turns := make([]Turn, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: dialog[%d] must be an object, got %s", ErrParse, i, jsonKind(it))
		}
		turns[i] = Turn(m)
	}
	return turns, nil
}

func parseErr(err error) error {
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		return fmt.Errorf("%w: %w (offset %d)", ErrParse, err, syn.Offset)
	}
	if err == io.EOF {
		return fmt.Errorf("%w: empty input", ErrParse)
	}
	return fmt.Errorf("%w: %w", ErrParse, err)
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
