package dialogue

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is matched by every [*IndexError].
var ErrIndexOutOfRange = errors.New("dialogue: index out of range")

// IndexError is returned by [Dataset.Get] for an index outside [0, Len()).
type IndexError struct {
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("dialogue: index %d out of range [0, %d)", e.Index, e.Len)
}

// Is makes errors.Is(err, ErrIndexOutOfRange) succeed.
func (e *IndexError) Is(target error) bool { return target == ErrIndexOutOfRange }

// Sample is the per-turn view handed to consumers: the document metadata and
// labels plus one turn. Unless the dataset was built with
// [WithCopyOnTransform], all three fields alias the underlying [Document].
type Sample struct {
	Metadata   map[string]any `json:"metadata"`
	DialogItem Turn           `json:"dialog_item"`
	Labels     map[string]any `json:"labels"`
}

// Clone returns a deep copy of s that shares nothing with the document.
func (s Sample) Clone() Sample {
	return Sample{
		Metadata:   cloneMap(s.Metadata),
		DialogItem: Turn(cloneMap(s.DialogItem)),
		Labels:     cloneMap(s.Labels),
	}
}

// Transform post-processes a sample. Its error is returned from
// [Dataset.Get] unchanged.
type Transform func(Sample) (Sample, error)

// DatasetOption configures a [Dataset].
type DatasetOption func(*Dataset)

// WithTransform applies fn to every sample produced by Get.
func WithTransform(fn Transform) DatasetOption {
	return func(d *Dataset) { d.transform = fn }
}

// WithCopyOnTransform hands the transform a deep copy of each sample, so a
// transform that mutates its input cannot corrupt the shared document. It
// has no effect without a transform.
func WithCopyOnTransform() DatasetOption {
	return func(d *Dataset) { d.copyOnTransform = true }
}

// Dataset is a fixed-size, randomly addressable sequence of samples over one
// document. Samples are rebuilt on every Get; nothing is cached.
//
// A Dataset is safe for concurrent use as long as its transform is.
type Dataset struct {
	doc             *Document
	transform       Transform
	copyOnTransform bool
}

// NewDataset returns a dataset over doc.
func NewDataset(doc *Document, opts ...DatasetOption) *Dataset {
	if doc == nil {
		doc = NewDocument(nil, nil, nil)
	}
	d := &Dataset{doc: doc}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open loads the file at path and wraps it in a dataset.
func Open(path string, opts ...DatasetOption) (*Dataset, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewDataset(doc, opts...), nil
}

// Document returns the underlying document.
func (d *Dataset) Document() *Document { return d.doc }

// Len returns the number of samples, which equals the number of turns. A
// nil dataset is empty.
func (d *Dataset) Len() int {
	if d == nil || d.doc == nil {
		return 0
	}
	return len(d.doc.turns)
}

// Get builds the sample for turn i.
func (d *Dataset) Get(i int) (Sample, error) {
	if n := d.Len(); i < 0 || i >= n {
		return Sample{}, &IndexError{Index: i, Len: n}
	}
	s := Sample{
		Metadata:   d.doc.metadata,
		DialogItem: d.doc.turns[i],
		Labels:     d.doc.labels,
	}
	if d.transform == nil {
		return s, nil
	}
	if d.copyOnTransform {
		s = s.Clone()
	}
	return d.transform(s)
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case Turn:
		return Turn(cloneMap(x))
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
