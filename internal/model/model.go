// Package model defines the contract between batches of dialogue samples and
// a multi-task child-analysis model: a shared text encoder feeding three
// independent heads (language level, emotional-state transitions, interest
// activation).
//
// The package owns no numerical code. Encoders and heads are supplied by the
// caller; [MultiTask] only wires them together and checks that every stage
// returns one result per sample.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

// ErrShapeMismatch is returned when a stage returns a different number of
// results than there are samples in the batch.
var ErrShapeMismatch = errors.New("model: result count does not match batch size")

// LanguageLevel is a coarse language-proficiency class.
type LanguageLevel string

const (
	LevelL1 LanguageLevel = "L1"
	LevelL2 LanguageLevel = "L2"
	LevelL3 LanguageLevel = "L3"
)

// IsValid reports whether l is one of L1, L2, L3.
func (l LanguageLevel) IsValid() bool {
	switch l {
	case LevelL1, LevelL2, LevelL3:
		return true
	}
	return false
}

// Representation is the encoder output for one sample plus the fields heads
// may condition on.
type Representation struct {
	Role      string
	Text      string
	Embedding []float32
	Labels    map[string]any
}

// LanguagePrediction is the language-level head output for one sample.
type LanguagePrediction struct {
	Level  LanguageLevel             `json:"level"`
	Scores map[LanguageLevel]float64 `json:"scores,omitempty"`
}

// EmotionTransition is a row-stochastic transition estimate between the
// named emotional states. Matrix[i][j] is the weight of States[i] → States[j].
type EmotionTransition struct {
	States []string    `json:"states"`
	Matrix [][]float64 `json:"matrix"`
}

// InterestActivation maps interest-graph node names to activation strength.
type InterestActivation struct {
	Nodes map[string]float64 `json:"nodes"`
}

// Encoder maps texts to fixed-size vectors, one per input.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// LanguageLevelClassifier predicts a language level per representation.
type LanguageLevelClassifier interface {
	Predict(ctx context.Context, reps []Representation) ([]LanguagePrediction, error)
}

// EmotionTracker estimates emotional-state transitions per representation.
type EmotionTracker interface {
	Predict(ctx context.Context, reps []Representation) ([]EmotionTransition, error)
}

// InterestGraphGenerator estimates interest-node activation per
// representation.
type InterestGraphGenerator interface {
	Predict(ctx context.Context, reps []Representation) ([]InterestActivation, error)
}

// Outputs holds the three task outputs for a batch; index i of each slice
// belongs to sample i.
type Outputs struct {
	// Embeddings are the shared encoder vectors the heads ran on.
	Embeddings [][]float32 `json:"-"`

	Language []LanguagePrediction `json:"language"`
	Emotion  []EmotionTransition  `json:"emotion"`
	Interest []InterestActivation `json:"interest"`
}

// MultiTask runs a shared encoder followed by three heads.
type MultiTask struct {
	Encoder  Encoder
	Language LanguageLevelClassifier
	Emotion  EmotionTracker
	Interest InterestGraphGenerator

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Validate reports missing components.
func (m *MultiTask) Validate() error {
	var errs []error
	if m.Encoder == nil {
		errs = append(errs, errors.New("model: encoder is required"))
	}
	if m.Language == nil {
		errs = append(errs, errors.New("model: language head is required"))
	}
	if m.Emotion == nil {
		errs = append(errs, errors.New("model: emotion head is required"))
	}
	if m.Interest == nil {
		errs = append(errs, errors.New("model: interest head is required"))
	}
	return errors.Join(errs...)
}

// Forward encodes every sample's dialog_item text and runs the three heads
// on the shared representations. An empty batch returns empty outputs
// without calling any component.
func (m *MultiTask) Forward(ctx context.Context, batch []dialogue.Sample) (Outputs, error) {
	if err := m.Validate(); err != nil {
		return Outputs{}, err
	}
	if len(batch) == 0 {
		return Outputs{
			Embeddings: [][]float32{},
			Language:   []LanguagePrediction{},
			Emotion:    []EmotionTransition{},
			Interest:   []InterestActivation{},
		}, nil
	}

	ctx, span := observe.StartSpan(ctx, "model.Forward",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()
	start := time.Now()

	out, err := m.forward(ctx, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outputs{}, err
	}
	if m.Metrics != nil {
		m.Metrics.ForwardDuration.Record(ctx, time.Since(start).Seconds())
	}
	return out, nil
}

func (m *MultiTask) forward(ctx context.Context, batch []dialogue.Sample) (Outputs, error) {
	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s.DialogItem.Text()
	}
	embeddings, err := m.Encoder.Encode(ctx, texts)
	if err != nil {
		return Outputs{}, fmt.Errorf("model: encode: %w", err)
	}
	if err := checkLen("encoder", len(embeddings), len(batch)); err != nil {
		return Outputs{}, err
	}

	reps := make([]Representation, len(batch))
	for i, s := range batch {
		reps[i] = Representation{
			Role:      s.DialogItem.Role(),
			Text:      texts[i],
			Embedding: embeddings[i],
			Labels:    s.Labels,
		}
	}

	out := Outputs{Embeddings: embeddings}
	if out.Language, err = m.Language.Predict(ctx, reps); err != nil {
		return Outputs{}, fmt.Errorf("model: language head: %w", err)
	}
	if err := checkLen("language head", len(out.Language), len(batch)); err != nil {
		return Outputs{}, err
	}
	if out.Emotion, err = m.Emotion.Predict(ctx, reps); err != nil {
		return Outputs{}, fmt.Errorf("model: emotion head: %w", err)
	}
	if err := checkLen("emotion head", len(out.Emotion), len(batch)); err != nil {
		return Outputs{}, err
	}
	if out.Interest, err = m.Interest.Predict(ctx, reps); err != nil {
		return Outputs{}, fmt.Errorf("model: interest head: %w", err)
	}
	if err := checkLen("interest head", len(out.Interest), len(batch)); err != nil {
		return Outputs{}, err
	}
	return out, nil
}

func checkLen(stage string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s returned %d results for %d samples", ErrShapeMismatch, stage, got, want)
	}
	return nil
}
