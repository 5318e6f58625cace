// Package mock provides test doubles for the model encoder and heads.
//
// Every mock records its calls and, unless a canned result or error is set,
// returns one zero-valued result per input so [model.MultiTask] shape checks
// pass.
//
// Example:
//
//	enc := &mock.Encoder{Dimensions: 4}
//	lang := &mock.LanguageHead{Level: model.LevelL2}
//	m := &model.MultiTask{Encoder: enc, Language: lang, Emotion: &mock.EmotionHead{}, Interest: &mock.InterestHead{}}
package mock

import (
	"context"
	"sync"

	"github.com/Hyrsta/AiSpea/internal/model"
)

// Encoder is a mock [model.Encoder].
type Encoder struct {
	mu sync.Mutex

	// Dimensions is the length of generated vectors when Result is nil.
	Dimensions int

	// Result, when non-nil, is returned as is.
	Result [][]float32

	// Err, when non-nil, is returned instead of a result.
	Err error

	// Calls holds a copy of every texts slice passed to Encode.
	Calls [][]string
}

// Encode records the call. Without Result it returns vectors whose first
// element is the text length, so tests can tell samples apart.
func (e *Encoder) Encode(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	e.Calls = append(e.Calls, cp)
	if e.Err != nil {
		return nil, e.Err
	}
	if e.Result != nil {
		return e.Result, nil
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, max(e.Dimensions, 1))
		v[0] = float32(len(t))
		out[i] = v
	}
	return out, nil
}

// LanguageHead is a mock [model.LanguageLevelClassifier].
type LanguageHead struct {
	mu sync.Mutex

	// Level is assigned to every representation when Result is nil.
	Level  model.LanguageLevel
	Result []model.LanguagePrediction
	Err    error
	Calls  [][]model.Representation
}

// Predict records the call and returns Result, or one prediction of Level
// per representation.
func (h *LanguageHead) Predict(_ context.Context, reps []model.Representation) ([]model.LanguagePrediction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, reps)
	if h.Err != nil {
		return nil, h.Err
	}
	if h.Result != nil {
		return h.Result, nil
	}
	out := make([]model.LanguagePrediction, len(reps))
	for i := range out {
		out[i] = model.LanguagePrediction{Level: h.Level}
	}
	return out, nil
}

// EmotionHead is a mock [model.EmotionTracker].
type EmotionHead struct {
	mu sync.Mutex

	Result []model.EmotionTransition
	Err    error
	Calls  [][]model.Representation
}

// Predict records the call and returns Result, or empty transitions.
func (h *EmotionHead) Predict(_ context.Context, reps []model.Representation) ([]model.EmotionTransition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, reps)
	if h.Err != nil {
		return nil, h.Err
	}
	if h.Result != nil {
		return h.Result, nil
	}
	return make([]model.EmotionTransition, len(reps)), nil
}

// InterestHead is a mock [model.InterestGraphGenerator].
type InterestHead struct {
	mu sync.Mutex

	Result []model.InterestActivation
	Err    error
	Calls  [][]model.Representation
}

// Predict records the call and returns Result, or empty activations.
func (h *InterestHead) Predict(_ context.Context, reps []model.Representation) ([]model.InterestActivation, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Calls = append(h.Calls, reps)
	if h.Err != nil {
		return nil, h.Err
	}
	if h.Result != nil {
		return h.Result, nil
	}
	return make([]model.InterestActivation, len(reps)), nil
}

var (
	_ model.Encoder                 = (*Encoder)(nil)
	_ model.LanguageLevelClassifier = (*LanguageHead)(nil)
	_ model.EmotionTracker          = (*EmotionHead)(nil)
	_ model.InterestGraphGenerator  = (*InterestHead)(nil)
)
