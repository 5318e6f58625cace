package model

import "context"

// NopLanguage returns an empty prediction per representation.
type NopLanguage struct{}

func (NopLanguage) Predict(_ context.Context, reps []Representation) ([]LanguagePrediction, error) {
	return make([]LanguagePrediction, len(reps)), nil
}

// NopEmotion returns an empty transition per representation.
type NopEmotion struct{}

func (NopEmotion) Predict(_ context.Context, reps []Representation) ([]EmotionTransition, error) {
	return make([]EmotionTransition, len(reps)), nil
}

// NopInterest returns an empty activation per representation.
type NopInterest struct{}

func (NopInterest) Predict(_ context.Context, reps []Representation) ([]InterestActivation, error) {
	return make([]InterestActivation, len(reps)), nil
}

// EncoderOnly returns a MultiTask that runs enc and fills the head outputs
// with empty values. It is used where only the shared embeddings matter.
func EncoderOnly(enc Encoder) *MultiTask {
	return &MultiTask{Encoder: enc, Language: NopLanguage{}, Emotion: NopEmotion{}, Interest: NopInterest{}}
}
