// Package openaienc provides a [model.Encoder] backed by the OpenAI
// embeddings API.
package openaienc

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Hyrsta/AiSpea/internal/model"
)

// DefaultModel is the embeddings model used when none is given.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

var _ model.Encoder = (*Encoder)(nil)

// Encoder embeds dialogue texts with one API request per batch.
type Encoder struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
}

// Option configures an [Encoder].
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// New returns an encoder for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Encoder, error) {
	if apiKey == "" {
		return nil, errors.New("openaienc: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Encoder{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Encode returns one vector per text, in input order. Empty texts are sent
// as a single space since the API rejects empty strings.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = " "
		}
		input[i] = t
	}

	resp, err := e.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: e.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: input},
	})
	if err != nil {
		return nil, fmt.Errorf("openaienc: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openaienc: expected %d embeddings, got %d",
			model.ErrShapeMismatch, len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("openaienc: unexpected index %d", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	for i, v := range out {
		if len(v) != len(out[0]) {
			return nil, fmt.Errorf("%w: openaienc: vector %d has %d dimensions, vector 0 has %d",
				model.ErrShapeMismatch, i, len(v), len(out[0]))
		}
	}
	return out, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
