// Package dataloader groups the samples of an indexed source into batches.
//
// Each pass over the source (an epoch) covers every index exactly once: the
// indices are put in identity order, or shuffled, and cut into contiguous
// chunks of the batch size. The last chunk may be short and is still
// emitted. An empty source yields no batches.
//
// Iteration is pull-based and synchronous; there is no prefetching.
package dataloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/rand/v2"
	"sync"

	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

// DefaultBatchSize is used when [WithBatchSize] is not given.
const DefaultBatchSize = 32

// ErrInvalidConfig is returned by [New] for an unusable configuration.
var ErrInvalidConfig = errors.New("dataloader: invalid configuration")

// Source is a fixed-size sequence addressable by index.
type Source[T any] interface {
	Len() int
	Get(i int) (T, error)
}

var _ Source[dialogue.Sample] = (*dialogue.Dataset)(nil)

// Batch is an ordered group of samples.
type Batch[T any] []T

type config struct {
	batchSize int
	shuffle   bool
	seed      *uint64
	metrics   *observe.Metrics
}

// Option configures a [Loader].
type Option func(*config)

// WithBatchSize sets the number of samples per batch. It must be positive.
func WithBatchSize(n int) Option {
	return func(c *config) { c.batchSize = n }
}

// WithShuffle controls whether each epoch uses a fresh random permutation.
// Shuffling is on by default.
func WithShuffle(on bool) Option {
	return func(c *config) { c.shuffle = on }
}

// WithSeed makes the sequence of shuffled permutations reproducible. Without
// it the random source is seeded from the runtime.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = &seed }
}

// WithMetrics counts epochs, batches and samples on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// Loader produces epochs of batches over a [Source].
//
// Epoch may be called from several goroutines; each returned [Epoch] must be
// consumed by one goroutine.
type Loader[T any] struct {
	src       Source[T]
	batchSize int
	shuffle   bool
	metrics   *observe.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates the options and returns a loader over src. No permutation is
// computed until the first [Loader.Epoch].
func New[T any](src Source[T], opts ...Option) (*Loader[T], error) {
	if src == nil {
		return nil, fmt.Errorf("%w: source is nil", ErrInvalidConfig)
	}
	cfg := config{batchSize: DefaultBatchSize, shuffle: true}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size must be > 0, got %d", ErrInvalidConfig, cfg.batchSize)
	}

	var rng *rand.Rand
	if cfg.seed != nil {
		rng = rand.New(rand.NewPCG(*cfg.seed, *cfg.seed^0x9e3779b97f4a7c15))
	} else {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	return &Loader[T]{
		src:       src,
		batchSize: cfg.batchSize,
		shuffle:   cfg.shuffle,
		metrics:   cfg.metrics,
		rng:       rng,
	}, nil
}

// BatchSize returns the configured batch size.
func (l *Loader[T]) BatchSize() int { return l.batchSize }

// Shuffle reports whether epochs are shuffled.
func (l *Loader[T]) Shuffle() bool { return l.shuffle }

// NumBatches returns ceil(Len/BatchSize): the number of batches in one epoch.
func (l *Loader[T]) NumBatches() int {
	return numBatches(l.src.Len(), l.batchSize)
}

// numBatches is ceil(n/size) without the n+size overflow.
func numBatches(n, size int) int {
	if n <= 0 {
		return 0
	}
	return (n-1)/size + 1
}

// Epoch starts a new pass. With shuffling on, every call draws a new
// permutation.
func (l *Loader[T]) Epoch() *Epoch[T] {
	n := l.src.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle && n > 1 {
		l.mu.Lock()
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		l.mu.Unlock()
	}
	if l.metrics != nil {
		l.metrics.RecordEpoch(context.Background(), l.shuffle)
	}
	return &Epoch[T]{loader: l, order: order}
}

// All ranges over one fresh epoch. Iteration stops after the first error,
// which is yielded with a nil batch.
func (l *Loader[T]) All() iter.Seq2[Batch[T], error] {
	return func(yield func(Batch[T], error) bool) {
		ep := l.Epoch()
		for {
			b, err := ep.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(b, nil) {
				return
			}
		}
	}
}

// Epoch is one pass over the source with a fixed permutation.
type Epoch[T any] struct {
	loader *Loader[T]
	order  []int
	pos    int
}

// Order returns the permutation used by this epoch.
func (e *Epoch[T]) Order() []int { return e.order }

// Remaining returns the number of batches not yet returned by Next.
func (e *Epoch[T]) Remaining() int {
	return numBatches(len(e.order)-e.pos, e.loader.batchSize)
}

// Next returns the next batch, or io.EOF once every index has been served.
// An error from the source is returned as is; the failed chunk is skipped
// so a later Next continues with the following one.
func (e *Epoch[T]) Next() (Batch[T], error) {
	if e.pos >= len(e.order) {
		return nil, io.EOF
	}
	end := e.pos + min(e.loader.batchSize, len(e.order)-e.pos)
	idx := e.order[e.pos:end]
	e.pos = end

	batch := make(Batch[T], 0, len(idx))
	for _, i := range idx {
		s, err := e.loader.src.Get(i)
		if err != nil {
			return nil, err
		}
		batch = append(batch, s)
	}
	if e.loader.metrics != nil {
		e.loader.metrics.RecordBatch(context.Background(), len(batch))
	}
	return batch, nil
}
