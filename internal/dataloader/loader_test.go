package dataloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

// intSource serves its own indices, optionally failing at one of them.
type intSource struct {
	n      int
	failAt int
	gets   int
}

func (s *intSource) Len() int { return s.n }

func (s *intSource) Get(i int) (int, error) {
	s.gets++
	if s.failAt >= 0 && i == s.failAt {
		return 0, fmt.Errorf("get %d failed", i)
	}
	return i, nil
}

func newIntSource(n int) *intSource { return &intSource{n: n, failAt: -1} }

func collectEpoch[T any](t *testing.T, ep *Epoch[T]) []Batch[T] {
	t.Helper()
	var out []Batch[T]
	for {
		b, err := ep.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, b)
	}
}

func sizes[T any](bs []Batch[T]) []int {
	out := make([]int, len(bs))
	for i, b := range bs {
		out[i] = len(b)
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	l, err := New[int](newIntSource(100))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.BatchSize() != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", l.BatchSize(), DefaultBatchSize)
	}
	if !l.Shuffle() {
		t.Error("Shuffle() = false, want true by default")
	}
}

func TestNew_RejectsNonPositiveBatchSize(t *testing.T) {
	for _, n := range []int{0, -1, -32} {
		src := newIntSource(10)
		l, err := New[int](src, WithBatchSize(n))
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("WithBatchSize(%d): err = %v, want ErrInvalidConfig", n, err)
		}
		if l != nil {
			t.Errorf("WithBatchSize(%d): loader = %v, want nil", n, l)
		}
		if src.gets != 0 {
			t.Errorf("WithBatchSize(%d): source touched %d times before iteration", n, src.gets)
		}
	}
}

func TestNew_RejectsNilSource(t *testing.T) {
	if _, err := New[int](nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestEpoch_LastBatchShort(t *testing.T) {
	l, err := New[int](newIntSource(10), WithBatchSize(4), WithShuffle(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batches := collectEpoch(t, l.Epoch())
	if got := sizes(batches); !slices.Equal(got, []int{4, 4, 2}) {
		t.Fatalf("batch sizes = %v, want [4 4 2]", got)
	}
	if l.NumBatches() != 3 {
		t.Errorf("NumBatches() = %d, want 3", l.NumBatches())
	}
}

func TestEpoch_HugeBatchSize(t *testing.T) {
	for _, size := range []int{10, 11, math.MaxInt - 1, math.MaxInt} {
		l, err := New[int](newIntSource(10), WithBatchSize(size), WithShuffle(false))
		if err != nil {
			t.Fatalf("New(%d): %v", size, err)
		}
		ep := l.Epoch()
		if l.NumBatches() != 1 || ep.Remaining() != 1 {
			t.Errorf("size %d: NumBatches() = %d, Remaining() = %d, want 1, 1", size, l.NumBatches(), ep.Remaining())
		}
		batches := collectEpoch(t, ep)
		if got := sizes(batches); !slices.Equal(got, []int{10}) {
			t.Errorf("size %d: batch sizes = %v, want [10]", size, got)
		}
		if ep.Remaining() != 0 {
			t.Errorf("size %d: Remaining() after drain = %d, want 0", size, ep.Remaining())
		}
	}
}

func TestEpoch_NoShuffleReproducesOrder(t *testing.T) {
	for _, bs := range []int{1, 2, 3, 7, 10, 11, 64} {
		l, err := New[int](newIntSource(10), WithBatchSize(bs), WithShuffle(false))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		var flat []int
		for _, b := range collectEpoch(t, l.Epoch()) {
			flat = append(flat, b...)
		}
		want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
		if !slices.Equal(flat, want) {
			t.Errorf("batch size %d: concatenated = %v, want %v", bs, flat, want)
		}
	}
}

func TestEpoch_ShuffleCoversEveryIndexOnce(t *testing.T) {
	l, err := New[int](newIntSource(50), WithBatchSize(8))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for pass := 0; pass < 5; pass++ {
		batches := collectEpoch(t, l.Epoch())
		if len(batches) != 7 {
			t.Fatalf("pass %d: %d batches, want 7", pass, len(batches))
		}
		var flat []int
		for _, b := range batches {
			flat = append(flat, b...)
		}
		slices.Sort(flat)
		for i, v := range flat {
			if v != i {
				t.Fatalf("pass %d: indices %v are not a permutation of 0..49", pass, flat)
			}
		}
	}
}

func TestEpoch_ReshufflesEachPass(t *testing.T) {
	l, err := New[int](newIntSource(100), WithSeed(7))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first := l.Epoch().Order()
	second := l.Epoch().Order()
	if slices.Equal(first, second) {
		t.Fatal("two epochs produced the same permutation of 100 elements")
	}
}

func TestWithSeed_Reproducible(t *testing.T) {
	a, _ := New[int](newIntSource(40), WithSeed(42))
	b, _ := New[int](newIntSource(40), WithSeed(42))
	for pass := 0; pass < 3; pass++ {
		if !slices.Equal(a.Epoch().Order(), b.Epoch().Order()) {
			t.Fatalf("pass %d: same seed produced different permutations", pass)
		}
	}
}

func TestEpoch_EmptySourceYieldsNoBatches(t *testing.T) {
	for _, shuffle := range []bool{true, false} {
		l, err := New[int](newIntSource(0), WithShuffle(shuffle))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ep := l.Epoch()
		if ep.Remaining() != 0 {
			t.Errorf("shuffle=%v: Remaining() = %d, want 0", shuffle, ep.Remaining())
		}
		if _, err := ep.Next(); err != io.EOF {
			t.Errorf("shuffle=%v: Next() err = %v, want io.EOF", shuffle, err)
		}
		if l.NumBatches() != 0 {
			t.Errorf("shuffle=%v: NumBatches() = %d, want 0", shuffle, l.NumBatches())
		}
	}
}

func TestEpoch_NextAfterEOFStaysEOF(t *testing.T) {
	l, _ := New[int](newIntSource(3), WithBatchSize(3), WithShuffle(false))
	ep := l.Epoch()
	if _, err := ep.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := ep.Next(); err != io.EOF {
			t.Fatalf("Next() #%d after end err = %v, want io.EOF", i, err)
		}
	}
}

func TestEpoch_LazyAndRemaining(t *testing.T) {
	src := newIntSource(10)
	l, _ := New[int](src, WithBatchSize(4), WithShuffle(false))
	ep := l.Epoch()
	if src.gets != 0 {
		t.Fatalf("Epoch() fetched %d samples eagerly", src.gets)
	}
	if ep.Remaining() != 3 {
		t.Fatalf("Remaining() = %d, want 3", ep.Remaining())
	}
	if _, err := ep.Next(); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if src.gets != 4 {
		t.Errorf("after one batch gets = %d, want 4", src.gets)
	}
	if ep.Remaining() != 2 {
		t.Errorf("Remaining() = %d, want 2", ep.Remaining())
	}
}

func TestEpoch_SourceErrorPropagates(t *testing.T) {
	src := &intSource{n: 10, failAt: 5}
	l, _ := New[int](src, WithBatchSize(4), WithShuffle(false))
	ep := l.Epoch()
	if _, err := ep.Next(); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if _, err := ep.Next(); err == nil || !strings.Contains(err.Error(), "get 5 failed") {
		t.Fatalf("second batch err = %v, want source error", err)
	}
	b, err := ep.Next()
	if err != nil {
		t.Fatalf("third batch: %v", err)
	}
	if !slices.Equal(b, Batch[int]{8, 9}) {
		t.Errorf("third batch = %v, want [8 9]", b)
	}
}

func TestAll_RangesOverOneEpoch(t *testing.T) {
	l, _ := New[int](newIntSource(10), WithBatchSize(4), WithShuffle(false))
	var got []int
	for b, err := range l.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		got = append(got, len(b))
	}
	if !slices.Equal(got, []int{4, 4, 2}) {
		t.Fatalf("sizes = %v, want [4 4 2]", got)
	}
}

func TestAll_StopsAfterError(t *testing.T) {
	l, _ := New[int](&intSource{n: 10, failAt: 0}, WithBatchSize(4), WithShuffle(false))
	var errs, batches int
	for b, err := range l.All() {
		if err != nil {
			errs++
			if b != nil {
				t.Errorf("batch with error = %v, want nil", b)
			}
			continue
		}
		batches++
	}
	if errs != 1 || batches != 0 {
		t.Fatalf("errs=%d batches=%d, want 1 and 0", errs, batches)
	}
}

func TestAll_EarlyBreak(t *testing.T) {
	src := newIntSource(100)
	l, _ := New[int](src, WithBatchSize(10), WithShuffle(false))
	for range l.All() {
		break
	}
	if src.gets != 10 {
		t.Fatalf("gets = %d, want 10 after breaking on the first batch", src.gets)
	}
}

func TestLoader_OverDialogueDataset(t *testing.T) {
	doc, err := dialogue.Parse([]byte(`{
		"metadata": {"child": "c1"},
		"dialog": [
			{"role": "child", "text": "a"}, {"role": "AI", "text": "b"},
			{"role": "child", "text": "c"}, {"role": "AI", "text": "d"},
			{"role": "child", "text": "e"}
		],
		"labels": {"level": "L1"}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := New[dialogue.Sample](dialogue.NewDataset(doc), WithBatchSize(2), WithShuffle(false))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var texts []string
	for b, err := range l.All() {
		if err != nil {
			t.Fatalf("All: %v", err)
		}
		for _, s := range b {
			if s.Metadata["child"] != "c1" || s.Labels["level"] != "L1" {
				t.Fatalf("sample lost document parts: %+v", s)
			}
			texts = append(texts, s.DialogItem.Text())
		}
	}
	if got := strings.Join(texts, ""); got != "abcde" {
		t.Fatalf("texts = %q, want abcde", got)
	}
}

func TestLoader_EmptyDialogueDataset(t *testing.T) {
	doc, err := dialogue.Parse([]byte(`{"metadata": {}, "dialog": [], "labels": {}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	l, err := New[dialogue.Sample](dialogue.NewDataset(doc))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n := 0
	for range l.All() {
		n++
	}
	if n != 0 {
		t.Fatalf("empty dataset produced %d batches, want 0", n)
	}
}

func TestLoader_TypedNilDataset(t *testing.T) {
	var ds *dialogue.Dataset
	l, err := New[dialogue.Sample](ds, WithBatchSize(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if l.NumBatches() != 0 {
		t.Errorf("NumBatches() = %d, want 0", l.NumBatches())
	}
	if b, err := l.Epoch().Next(); err != io.EOF {
		t.Fatalf("Next() = %v, %v; want io.EOF", b, err)
	}
}

func TestWithMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	l, _ := New[int](newIntSource(10), WithBatchSize(4), WithMetrics(m))
	collectEpoch(t, l.Epoch())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := map[string]int64{
		"aispea.loader.epochs":  1,
		"aispea.loader.batches": 3,
		"aispea.loader.samples": 10,
	}
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			w, ok := want[met.Name]
			if !ok {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			var got int64
			for _, dp := range sum.DataPoints {
				got += dp.Value
			}
			if got != w {
				t.Errorf("%s = %d, want %d", met.Name, got, w)
			}
			delete(want, met.Name)
		}
	}
	if len(want) != 0 {
		t.Errorf("metrics not recorded: %v", want)
	}
}
