package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Hyrsta/AiSpea/internal/dataloader"
	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/model"
	"github.com/Hyrsta/AiSpea/internal/model/mock"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

const doc = `{"metadata":{"id":1},"dialog":[{"role":"AI","text":"a"},{"role":"child","text":"bb"},{"role":"AI","text":"ccc"}],"labels":{}}`

func writeDoc(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dialogue.json")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_PrintsBatches(t *testing.T) {
	var out bytes.Buffer
	code := run(options{
		input:     writeDoc(t),
		batchSize: 2,
		shuffle:   false,
		set:       map[string]bool{"batch-size": true, "shuffle": true},
	}, &out)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), out.String())
	}
	var first []dialogue.Sample
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || first[0].DialogItem.Text() != "a" {
		t.Errorf("first batch = %+v", first)
	}
}

func TestRun_BadBatchSize(t *testing.T) {
	code := run(options{input: writeDoc(t), batchSize: 0, set: map[string]bool{"batch-size": true}}, &bytes.Buffer{})
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRun_NoInput(t *testing.T) {
	t.Setenv("AISPEA_DIALOGUE_PATH", "")
	if code := run(options{set: map[string]bool{}}, &bytes.Buffer{}); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestPrintBatches_Embeds(t *testing.T) {
	ds, err := dialogue.Open(writeDoc(t))
	if err != nil {
		t.Fatal(err)
	}
	loader, err := dataloader.New[dialogue.Sample](ds, dataloader.WithBatchSize(2), dataloader.WithShuffle(false))
	if err != nil {
		t.Fatal(err)
	}

	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatal(err)
	}
	enc := &mock.Encoder{Dimensions: 3}
	mt := model.EncoderOnly(enc)
	mt.Metrics = m

	var out bytes.Buffer
	if err := printBatches(context.Background(), loader, mt, &out); err != nil {
		t.Fatalf("printBatches: %v", err)
	}
	if len(enc.Calls) != 2 || len(enc.Calls[0]) != 2 || enc.Calls[1][0] != "ccc" {
		t.Errorf("encoder calls = %v", enc.Calls)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var forwards uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "aispea.model.forward.duration" {
				for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
					forwards += dp.Count
				}
			}
		}
	}
	if forwards != 2 {
		t.Errorf("forward duration samples = %d, want 2", forwards)
	}

	boom := errors.New("boom")
	mt = model.EncoderOnly(&mock.Encoder{Err: boom})
	if err := printBatches(context.Background(), loader, mt, &bytes.Buffer{}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
