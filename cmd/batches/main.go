// Command batches prints one epoch of batches from a dialogue file or a
// datalab conversation, one JSON array per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hyrsta/AiSpea/internal/config"
	"github.com/Hyrsta/AiSpea/internal/datalab"
	"github.com/Hyrsta/AiSpea/internal/dataloader"
	"github.com/Hyrsta/AiSpea/internal/db"
	"github.com/Hyrsta/AiSpea/internal/dialogue"
	"github.com/Hyrsta/AiSpea/internal/model"
	"github.com/Hyrsta/AiSpea/internal/model/openaienc"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

type options struct {
	configPath     string
	input          string
	conversationID int64
	databaseURL    string
	batchSize      int
	shuffle        bool
	seed           uint64
	embed          bool
	set            map[string]bool
}

func main() {
	var o options
	flag.StringVar(&o.configPath, "config", "", "path to the YAML configuration file (optional)")
	flag.StringVar(&o.input, "input", "", "dialogue JSON file (default: dialogue.path from config)")
	flag.Int64Var(&o.conversationID, "conversation-id", 0, "read this datalab conversation instead of a file")
	flag.StringVar(&o.databaseURL, "database-url", "", "datalab Postgres URL (default: database.url from config)")
	flag.IntVar(&o.batchSize, "batch-size", dataloader.DefaultBatchSize, "samples per batch")
	flag.BoolVar(&o.shuffle, "shuffle", true, "shuffle turns before batching")
	flag.Uint64Var(&o.seed, "seed", 0, "random seed for a reproducible shuffle")
	flag.BoolVar(&o.embed, "embed", false, "encode each batch with the OpenAI embeddings API and log vector sizes")
	flag.Parse()

	o.set = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	os.Exit(run(o, os.Stdout))
}

func run(o options, stdout io.Writer) int {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batches: %v\n", err)
		return 1
	}
	slog.SetDefault(observe.NewLogger(string(cfg.Server.LogLevel)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := openDataset(ctx, o, cfg)
	if err != nil {
		slog.Error("failed to load dialogue", "err", err)
		return 1
	}

	opts := cfg.Loader.Options()
	if o.set["batch-size"] {
		opts = append(opts, dataloader.WithBatchSize(o.batchSize))
	}
	if o.set["shuffle"] {
		opts = append(opts, dataloader.WithShuffle(o.shuffle))
	}
	if o.set["seed"] {
		opts = append(opts, dataloader.WithSeed(o.seed))
	}
	loader, err := dataloader.New[dialogue.Sample](ds, opts...)
	if err != nil {
		slog.Error("invalid loader configuration", "err", err)
		return 2
	}

	var mt *model.MultiTask
	if o.embed {
		enc, err := openaienc.New(cfg.Embeddings.APIKey, cfg.Embeddings.Model, openaienc.WithBaseURL(cfg.Embeddings.BaseURL))
		if err != nil {
			slog.Error("failed to build encoder", "err", err)
			return 1
		}
		mt = model.EncoderOnly(enc)
		mt.Metrics = observe.DefaultMetrics()
	}

	if err := printBatches(ctx, loader, mt, stdout); err != nil {
		slog.Error("batching failed", "err", err)
		return 1
	}
	return 0
}

func openDataset(ctx context.Context, o options, cfg *config.Config) (*dialogue.Dataset, error) {
	if o.conversationID != 0 {
		url := cfg.Database.URL
		if o.databaseURL != "" {
			url = o.databaseURL
		}
		if url == "" {
			return nil, errors.New("-conversation-id needs -database-url or database.url")
		}
		database, err := db.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		defer database.Close()
		doc, err := datalab.GetDocument(ctx, database, o.conversationID)
		if err != nil {
			return nil, err
		}
		return dialogue.NewDataset(doc), nil
	}

	path := cfg.Dialogue.Path
	if o.input != "" {
		path = o.input
	}
	if path == "" {
		return nil, errors.New("no input: pass -input, -conversation-id or set dialogue.path")
	}
	start := time.Now()
	ds, err := dialogue.Open(path)
	if err != nil {
		return nil, err
	}
	slog.Debug("dialogue loaded", "path", path, "turns", ds.Len(), "elapsed", time.Since(start))
	return ds, nil
}

// printBatches writes one JSON line per batch of a single epoch. With a
// non-nil model every batch is also run through it.
func printBatches(ctx context.Context, loader *dataloader.Loader[dialogue.Sample], mt *model.MultiTask, out io.Writer) error {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	je := json.NewEncoder(bw)

	i := 0
	for batch, err := range loader.All() {
		if err != nil {
			return err
		}
		if err := je.Encode(batch); err != nil {
			return fmt.Errorf("encode batch %d: %w", i, err)
		}
		if mt != nil {
			res, err := mt.Forward(ctx, batch)
			if err != nil {
				return fmt.Errorf("forward batch %d: %w", i, err)
			}
			dims := 0
			if len(res.Embeddings) > 0 {
				dims = len(res.Embeddings[0])
			}
			slog.Info("batch embedded", "batch", i, "vectors", len(res.Embeddings), "dimensions", dims)
		}
		i++
	}
	return nil
}
