// Command export_dialogue writes datalab conversations as dialogue JSON
// files, one <conversation id>.json per conversation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Hyrsta/AiSpea/internal/config"
	"github.com/Hyrsta/AiSpea/internal/datalab"
	"github.com/Hyrsta/AiSpea/internal/db"
	"github.com/Hyrsta/AiSpea/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		databaseURL = flag.String("database-url", os.Getenv(config.EnvDatabaseURL), "Postgres URL (or set "+config.EnvDatabaseURL+")")
		dataset     = flag.String("dataset", "", "Dataset name to export (default: all)")
		split       = flag.String("split", "", "Split to export: train|valid|test (default: all)")
		status      = flag.String("status", "approved", "Conversation status to export (empty: all)")
		outDir      = flag.String("out", "dialogues", "Output directory")
		max         = flag.Int("max", 0, "Max conversations to export (0 = unlimited)")
		parallel    = flag.Int("parallel", 4, "Conversations fetched concurrently")
		logLevel    = flag.String("log-level", os.Getenv(config.EnvLogLevel), "debug|info|warn|error")
	)
	flag.Parse()
	slog.SetDefault(observe.NewLogger(*logLevel))

	if *databaseURL == "" {
		fmt.Fprintf(os.Stderr, "export_dialogue: -database-url or %s is required\n", config.EnvDatabaseURL)
		return 2
	}
	if *parallel < 1 {
		fmt.Fprintln(os.Stderr, "export_dialogue: -parallel must be >= 1")
		return 2
	}
	params := datalab.ListParams{DatasetName: *dataset, Limit: *max}
	if *split != "" {
		s, ok := datalab.NormalizeSplit(*split)
		if !ok {
			fmt.Fprintf(os.Stderr, "export_dialogue: invalid -split %q\n", *split)
			return 2
		}
		params.Split = s
	}
	if *status != "" {
		st, ok := datalab.NormalizeStatus(*status)
		if !ok {
			fmt.Fprintf(os.Stderr, "export_dialogue: invalid -status %q\n", *status)
			return 2
		}
		params.Status = st
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, *databaseURL)
	if err != nil {
		slog.Error("db open failed", "err", err)
		return 1
	}
	defer database.Close()

	ids, err := datalab.ListConversationIDs(ctx, database, params)
	if err != nil {
		slog.Error("list conversations failed", "err", err)
		return 1
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		slog.Error("create output dir failed", "dir", *outDir, "err", err)
		return 1
	}

	var written atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(*parallel)
	for _, id := range ids {
		eg.Go(func() error {
			doc, err := datalab.GetDocument(egCtx, database, id)
			if err != nil {
				return fmt.Errorf("conversation %d: %w", id, err)
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return fmt.Errorf("conversation %d: encode: %w", id, err)
			}
			if err := writeFileAtomic(filepath.Join(*outDir, fmt.Sprintf("%d.json", id)), append(data, '\n')); err != nil {
				return fmt.Errorf("conversation %d: %w", id, err)
			}
			written.Add(1)
			slog.Debug("conversation exported", "conversation_id", id, "turns", doc.Len())
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		slog.Error("export failed", "written", written.Load(), "err", err)
		return 1
	}

	slog.Info("export complete", "conversations", written.Load(), "out", *outDir)
	return 0
}

// writeFileAtomic writes data next to path and renames it into place so a
// reader never sees a partial file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
