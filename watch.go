package graphagent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brunobiangulo/graphagent/watcher"
)

// Watch ingests files created or modified in dir into the project that is
// current when each event arrives. It blocks until ctx is done. Removed
// files are logged only; their facts stay in the graph.
func Watch(ctx context.Context, e Engine, dir string, extensions []string) error {
	w, err := watcher.New(extensions, watcher.DefaultDebounce)
	if err != nil {
		return err
	}
	defer w.Close()

	events, err := w.Watch(ctx, dir)
	if err != nil {
		return err
	}
	slog.Info("watch: started", "dir", dir, "extensions", extensions)

	for ev := range events {
		if ev.Op == watcher.Removed {
			slog.Info("watch: file removed", "path", ev.Path)
			continue
		}
		res, err := e.IngestFile(ctx, "", ev.Path)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Warn("watch: ingest failed", "path", ev.Path, "op", ev.Op.String(), "error", err)
			continue
		}
		slog.Info("watch: ingested", "path", ev.Path, "op", ev.Op.String(),
			"chunks", res.ChunksProcessed, "entities", res.EntitiesCreated, "relations", res.RelationsCreated)
	}
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("watch: %s: event stream closed", dir)
}
