package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gofinances/internal/amqp"
	"gofinances/internal/core"
	applog "gofinances/internal/log"
	"gofinances/internal/services"
	"gofinances/internal/upload"
)

// Importer runs a CSV import for a staged file.
type Importer interface {
	Execute(ctx context.Context, path string) (services.ImportResult, error)
}

// ImportWorker handles import requests delivered over AMQP
type ImportWorker struct {
	importer Importer
	stager   *upload.Stager
}

// NewImportWorker creates a worker. Each attempt imports a working copy made
// by stager, so the staged original survives a failure and a requeued
// request can retry it.
func NewImportWorker(importer Importer, stager *upload.Stager) *ImportWorker {
	return &ImportWorker{importer: importer, stager: stager}
}

// HandleImportRequest imports the staged file named by req. A returned error
// asks the consumer to requeue the request and leaves the staged file in
// place. Requests that can never succeed (the file is gone or the ledger
// rejected the batch) are logged and acknowledged instead.
func (w *ImportWorker) HandleImportRequest(ctx context.Context, req *amqp.ImportRequest) error {
	if req.FilePath == "" {
		slog.WarnContext(ctx, "Dropping import request without file path",
			"timestamp", req.Timestamp)
		return nil
	}

	slog.InfoContext(ctx, "Processing import request",
		"file_path", req.FilePath,
		"queued_for", time.Since(req.Timestamp).Round(time.Millisecond))

	work, err := w.stager.StageFile(req.FilePath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		slog.WarnContext(ctx, "Import file missing, request already handled or expired",
			"file_path", req.FilePath)
		return nil
	default:
		return fmt.Errorf("stage working copy of %s: %w", req.FilePath, err)
	}

	start := time.Now()
	res, err := w.importer.Execute(ctx, work)
	switch {
	case err == nil:
	case errors.Is(err, core.ErrInsufficientBalance), errors.Is(err, core.ErrInvalidInput):
		slog.ErrorContext(ctx, "Import rejected",
			"file_path", req.FilePath,
			"error", err)
		w.discard(ctx, req.FilePath)
		return nil
	default:
		slog.WarnContext(ctx, "Import failed, keeping staged file for retry",
			"file_path", req.FilePath,
			"error", err)
		return fmt.Errorf("import %s: %w", req.FilePath, err)
	}
	w.discard(ctx, req.FilePath)

	for _, s := range res.Skipped {
		slog.WarnContext(ctx, "Skipped CSV row",
			"file_path", req.FilePath,
			"line", s.Line,
			"reason", s.Reason)
	}

	fields := applog.NewFields().
		WithOperation(applog.OpImport).
		WithImport(req.FilePath, len(res.Transactions), len(res.Skipped)).
		WithDuration(start)
	slog.InfoContext(ctx, "Import request completed", fields.ToSlice()...)

	return nil
}

func (w *ImportWorker) discard(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.WarnContext(ctx, "Failed to remove staged import file",
			"file_path", path,
			"error", err)
	}
}
