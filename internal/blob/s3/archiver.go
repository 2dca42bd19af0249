package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

// CommandArchiveStore is the slice of the command store the archiver needs:
// time-ranged reads plus deletion of the rows it has exported.
type CommandArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.OrderCommand, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// FillArchiveStore is the equivalent slice of the fill store.
type FillArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.ExecutionNotice, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by exporting aged order commands and
// fills as JSONL to blob storage, then pruning the exported rows from the
// primary store. Rows are deleted only after the upload succeeds.
type ArchiveImpl struct {
	writer   domain.BlobWriter
	commands CommandArchiveStore
	fills    FillArchiveStore
	log      *slog.Logger
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, commands CommandArchiveStore, fills FillArchiveStore, log *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:   writer,
		commands: commands,
		fills:    fills,
		log:      log.With("component", "archiver"),
	}
}

// Archive exports all commands and fills recorded strictly before the cutoff.
// Each kind is archived independently, so a failure in one does not block the
// other; the first error is returned after both have been attempted.
func (a *ArchiveImpl) Archive(ctx context.Context, before time.Time) error {
	cmdErr := a.archiveCommands(ctx, before)
	fillErr := a.archiveFills(ctx, before)
	if cmdErr != nil {
		return cmdErr
	}
	return fillErr
}

func (a *ArchiveImpl) archiveCommands(ctx context.Context, before time.Time) error {
	cmds, err := a.commands.ListBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("s3blob: archive commands query: %w", err)
	}
	if len(cmds) == 0 {
		return nil
	}

	buf, err := marshalJSONL(cmds)
	if err != nil {
		return fmt.Errorf("s3blob: archive commands marshal: %w", err)
	}

	path := archivePath("commands", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive commands upload: %w", err)
	}

	deleted, err := a.commands.DeleteBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("s3blob: archive commands prune: %w", err)
	}

	a.log.Info("archived order commands",
		"path", path,
		"exported", len(cmds),
		"deleted", deleted,
		"before", before.Format(time.RFC3339))
	return nil
}

func (a *ArchiveImpl) archiveFills(ctx context.Context, before time.Time) error {
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath("fills", before)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	deleted, err := a.fills.DeleteBefore(ctx, before)
	if err != nil {
		return fmt.Errorf("s3blob: archive fills prune: %w", err)
	}

	a.log.Info("archived fills",
		"path", path,
		"exported", len(fills),
		"deleted", deleted,
		"before", before.Format(time.RFC3339))
	return nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/commands/2025-01.jsonl
//	archive/fills/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
