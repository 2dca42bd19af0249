package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (w *fakeWriter) Put(_ context.Context, path string, data []byte, _ string) error {
	if w.err != nil {
		return w.err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = data
	return nil
}

type fakeCommandStore struct {
	cmds    []domain.OrderCommand
	deleted []time.Time
}

func (s *fakeCommandStore) ListBefore(_ context.Context, _ time.Time) ([]domain.OrderCommand, error) {
	return s.cmds, nil
}

func (s *fakeCommandStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = append(s.deleted, before)
	return int64(len(s.cmds)), nil
}

type fakeFillStore struct {
	fills   []domain.ExecutionNotice
	deleted []time.Time
}

func (s *fakeFillStore) ListBefore(_ context.Context, _ time.Time) ([]domain.ExecutionNotice, error) {
	return s.fills, nil
}

func (s *fakeFillStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.deleted = append(s.deleted, before)
	return int64(len(s.fills)), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestArchiveExportsAndPrunes(t *testing.T) {
	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	writer := &fakeWriter{}
	cmds := &fakeCommandStore{cmds: []domain.OrderCommand{
		{ID: "cmd-1", Action: domain.CommandPlace, Symbol: "KR6000000001", Price: 10050, Quantity: 10},
		{ID: "cmd-2", Action: domain.CommandRevise, Symbol: "KR6000000001", Price: 10051, Quantity: 10},
	}}
	fills := &fakeFillStore{fills: []domain.ExecutionNotice{
		{OrderNo: "0000117057", Symbol: "KR6000000001", FillQty: 10, FillPrice: 10051},
	}}

	a := NewArchiver(writer, cmds, fills, testLogger())
	if err := a.Archive(context.Background(), cutoff); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	cmdBlob, ok := writer.puts["archive/commands/2025-03.jsonl"]
	if !ok {
		t.Fatalf("commands archive not uploaded, got keys %v", keys(writer.puts))
	}
	if lines := bytes.Count(cmdBlob, []byte("\n")); lines != 2 {
		t.Fatalf("commands archive lines = %d, want 2", lines)
	}
	if !strings.Contains(string(cmdBlob), `"ID":"cmd-1"`) {
		t.Fatalf("commands archive missing cmd-1: %s", cmdBlob)
	}

	fillBlob, ok := writer.puts["archive/fills/2025-03.jsonl"]
	if !ok {
		t.Fatalf("fills archive not uploaded, got keys %v", keys(writer.puts))
	}
	if lines := bytes.Count(fillBlob, []byte("\n")); lines != 1 {
		t.Fatalf("fills archive lines = %d, want 1", lines)
	}

	if len(cmds.deleted) != 1 || !cmds.deleted[0].Equal(cutoff) {
		t.Fatalf("command prune calls = %v, want one at cutoff", cmds.deleted)
	}
	if len(fills.deleted) != 1 || !fills.deleted[0].Equal(cutoff) {
		t.Fatalf("fill prune calls = %v, want one at cutoff", fills.deleted)
	}
}

func TestArchiveSkipsEmptyStores(t *testing.T) {
	writer := &fakeWriter{}
	cmds := &fakeCommandStore{}
	fills := &fakeFillStore{}

	a := NewArchiver(writer, cmds, fills, testLogger())
	if err := a.Archive(context.Background(), time.Now()); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(writer.puts) != 0 {
		t.Fatalf("uploaded %v for empty stores", keys(writer.puts))
	}
	if len(cmds.deleted)+len(fills.deleted) != 0 {
		t.Fatal("prune ran on empty stores")
	}
}

func TestArchiveUploadFailureSkipsPrune(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket unreachable")}
	cmds := &fakeCommandStore{cmds: []domain.OrderCommand{{ID: "cmd-1"}}}
	fills := &fakeFillStore{fills: []domain.ExecutionNotice{{OrderNo: "0000117057"}}}

	a := NewArchiver(writer, cmds, fills, testLogger())
	err := a.Archive(context.Background(), time.Now())
	if err == nil {
		t.Fatal("Archive succeeded with failing writer")
	}
	if len(cmds.deleted)+len(fills.deleted) != 0 {
		t.Fatal("rows pruned despite failed upload")
	}
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
