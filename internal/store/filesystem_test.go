package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/impara/comicgen/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func testStrip(id string, status domain.JobStatus) *domain.Strip {
	return &domain.Strip{
		ID:        id,
		Status:    status,
		Story:     "A hero saves the city.",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	want := testStrip("job-1", domain.JobStatusProcessing)
	want.Progress = 42
	if err := fs.PutStrip(ctx, want); err != nil {
		t.Fatalf("PutStrip: %v", err)
	}

	got, err := fs.GetStrip(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetStrip: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status || got.Progress != 42 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetUnknownStrip(t *testing.T) {
	fs := newTestStore(t)

	_, err := fs.GetStrip(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutOverwritesPreviousState(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	s := testStrip("job-1", domain.JobStatusInit)
	if err := fs.PutStrip(ctx, s); err != nil {
		t.Fatalf("PutStrip: %v", err)
	}
	s.Status = domain.JobStatusCompleted
	if err := fs.PutStrip(ctx, s); err != nil {
		t.Fatalf("PutStrip: %v", err)
	}

	got, err := fs.GetStrip(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetStrip: %v", err)
	}
	if got.Status != domain.JobStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
}

func TestListActiveSkipsTerminalJobs(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	for id, status := range map[string]domain.JobStatus{
		"a": domain.JobStatusInit,
		"b": domain.JobStatusProcessing,
		"c": domain.JobStatusCompleted,
		"d": domain.JobStatusFailed,
	} {
		if err := fs.PutStrip(ctx, testStrip(id, status)); err != nil {
			t.Fatalf("PutStrip %s: %v", id, err)
		}
	}

	ids, err := fs.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListActive = %v, want 2 active ids", ids)
	}
	for _, id := range ids {
		if id != "a" && id != "b" {
			t.Fatalf("unexpected active id %q", id)
		}
	}
}

func TestHandleIndexLifecycle(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	ref := domain.HandleRef{JobID: "job-1", Phase: domain.PhaseCharacters, ItemID: "c1"}
	handle := "ext/handle:with special chars?"

	if err := fs.PutHandle(ctx, handle, ref); err != nil {
		t.Fatalf("PutHandle: %v", err)
	}
	got, err := fs.GetHandle(ctx, handle)
	if err != nil {
		t.Fatalf("GetHandle: %v", err)
	}
	if got != ref {
		t.Fatalf("GetHandle = %+v, want %+v", got, ref)
	}

	if err := fs.DeleteHandle(ctx, handle); err != nil {
		t.Fatalf("DeleteHandle: %v", err)
	}
	if _, err := fs.GetHandle(ctx, handle); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err after delete = %v, want ErrNotFound", err)
	}
	// Deleting twice is a no-op.
	if err := fs.DeleteHandle(ctx, handle); err != nil {
		t.Fatalf("second DeleteHandle: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"job-1":        "job-1",
		"../escape":    "___escape",
		"we ird/name":  "we_ird_name",
		"":             "_",
		"UPPER_lower9": "UPPER_lower9",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Fatalf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
