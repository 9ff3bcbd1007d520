package docstore

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestLocalStorage_RoundTrip(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	ctx := context.Background()

	path, err := s.Upload(ctx, "doc-1234", "finance act.txt", strings.NewReader("tax text"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if strings.Contains(path, " ") {
		t.Errorf("expected sanitized path, got %q", path)
	}

	rc, err := s.Download(ctx, path)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "tax text" {
		t.Errorf("expected %q, got %q", "tax text", string(data))
	}

	if err := s.Delete(ctx, path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Download(ctx, path); err == nil {
		t.Error("expected error downloading deleted file")
	}

	// Deleting a missing file is not an error.
	if err := s.Delete(ctx, path); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestStoragePath_Sharding(t *testing.T) {
	p := storagePath("abcdef", "notes.txt")
	if !strings.HasPrefix(p, "ab/") {
		t.Errorf("expected shard prefix ab/, got %q", p)
	}
	if !strings.HasSuffix(p, ".txt") {
		t.Errorf("expected extension preserved, got %q", p)
	}
}
