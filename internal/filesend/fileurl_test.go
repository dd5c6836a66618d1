package filesend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileURLHitsEndpoint(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/app/files/f-123/url" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("user_id") != "u1" {
			http.Error(w, "missing user", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(FileURLResponse{FileURL: "http://x/body", ThumbnailURL: "http://x/thumb", ExpiresAt: 42})
	}))
	defer srv.Close()

	up := NewHTTPUploader(nil, srv.Client(), srv.URL)
	resp, err := up.FileURL(context.Background(), "f-123", "u1")
	if err != nil {
		t.Fatalf("file url: %v", err)
	}
	if resp.FileURL != "http://x/body" || resp.ExpiresAt != 42 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestFileURLWithoutBaseURLFails(t *testing.T) {
	t.Parallel()
	up := NewHTTPUploader(nil, nil, "")
	if _, err := up.FileURL(context.Background(), "f-123", "u1"); err == nil {
		t.Fatal("want error without base url")
	}
}

func TestCleanupTmpKeepsOnlyToday(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	tmpRoot := filepath.Join(dataDir, "users", "u1", "files", "tmp")
	for _, day := range []string{"20260801", "20260802", "20260715"} {
		if err := os.MkdirAll(filepath.Join(tmpRoot, day), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	if err := CleanupTmp(dataDir, "u1", now); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	entries, err := os.ReadDir(tmpRoot)
	if err != nil {
		t.Fatalf("read tmp: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "20260802" {
		t.Fatalf("want only today's dir, got %v", entries)
	}
}

func TestCleanupTmpMissingDirIsNoop(t *testing.T) {
	t.Parallel()
	if err := CleanupTmp(t.TempDir(), "u1", time.Now()); err != nil {
		t.Fatalf("cleanup on missing dir: %v", err)
	}
}
