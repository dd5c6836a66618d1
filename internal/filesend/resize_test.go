package filesend

import (
	"image"
	"os"
	"path/filepath"
	"testing"
)

func decodeDims(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg.Width, cfg.Height
}

func TestResizeLongEdgeScalesDown(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestJPEG(t, src, 2400, 1600)

	res, err := resizeLongEdge(src, dst, 1080)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if !res.Resized {
		t.Fatal("expected a resize")
	}
	if res.Width != 1080 {
		t.Fatalf("long edge = %d, want 1080", res.Width)
	}
	if res.Height < 719 || res.Height > 721 {
		t.Fatalf("short edge = %d, want 720 +-1", res.Height)
	}
	w, h := decodeDims(t, dst)
	if w != res.Width || h != res.Height {
		t.Fatalf("written file is %dx%d, reported %dx%d", w, h, res.Width, res.Height)
	}
}

func TestResizeLongEdgeNeverUpscales(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestJPEG(t, src, 800, 600)

	res, err := resizeLongEdge(src, dst, 1080)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if res.Resized {
		t.Fatal("no resize expected for a source within the cap")
	}
	if res.Width != 800 || res.Height != 600 {
		t.Fatalf("dimensions changed: %dx%d", res.Width, res.Height)
	}

	// The pass-through body is a byte copy, not a re-encode.
	srcBytes, _ := os.ReadFile(src)
	dstBytes, _ := os.ReadFile(dst)
	if len(srcBytes) != len(dstBytes) {
		t.Fatalf("pass-through should copy bytes: %d vs %d", len(srcBytes), len(dstBytes))
	}
}

func TestResizeLongEdgePortraitOrientation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestJPEG(t, src, 1600, 2400)

	res, err := resizeLongEdge(src, dst, 1080)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if res.Height != 1080 {
		t.Fatalf("long edge = %d, want 1080", res.Height)
	}
	if res.Width < 719 || res.Width > 721 {
		t.Fatalf("short edge = %d, want 720 +-1", res.Width)
	}
}
