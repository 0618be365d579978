package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/arkilian/qgate/internal/config"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return p
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	srcPath := writeTemp(t, "summary.json", `{"avg_latency_sec":0.5}`)

	objectPath := "reports/20260101_000000.json"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	objects, err := storage.ListObjects(ctx, "reports")
	if err != nil || len(objects) != 1 || objects[0] != objectPath {
		t.Fatalf("expected %q to be listed, got %v (err=%v)", objectPath, objects, err)
	}

	dstPath := filepath.Join(t.TempDir(), "nested", "downloaded.json")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != `{"avg_latency_sec":0.5}` {
		t.Errorf("content mismatch: %q", got)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	err := storage.Download(context.Background(), "nope.json", filepath.Join(t.TempDir(), "x"))
	if err != ErrObjectNotFound {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()
	src := writeTemp(t, "a.txt", "x")

	for _, p := range []string{"runs/b.json", "runs/a.json", "runs/plots/a.png", "other/c.json"} {
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatal(err)
		}
	}

	objects, err := storage.ListObjects(ctx, "runs")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"runs/a.json", "runs/b.json", "runs/plots/a.png"}
	if len(objects) != len(want) {
		t.Fatalf("got %v, want %v", objects, want)
	}
	for i := range want {
		if objects[i] != want[i] {
			t.Errorf("objects[%d] = %q, want %q", i, objects[i], want[i])
		}
	}

	if objects, err := storage.ListObjects(ctx, "missing"); err != nil || len(objects) != 0 {
		t.Fatalf("missing prefix should list nothing, got %v %v", objects, err)
	}
}

func TestLocalStorage_PathsStayInBase(t *testing.T) {
	base := t.TempDir()
	storage, _ := NewLocalStorage(base)
	src := writeTemp(t, "a.txt", "x")

	if err := storage.Upload(context.Background(), src, "../../escape.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); err != nil {
		t.Fatalf("expected object inside base dir: %v", err)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Upload(ctx, "x", "y"); err == nil {
		t.Error("Upload should fail on cancelled context")
	}
	if _, err := storage.ListObjects(ctx, ""); err == nil {
		t.Error("ListObjects should fail on cancelled context")
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Type: "none"})
	if err != nil || s != nil {
		t.Fatalf("none should yield nil storage, got %v %v", s, err)
	}

	s, err = Open(context.Background(), config.StorageConfig{Type: "local", Path: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*LocalStorage); !ok {
		t.Fatalf("expected LocalStorage, got %T", s)
	}

	if _, err := Open(context.Background(), config.StorageConfig{Type: "gcs"}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
	if _, err := Open(context.Background(), config.StorageConfig{Type: "s3"}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestObjectPath(t *testing.T) {
	if got := ObjectPath("", "a.json"); got != "a.json" {
		t.Errorf("got %q", got)
	}
	if got := ObjectPath("/qgate/runs/", "a.json"); got != "qgate/runs/a.json" {
		t.Errorf("got %q", got)
	}
}
