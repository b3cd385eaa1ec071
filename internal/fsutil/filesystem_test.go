package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	tmpDir := t.TempDir()
	nested := filepath.Join(tmpDir, "out", "site_10012345")

	if err := osfs.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	target := filepath.Join(nested, "report.json")
	if err := osfs.WriteFile(target, []byte(`{"images":16}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if !osfs.Exists(target) {
		t.Error("expected written file to exist")
	}

	data, err := osfs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"images":16}` {
		t.Errorf("expected report content, got %q", data)
	}
}

func TestOSFileSystem_Create(t *testing.T) {
	osfs := OSFileSystem{}
	target := filepath.Join(t.TempDir(), "scene.html")

	w, err := osfs.Create(target)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("<html></html>")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := osfs.ReadFile(target)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("expected streamed content, got %q", data)
	}
}

func TestOSFileSystem_Exists(t *testing.T) {
	osfs := OSFileSystem{}

	if !osfs.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}
	if osfs.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/out/report.json", []byte(`{"points":16}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/out/report.json")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"points":16}` {
		t.Errorf("expected report content, got %q", data)
	}
}

func TestMemoryFileSystem_CreateCommitsOnClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/scene.html")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("<html>")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := w.Write([]byte("</html>")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := mfs.ReadFile("/scene.html")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("expected buffered writes, got %q", data)
	}
}

func TestMemoryFileSystem_CreateTruncatesExisting(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("/scene.html", []byte("stale page"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	w, err := mfs.Create("/scene.html")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("fresh")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := mfs.ReadFile("/scene.html")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "fresh" {
		t.Errorf("expected truncated rewrite, got %q", data)
	}
}

func TestMemoryFileSystem_ReadNonExistent(t *testing.T) {
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("/nonexistent.json")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.MkdirAll("/out/sites/10012345", 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	for _, dir := range []string{"/out/sites/10012345", "/out/sites", "/out"} {
		if !mfs.Exists(dir) {
			t.Errorf("expected %s to exist", dir)
		}
	}
}

func TestMemoryFileSystem_PathCleaning(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := mfs.WriteFile("./dirty/../clean.txt", []byte("clean"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("clean.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "clean" {
		t.Errorf("expected cleaned path lookup, got %q", data)
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	mfs := NewMemoryFileSystem()

	original := []byte("original")
	if err := mfs.WriteFile("/isolated.txt", original, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	original[0] = 'X'

	data, err := mfs.ReadFile("/isolated.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if data[0] != 'o' {
		t.Error("expected stored data to be isolated from caller slice")
	}

	data[0] = 'Y'

	data2, err := mfs.ReadFile("/isolated.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if data2[0] != 'o' {
		t.Error("expected returned data to be isolated between reads")
	}
}
