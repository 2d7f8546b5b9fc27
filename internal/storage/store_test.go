package storage

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "alphahunt.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("reputation", []byte(`{"a":0.7}`)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	doc, err := s.Load("reputation")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(doc) != `{"a":0.7}` {
		t.Fatalf("doc mismatch: %s", doc)
	}
}

func TestLoadUnknownModuleReturnsNil(t *testing.T) {
	s := openTestStore(t)
	doc, err := s.Load("never-saved")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil doc, got %s", doc)
	}
}

func TestSaveUpserts(t *testing.T) {
	s := openTestStore(t)
	s.Save("cache", []byte(`{"v":1}`))
	if err := s.Save("cache", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	doc, _ := s.Load("cache")
	if string(doc) != `{"v":2}` {
		t.Fatalf("upsert did not overwrite: %s", doc)
	}

	modules, err := s.Modules()
	if err != nil {
		t.Fatalf("Modules: %v", err)
	}
	if len(modules) != 1 || modules[0] != "cache" {
		t.Fatalf("unexpected modules: %v", modules)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open("  ", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
