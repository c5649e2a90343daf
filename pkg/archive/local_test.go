package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLocalDescriptorLocatorCaseInsensitiveFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Skyrim.ESM"), []byte("x"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}

	locate := LocalDescriptorLocator(dir, map[string]string{"hash1": "skyrim.esm"})

	path, err := locate("hash1")
	if err != nil {
		t.Fatalf("expected case-insensitive match, got error: %v", err)
	}
	if filepath.Base(path) != "Skyrim.ESM" {
		t.Fatalf("resolved to %q, want Skyrim.ESM", path)
	}

	if _, err := locate("unknown-hash"); err == nil {
		t.Fatalf("expected error for unregistered hash")
	}
}
