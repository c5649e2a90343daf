package manifest

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTestBundle(t *testing.T, json string, blobs map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entry, err := zw.Create(BundleEntryName)
	if err != nil {
		t.Fatalf("create modlist entry: %v", err)
	}
	if _, err := entry.Write([]byte(json)); err != nil {
		t.Fatalf("write modlist entry: %v", err)
	}
	for name, data := range blobs {
		blobEntry, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create blob entry %q: %v", name, err)
		}
		if _, err := blobEntry.Write([]byte(data)); err != nil {
			t.Fatalf("write blob entry %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "modlist.wabbajack")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

const validBundleJSON = `{
	"game_id": "skyrimse",
	"name": "Test Pack",
	"version": "1.0",
	"archives": [
		{"name": "mod.7z", "size": 1024, "hash": "archive-hash-1", "source": {"kind": "direct-url", "url": "https://example.test/mod.7z"}}
	],
	"directives": [
		{"kind": "inline-file", "target_relative_path": "readme.txt", "expected_hash": "blob-hash-1", "source_data_id": "blob-1"},
		{"kind": "from-archive", "target_relative_path": "meshes/a.nif", "expected_hash": "h2",
			"source": {"archive_hash": "archive-hash-1", "path": [{"name": "meshes/a.nif"}]}}
	]
}`

func TestLoadParsesValidBundle(t *testing.T) {
	path := writeTestBundle(t, validBundleJSON, map[string]string{"blob-1": "hello"})

	modlist, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if modlist.GameID != GameSkyrimSE {
		t.Fatalf("expected GameID skyrimse, got %q", modlist.GameID)
	}
	if len(modlist.Directives) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(modlist.Directives))
	}
	if modlist.ArchiveByHash("archive-hash-1") == nil {
		t.Fatalf("expected archive-hash-1 to be indexed")
	}
}

func TestLoadBlobReadsInlineBlob(t *testing.T) {
	path := writeTestBundle(t, validBundleJSON, map[string]string{"blob-1": "hello world"})

	data, err := LoadBlob(path, "blob-1")
	if err != nil {
		t.Fatalf("LoadBlob: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", string(data))
	}
}

func TestLoadBlobMissingIDFails(t *testing.T) {
	path := writeTestBundle(t, validBundleJSON, map[string]string{"blob-1": "hello"})

	if _, err := LoadBlob(path, "does-not-exist"); err == nil {
		t.Fatalf("expected error for missing blob id")
	}
}

func TestLoadRejectsUndeclaredArchiveHash(t *testing.T) {
	const badJSON = `{
		"game_id": "skyrimse",
		"archives": [],
		"directives": [
			{"kind": "from-archive", "target_relative_path": "meshes/a.nif", "expected_hash": "h2",
				"source": {"archive_hash": "missing-hash", "path": [{"name": "meshes/a.nif"}]}}
		]
	}`
	path := writeTestBundle(t, badJSON, nil)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for undeclared archive hash")
	}
}

func TestLoadRejectsDuplicateTargetPathCaseInsensitive(t *testing.T) {
	const badJSON = `{
		"game_id": "skyrimse",
		"archives": [],
		"directives": [
			{"kind": "inline-file", "target_relative_path": "README.txt", "expected_hash": "h1", "source_data_id": "blob-1"},
			{"kind": "inline-file", "target_relative_path": "readme.txt", "expected_hash": "h2", "source_data_id": "blob-2"}
		]
	}`
	path := writeTestBundle(t, badJSON, nil)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for case-insensitive duplicate target path")
	}
}

func TestLoadMissingTopLevelEntryFails(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if _, err := zw.Create("not-the-modlist"); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	path := filepath.Join(t.TempDir(), "bad.wabbajack")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for bundle missing top-level entry")
	}
}
