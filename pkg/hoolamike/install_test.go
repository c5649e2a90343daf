package hoolamike

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nettoneko/hoolamike/pkg/config"
	"github.com/nettoneko/hoolamike/pkg/executor"
	"github.com/nettoneko/hoolamike/pkg/logging"
)

func writeBundle(t *testing.T, json string, blobs map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	entry, err := zw.Create("modlist")
	if err != nil {
		t.Fatalf("create modlist entry: %v", err)
	}
	if _, err := entry.Write([]byte(json)); err != nil {
		t.Fatalf("write modlist entry: %v", err)
	}
	for name, content := range blobs {
		blobEntry, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create blob entry %q: %v", name, err)
		}
		if _, err := blobEntry.Write([]byte(content)); err != nil {
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

const inlineOnlyBundleJSON = `{
	"game_id": "skyrimse",
	"archives": [],
	"directives": [
		{"kind": "inline-file", "target_relative_path": "readme.txt", "expected_hash": "IGNORED", "source_data_id": "blob-1"}
	]
}`

func TestInstallWritesInlineFileAndReportsSuccess(t *testing.T) {
	bundlePath := writeBundle(t, inlineOnlyBundleJSON, map[string]string{"blob-1": "hello install"})
	installRoot := t.TempDir()

	cfg := config.Default()
	cfg.SkipVerifyAndDownloads = true // the test bundle's expected_hash is a placeholder, not a real digest

	logger := logging.NewLogger(logging.LevelDisabled, io.Discard)
	report, err := Install(context.Background(), bundlePath, cfg, Flags{InstallRoot: installRoot}, Dependencies{}, logger)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if report.Outcome != executor.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %v", report.Outcome)
	}

	written, err := os.ReadFile(filepath.Join(installRoot, "readme.txt"))
	if err != nil {
		t.Fatalf("reading installed file: %v", err)
	}
	if string(written) != "hello install" {
		t.Fatalf("expected %q, got %q", "hello install", string(written))
	}
}

func TestInstallSkipKindOmitsDirective(t *testing.T) {
	bundlePath := writeBundle(t, inlineOnlyBundleJSON, map[string]string{"blob-1": "hello install"})
	installRoot := t.TempDir()

	cfg := config.Default()
	cfg.SkipVerifyAndDownloads = true

	logger := logging.NewLogger(logging.LevelDisabled, io.Discard)
	flags := Flags{InstallRoot: installRoot, SkipKinds: []string{"inline-file"}}
	report, err := Install(context.Background(), bundlePath, cfg, flags, Dependencies{}, logger)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if report.Outcome != executor.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %v", report.Outcome)
	}
	if _, err := os.Stat(filepath.Join(installRoot, "readme.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected readme.txt to be skipped, stat err = %v", err)
	}
}

func TestInstallUnknownSkipKindFails(t *testing.T) {
	bundlePath := writeBundle(t, inlineOnlyBundleJSON, map[string]string{"blob-1": "hello install"})
	installRoot := t.TempDir()

	cfg := config.Default()
	logger := logging.NewLogger(logging.LevelDisabled, io.Discard)
	flags := Flags{InstallRoot: installRoot, SkipKinds: []string{"not-a-real-kind"}}
	if _, err := Install(context.Background(), bundlePath, cfg, flags, Dependencies{}, logger); err == nil {
		t.Fatalf("expected error for unknown skip kind")
	}
}
