package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nettoneko/hoolamike/pkg/hashing"
	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/planner"
	"github.com/nettoneko/hoolamike/pkg/supervisor"
)

type fakePermits struct{}

func (fakePermits) ConcurrencyPermit(ctx context.Context, class supervisor.Class) (func(), error) {
	return func() {}, nil
}

func newTestExecutor(t *testing.T, blobs map[string][]byte, opts Options) *Executor {
	t.Helper()
	if opts.InstallRoot == "" {
		opts.InstallRoot = t.TempDir()
	}
	return New(func(id string) ([]byte, error) {
		data, ok := blobs[id]
		if !ok {
			return nil, os.ErrNotExist
		}
		return data, nil
	}, nil, nil, nil, nil, nil, fakePermits{}, opts, nil)
}

func TestRunPhaseInlineFileWritesVerbatim(t *testing.T) {
	content := []byte("hello world")
	hash := hashing.XXHash64Bytes(content)

	e := newTestExecutor(t, map[string][]byte{"blob1": content}, Options{})

	phase := planner.Phase{
		Kind: manifest.DirectiveInlineFile,
		Directives: []manifest.Directive{
			{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "foo/bar.txt", SourceDataID: "blob1", ExpectedHash: hash},
		},
	}

	result := e.RunPhase(context.Background(), phase)
	if result.Fatal != nil {
		t.Fatalf("unexpected fatal error: %v", result.Fatal)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failures)
	}
	if result.Succeeded != 1 {
		t.Fatalf("expected 1 success, got %d", result.Succeeded)
	}

	got, err := os.ReadFile(filepath.Join(e.opts.InstallRoot, "foo", "bar.txt"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("written content %q, want %q", got, content)
	}
}

func TestRunPhaseInlineFileChecksumMismatchRecordedNotFatal(t *testing.T) {
	content := []byte("hello world")

	e := newTestExecutor(t, map[string][]byte{"blob1": content}, Options{})

	phase := planner.Phase{
		Kind: manifest.DirectiveInlineFile,
		Directives: []manifest.Directive{
			{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "a.txt", SourceDataID: "blob1", ExpectedHash: "wrong-hash"},
			{Kind: manifest.DirectiveInlineFile, TargetRelativePath: "b.txt", SourceDataID: "blob1", ExpectedHash: hashing.XXHash64Bytes(content)},
		},
	}

	result := e.RunPhase(context.Background(), phase)
	if result.Fatal != nil {
		t.Fatalf("checksum mismatch must not be fatal, got: %v", result.Fatal)
	}
	if result.Succeeded != 1 {
		t.Fatalf("expected 1 success, got %d", result.Succeeded)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 failure, got %d: %v", len(result.Failures), result.Failures)
	}
	if result.Failures[0].TargetRelativePath != "a.txt" {
		t.Fatalf("expected failure for a.txt, got %q", result.Failures[0].TargetRelativePath)
	}
}

func TestRunPhaseRemappedInlineFileSubstitutesKnownTokens(t *testing.T) {
	content := []byte("path=$(GAME_PATH)/data, unknown=$(NOT_A_TOKEN)")
	expected := "path=/games/skyrim/data, unknown=$(NOT_A_TOKEN)"
	hash := hashing.XXHash64Bytes([]byte(expected))

	e := newTestExecutor(t, map[string][]byte{"cfg": content}, Options{
		Variables: planner.VariableTable{"GAME_PATH": "/games/skyrim"},
	})

	phase := planner.Phase{
		Kind: manifest.DirectiveRemappedInlineFile,
		Directives: []manifest.Directive{
			{Kind: manifest.DirectiveRemappedInlineFile, TargetRelativePath: "config.ini", SourceDataID: "cfg", ExpectedHash: hash},
		},
	}

	result := e.RunPhase(context.Background(), phase)
	if len(result.Failures) != 0 || result.Fatal != nil {
		t.Fatalf("unexpected failures=%v fatal=%v", result.Failures, result.Fatal)
	}

	got, err := os.ReadFile(filepath.Join(e.opts.InstallRoot, "config.ini"))
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}
	if string(got) != expected {
		t.Fatalf("written content %q, want %q", got, expected)
	}
}

func TestSubstituteVariablesLeavesUnknownTokensVerbatim(t *testing.T) {
	result, unknown := substituteVariables("$(KNOWN)/$(MISSING)", map[string]string{"KNOWN": "value"})
	if result != "value/$(MISSING)" {
		t.Fatalf("got %q", result)
	}
	if len(unknown) != 1 || unknown[0] != "MISSING" {
		t.Fatalf("expected unknown=[MISSING], got %v", unknown)
	}
}
