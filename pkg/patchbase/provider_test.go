package patchbase

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nettoneko/hoolamike/pkg/archive"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

func newTestProvider(t *testing.T, rootContent map[string]string) (*Provider, func(string) (string, error)) {
	t.Helper()
	dir := t.TempDir()
	for hash, content := range rootContent {
		if err := os.WriteFile(filepath.Join(dir, hash), []byte(content), 0o644); err != nil {
			t.Fatalf("write root file for %q: %v", hash, err)
		}
	}
	locate := func(hash string) (string, error) {
		return filepath.Join(dir, hash), nil
	}
	logger := logging.NewLogger(logging.LevelDisabled, io.Discard)
	cache := archive.NewCache(nil, locate, t.TempDir(), nil, nil, logger)
	return NewProvider(cache, t.TempDir(), nil, logger), locate
}

func TestRequireAndReadMaterializesRootBytes(t *testing.T) {
	provider, _ := newTestProvider(t, map[string]string{"archive-hash-1": "base bytes"})

	identity := provider.Require(manifest.NestedArchiveRef{ArchiveHash: "archive-hash-1"}, 1)

	data, err := provider.Read(context.Background(), identity)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "base bytes" {
		t.Fatalf("expected %q, got %q", "base bytes", string(data))
	}

	provider.Release(identity)
}

func TestRequireSameIdentityTwiceSharesOneMaterialization(t *testing.T) {
	provider, _ := newTestProvider(t, map[string]string{"archive-hash-1": "base bytes"})

	ref := manifest.NestedArchiveRef{ArchiveHash: "archive-hash-1"}
	first := provider.Require(ref, 1)
	second := provider.Require(ref, 2)

	if first != second {
		t.Fatalf("expected identical identity for repeated Require calls on the same ref")
	}

	provider.mu.Lock()
	refcount := provider.bases[first].refcount
	provider.mu.Unlock()
	if refcount != 3 {
		t.Fatalf("expected accumulated refcount 3, got %d", refcount)
	}
}

func TestReleaseDeletesBaseOnLastReference(t *testing.T) {
	provider, _ := newTestProvider(t, map[string]string{"archive-hash-1": "base bytes"})

	identity := provider.Require(manifest.NestedArchiveRef{ArchiveHash: "archive-hash-1"}, 2)
	if _, err := provider.Read(context.Background(), identity); err != nil {
		t.Fatalf("Read: %v", err)
	}

	provider.Release(identity)
	provider.mu.Lock()
	_, stillPresent := provider.bases[identity]
	provider.mu.Unlock()
	if !stillPresent {
		t.Fatalf("expected base to survive first Release (refcount 1 remaining)")
	}

	provider.Release(identity)
	provider.mu.Lock()
	_, stillPresent = provider.bases[identity]
	provider.mu.Unlock()
	if stillPresent {
		t.Fatalf("expected base to be deleted after refcount reached zero")
	}
}

func TestReadUnrequiredIdentityFails(t *testing.T) {
	provider, _ := newTestProvider(t, nil)

	_, err := provider.Read(context.Background(), Identity{ArchiveHash: "never-required"})
	if err == nil {
		t.Fatalf("expected error reading an identity that was never Required")
	}
}
