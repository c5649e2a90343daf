package bsa

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/nettoneko/hoolamike/pkg/manifest"
)

func decompressFlate(t *testing.T, compressed []byte) string {
	t.Helper()
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("decompressing flate entry: %v", err)
	}
	return string(out)
}

func TestSessionFinalizeWritesExactEntries(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.bsa")

	factory := Factory{TempDir: filepath.Join(dir, "spill")}
	session, err := factory.NewSession(target, manifest.BSAFormatBSA104, manifest.GameSkyrimLE, true, 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	mtime := time.Unix(1700000000, 0)
	if err := session.AddFile("meshes/a.nif", bytes.NewReader([]byte("alpha-bytes")), mtime); err != nil {
		t.Fatalf("AddFile a: %v", err)
	}
	if err := session.AddFile("textures/b.dds", bytes.NewReader([]byte("texture-bytes-should-stay-raw")), mtime); err != nil {
		t.Fatalf("AddFile b: %v", err)
	}

	if err := session.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	raw, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("reading finalized archive: %v", err)
	}

	entries := parseEntries(t, raw)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].name != "meshes/a.nif" {
		t.Fatalf("unexpected first entry name: %+v", entries[0])
	}
	if !entries[0].compressed {
		t.Fatalf("expected meshes/a.nif to be compressed under global compression")
	}
	if got := decompressFlate(t, entries[0].data); got != "alpha-bytes" {
		t.Fatalf("first entry decompressed to %q, want %q", got, "alpha-bytes")
	}

	if entries[1].name != "textures/b.dds" || string(entries[1].data) != "texture-bytes-should-stay-raw" {
		t.Fatalf("unexpected second entry: %+v", entries[1])
	}
	if entries[1].compressed {
		t.Fatalf("dds entry must be stored uncompressed despite global compression flag")
	}
}

func TestSessionFinalizeCleansUpSpillFiles(t *testing.T) {
	dir := t.TempDir()
	spillDir := filepath.Join(dir, "spill")
	factory := Factory{TempDir: spillDir}
	session, err := factory.NewSession(filepath.Join(dir, "out.bsa"), manifest.BSAFormatBSA105, manifest.GameSkyrimSE, false, 0)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := session.AddFile("a.txt", bytes.NewReader([]byte("x")), time.Time{}); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := session.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	leftover, err := os.ReadDir(spillDir)
	if err != nil {
		t.Fatalf("reading spill dir: %v", err)
	}
	if len(leftover) != 0 {
		t.Fatalf("expected spill directory to be empty after finalize, found %v", leftover)
	}
}

type parsedEntry struct {
	name       string
	mtime      int64
	compressed bool
	data       []byte
}

func parseEntries(t *testing.T, raw []byte) []parsedEntry {
	t.Helper()
	r := bytes.NewReader(raw)

	magic := make([]byte, 4)
	if _, err := r.Read(magic); err != nil {
		t.Fatalf("reading magic: %v", err)
	}
	var version uint32
	var flags uint32
	var compressionOn byte
	var count uint32
	for _, target := range []interface{}{&version, &flags, &compressionOn, &count} {
		if err := binary.Read(r, binary.LittleEndian, target); err != nil {
			t.Fatalf("reading header field: %v", err)
		}
	}

	var out []parsedEntry
	for i := uint32(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			t.Fatalf("reading name length: %v", err)
		}
		nameBytes := make([]byte, nameLen)
		if _, err := r.Read(nameBytes); err != nil {
			t.Fatalf("reading name: %v", err)
		}

		var mtime int64
		var originalSize int64
		var compressedByte byte
		if err := binary.Read(r, binary.LittleEndian, &mtime); err != nil {
			t.Fatalf("reading mtime: %v", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &originalSize); err != nil {
			t.Fatalf("reading original size: %v", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &compressedByte); err != nil {
			t.Fatalf("reading compressed flag: %v", err)
		}

		var storedSize int64
		if err := binary.Read(r, binary.LittleEndian, &storedSize); err != nil {
			t.Fatalf("reading stored size: %v", err)
		}
		data := make([]byte, storedSize)
		if _, err := r.Read(data); err != nil {
			t.Fatalf("reading entry data: %v", err)
		}

		out = append(out, parsedEntry{
			name:       string(nameBytes),
			mtime:      mtime,
			compressed: compressedByte != 0,
			data:       data,
		})
	}
	return out
}
