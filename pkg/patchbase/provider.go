// Package patchbase implements the Patch Base Provider (C3, spec §4.3): it
// pre-materializes the base bytes a PatchedFromArchive directive needs and
// serves them to concurrent readers, releasing each base once the last
// referring directive in the current phase completes.
package patchbase

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nettoneko/hoolamike/pkg/archive"
	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// Identity is the (archive_segments, file) tuple that keys a PatchBase
// entry, per spec §3.
type Identity struct {
	ArchiveHash string
	Path        string // joined segment names, used only for map keying/logging
}

type base struct {
	mu            sync.Mutex
	refcount      int
	spilled       string
	releaseBudget func()
	err           error
	ready         chan struct{}
}

func (b *base) fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
	close(b.ready)
}

// Provider is the C3 component. It is created fresh per phase (its entries
// are only ever valid for the phase that requested them, per spec §4.3's
// "cached until the phase that uses it completes").
type Provider struct {
	cache   *archive.Cache
	tempDir string
	budget  archive.DiskBudget
	logger  *logging.Logger

	mu     sync.Mutex
	bases  map[Identity]*base
}

// NewProvider constructs a Provider backed by cache for producing base
// bytes, spilling working copies under tempDir against budget (spec §4.7:
// a spilled patch base counts against the working directory's disk budget
// the same as a cache spill file does).
func NewProvider(cache *archive.Cache, tempDir string, budget archive.DiskBudget, logger *logging.Logger) *Provider {
	return &Provider{
		cache:   cache,
		tempDir: tempDir,
		budget:  budget,
		logger:  logger.Sublogger("patchbase"),
		bases:   make(map[Identity]*base),
	}
}

// Require registers refCount additional readers for identity's base and
// ensures it is being materialized (spec §4.3's "given a set of tuples
// expected during the current phase, pre-materializes their bytes").
// pkg/hoolamike.Install calls it once for each entry of a phase's
// RequiredPatchBases before any directive actually reads the base.
func (p *Provider) Require(ref manifest.NestedArchiveRef, refCount int) Identity {
	identity := Identity{ArchiveHash: ref.ArchiveHash, Path: joinPath(ref.Path)}

	p.mu.Lock()
	b, ok := p.bases[identity]
	if !ok {
		b = &base{ready: make(chan struct{})}
		p.bases[identity] = b
	}
	b.refcount += refCount
	p.mu.Unlock()

	if !ok {
		go p.materialize(ref, identity, b)
	}

	return identity
}

func (p *Provider) materialize(ref manifest.NestedArchiveRef, identity Identity, b *base) {
	ctx := context.Background()
	reader, err := p.cache.Open(ctx, ref)
	if err != nil {
		b.fail(herrors.ArchiveMissError(err, "unable to open patch base %q", identity.Path))
		return
	}
	defer reader.Close()

	var size int64
	if info, err := reader.Stat(); err == nil {
		size = info.Size()
	}

	releaseBudget, err := p.reserveBudget(ctx, size)
	if err != nil {
		b.fail(err)
		return
	}

	spillPath := filepath.Join(p.tempDir, "patchbase-"+uuid.New().String())
	out, err := os.Create(spillPath)
	if err != nil {
		releaseBudget()
		b.fail(herrors.IOError(err, false, "unable to create patch base spill file"))
		return
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(spillPath)
		releaseBudget()
		b.fail(herrors.IOError(err, false, "unable to spill patch base"))
		return
	}
	out.Close()

	b.mu.Lock()
	b.spilled = spillPath
	b.releaseBudget = releaseBudget
	b.mu.Unlock()
	close(b.ready)
}

// reserveBudget mirrors the archive cache's reservation helper (same
// ClassBudget-vs-ClassCancelled distinction matters here: a base spill is
// on the same disk budget as a cache extraction).
func (p *Provider) reserveBudget(ctx context.Context, bytes int64) (func(), error) {
	if p.budget == nil {
		return func() {}, nil
	}
	release, err := p.budget.Reserve(ctx, bytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, herrors.Cancelled()
		}
		return nil, herrors.BudgetError(err, "unable to reserve %d bytes of disk budget for patch base", bytes)
	}
	return release, nil
}

// Read blocks until identity's base has been materialized and returns its
// bytes. Each call to Read pairs with exactly one later call to Release.
func (p *Provider) Read(ctx context.Context, identity Identity) ([]byte, error) {
	p.mu.Lock()
	b, ok := p.bases[identity]
	p.mu.Unlock()
	if !ok {
		return nil, herrors.ArchiveMissError(nil, "patch base %q was never required", identity.Path)
	}

	select {
	case <-b.ready:
	case <-ctx.Done():
		return nil, herrors.Cancelled()
	}

	b.mu.Lock()
	err := b.err
	spilled := b.spilled
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return os.ReadFile(spilled)
}

// Release decrements identity's refcount; when it reaches zero the spilled
// copy is deleted immediately (spec §4.3's "Applies reference counting: when
// the last patched-from-archive directive referring to a base completes,
// the base is released").
func (p *Provider) Release(identity Identity) {
	p.mu.Lock()
	b, ok := p.bases[identity]
	if !ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	b.mu.Lock()
	b.refcount--
	shouldDelete := b.refcount <= 0
	spilled := b.spilled
	var releaseBudget func()
	if shouldDelete {
		releaseBudget = b.releaseBudget
		b.releaseBudget = nil
	}
	b.mu.Unlock()

	if shouldDelete {
		p.mu.Lock()
		delete(p.bases, identity)
		p.mu.Unlock()
		if releaseBudget != nil {
			releaseBudget()
		}
		if spilled != "" {
			os.Remove(spilled)
		}
	}
}

func joinPath(path manifest.SegmentPath) string {
	var out string
	for i, seg := range path {
		if i > 0 {
			out += "/"
		}
		out += seg.Name
	}
	return out
}
