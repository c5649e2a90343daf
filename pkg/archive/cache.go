package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// DiskBudget is the subset of the Supervisor's (C7) disk-budget reservation
// protocol that the cache needs (spec §4.7, §6). It is a narrow interface
// rather than a direct dependency on the supervisor package so the two
// components stay decoupled: the cache doesn't need to know about
// concurrency classes or progress bars, only "may I write N more bytes".
type DiskBudget interface {
	Reserve(ctx context.Context, bytes int64) (release func(), err error)
}

// FilePermits is the subset of the Supervisor's open-file-descriptor permit
// protocol the cache needs (spec §4.7).
type FilePermits interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// DescriptorLocator resolves a root ArchiveDescriptor's content hash to the
// local, already-downloaded file path. Producing that file in the first
// place is the Downloader's job (spec §6, explicitly external); the cache
// only ever reads from it.
type DescriptorLocator func(hash string) (string, error)

// Cache is the Archive Access Layer (C2): a content-indexed cache keyed by
// root ArchiveDescriptor hash, expanding nested archives on demand and
// applying the case-insensitive lookup fallback described in spec §4.2.
type Cache struct {
	arena      *Arena
	dispatcher *Dispatcher
	locate     DescriptorLocator
	tempDir    string
	budget     DiskBudget
	files      FilePermits
	logger     *logging.Logger
}

// NewCache constructs a Cache. tempDir is the working directory (spec §6's
// "Persisted state") holding extracted archive roots for the run's
// duration; it is the caller's responsibility to clean it up on success.
func NewCache(dispatcher *Dispatcher, locate DescriptorLocator, tempDir string, budget DiskBudget, files FilePermits, logger *logging.Logger) *Cache {
	return &Cache{
		arena:      NewArena(),
		dispatcher: dispatcher,
		locate:     locate,
		tempDir:    tempDir,
		budget:     budget,
		files:      files,
		logger:     logger.Sublogger("archive"),
	}
}

// Reader is a seekable byte source for one resolved segment path (spec
// §4.2's `open` contract). It is backed by an *os.File opened against the
// cache's spill storage.
type Reader struct {
	*os.File
	handle *ArchiveHandle
}

// Close releases the reader's reference on the backing ArchiveHandle in
// addition to closing the underlying file, so the cache's refcounting
// (spec §3, §5) stays accurate.
func (r *Reader) Close() error {
	err := r.File.Close()
	r.handle.release()
	return err
}

// ModTime returns the source archive member's mtime, or the zero time if
// the container format doesn't carry one (spec §4.5).
func (r *Reader) ModTime() time.Time {
	return r.handle.EntryModTime
}

// Open yields a seekable byte source for the file at the end of ref's
// segment chain (spec §4.2).
func (c *Cache) Open(ctx context.Context, ref manifest.NestedArchiveRef) (*Reader, error) {
	handle, err := c.resolve(ctx, ref.ArchiveHash, ref.Path)
	if err != nil {
		return nil, err
	}
	handle.acquire()
	file, err := os.Open(handle.SpillPath)
	if err != nil {
		handle.release()
		return nil, herrors.IOError(err, false, "unable to open spilled content for %q", handle.Key)
	}
	return &Reader{File: file, handle: handle}, nil
}

// resolve walks the segment chain, extracting each archive-type segment on
// demand (spec §4.2: "Nested archives are expanded on-demand: asking for
// segment [A, B, C] first ensures A is extracted, then B within A, then
// locates C"), and returns the ready handle for the final segment.
func (c *Cache) resolve(ctx context.Context, rootHash string, path manifest.SegmentPath) (*ArchiveHandle, error) {
	rootPath, err := c.locate(rootHash)
	if err != nil {
		return nil, herrors.ArchiveMissError(err, "unable to locate downloaded archive for hash %q", rootHash)
	}

	rootKey := NodeKey(rootHash, nil)
	rootHandle, err := c.ensureReady(ctx, rootKey, "", "", func() (string, time.Time, bool, func(), error) {
		return rootPath, time.Time{}, false, nil, nil
	})
	if err != nil {
		return nil, err
	}

	currentHandle := rootHandle
	var segmentsSoFar []string
	for i, seg := range path {
		segmentsSoFar = append(segmentsSoFar, seg.Name)
		key := NodeKey(rootHash, segmentsSoFar)
		parentHandle := currentHandle
		currentHandle, err = c.ensureReady(ctx, key, rootKey, seg.Name, func() (string, time.Time, bool, func(), error) {
			return c.extractSegment(ctx, parentHandle, seg.Name, i == len(path)-1)
		})
		if err != nil {
			return nil, err
		}
	}
	return currentHandle, nil
}

// ensureReady returns the ready handle for key, extracting it via produce if
// no other goroutine has already claimed that work (spec §5: readers share
// a decompressed root; writers hold an exclusive per-segment lock,
// implemented here by ArchiveHandle.beginExtractionOrWait). produce returns
// the spill path, the source entry's mtime (zero if not terminal or not
// carried by the format), whether the spill file is cache-owned, and the
// disk-budget release for that file's residency (nil if none was reserved).
func (c *Cache) ensureReady(ctx context.Context, key, parent, segment string, produce func() (string, time.Time, bool, func(), error)) (*ArchiveHandle, error) {
	node := c.arena.getOrCreate(key, parent, segment)
	handle := node.Handle

	claimed, wait := handle.beginExtractionOrWait()
	if !claimed {
		if wait != nil {
			select {
			case <-wait:
			case <-ctx.Done():
				return nil, herrors.Cancelled()
			}
		}
		if ready, err := handle.ready(); ready {
			return handle, nil
		} else if err != nil {
			return nil, err
		}
		// Fell through to empty state (a previous extraction failed); race
		// again for the claim rather than giving up outright.
		return c.ensureReady(ctx, key, parent, segment, produce)
	}

	spillPath, modTime, owned, releaseBudget, err := produce()
	if err != nil {
		handle.markFailed(err)
		return nil, err
	}
	handle.markReady(spillPath, modTime, owned, releaseBudget)
	return handle, nil
}

// extractSegment locates segmentName within parentHandle's spilled content
// (applying the case-insensitive fallback, spec §4.2) and spills its bytes
// to a fresh file under the cache's temp directory, respecting the disk
// budget and file-descriptor ceiling from C7. It returns the spilled path,
// whether that file is cache-owned, and, on success, the disk-budget
// release function whose call the caller must defer until the handle is
// evicted rather than when this call returns: the spilled bytes stay
// resident on disk for the handle's whole lifetime, so the reservation
// backing them must stay held for that whole lifetime too (spec §8's
// working-directory budget bound applies to cumulative resident bytes, not
// to one extraction in isolation).
func (c *Cache) extractSegment(ctx context.Context, parentHandle *ArchiveHandle, segmentName string, isTerminal bool) (string, time.Time, bool, func(), error) {
	header, err := readHeader(parentHandle.SpillPath)
	if err != nil {
		return "", time.Time{}, false, nil, herrors.IOError(err, false, "unable to read header of %q", parentHandle.SpillPath)
	}
	format := DetectFormat(header)
	if format == FormatUnknown {
		return "", time.Time{}, false, nil, herrors.ArchiveFormatError(nil, "unrecognized archive format for %q", parentHandle.SpillPath)
	}

	releaseFile, err := acquireFilePermit(ctx, c.files)
	if err != nil {
		return "", time.Time{}, false, nil, err
	}
	defer releaseFile()

	reader, err := c.dispatcher.Open(format, parentHandle.SpillPath)
	if err != nil {
		return "", time.Time{}, false, nil, err
	}
	defer reader.Close()

	entries, err := reader.ListEntries()
	if err != nil {
		return "", time.Time{}, false, nil, herrors.ArchiveFormatError(err, "unable to list entries of %q", parentHandle.SpillPath)
	}

	matched, err := caseInsensitiveMatch(entries, segmentName)
	if err != nil {
		return "", time.Time{}, false, nil, err
	}

	entryReader, err := reader.ReadEntry(matched.Name)
	if err != nil {
		return "", time.Time{}, false, nil, herrors.ArchiveMissError(err, "unable to read entry %q", matched.Name)
	}
	defer entryReader.Close()

	releaseBudget, err := reserveBudget(ctx, c.budget, matched.Size)
	if err != nil {
		return "", time.Time{}, false, nil, err
	}

	spillPath := filepath.Join(c.tempDir, uuid.New().String())
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		releaseBudget()
		return "", time.Time{}, false, nil, herrors.IOError(err, false, "unable to create temp directory %q", c.tempDir)
	}
	out, err := os.Create(spillPath)
	if err != nil {
		releaseBudget()
		return "", time.Time{}, false, nil, herrors.IOError(err, false, "unable to create spill file %q", spillPath)
	}
	if _, err := io.Copy(out, entryReader); err != nil {
		out.Close()
		os.Remove(spillPath)
		releaseBudget()
		return "", time.Time{}, false, nil, herrors.IOError(err, isNoSpace(err), "unable to spill entry %q", matched.Name)
	}
	if err := out.Close(); err != nil {
		releaseBudget()
		return "", time.Time{}, false, nil, herrors.IOError(err, false, "unable to finalize spill file %q", spillPath)
	}

	var modTime time.Time
	if isTerminal && matched.ModTime != 0 {
		modTime = time.Unix(matched.ModTime, 0)
	}

	return spillPath, modTime, true, releaseBudget, nil
}

// caseInsensitiveMatch implements spec §4.2's lookup policy: exact match
// preferred; on miss, a single-pass case-insensitive scan is tried; on
// second miss, ArchiveMissError.
func caseInsensitiveMatch(entries []Entry, name string) (Entry, error) {
	for _, e := range entries {
		if e.Name == name {
			return e, nil
		}
	}
	lowered := strings.ToLower(name)
	var match *Entry
	for i := range entries {
		if strings.ToLower(entries[i].Name) == lowered {
			if match != nil {
				return Entry{}, herrors.ArchiveMissError(nil, "ambiguous case-insensitive match for %q", name)
			}
			match = &entries[i]
		}
	}
	if match == nil {
		return Entry{}, herrors.ArchiveMissError(nil, "no entry matching %q (case-insensitively)", name)
	}
	return *match, nil
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, 16)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}

// acquireFilePermit wraps a genuine permit-exhaustion failure as a budget
// error but propagates a cancelled ctx unchanged: permits.Acquire's only
// failure modes are ctx cancellation and (transitively, via the
// supervisor) semaphore exhaustion, and only the latter is ClassBudget.
func acquireFilePermit(ctx context.Context, permits FilePermits) (func(), error) {
	if permits == nil {
		return func() {}, nil
	}
	release, err := permits.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, herrors.Cancelled()
		}
		return nil, herrors.BudgetError(err, "unable to acquire file descriptor permit")
	}
	return release, nil
}

// reserveBudget mirrors acquireFilePermit's cancellation handling: the
// Supervisor's disk budget returns ctx.Err() directly when cancelled rather
// than a budget-exhaustion error, and that distinction must survive so the
// run's exit code lands in ClassCancelled instead of ClassBudget.
func reserveBudget(ctx context.Context, budget DiskBudget, bytes int64) (func(), error) {
	if budget == nil {
		return func() {}, nil
	}
	release, err := budget.Reserve(ctx, bytes)
	if err != nil {
		if ctx.Err() != nil {
			return nil, herrors.Cancelled()
		}
		return nil, herrors.BudgetError(err, "unable to reserve %d bytes of disk budget", bytes)
	}
	return release, nil
}

func isNoSpace(err error) bool {
	return errors.Is(err, os.ErrPermission) == false && strings.Contains(err.Error(), "no space left")
}

// Evict releases rootHash's root node and every node extracted beneath it
// back to disk and to the disk budget, per spec §4.2's chunked
// preheat/eviction policy. Call it once a phase has fully consumed an
// archive so later phases' preheats don't accumulate resident bytes on top
// of it (spec §8's working-directory budget bound). It is best-effort: a
// node still referenced by an in-flight reader is left resident and may be
// picked up by a later call. Returns the number of nodes actually evicted.
func (c *Cache) Evict(rootHash string) int {
	return c.arena.evictTree(rootHash)
}
