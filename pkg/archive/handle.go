package archive

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// nodeState tracks where an ArchiveNode's extracted bytes currently live.
type nodeState uint8

const (
	stateEmpty nodeState = iota
	stateExtracting
	stateReady
	stateEvicted
)

// ArchiveHandle is the C2 entity described in spec §3: identity is the
// sequence of segment keys from a root ArchiveDescriptor down to some nested
// archive, and it carries a refcount and a last-access timestamp. Its
// content always lives on disk at SpillPath; no in-memory decompressed
// region is kept.
type ArchiveHandle struct {
	ID uuid.UUID

	// Key is the canonical string key for this node (root hash + joined
	// segment names), matching the arena's keying scheme (spec §9).
	Key string

	// SpillPath is the on-disk location of this handle's content: for a
	// root handle, the downloaded archive file itself; for a nested
	// segment, a single spill file under the cache's temp directory holding
	// that one entry's bytes (archives are never expanded into a
	// directory). Always set once the handle reaches stateReady.
	SpillPath string

	// EntryModTime is the source archive member's mtime, when the container
	// format carries one, for a terminal leaf handle. Zero if the format
	// doesn't carry mtimes or this handle is an intermediate archive (spec
	// §4.5's "File mtimes from source archives are preserved where the
	// source format carries them").
	EntryModTime time.Time

	mu         sync.Mutex
	state      nodeState
	refcount   int
	lastAccess time.Time
	waiters    []chan struct{}
	err        error

	// spillOwned is true when SpillPath is a cache-created spill file that
	// must be removed on eviction, as opposed to the root handle's
	// SpillPath, which points at the externally-downloaded archive and is
	// never the cache's to delete.
	spillOwned bool

	// releaseBudget frees this handle's disk-budget reservation (spec
	// §4.7). It stays held for the handle's full on-disk residency, not
	// just the extraction call that produced it, so eviction is the only
	// thing that returns the bytes to the budget.
	releaseBudget func()
}

// ArchiveNode is one arena entry, per the design note in spec §9: a tree
// with shared nodes, represented as an arena keyed by the segment-path
// tuple, where readers hold indices (here, string keys) rather than direct
// pointers, so evicting a node doesn't dangle a reader's reference.
type ArchiveNode struct {
	Parent  string // key of the parent node, "" for a root
	Segment string // the segment name this node corresponds to
	Handle  *ArchiveHandle
}

// Arena is the keyed store of ArchiveNodes backing the cache. It is
// internally synchronized; callers never hold direct ownership of a node,
// only its key, so concurrent eviction is safe (spec §5: "Archive cache:
// internally synchronized; ... writers (extractors) hold an exclusive
// per-segment lock").
type Arena struct {
	mu    sync.Mutex
	nodes map[string]*ArchiveNode
}

// NewArena constructs an empty Arena.
func NewArena() *Arena {
	return &Arena{nodes: make(map[string]*ArchiveNode)}
}

// NodeKey computes the canonical arena key for a root archive hash and the
// chain of segment names leading to some nested point within it.
func NodeKey(rootHash string, segments []string) string {
	if len(segments) == 0 {
		return rootHash
	}
	return rootHash + "\x00" + strings.Join(segments, "\x00")
}

// getOrCreate returns the node for key, creating it (and its ArchiveHandle)
// if absent. parent/segment are recorded only on creation.
func (a *Arena) getOrCreate(key, parent, segment string) *ArchiveNode {
	a.mu.Lock()
	defer a.mu.Unlock()
	if node, ok := a.nodes[key]; ok {
		return node
	}
	node := &ArchiveNode{
		Parent:  parent,
		Segment: segment,
		Handle: &ArchiveHandle{
			ID:  uuid.New(),
			Key: key,
		},
	}
	a.nodes[key] = node
	return node
}

// lookup returns the node for key without creating it.
func (a *Arena) lookup(key string) (*ArchiveNode, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.nodes[key]
	return node, ok
}

// evict removes a node from the arena if its handle's refcount is zero,
// returning its disk-budget reservation and deleting its owned spill file.
// Called after a phase finishes consuming a node's archives (spec §4.2); a
// non-zero refcount or in-flight extraction simply leaves the node resident
// for a later call to retry.
func (a *Arena) evict(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	node, ok := a.nodes[key]
	if !ok {
		return false
	}
	node.Handle.mu.Lock()
	if node.Handle.refcount > 0 || node.Handle.state == stateExtracting {
		node.Handle.mu.Unlock()
		return false
	}
	node.Handle.state = stateEvicted
	spillPath, owned, releaseBudget := node.Handle.SpillPath, node.Handle.spillOwned, node.Handle.releaseBudget
	node.Handle.releaseBudget = nil
	node.Handle.mu.Unlock()

	delete(a.nodes, key)

	if releaseBudget != nil {
		releaseBudget()
	}
	if owned && spillPath != "" {
		os.Remove(spillPath)
	}
	return true
}

// evictTree evicts rootHash's root node and every nested node extracted
// beneath it (all keys equal to or prefixed by rootHash+"\x00"), returning
// the number of nodes actually evicted. Nodes still referenced by an
// in-flight reader are skipped and left for a later call.
func (a *Arena) evictTree(rootHash string) int {
	prefix := rootHash + "\x00"
	a.mu.Lock()
	keys := make([]string, 0, len(a.nodes))
	for key := range a.nodes {
		if key == rootHash || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	a.mu.Unlock()

	evicted := 0
	for _, key := range keys {
		if a.evict(key) {
			evicted++
		}
	}
	return evicted
}

// acquire increments the handle's refcount and bumps its last-access time.
func (h *ArchiveHandle) acquire() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refcount++
	h.lastAccess = time.Now()
}

// release decrements the handle's refcount; it is safe to call more times
// than acquire was never intended, but callers always pair the two.
func (h *ArchiveHandle) release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refcount > 0 {
		h.refcount--
	}
}

// markReady transitions the handle to stateReady with the given spill path
// and source mtime (zero if not carried by the format), waking any
// goroutines blocked in waitReady. owned marks spillPath as a cache-created
// file eviction must remove; releaseBudget is the reservation backing that
// file's residency, held until eviction rather than released on return from
// whatever produced it.
func (h *ArchiveHandle) markReady(spillPath string, modTime time.Time, owned bool, releaseBudget func()) {
	h.mu.Lock()
	h.state = stateReady
	h.SpillPath = spillPath
	h.EntryModTime = modTime
	h.spillOwned = owned
	h.releaseBudget = releaseBudget
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// markFailed resets the handle to stateEmpty, recording err and waking
// waiters so they can observe the failure instead of blocking forever. The
// state is not terminal: a later ensureReady call can claim the extraction
// again.
func (h *ArchiveHandle) markFailed(err error) {
	h.mu.Lock()
	h.state = stateEmpty
	h.err = err
	waiters := h.waiters
	h.waiters = nil
	h.mu.Unlock()
	for _, w := range waiters {
		close(w)
	}
}

// beginExtractionOrWait either claims the right to extract this handle
// (returning claimed=true) or, if another goroutine already claimed it,
// returns a channel that closes once extraction finishes.
func (h *ArchiveHandle) beginExtractionOrWait() (claimed bool, wait <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case stateEmpty:
		h.state = stateExtracting
		return true, nil
	case stateReady:
		done := make(chan struct{})
		close(done)
		return false, done
	default: // stateExtracting
		ch := make(chan struct{})
		h.waiters = append(h.waiters, ch)
		return false, ch
	}
}

// ready reports whether the handle finished extracting successfully, and
// any error recorded if it did not.
func (h *ArchiveHandle) ready() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == stateReady, h.err
}
