package manifest

// DirectiveKind identifies one of the six directive variants (spec §3). The
// ordering of the constants below is the canonical phase execution order
// from spec §4.4: inline-file, remapped-inline-file, from-archive,
// patched-from-archive, transformed-texture, create-bsa.
type DirectiveKind uint8

const (
	DirectiveInlineFile DirectiveKind = iota
	DirectiveRemappedInlineFile
	DirectiveFromArchive
	DirectivePatchedFromArchive
	DirectiveTransformedTexture
	DirectiveCreateBSA
)

// KindOrder is the canonical phase ordering from spec §4.4. CreateBSA is
// last because it consolidates outputs already staged by prior phases and
// must observe every prior write for free-space accounting, not because its
// sub-directives depend on other phases' output bytes.
var KindOrder = []DirectiveKind{
	DirectiveInlineFile,
	DirectiveRemappedInlineFile,
	DirectiveFromArchive,
	DirectivePatchedFromArchive,
	DirectiveTransformedTexture,
	DirectiveCreateBSA,
}

// String implements fmt.Stringer.
func (k DirectiveKind) String() string {
	switch k {
	case DirectiveInlineFile:
		return "inline-file"
	case DirectiveRemappedInlineFile:
		return "remapped-inline-file"
	case DirectiveFromArchive:
		return "from-archive"
	case DirectivePatchedFromArchive:
		return "patched-from-archive"
	case DirectiveTransformedTexture:
		return "transformed-texture"
	case DirectiveCreateBSA:
		return "create-bsa"
	default:
		return "unknown"
	}
}

// ParseDirectiveKind maps a directive kind string onto its DirectiveKind,
// per spec §4.1's 1:1 mapping; unknown kinds are a hard failure for the
// caller to surface as a ManifestError.
func ParseDirectiveKind(s string) (DirectiveKind, bool) {
	for _, k := range KindOrder {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Segment locates one hop of a nested-archive path (spec §3's "sequence of
// archive segments"). A segment is either an intermediate archive (Archive
// == true, selecting a nested archive by name) or the terminal file.
type Segment struct {
	Name    string
	Archive bool
}

// SegmentPath is an ordered list of segments, e.g. ["mod.7z", "data/plugin.bsa",
// "meshes/x.nif"], locating a file across nested archives (spec §3, §6).
type SegmentPath []Segment

// NestedArchiveRef locates a file across nested archives: ArchiveHash names
// the root ArchiveDescriptor the path originates from (decoded directly from
// the directive's archive_hash field), and Path walks from there.
type NestedArchiveRef struct {
	// ArchiveHash is the identity of the root ArchiveDescriptor.
	ArchiveHash string
	// Path is the segment chain within (and past) that root archive.
	Path SegmentPath
}

// TextureFormat enumerates the pixel formats a TransformedTexture directive
// may target (spec §3).
type TextureFormat uint8

const (
	TextureFormatUnknown TextureFormat = iota
	TextureFormatBC1
	TextureFormatBC2
	TextureFormatBC3
	TextureFormatBC5
	TextureFormatBC7
	TextureFormatUncompressed
)

// MipFilter enumerates the resizing filter used when regenerating mipmaps.
type MipFilter uint8

const (
	MipFilterUnknown MipFilter = iota
	MipFilterBox
	MipFilterTriangle
	MipFilterCatmullRom
	MipFilterLanczos3
)

// TextureTransform is the payload of a TransformedTexture directive (spec §3).
type TextureTransform struct {
	Width      uint32
	Height     uint32
	Format     TextureFormat
	MipCount   uint32
	Filter     MipFilter
	// Quality is a 0 (fastest) to 1 (highest fidelity) knob for BC7
	// re-encoding; spec §4.5/§9 mandates the lowest quality by default.
	Quality float32
}

// BSAFormat enumerates the game-specific output archive formats CreateBSA
// may target (spec §3, §4.6).
type BSAFormat uint8

const (
	BSAFormatUnknown BSAFormat = iota
	BSAFormatBSA104 // Skyrim LE, Fallout 3/NV
	BSAFormatBSA105 // Skyrim SE
	BSAFormatBA2General
	BSAFormatBA2Textures
)

// GameID identifies the target game, used to select FNV-class legacy
// compression independently of the BSA version (spec §4.6, §9).
type GameID string

const (
	GameFallout3      GameID = "fallout3"
	GameFalloutNV     GameID = "falloutnv"
	GameSkyrimLE      GameID = "skyrim"
	GameSkyrimSE      GameID = "skyrimse"
	GameFallout4      GameID = "fallout4"
)

// Directive is a tagged variant; exactly one payload field is populated,
// selected by Kind (spec §3). Shared fields (TargetRelativePath, ExpectedSize,
// ExpectedHash) apply to every kind; for CreateBSA, TargetRelativePath is the
// path of the assembled archive itself, while each SubDirective's own
// TargetRelativePath is relative to the archive root (spec §3 invariant).
type Directive struct {
	Kind DirectiveKind

	TargetRelativePath string
	ExpectedSize       int64
	ExpectedHash       string

	// InlineFile / RemappedInlineFile payload.
	SourceDataID string

	// FromArchive / PatchedFromArchive payload.
	Source NestedArchiveRef

	// PatchedFromArchive payload.
	PatchID string

	// TransformedTexture payload.
	Texture TextureTransform

	// CreateBSA payload.
	BSA struct {
		Format          BSAFormat
		Game            GameID
		CompressionOn   bool
		Flags           uint32
		SubDirectives   []Directive
	}
}
