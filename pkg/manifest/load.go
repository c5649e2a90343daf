package manifest

import (
	"archive/zip"
	"encoding/json"
	"io"
	"sync"

	"github.com/nettoneko/hoolamike/pkg/herrors"
)

// BundleEntryName is the fixed name of the top-level JSON document inside a
// modlist bundle (spec §6). Auxiliary zip entries are inline blobs keyed by
// the source_data_id under which a Directive references them.
const BundleEntryName = "modlist"

// wireModlist mirrors the permissive JSON schema described in spec §4.1:
// unknown top-level fields are ignored (encoding/json already does this by
// default), non-critical missing fields default to their zero value, and
// only a handful of fields are "critical" enough to fail the load outright.
type wireModlist struct {
	GameID     string              `json:"game_id"`
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Author     string              `json:"author"`
	Readme     string              `json:"readme"`
	Archives   []wireArchive       `json:"archives"`
	Directives []json.RawMessage   `json:"directives"`
}

type wireArchive struct {
	Name   string          `json:"name"`
	Size   int64           `json:"size"`
	Hash   string          `json:"hash"`
	Source wireArchiveSource `json:"source"`
}

type wireArchiveSource struct {
	Kind              string `json:"kind"`
	NexusModID        int64  `json:"nexus_mod_id"`
	NexusFileID       int64  `json:"nexus_file_id"`
	NexusGameID       string `json:"nexus_game_id"`
	URL               string `json:"url"`
	MegaURL           string `json:"mega_url"`
	GoogleDriveFileID string `json:"google_drive_file_id"`
	ManualPrompt      string `json:"manual_prompt"`
}

type wireSegment struct {
	Name    string `json:"name"`
	Archive bool   `json:"archive"`
}

type wireNestedRef struct {
	ArchiveHash string        `json:"archive_hash"`
	Path        []wireSegment `json:"path"`
}

type wireDirective struct {
	Kind               string          `json:"kind"`
	TargetRelativePath string          `json:"target_relative_path"`
	ExpectedSize       int64           `json:"expected_size"`
	ExpectedHash       string          `json:"expected_hash"`
	SourceDataID       string          `json:"source_data_id"`
	Source             wireNestedRef   `json:"source"`
	PatchID            string          `json:"patch_id"`
	Texture            *wireTexture    `json:"texture"`
	BSA                *wireBSA        `json:"bsa"`
}

type wireTexture struct {
	Width    uint32  `json:"width"`
	Height   uint32  `json:"height"`
	Format   string  `json:"format"`
	MipCount uint32  `json:"mip_count"`
	Filter   string  `json:"filter"`
	Quality  float32 `json:"quality"`
}

type wireBSA struct {
	Format        string          `json:"format"`
	Game          string          `json:"game"`
	CompressionOn bool            `json:"compression_on"`
	Flags         uint32          `json:"flags"`
	SubDirectives []wireDirective `json:"sub_directives"`
}

// Load reads a modlist bundle from bundlePath: a zip container whose
// top-level entry ("modlist") is a JSON document matching spec §3, with
// auxiliary entries holding inline blobs keyed by source_data_id (spec §6).
func Load(bundlePath string) (*Modlist, error) {
	archive, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, herrors.IOError(err, false, "unable to open modlist bundle %q", bundlePath)
	}
	defer archive.Close()

	var wire *wireModlist
	for _, entry := range archive.File {
		if entry.Name != BundleEntryName {
			continue
		}
		reader, err := entry.Open()
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to open modlist manifest entry")
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to read modlist manifest entry")
		}
		wire = &wireModlist{}
		if err := json.Unmarshal(data, wire); err != nil {
			return nil, herrors.ManifestError(err, "malformed modlist JSON")
		}
		break
	}
	if wire == nil {
		return nil, herrors.ManifestError(nil, "modlist bundle missing top-level %q entry", BundleEntryName)
	}

	return decode(wire)
}

func decode(wire *wireModlist) (*Modlist, error) {
	modlist := &Modlist{
		GameID:  GameID(wire.GameID),
		Name:    wire.Name,
		Version: wire.Version,
		Author:  wire.Author,
		Readme:  wire.Readme,
	}

	modlist.Archives = make([]ArchiveDescriptor, len(wire.Archives))
	for i, a := range wire.Archives {
		if a.Hash == "" {
			return nil, herrors.ManifestError(nil, "archive descriptor %q missing content hash", a.Name)
		}
		modlist.Archives[i] = ArchiveDescriptor{
			Name: a.Name,
			Size: a.Size,
			Hash: a.Hash,
			Source: DownloadSource{
				Kind:              parseSourceKind(a.Source.Kind),
				NexusModID:        a.Source.NexusModID,
				NexusFileID:       a.Source.NexusFileID,
				NexusGameID:       a.Source.NexusGameID,
				URL:               a.Source.URL,
				MegaURL:           a.Source.MegaURL,
				GoogleDriveFileID: a.Source.GoogleDriveFileID,
				ManualPrompt:      a.Source.ManualPrompt,
			},
		}
	}

	directives := make([]Directive, 0, len(wire.Directives))
	for _, raw := range wire.Directives {
		var wd wireDirective
		if err := json.Unmarshal(raw, &wd); err != nil {
			return nil, herrors.ManifestError(err, "malformed directive")
		}
		d, err := decodeDirective(&wd)
		if err != nil {
			return nil, err
		}
		directives = append(directives, *d)
	}
	modlist.Directives = directives

	if err := modlist.Validate(); err != nil {
		return nil, err
	}
	return modlist, nil
}

func decodeDirective(wd *wireDirective) (*Directive, error) {
	kind, ok := ParseDirectiveKind(wd.Kind)
	if !ok {
		return nil, herrors.ManifestError(nil, "unknown directive kind %q", wd.Kind)
	}
	if wd.TargetRelativePath == "" {
		return nil, herrors.ManifestError(nil, "directive of kind %q missing target_relative_path", wd.Kind)
	}
	if wd.ExpectedHash == "" && kind != DirectiveCreateBSA {
		return nil, herrors.ManifestError(nil, "directive %q missing expected_hash", wd.TargetRelativePath)
	}

	d := &Directive{
		Kind:               kind,
		TargetRelativePath: wd.TargetRelativePath,
		ExpectedSize:       wd.ExpectedSize,
		ExpectedHash:       wd.ExpectedHash,
		SourceDataID:       wd.SourceDataID,
		PatchID:            wd.PatchID,
		Source:             decodeSource(wd.Source),
	}

	if wd.Texture != nil {
		d.Texture = TextureTransform{
			Width:    wd.Texture.Width,
			Height:   wd.Texture.Height,
			Format:   parseTextureFormat(wd.Texture.Format),
			MipCount: wd.Texture.MipCount,
			Filter:   parseMipFilter(wd.Texture.Filter),
			Quality:  wd.Texture.Quality,
		}
	}

	if wd.BSA != nil {
		d.BSA.Format = parseBSAFormat(wd.BSA.Format)
		d.BSA.Game = GameID(wd.BSA.Game)
		d.BSA.CompressionOn = wd.BSA.CompressionOn
		d.BSA.Flags = wd.BSA.Flags
		d.BSA.SubDirectives = make([]Directive, 0, len(wd.BSA.SubDirectives))
		for i := range wd.BSA.SubDirectives {
			sub, err := decodeDirective(&wd.BSA.SubDirectives[i])
			if err != nil {
				return nil, err
			}
			d.BSA.SubDirectives = append(d.BSA.SubDirectives, *sub)
		}
	}

	return d, nil
}

func decodeSource(w wireNestedRef) NestedArchiveRef {
	path := make(SegmentPath, len(w.Path))
	for i, s := range w.Path {
		path[i] = Segment{Name: s.Name, Archive: s.Archive}
	}
	return NestedArchiveRef{ArchiveHash: w.ArchiveHash, Path: path}
}

func parseSourceKind(s string) DownloadSourceKind {
	switch s {
	case "nexus":
		return DownloadSourceNexus
	case "direct-url":
		return DownloadSourceDirectURL
	case "mega":
		return DownloadSourceMega
	case "google-drive":
		return DownloadSourceGoogleDrive
	case "manual":
		return DownloadSourceManual
	default:
		return DownloadSourceUnknown
	}
}

func parseTextureFormat(s string) TextureFormat {
	switch s {
	case "BC1", "bc1":
		return TextureFormatBC1
	case "BC2", "bc2":
		return TextureFormatBC2
	case "BC3", "bc3":
		return TextureFormatBC3
	case "BC5", "bc5":
		return TextureFormatBC5
	case "BC7", "bc7":
		return TextureFormatBC7
	case "uncompressed":
		return TextureFormatUncompressed
	default:
		return TextureFormatUnknown
	}
}

func parseMipFilter(s string) MipFilter {
	switch s {
	case "box":
		return MipFilterBox
	case "triangle":
		return MipFilterTriangle
	case "catmull-rom":
		return MipFilterCatmullRom
	case "lanczos3":
		return MipFilterLanczos3
	default:
		return MipFilterUnknown
	}
}

func parseBSAFormat(s string) BSAFormat {
	switch s {
	case "bsa104":
		return BSAFormatBSA104
	case "bsa105":
		return BSAFormatBSA105
	case "ba2-general":
		return BSAFormatBA2General
	case "ba2-textures":
		return BSAFormatBA2Textures
	default:
		return BSAFormatUnknown
	}
}

// LoadBlob reads one inline blob (by source_data_id) out of a modlist
// bundle. Kept separate from Load so the Executor can fetch blobs lazily,
// one directive at a time, rather than holding every inline blob in memory
// for the run's duration.
func LoadBlob(bundlePath, sourceDataID string) ([]byte, error) {
	archive, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, herrors.IOError(err, false, "unable to open modlist bundle %q", bundlePath)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if entry.Name != sourceDataID {
			continue
		}
		reader, err := entry.Open()
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to open inline blob %q", sourceDataID)
		}
		defer reader.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to read inline blob %q", sourceDataID)
		}
		return data, nil
	}
	return nil, herrors.ManifestError(nil, "modlist bundle missing inline blob %q", sourceDataID)
}

// BlobSource keeps a modlist bundle's zip central directory open across
// repeated Load calls, instead of every fetch reopening and rescanning it
// the way the standalone LoadBlob does. A modlist can reference thousands
// of inline directives, so the difference is linear versus quadratic in
// the number of blobs fetched over a run.
type BlobSource struct {
	path string

	mu sync.Mutex
	zr *zip.ReadCloser
}

// OpenBlobSource returns a BlobSource over bundlePath. The zip file itself
// isn't opened until the first Load call.
func OpenBlobSource(bundlePath string) *BlobSource {
	return &BlobSource{path: bundlePath}
}

// Load reads one inline blob by source_data_id, opening and caching the
// bundle's zip reader on first use.
func (s *BlobSource) Load(sourceDataID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.zr == nil {
		zr, err := zip.OpenReader(s.path)
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to open modlist bundle %q", s.path)
		}
		s.zr = zr
	}

	for _, entry := range s.zr.File {
		if entry.Name != sourceDataID {
			continue
		}
		reader, err := entry.Open()
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to open inline blob %q", sourceDataID)
		}
		defer reader.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, herrors.IOError(err, false, "unable to read inline blob %q", sourceDataID)
		}
		return data, nil
	}
	return nil, herrors.ManifestError(nil, "modlist bundle missing inline blob %q", sourceDataID)
}

// Close releases the bundle's zip reader, if one was ever opened.
func (s *BlobSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zr == nil {
		return nil
	}
	err := s.zr.Close()
	s.zr = nil
	return err
}
