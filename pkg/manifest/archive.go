package manifest

import "fmt"

// DownloadSourceKind identifies the tagged variant of an ArchiveDescriptor's
// download source (spec §3).
type DownloadSourceKind uint8

const (
	DownloadSourceUnknown DownloadSourceKind = iota
	DownloadSourceNexus
	DownloadSourceDirectURL
	DownloadSourceMega
	DownloadSourceGoogleDrive
	DownloadSourceManual
)

// String implements fmt.Stringer.
func (k DownloadSourceKind) String() string {
	switch k {
	case DownloadSourceNexus:
		return "nexus"
	case DownloadSourceDirectURL:
		return "direct-url"
	case DownloadSourceMega:
		return "mega"
	case DownloadSourceGoogleDrive:
		return "google-drive"
	case DownloadSourceManual:
		return "manual"
	default:
		return "unknown"
	}
}

// DownloadSource is the tagged-variant payload for an ArchiveDescriptor's
// origin. Only the field matching Kind is populated; the others are the
// variant's zero value. This mirrors the teacher's preference for explicit
// tagged unions (see Directive's Kind discriminator) over `interface{}`
// payloads, since the set of variants is closed and known at compile time.
type DownloadSource struct {
	Kind DownloadSourceKind

	// NexusModID/NexusFileID are populated when Kind == DownloadSourceNexus.
	NexusModID  int64
	NexusFileID int64
	NexusGameID string

	// URL is populated when Kind == DownloadSourceDirectURL.
	URL string

	// MegaURL is populated when Kind == DownloadSourceMega.
	MegaURL string

	// GoogleDriveFileID is populated when Kind == DownloadSourceGoogleDrive.
	GoogleDriveFileID string

	// ManualPrompt is populated when Kind == DownloadSourceManual; it is the
	// text shown to a user who must fetch the file by hand.
	ManualPrompt string
}

// ArchiveDescriptor describes one expected downloaded source archive (spec
// §3). Its identity is Hash: the Archive Access Layer's cache and every
// Directive's FromArchive/PatchedFromArchive segment path key off of it.
type ArchiveDescriptor struct {
	// Name is the descriptor's logical (display) name.
	Name string
	// Size is the expected size, in bytes, of the downloaded file.
	Size int64
	// Hash is the base64-encoded xxhash-64 content hash; it is this
	// descriptor's identity.
	Hash string
	// Source describes where the archive can be (re-)obtained from.
	Source DownloadSource
}

func (d *ArchiveDescriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Hash)
}
