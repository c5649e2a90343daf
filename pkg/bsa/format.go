// Package bsa implements the Output Archive Builder (C6, spec §4.6): a
// stateful per-archive session that buffers add_file calls and, on
// finalize, writes one archive file. That file is a length-prefixed
// container: the target format's magic bytes and version (BSA v104/v105 or
// BA2), then each entry's name, mtime, sizes, compression flag and data. It
// is not the games' own BSA/BA2 directory layout, and BA2 texture archives
// get no DDS chunking.
package bsa

import "github.com/nettoneko/hoolamike/pkg/manifest"

// legacyCompressionGames is the set of game ids whose BSAs use the FNV-era
// legacy compression codec regardless of container version (spec §4.6:
// "FNV-class BSAs use the legacy compression codec; this must be selected
// by game id, not by version alone").
var legacyCompressionGames = map[manifest.GameID]bool{
	manifest.GameFallout3:  true,
	manifest.GameFalloutNV: true,
}

// codec identifies which compressor a session applies to a compressed
// entry's bytes.
type codec uint8

const (
	codecNone codec = iota
	codecFlate
	codecZstd
)

// codecFor selects the compression codec for format/game, per spec §4.6:
// BSA v104 and legacy (FNV-class) games use flate-class compression, while
// BSA v105 (Skyrim SE) and BA2 (Fallout 4) use the newer zstd-class codec.
func codecFor(format manifest.BSAFormat, game manifest.GameID) codec {
	if legacyCompressionGames[game] {
		return codecFlate
	}
	switch format {
	case manifest.BSAFormatBSA104:
		return codecFlate
	case manifest.BSAFormatBSA105, manifest.BSAFormatBA2General, manifest.BSAFormatBA2Textures:
		return codecZstd
	default:
		return codecNone
	}
}

// skipCompressionExtensions lists file types real Bethesda archive tools
// leave uncompressed even when an archive's global compression flag is on,
// since they are already entropy-coded and double-compressing them wastes
// CPU for no size benefit. This is the concrete "per-file override bit"
// spec §4.6 describes: it can only force an entry to be stored raw, never
// force compression the global setting didn't ask for.
var skipCompressionExtensions = map[string]bool{
	".dds": true,
	".ogg": true,
	".mp3": true,
	".bik": true,
}

func overrideCompression(relativePath string) bool {
	dot := -1
	for i := len(relativePath) - 1; i >= 0 && i > len(relativePath)-6; i-- {
		if relativePath[i] == '.' {
			dot = i
			break
		}
	}
	if dot == -1 {
		return false
	}
	ext := toLowerASCII(relativePath[dot:])
	return skipCompressionExtensions[ext]
}

func toLowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
