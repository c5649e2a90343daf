package executor

import (
	"io"
	"time"

	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// BSABuilderSession is the stateful per-archive session the Output Archive
// Builder (C6, spec §4.6) exposes: add_file/finalize against a single
// target archive.
type BSABuilderSession interface {
	AddFile(relativePath string, r io.Reader, mtime time.Time) error
	Finalize() error
}

// BSABuilderFactory opens one BSABuilderSession per CreateBSA directive
// (spec §4.6: "opened per CreateBSA directive with { format, version,
// compression flag, archive-level flags }").
type BSABuilderFactory interface {
	NewSession(targetPath string, format manifest.BSAFormat, game manifest.GameID, compressionOn bool, flags uint32) (BSABuilderSession, error)
}
