package executor

import (
	"context"
	"io"
)

// PatchApplier is the external collaborator that applies an octodiff-style
// binary patch (spec §4.5, §6): given random access into the base bytes and
// a sequential read of the patch blob, it writes the patched result to out.
// This engine never implements the patch wire format itself; it only
// dispatches to this capability.
type PatchApplier interface {
	Apply(ctx context.Context, base io.ReaderAt, baseSize int64, patch io.Reader, out io.Writer) error
}
