package executor

import (
	"context"
	"io"

	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// TextureTranscoder is the external collaborator that decodes a source DDS
// image and re-encodes it to transform's target format/dimensions/mip count
// (spec §4.5, §6). BC7 re-encoding defaults to the lowest quality setting
// (speed over fidelity); a transcoder may use a SIMD-accelerated encoder
// internally when one is available, which this engine has no opinion about.
type TextureTranscoder interface {
	Transcode(ctx context.Context, in io.Reader, transform manifest.TextureTransform, out io.Writer) error
}
