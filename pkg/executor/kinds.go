package executor

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/nettoneko/hoolamike/pkg/hashing"
	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/patchbase"
)

// executeInlineFile implements spec §4.5's InlineFile handling: read blob
// from the modlist bundle by id, write verbatim, verify hash if not
// skipped.
func (e *Executor) executeInlineFile(ctx context.Context, d *manifest.Directive) error {
	data, err := e.blobs(d.SourceDataID)
	if err != nil {
		return herrors.ManifestError(err, "unable to load inline blob %q for %q", d.SourceDataID, d.TargetRelativePath)
	}
	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}
	return e.writeAndVerify(target, d.ExpectedHash, bytes.NewReader(data), time.Time{})
}

// executeRemappedInlineFile implements spec §4.5's RemappedInlineFile
// handling: read blob, interpret as UTF-8, substitute $(TOKEN) occurrences
// against the Variable Table, warn once per unknown token, write result.
func (e *Executor) executeRemappedInlineFile(ctx context.Context, d *manifest.Directive) error {
	data, err := e.blobs(d.SourceDataID)
	if err != nil {
		return herrors.ManifestError(err, "unable to load inline blob %q for %q", d.SourceDataID, d.TargetRelativePath)
	}

	substituted, unknown := substituteVariables(string(data), e.opts.Variables)
	for _, token := range unknown {
		if e.warned.shouldWarn(token) {
			e.logger.Warn(herrors.ManifestError(nil, "unknown remap token $(%s) left verbatim", token))
		}
	}

	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}
	return e.writeAndVerify(target, d.ExpectedHash, strings.NewReader(substituted), time.Time{})
}

// executeFromArchive implements spec §4.5's FromArchive handling: open via
// C2, stream-copy to target path.
func (e *Executor) executeFromArchive(ctx context.Context, d *manifest.Directive) error {
	reader, err := e.cache.Open(ctx, d.Source)
	if err != nil {
		return err
	}
	defer reader.Close()

	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}
	return e.writeAndVerify(target, d.ExpectedHash, reader, reader.ModTime())
}

// executePatchedFromArchive implements spec §4.5's PatchedFromArchive
// handling: read base from C3, read the patch blob, apply the octodiff-
// style transform, write, verify hash.
func (e *Executor) executePatchedFromArchive(ctx context.Context, d *manifest.Directive) error {
	if e.patchBase == nil || e.patcher == nil {
		return herrors.PatchError(nil, "no patch base provider/applier configured for %q", d.TargetRelativePath)
	}

	identity := patchBaseIdentity(d.Source)
	baseBytes, err := e.patchBase.Read(ctx, identity)
	if err != nil {
		return err
	}
	defer e.patchBase.Release(identity)

	patchBlob, err := e.blobs(d.PatchID)
	if err != nil {
		return herrors.ManifestError(err, "unable to load patch blob %q for %q", d.PatchID, d.TargetRelativePath)
	}

	var out bytes.Buffer
	if err := e.patcher.Apply(ctx, bytes.NewReader(baseBytes), int64(len(baseBytes)), bytes.NewReader(patchBlob), &out); err != nil {
		return herrors.PatchError(err, "unable to apply patch for %q", d.TargetRelativePath)
	}

	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}
	return e.writeAndVerify(target, d.ExpectedHash, &out, time.Time{})
}

// executeTransformedTexture implements spec §4.5's TransformedTexture
// handling: read DDS, invoke the format transcoder, write DDS.
func (e *Executor) executeTransformedTexture(ctx context.Context, d *manifest.Directive) error {
	if e.texture == nil {
		return herrors.TextureError(nil, "no texture transcoder configured for %q", d.TargetRelativePath)
	}

	reader, err := e.cache.Open(ctx, d.Source)
	if err != nil {
		return err
	}
	defer reader.Close()

	var out bytes.Buffer
	if err := e.texture.Transcode(ctx, reader, d.Texture, &out); err != nil {
		return herrors.TextureError(err, "unable to transcode texture for %q", d.TargetRelativePath)
	}

	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}
	return e.writeAndVerify(target, d.ExpectedHash, &out, time.Time{})
}

// executeCreateBSA implements spec §4.5/§4.6's CreateBSA handling: for each
// sub-directive, compute its bytes using the same logic as the
// corresponding standalone kind, then append to an Output Archive Builder
// session; finalize the archive at the end.
func (e *Executor) executeCreateBSA(ctx context.Context, d *manifest.Directive) error {
	if e.bsaOut == nil {
		return herrors.IOError(nil, false, "no output archive builder configured for %q", d.TargetRelativePath)
	}

	target, err := e.resolveTarget(d.TargetRelativePath)
	if err != nil {
		return err
	}

	session, err := e.bsaOut.NewSession(target, d.BSA.Format, d.BSA.Game, d.BSA.CompressionOn, d.BSA.Flags)
	if err != nil {
		return herrors.IOError(err, false, "unable to open archive builder session for %q", d.TargetRelativePath)
	}

	for i := range d.BSA.SubDirectives {
		sub := &d.BSA.SubDirectives[i]
		data, mtime, err := e.computeBytes(ctx, sub)
		if err != nil {
			return err
		}
		if !e.opts.SkipVerifyAndDownloads && !hashVerify(data, sub.ExpectedHash) {
			return herrors.ChecksumMismatchError(sub.TargetRelativePath, sub.ExpectedHash, "")
		}
		if err := session.AddFile(sub.TargetRelativePath, bytes.NewReader(data), mtime); err != nil {
			return herrors.IOError(err, false, "unable to add %q to archive %q", sub.TargetRelativePath, d.TargetRelativePath)
		}
	}

	if err := session.Finalize(); err != nil {
		return herrors.IOError(err, isNoSpaceErr(err), "unable to finalize archive %q", d.TargetRelativePath)
	}
	return nil
}

// computeBytes produces a CreateBSA sub-directive's bytes in memory, using
// the same per-kind logic as the corresponding standalone directive (spec
// §4.5's CreateBSA handling), without writing anything to the install root.
func (e *Executor) computeBytes(ctx context.Context, d *manifest.Directive) ([]byte, time.Time, error) {
	switch d.Kind {
	case manifest.DirectiveInlineFile, manifest.DirectiveRemappedInlineFile:
		data, err := e.blobs(d.SourceDataID)
		if err != nil {
			return nil, time.Time{}, herrors.ManifestError(err, "unable to load inline blob %q", d.SourceDataID)
		}
		if d.Kind == manifest.DirectiveRemappedInlineFile {
			substituted, unknown := substituteVariables(string(data), e.opts.Variables)
			for _, token := range unknown {
				if e.warned.shouldWarn(token) {
					e.logger.Warn(herrors.ManifestError(nil, "unknown remap token $(%s) left verbatim", token))
				}
			}
			data = []byte(substituted)
		}
		return data, time.Time{}, nil

	case manifest.DirectiveFromArchive:
		reader, err := e.cache.Open(ctx, d.Source)
		if err != nil {
			return nil, time.Time{}, err
		}
		defer reader.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(reader); err != nil {
			return nil, time.Time{}, herrors.IOError(err, false, "unable to read %q", d.TargetRelativePath)
		}
		return buf.Bytes(), reader.ModTime(), nil

	case manifest.DirectivePatchedFromArchive:
		if e.patchBase == nil || e.patcher == nil {
			return nil, time.Time{}, herrors.PatchError(nil, "no patch base provider/applier configured for %q", d.TargetRelativePath)
		}
		identity := patchBaseIdentity(d.Source)
		baseBytes, err := e.patchBase.Read(ctx, identity)
		if err != nil {
			return nil, time.Time{}, err
		}
		defer e.patchBase.Release(identity)
		patchBlob, err := e.blobs(d.PatchID)
		if err != nil {
			return nil, time.Time{}, herrors.ManifestError(err, "unable to load patch blob %q", d.PatchID)
		}
		var out bytes.Buffer
		if err := e.patcher.Apply(ctx, bytes.NewReader(baseBytes), int64(len(baseBytes)), bytes.NewReader(patchBlob), &out); err != nil {
			return nil, time.Time{}, herrors.PatchError(err, "unable to apply patch for %q", d.TargetRelativePath)
		}
		return out.Bytes(), time.Time{}, nil

	case manifest.DirectiveTransformedTexture:
		if e.texture == nil {
			return nil, time.Time{}, herrors.TextureError(nil, "no texture transcoder configured for %q", d.TargetRelativePath)
		}
		reader, err := e.cache.Open(ctx, d.Source)
		if err != nil {
			return nil, time.Time{}, err
		}
		defer reader.Close()
		var out bytes.Buffer
		if err := e.texture.Transcode(ctx, reader, d.Texture, &out); err != nil {
			return nil, time.Time{}, herrors.TextureError(err, "unable to transcode texture for %q", d.TargetRelativePath)
		}
		return out.Bytes(), time.Time{}, nil

	default:
		return nil, time.Time{}, herrors.ManifestError(nil, "unsupported sub-directive kind %v", d.Kind)
	}
}

// patchBaseIdentity mirrors patchbase.Provider's internal keying so the
// Executor can look up a base it never constructed itself (the Planner
// pre-registers it via Provider.Require).
func patchBaseIdentity(ref manifest.NestedArchiveRef) patchbase.Identity {
	return patchbase.Identity{ArchiveHash: ref.ArchiveHash, Path: joinSegments(ref.Path)}
}

func joinSegments(path manifest.SegmentPath) string {
	var out string
	for i, seg := range path {
		if i > 0 {
			out += "/"
		}
		out += seg.Name
	}
	return out
}

func hashVerify(data []byte, expected string) bool {
	return hashing.Verify(data, expected)
}
