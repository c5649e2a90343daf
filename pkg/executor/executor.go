// Package executor implements the Directive Executor (C5, spec §4.5): for
// each Phase handed to it by the Planner, it drives every directive to
// completion in parallel, observing the Supervisor's concurrency permits,
// and writes final files to the install root.
package executor

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/nettoneko/hoolamike/pkg/archive"
	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/patchbase"
	"github.com/nettoneko/hoolamike/pkg/planner"
	"github.com/nettoneko/hoolamike/pkg/supervisor"
)

// BlobSource resolves an inline blob by its source_data_id out of the
// modlist bundle (spec §6). pkg/hoolamike.Install passes the Load method of
// a manifest.BlobSource.
type BlobSource func(sourceDataID string) ([]byte, error)

// Permits is the subset of the Supervisor's permit protocol the executor
// needs (spec §4.7). A narrow interface, like archive.DiskBudget, keeps this
// package from depending on the supervisor package's concrete types.
type Permits interface {
	ConcurrencyPermit(ctx context.Context, class supervisor.Class) (release func(), err error)
}

// Options configures one run of the Executor (spec §4.5, §6's exposed
// flags).
type Options struct {
	// InstallRoot is the directory every directive's TargetRelativePath is
	// resolved against.
	InstallRoot string
	// SkipVerifyAndDownloads suppresses post-write hash checks and
	// download-file-presence checks (spec §4.5, §6).
	SkipVerifyAndDownloads bool
	// Variables resolves RemappedInlineFile tokens (spec §4.5).
	Variables planner.VariableTable
	// SkipIfHashMatches opts into skipping a directive's write entirely when
	// a file already exists at its target path with a matching hash (spec
	// §7's documented idempotence property). Off by default: a rerun always
	// rewrites every directive unless the caller opts in.
	SkipIfHashMatches bool
}

// Executor is the C5 component.
type Executor struct {
	blobs     BlobSource
	cache     *archive.Cache
	patchBase *patchbase.Provider
	patcher   PatchApplier
	texture   TextureTranscoder
	permits   Permits
	bsaOut    BSABuilderFactory
	opts      Options
	logger    *logging.Logger
	warned    *warnOnce
}

// New constructs an Executor. texture and patcher may be nil only if the
// modlist is known not to contain TransformedTexture/PatchedFromArchive
// directives; calling the corresponding handler without one is a
// configuration error surfaced as a TextureError/PatchError.
func New(blobs BlobSource, cache *archive.Cache, patchBase *patchbase.Provider, patcher PatchApplier, texture TextureTranscoder, bsaOut BSABuilderFactory, permits Permits, opts Options, logger *logging.Logger) *Executor {
	return &Executor{
		blobs:     blobs,
		cache:     cache,
		patchBase: patchBase,
		patcher:   patcher,
		texture:   texture,
		bsaOut:    bsaOut,
		permits:   permits,
		opts:      opts,
		logger:    logger.Sublogger("executor"),
		warned:    newWarnOnce(),
	}
}

// DirectiveFailure records one directive's failure against its phase (spec
// §4.5, §7's InstallReport grouping by directive kind and error class).
type DirectiveFailure struct {
	TargetRelativePath string
	Err                error
}

// PhaseResult is the outcome of RunPhase (spec §4.4/§4.5).
type PhaseResult struct {
	Kind      manifest.DirectiveKind
	Succeeded int
	Failures  []DirectiveFailure
	// Fatal is set when a fatal-class error aborted the phase before every
	// directive finished (spec §7).
	Fatal error
}

// concurrencyClassFor returns the permit class a directive kind acquires
// before executing (spec §4.7's class list).
func concurrencyClassFor(kind manifest.DirectiveKind) supervisor.Class {
	switch kind {
	case manifest.DirectivePatchedFromArchive, manifest.DirectiveTransformedTexture:
		return supervisor.ClassCPUHeavy
	case manifest.DirectiveFromArchive, manifest.DirectiveCreateBSA:
		return supervisor.ClassIOHeavy
	default:
		return supervisor.ClassLight
	}
}

// RunPhase drives every directive in phase to completion concurrently,
// bounded by the permit class its kind maps to (spec §4.5: "drive all its
// directives to completion in parallel, observing C7's concurrency
// permit"). A per-directive failure is recorded and does not stop its
// siblings; a fatal-class failure cancels the remaining directives in this
// phase and is returned on PhaseResult.Fatal (spec §7).
func (e *Executor) RunPhase(ctx context.Context, phase planner.Phase) *PhaseResult {
	result := &PhaseResult{Kind: phase.Kind}
	if len(phase.Directives) == 0 {
		return result
	}

	class := concurrencyClassFor(phase.Kind)

	type outcome struct {
		target string
		err    error
	}
	outcomes := make(chan outcome, len(phase.Directives))

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range phase.Directives {
		directive := phase.Directives[i]
		group.Go(func() error {
			release, err := e.permits.ConcurrencyPermit(groupCtx, class)
			if err != nil {
				return herrors.Cancelled()
			}
			defer release()

			err = e.execute(groupCtx, &directive)
			outcomes <- outcome{target: directive.TargetRelativePath, err: err}
			if err != nil {
				if fatalErr, ok := err.(interface{ Fatal() bool }); ok && fatalErr.Fatal() {
					return err
				}
			}
			return nil
		})
	}

	waitErr := group.Wait()
	close(outcomes)

	for o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, DirectiveFailure{TargetRelativePath: o.target, Err: o.err})
		} else {
			result.Succeeded++
		}
	}

	if waitErr != nil {
		result.Fatal = waitErr
	}

	return result
}

// execute dispatches a single directive to its kind-specific handler (spec
// §4.5's per-kind handling list).
func (e *Executor) execute(ctx context.Context, d *manifest.Directive) error {
	switch d.Kind {
	case manifest.DirectiveInlineFile:
		return e.executeInlineFile(ctx, d)
	case manifest.DirectiveRemappedInlineFile:
		return e.executeRemappedInlineFile(ctx, d)
	case manifest.DirectiveFromArchive:
		return e.executeFromArchive(ctx, d)
	case manifest.DirectivePatchedFromArchive:
		return e.executePatchedFromArchive(ctx, d)
	case manifest.DirectiveTransformedTexture:
		return e.executeTransformedTexture(ctx, d)
	case manifest.DirectiveCreateBSA:
		return e.executeCreateBSA(ctx, d)
	default:
		return herrors.ManifestError(nil, "unsupported directive kind %v for %q", d.Kind, d.TargetRelativePath)
	}
}
