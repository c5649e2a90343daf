// Package hoolamike wires C1-C7 into the single install() entry point spec
// §6 exposes to the CLI layer: load the modlist, plan its phases, execute
// them under the Supervisor's permits, and return a structured report.
package hoolamike

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nettoneko/hoolamike/pkg/archive"
	"github.com/nettoneko/hoolamike/pkg/config"
	"github.com/nettoneko/hoolamike/pkg/executor"
	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/patchbase"
	"github.com/nettoneko/hoolamike/pkg/planner"
	"github.com/nettoneko/hoolamike/pkg/supervisor"
)

// Dependencies bundles the external collaborators spec §6 explicitly keeps
// outside the core: archive format decoding, patch application, and texture
// transcoding. None of these are implemented by this engine.
type Dependencies struct {
	// ArchiveTiers are tried in order before CLITier (spec §4.2's fallback
	// chain: native library, then 7z-fallback library).
	ArchiveTiers   []archive.ArchiveReaderFactory
	CLITier        archive.ArchiveReaderFactory
	IsLZMAMethod14 archive.LZMAMethod14Detector

	// Locate resolves an ArchiveDescriptor's hash to a local, already
	// downloaded file (the Downloader's job, explicitly external per spec
	// §6).
	Locate archive.DescriptorLocator

	Patcher    executor.PatchApplier
	Texture    executor.TextureTranscoder
	BSABuilder executor.BSABuilderFactory
}

// Flags holds the per-run overrides spec §6 exposes on the CLI surface,
// merged with (not replacing) whatever pkg/config.Configuration loaded.
type Flags struct {
	InstallRoot            string
	SkipVerifyAndDownloads bool
	SkipKinds              []string
	SkipIfHashMatches      bool
}

// Install runs one full directive-execution pass: C1 load+validate, C4
// plan, C7 supervise, C5 execute every phase in canonical order, returning
// the accumulated InstallReport (spec §6's install() surface). A non-nil
// error return means the run stopped without a per-phase report: a manifest
// load/validate failure, bad configuration, a working directory that could
// not be created, or a phase's archive preheat failing (which ends the run
// before that phase executes, with no report for earlier phases). Any
// failure recorded while a phase executes is instead captured in the
// returned report's Outcome/Phases.
func Install(ctx context.Context, manifestPath string, cfg *config.Configuration, flags Flags, deps Dependencies, logger *logging.Logger) (*executor.InstallReport, error) {
	started := timeNow()

	modlist, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to load modlist %q", manifestPath)
	}
	if err := modlist.Validate(); err != nil {
		return nil, errors.Wrap(err, "modlist failed validation")
	}

	plannerOpts, err := mergedPlannerOptions(cfg, flags)
	if err != nil {
		return nil, err
	}

	limits := cfg.Limits()
	sup := supervisor.New(ctx, limits, logger)
	defer sup.Close()

	// A dedicated per-run subdirectory, not WorkingDirectory() itself: the
	// latter defaults to the bare system temp dir, which every run would
	// otherwise scatter uuid-named spill files directly into (spec §6's
	// "a temporary working directory ... cleaned up on success").
	workDir := filepath.Join(cfg.WorkingDirectory(), "hoolamike-"+uuid.New().String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "unable to create working directory")
	}

	dispatcher := archive.NewDispatcher(deps.ArchiveTiers, deps.CLITier, deps.IsLZMAMethod14, logger)
	cache := archive.NewCache(dispatcher, deps.Locate, workDir, sup, sup, logger)

	// One zip reader kept open for the run instead of reopening the bundle
	// per blob: a modlist can carry thousands of inline directives.
	blobSource := manifest.OpenBlobSource(manifestPath)
	defer blobSource.Close()
	blobs := blobSource.Load

	execOpts := executor.Options{
		InstallRoot:            flags.InstallRoot,
		SkipVerifyAndDownloads: cfg.SkipVerifyAndDownloads || flags.SkipVerifyAndDownloads,
		Variables:              cfg.VariableTable(),
		SkipIfHashMatches:      flags.SkipIfHashMatches,
	}

	phases := planner.Plan(modlist, plannerOpts)
	report := executor.NewReportBuilder(started)

	for _, phase := range phases {
		if ctx.Err() != nil {
			break
		}

		if len(phase.RequiredArchiveHashes) > 0 {
			if err := cache.Preheat(ctx, phase.RequiredArchiveHashes, limits.DiskBudgetBytes, limits.IOHeavyConcurrency, estimateCost(modlist, deps.Locate)); err != nil {
				return nil, errors.Wrapf(err, "unable to preheat archives for %s phase", phase.Kind)
			}
		}

		patchBaseProvider := patchbase.NewProvider(cache, workDir, sup, logger)
		for _, req := range phase.RequiredPatchBases {
			patchBaseProvider.Require(req.Source, req.RefCount)
		}

		exec := executor.New(blobs, cache, patchBaseProvider, deps.Patcher, deps.Texture, deps.BSABuilder, sup, execOpts, logger)
		result := exec.RunPhase(ctx, phase)
		report.Add(result)

		// This phase's archives are fully consumed; return their disk
		// footprint before the next phase's Preheat accumulates more on top
		// of it (spec §8's working-directory budget bound applies across
		// the whole run, not per preheat chunk).
		for _, hash := range phase.RequiredArchiveHashes {
			cache.Evict(hash)
		}

		if result.Fatal != nil {
			break
		}
	}

	installReport := report.Finish(ctx.Err() != nil, timeNow())
	if installReport.Outcome == executor.OutcomeSuccess {
		os.RemoveAll(workDir)
	}
	return installReport, nil
}

// mergedPlannerOptions combines config's skip_kinds with flags.SkipKinds
// (spec §6's repeatable --skip-kind).
func mergedPlannerOptions(cfg *config.Configuration, flags Flags) (planner.Options, error) {
	opts, err := cfg.PlannerOptions()
	if err != nil {
		return planner.Options{}, err
	}
	if opts.SkipKinds == nil {
		opts.SkipKinds = make(map[manifest.DirectiveKind]bool)
	}
	for _, name := range flags.SkipKinds {
		kind, ok := manifest.ParseDirectiveKind(name)
		if !ok {
			return planner.Options{}, errors.Errorf("unknown directive kind %q in --skip-kind", name)
		}
		opts.SkipKinds[kind] = true
	}
	return opts, nil
}

// estimateCost builds the costEstimator Cache.Preheat needs: declared size
// from the modlist's ArchiveDescriptor, format detected from the local
// file's header (spec §4.2).
func estimateCost(modlist *manifest.Modlist, locate archive.DescriptorLocator) func(hash string) (archive.FormatTag, int64, error) {
	return func(hash string) (archive.FormatTag, int64, error) {
		descriptor := modlist.ArchiveByHash(hash)
		if descriptor == nil {
			return archive.FormatUnknown, 0, herrors.ArchiveMissError(nil, "no descriptor for archive hash %q", hash)
		}
		path, err := locate(hash)
		if err != nil {
			return archive.FormatUnknown, 0, err
		}
		f, err := os.Open(path)
		if err != nil {
			return archive.FormatUnknown, 0, herrors.IOError(err, false, "unable to open %q for format detection", path)
		}
		defer f.Close()
		header := make([]byte, 16)
		n, _ := f.Read(header)
		return archive.DetectFormat(header[:n]), descriptor.Size, nil
	}
}

func timeNow() time.Time {
	return time.Now()
}
