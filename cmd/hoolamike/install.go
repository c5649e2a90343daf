package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/nettoneko/hoolamike/pkg/config"
	"github.com/nettoneko/hoolamike/pkg/executor"
	"github.com/nettoneko/hoolamike/pkg/hoolamike"
	"github.com/nettoneko/hoolamike/pkg/logging"
	"github.com/nettoneko/hoolamike/pkg/manifest"
	"github.com/nettoneko/hoolamike/pkg/planner"
)

var installCommand = &cobra.Command{
	Use:   "install <manifest>",
	Short: "Installs a modlist bundle onto the configured install root",
	Run:   mainify(installMain),
}

var installConfiguration struct {
	installRoot            string
	configFile             string
	skipVerifyAndDownloads bool
	skipKinds              []string
	skipIfHashMatches      bool
	dryRun                 bool
	logLevel               string
}

func init() {
	flags := installCommand.Flags()
	flags.SortFlags = false

	flags.StringVar(&installConfiguration.installRoot, "install-root", "", "Directory to install into (required)")
	flags.StringVar(&installConfiguration.configFile, "config", "", "Path to the run configuration YAML file")
	flags.BoolVar(&installConfiguration.skipVerifyAndDownloads, "skip-verify-and-downloads", false, "Suppress hash verification and download-presence checks")
	flags.StringArrayVar(&installConfiguration.skipKinds, "skip-kind", nil, "Omit a directive kind from the plan (repeatable)")
	flags.BoolVar(&installConfiguration.skipIfHashMatches, "skip-if-hash-matches", false, "Skip rewriting a file whose existing contents already match its expected hash")
	flags.BoolVar(&installConfiguration.dryRun, "dry-run", false, "Print the phase plan without executing it")
	flags.StringVar(&installConfiguration.logLevel, "log-level", "info", "Log level (error|warn|info|debug|trace)")
}

func installMain(command *cobra.Command, arguments []string) error {
	if len(arguments) != 1 {
		return errors.New("expected exactly one argument: the modlist bundle path")
	}
	manifestPath := arguments[0]

	if installConfiguration.installRoot == "" && !installConfiguration.dryRun {
		return errors.New("--install-root is required unless --dry-run is set")
	}

	level, ok := logging.NameToLevel(installConfiguration.logLevel)
	if !ok {
		return errors.Errorf("unknown log level %q", installConfiguration.logLevel)
	}
	logger := logging.NewLogger(level, os.Stderr)

	cfg, err := config.Load(installConfiguration.configFile)
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}

	if installConfiguration.dryRun {
		return runDryRun(manifestPath, cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		if _, ok := <-signals; ok {
			logger.Info("received interrupt, cancelling run")
			cancel()
		}
	}()
	defer signal.Stop(signals)

	flags := hoolamike.Flags{
		InstallRoot:            installConfiguration.installRoot,
		SkipVerifyAndDownloads: installConfiguration.skipVerifyAndDownloads,
		SkipKinds:              installConfiguration.skipKinds,
		SkipIfHashMatches:      installConfiguration.skipIfHashMatches,
	}

	// Archive decoding, patch application, and texture transcoding are
	// external collaborators this engine never implements (spec §1's "out
	// of scope" list); a concrete deployment supplies them here.
	deps := hoolamike.Dependencies{}

	report, err := hoolamike.Install(ctx, manifestPath, cfg, flags, deps, logger)
	if err != nil {
		return err
	}

	renderReport(os.Stdout, report)

	os.Exit(report.Outcome.ExitCode())
	return nil
}

// runDryRun loads and plans the modlist without executing any phase (spec
// §4.4's Plan being pure makes this a one-line addition on top of install()).
func runDryRun(manifestPath string, cfg *config.Configuration) error {
	modlist, err := manifest.Load(manifestPath)
	if err != nil {
		return errors.Wrapf(err, "unable to load modlist %q", manifestPath)
	}
	if err := modlist.Validate(); err != nil {
		return errors.Wrap(err, "modlist failed validation")
	}

	opts, err := cfg.PlannerOptions()
	if err != nil {
		return err
	}
	for _, name := range installConfiguration.skipKinds {
		kind, ok := manifest.ParseDirectiveKind(name)
		if !ok {
			return errors.Errorf("unknown directive kind %q in --skip-kind", name)
		}
		if opts.SkipKinds == nil {
			opts.SkipKinds = make(map[manifest.DirectiveKind]bool)
		}
		opts.SkipKinds[kind] = true
	}

	phases := planner.Plan(modlist, opts)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tDIRECTIVES\tARCHIVES REQUIRED\tBYTES REQUIRED")
	for _, phase := range phases {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", phase.Kind, len(phase.Directives), len(phase.RequiredArchiveHashes), humanize.Bytes(uint64(requiredBytes(modlist, phase.RequiredArchiveHashes))))
	}
	return w.Flush()
}

func requiredBytes(modlist *manifest.Modlist, hashes []string) int64 {
	var total int64
	for _, hash := range hashes {
		if descriptor := modlist.ArchiveByHash(hash); descriptor != nil {
			total += descriptor.Size
		}
	}
	return total
}

// renderReport prints a table with one row per phase (each phase holds one
// directive kind) giving its success and failure counts, then lists every
// failure with its error message. Failures are not grouped by error class.
func renderReport(out *os.File, report *executor.InstallReport) {
	fmt.Fprintf(out, "install %s in %s\n", report.Outcome, report.Elapsed)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PHASE\tSUCCEEDED\tFAILED\tFATAL")
	for _, phase := range report.Phases {
		fatalMsg := ""
		if phase.Fatal != nil {
			fatalMsg = phase.Fatal.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", phase.Kind, phase.Succeeded, len(phase.Failures), fatalMsg)
	}
	w.Flush()

	for _, phase := range report.Phases {
		for _, failure := range phase.Failures {
			fmt.Fprintf(out, "  %s: %s: %v\n", phase.Kind, failure.TargetRelativePath, failure.Err)
		}
	}
}
