package executor

import (
	"time"

	"github.com/nettoneko/hoolamike/pkg/herrors"
	"github.com/nettoneko/hoolamike/pkg/manifest"
)

// Outcome is the terminal classification of an install run (spec §6's exit
// codes, §7's "install result").
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota
	OutcomePartialFailure
	OutcomeFatalError
	OutcomeCancelled
)

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial-failure"
	case OutcomeFatalError:
		return "fatal-error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExitCode maps Outcome to the process exit code spec §6 documents.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomePartialFailure:
		return 1
	case OutcomeFatalError:
		return 2
	case OutcomeCancelled:
		return 130
	default:
		return 2
	}
}

// KindSummary tallies one phase's outcome for the report (spec §7's "grouped
// by directive kind and error class").
type KindSummary struct {
	Kind      manifest.DirectiveKind
	Succeeded int
	Failures  []DirectiveFailure
	Fatal     error
}

// InstallReport is install()'s return value (spec §6): not merely an exit
// code, but enough structure for the CLI to render the tabulated summary
// spec §7 describes.
type InstallReport struct {
	Outcome  Outcome
	Phases   []KindSummary
	Elapsed  time.Duration
	Started  time.Time
	Finished time.Time
}

// NewReportBuilder starts accumulating phase results for one run beginning
// at started (the caller supplies time.Now() so this type stays pure).
func NewReportBuilder(started time.Time) *ReportBuilder {
	return &ReportBuilder{started: started}
}

// ReportBuilder accumulates PhaseResults into an InstallReport as RunPhase
// returns them, so the caller driving the phase loop (pkg/hoolamike.Install)
// doesn't need its own bookkeeping.
type ReportBuilder struct {
	started time.Time
	phases  []KindSummary
	fatal   bool
}

// Add records one phase's outcome.
func (b *ReportBuilder) Add(result *PhaseResult) {
	b.phases = append(b.phases, KindSummary{
		Kind:      result.Kind,
		Succeeded: result.Succeeded,
		Failures:  result.Failures,
		Fatal:     result.Fatal,
	})
	if result.Fatal != nil {
		b.fatal = true
	}
}

// Finish finalizes the report. cancelled overrides fatal/partial-failure
// classification: a cancelled run is always reported as OutcomeCancelled
// regardless of which phases managed to record failures before the
// cancellation propagated (spec §6).
func (b *ReportBuilder) Finish(cancelled bool, finished time.Time) *InstallReport {
	outcome := OutcomeSuccess
	switch {
	case cancelled || b.anyCancelled():
		outcome = OutcomeCancelled
	case b.fatal:
		outcome = OutcomeFatalError
	case b.hasFailures():
		outcome = OutcomePartialFailure
	}
	return &InstallReport{
		Outcome:  outcome,
		Phases:   b.phases,
		Started:  b.started,
		Finished: finished,
		Elapsed:  finished.Sub(b.started),
	}
}

func (b *ReportBuilder) hasFailures() bool {
	for _, p := range b.phases {
		if len(p.Failures) > 0 {
			return true
		}
	}
	return false
}

// anyCancelled reports whether any phase's fatal error was the run's
// cancellation token firing, as opposed to a budget/IO fatal error.
func (b *ReportBuilder) anyCancelled() bool {
	for _, p := range b.phases {
		if herr, ok := p.Fatal.(*herrors.Error); ok && herr.Class == herrors.ClassCancelled {
			return true
		}
	}
	return false
}
