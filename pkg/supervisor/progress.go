package supervisor

import (
	"io"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// progressAggregator owns the phase bars and their nested multi-segment
// extraction bars (spec §4.7: "each phase is a named bar, each directive a
// unit of work, and nested bars are supported for multi-segment
// extraction"). Bar redraw happens on mpb's own single internal goroutine,
// satisfying spec §5's "Progress aggregator: lock-free counters; bar redraw
// on a single thread".
type progressAggregator struct {
	progress *mpb.Progress
}

func newProgressAggregator() *progressAggregator {
	return &progressAggregator{
		progress: mpb.New(mpb.WithWidth(48), mpb.WithRefreshRate(120*time.Millisecond)),
	}
}

// newProgressAggregatorTo builds an aggregator that writes bar output to w
// instead of the default (os.Stdout).
func newProgressAggregatorTo(w io.Writer) *progressAggregator {
	return &progressAggregator{
		progress: mpb.New(mpb.WithOutput(w), mpb.WithWidth(48)),
	}
}

// PhaseBar is one named bar tracking a phase's directive completion count
// (spec §4.7).
type PhaseBar struct {
	bar *mpb.Bar
}

// NewPhaseBar starts a bar named name tracking total units of work.
func (a *progressAggregator) NewPhaseBar(name string, total int64) *PhaseBar {
	bar := a.progress.AddBar(total,
		mpb.PrependDecorators(decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DidentRight})),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	return &PhaseBar{bar: bar}
}

// Increment advances the phase bar by one directive.
func (p *PhaseBar) Increment() {
	if p != nil && p.bar != nil {
		p.bar.Increment()
	}
}

// SetTotal adjusts the bar's total, used when a phase's directive count is
// refined after sub-directive expansion (e.g. CreateBSA).
func (p *PhaseBar) SetTotal(total int64) {
	if p != nil && p.bar != nil {
		p.bar.SetTotal(total, false)
	}
}

// Complete marks the phase bar as finished.
func (p *PhaseBar) Complete() {
	if p != nil && p.bar != nil {
		for !p.bar.Completed() {
			p.bar.SetCurrent(p.bar.Current() + 1)
		}
	}
}

// NestedBar tracks progress within a single multi-segment extraction (spec
// §4.7): one bar per archive segment chain being resolved.
type NestedBar struct {
	bar *mpb.Bar
}

// NewNestedBar starts a byte-counted bar for a single segment-path
// extraction, nested visually beneath its parent phase bar.
func (a *progressAggregator) NewNestedBar(name string, totalBytes int64) *NestedBar {
	bar := a.progress.AddBar(totalBytes,
		mpb.PrependDecorators(decor.Name("  "+name)),
		mpb.AppendDecorators(decor.CountersKibiByte("% .1f / % .1f")),
	)
	return &NestedBar{bar: bar}
}

// Add advances a nested bar by n bytes.
func (n *NestedBar) Add(delta int64) {
	if n != nil && n.bar != nil {
		n.bar.IncrBy(int(delta))
	}
}

// Done marks a nested bar as finished and removes it from the display.
func (n *NestedBar) Done() {
	if n != nil && n.bar != nil {
		n.bar.Abort(true)
	}
}

func (a *progressAggregator) wait() {
	a.progress.Wait()
}
