// Package progress defines the hierarchical progress-reporting contract
// used by the cache and composer, plus a pterm-backed default
// implementation matching the teacher's terminal-UX idiom.
//
// Per spec.md §1, ProgressSink is treated as an external collaborator: its
// contract is only "split into fractions, set internal units, advance."
// Callers that don't care about progress can pass Noop().
package progress

import "github.com/pterm/pterm"

// Sink reports progress for a single unit of work. Implementations must be
// safe to advance from whatever goroutine is doing the work they track.
type Sink interface {
	// SetUnits declares the total number of units this sink will advance
	// through. Called once, before the first Advance, whenever the total
	// work size is known up front (e.g. a Content-Length).
	SetUnits(total uint64)

	// Advance reports that n more units of work completed.
	Advance(n uint64)

	// Split divides this sink into n independent child sinks, each
	// representing an equal fraction of the parent's remaining work.
	Split(n int) []Sink
}

// Noop returns a Sink that discards all reporting.
func Noop() Sink { return noopSink{} }

type noopSink struct{}

func (noopSink) SetUnits(uint64) {}
func (noopSink) Advance(uint64)  {}
func (noopSink) Split(n int) []Sink {
	sinks := make([]Sink, n)
	for i := range sinks {
		sinks[i] = noopSink{}
	}
	return sinks
}

// Bar is a Sink backed by a pterm progress bar. The zero value is not
// usable; construct with NewBar.
type Bar struct {
	bar   *pterm.ProgressbarPrinter
	total uint64
	done  uint64
}

// NewBar starts a pterm progress bar with the given title, optionally
// writing into a MultiPrinter's writer so several bars can render at once
// (the same pattern the teacher's UpdateMods uses for concurrent downloads).
func NewBar(title string, writer *pterm.MultiPrinter) *Bar {
	builder := pterm.DefaultProgressbar.WithTitle(title).WithTotal(1)
	if writer != nil {
		builder = builder.WithWriter(writer.NewWriter())
	}
	bar, _ := builder.Start()
	return &Bar{bar: bar}
}

// SetUnits resets the bar's denominator to total units (minimum 1, so a
// bar for an unknown-size download still renders as "1 of 1" after a
// single Advance, matching the "unknown Content-Length => 1 unit" rule).
func (b *Bar) SetUnits(total uint64) {
	if total == 0 {
		total = 1
	}
	b.total = total
	if b.bar != nil {
		b.bar.Total = int(total)
	}
}

// Advance moves the bar forward by n units.
func (b *Bar) Advance(n uint64) {
	b.done += n
	if b.bar != nil {
		b.bar.Add(int(n))
	}
}

// Stop finalizes the underlying pterm bar.
func (b *Bar) Stop() {
	if b.bar != nil {
		_, _ = b.bar.Stop()
	}
}

// Split divides the bar's span into n equal fractions; each fraction
// advances this same bar rather than rendering a bar of its own.
func (b *Bar) Split(n int) []Sink {
	sinks := make([]Sink, n)
	for i := range sinks {
		sinks[i] = Noop()
	}
	if n == 0 {
		return sinks
	}
	for i := range sinks {
		sinks[i] = &fraction{parent: b, share: 1.0 / float64(n)}
	}
	return sinks
}

// fraction reports into a parent Bar, scaling its own unit count down to
// the fraction of the parent's overall span it was allotted.
type fraction struct {
	parent *Bar
	share  float64
	total  uint64
	done   uint64
}

func (f *fraction) SetUnits(total uint64) {
	if total == 0 {
		total = 1
	}
	f.total = total
}

func (f *fraction) Advance(n uint64) {
	f.done += n
	if f.total == 0 {
		return
	}
	// Translate this fraction's own progress into parent-scale units so the
	// parent bar's total stays meaningful regardless of how many children
	// it was split into.
	scaled := uint64(float64(n) * f.share)
	if scaled == 0 && n > 0 {
		scaled = 1
	}
	f.parent.Advance(scaled)
}

func (f *fraction) Split(n int) []Sink {
	sinks := make([]Sink, n)
	for i := range sinks {
		sinks[i] = &fraction{parent: f.parent, share: f.share / float64(n)}
	}
	return sinks
}
