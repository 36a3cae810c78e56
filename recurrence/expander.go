package recurrence

import (
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/teambition/rrule-go"
)

// DefaultExclusionTolerance is the absolute-difference window used when
// matching EXDATE/RDATE timestamps against rule-generated instants. Upstream
// systems round recurrence timestamps across timezone/DST conversions, so
// exact equality would drop legitimate matches.
const DefaultExclusionTolerance = time.Minute

// ExpanderConfig holds tuning options for the expander.
type ExpanderConfig struct {
	// MaxInstances caps how many instances a single Expand call produces.
	// Hitting the cap sets Expansion.Truncated instead of failing; the
	// extension scheduler resumes from the last produced instance later.
	MaxInstances int

	// CacheEnabled memoizes expansion results, CacheConfig tunes the cache.
	CacheEnabled bool
	CacheConfig  CacheConfig
}

// DefaultExpanderConfig provides sensible defaults for production use.
var DefaultExpanderConfig = ExpanderConfig{
	MaxInstances: 1000,
	CacheEnabled: true,
	CacheConfig:  DefaultCacheConfig,
}

// Horizon is the closed time window [Start, End] an expansion covers.
type Horizon struct {
	Start time.Time
	End   time.Time
}

// Options controls a single Expand call.
type Options struct {
	// ApplyExclusions removes EXDATE-matched instants from the result. The
	// materializer expands without exclusions and cancels rows afterwards so
	// they persist; generic callers usually want them applied.
	ApplyExclusions bool
	// ExclusionTolerance overrides DefaultExclusionTolerance when positive.
	ExclusionTolerance time.Duration
	// ExDates are the event's excluded instance start times.
	ExDates []time.Time
	// RDates are explicitly added instance start times, merged into the
	// result when they fall inside the horizon.
	RDates []time.Time
}

// Expansion is the result of expanding one rule over one horizon.
type Expansion struct {
	// Times is the ordered, deduplicated sequence of instance starts.
	Times []time.Time
	// Truncated reports that the instance cap was hit before the horizon
	// end; the remainder can be produced by a later call.
	Truncated bool
}

// Expander turns a recurrence rule plus anchor into concrete instants.
// Expansion is a pure function of its inputs: identical inputs produce an
// identical sequence, which the materializer's replace-on-change strategy
// relies on.
type Expander struct {
	cfg    ExpanderConfig
	cache  *Cache
	logger *slog.Logger
}

// NewExpander creates an expander with the given configuration.
func NewExpander(cfg ExpanderConfig, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.MaxInstances <= 0 {
		cfg.MaxInstances = DefaultExpanderConfig.MaxInstances
	}
	e := &Expander{cfg: cfg, logger: logger}
	if cfg.CacheEnabled {
		e.cache = NewCache(cfg.CacheConfig)
	}
	return e
}

// Close releases the expansion cache, if any.
func (e *Expander) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// Expand produces the ordered instance starts of rule anchored at anchor
// within the closed horizon. The rule operates on the anchor's wall-clock
// components in loc; resulting instants are absolute times in loc. A
// wall-clock time that falls in a DST gap is shifted forward to the next
// valid wall-clock time (02:30 becomes 03:30 on a spring-forward day).
func (e *Expander) Expand(anchor time.Time, rule Rule, loc *time.Location, hz Horizon, opts Options) (Expansion, error) {
	if err := rule.Validate(); err != nil {
		return Expansion{}, err
	}
	if loc == nil {
		loc = time.UTC
	}
	anchor = anchor.In(loc)

	if e.cache != nil {
		if exp, ok := e.cache.Get(anchor, rule, loc, hz, opts); ok {
			return exp, nil
		}
	}

	r, err := rrule.NewRRule(rule.rruleOptions(anchor))
	if err != nil {
		return Expansion{}, &RecurrenceError{Rule: rule.String(), Reason: "rule rejected", Err: err}
	}

	times := r.Between(hz.Start, hz.End, true)
	truncated := false
	if len(times) > e.cfg.MaxInstances {
		times = times[:e.cfg.MaxInstances]
		truncated = true
	}

	hour, minute, sec := anchor.Clock()
	for i, t := range times {
		times[i] = resolveWallClock(t.In(loc), hour, minute, sec, loc)
	}

	for _, rd := range opts.RDates {
		if !rd.Before(hz.Start) && !rd.After(hz.End) {
			times = append(times, rd.In(loc))
		}
	}

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	times = dedupe(times)

	if opts.ApplyExclusions && len(opts.ExDates) > 0 {
		tol := opts.ExclusionTolerance
		if tol <= 0 {
			tol = DefaultExclusionTolerance
		}
		kept := times[:0]
		for _, t := range times {
			if !matchesAny(t, opts.ExDates, tol) {
				kept = append(kept, t)
			}
		}
		times = kept
	}

	// Gap shifts can push an instant just past the horizon end.
	for len(times) > 0 && times[len(times)-1].After(hz.End) {
		times = times[:len(times)-1]
	}

	exp := Expansion{Times: times, Truncated: truncated}
	if e.cache != nil {
		e.cache.Set(anchor, rule, loc, hz, opts, exp)
	}
	if truncated {
		e.logger.Debug("expansion truncated at instance cap",
			"rule", rule.String(),
			"cap", e.cfg.MaxInstances)
	}
	return exp, nil
}

// MatchesWithin reports whether a and b differ by at most tol.
func MatchesWithin(a, b time.Time, tol time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tol
}

func matchesAny(t time.Time, set []time.Time, tol time.Duration) bool {
	for _, s := range set {
		if MatchesWithin(t, s, tol) {
			return true
		}
	}
	return false
}

func dedupe(times []time.Time) []time.Time {
	if len(times) < 2 {
		return times
	}
	out := times[:1]
	for _, t := range times[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

// resolveWallClock returns the instant for the given wall-clock time on t's
// calendar day in loc. When that wall-clock time does not exist (DST gap),
// the result is shifted forward past the transition: midnight plus the
// wall-clock offset lands after the gap on a 23-hour day.
func resolveWallClock(t time.Time, hour, minute, sec int, loc *time.Location) time.Time {
	want := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, sec, 0, loc)
	if want.Hour() == hour && want.Minute() == minute {
		return want
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(hour)*time.Hour +
		time.Duration(minute)*time.Minute +
		time.Duration(sec)*time.Second)
}
