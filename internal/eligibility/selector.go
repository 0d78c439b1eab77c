// Package eligibility decides whether an item's secondary-language subtitle
// is settled enough to be used as a translation source.
package eligibility

import (
	"strings"
	"time"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
)

const (
	// MinAge is how long a secondary subtitle must have existed before it is
	// translated. Younger subtitles are often replaced by an upgrade.
	MinAge = 48 * time.Hour

	// TimestampLayout is Bazarr's parsed_timestamp format (%m/%d/%y %H:%M:%S).
	TimestampLayout = "01/02/06 15:04:05"
)

type Outcome int

const (
	NoCandidate Outcome = iota
	NotYetEligible
	Translate
)

func (o Outcome) String() string {
	switch o {
	case NotYetEligible:
		return "not_yet_eligible"
	case Translate:
		return "translate"
	default:
		return "no_candidate"
	}
}

// Decision is the result of evaluating an item's history. Path, ItemID,
// AcquiredAt and Age describe the selected candidate and are zero when
// Outcome is NoCandidate.
type Decision struct {
	Outcome    Outcome
	Path       string
	ItemID     int64
	AcquiredAt time.Time
	Age        time.Duration

	// Unparseable counts qualifying records skipped because of a bad timestamp.
	Unparseable int
}

// Selector picks the latest acquisition of a language and gates it on age.
// It holds no mutable state and is safe for concurrent use.
type Selector struct {
	language string
	location *time.Location
	now      func() time.Time
}

type Option func(*Selector)

// WithLocation sets the zone Bazarr timestamps are interpreted in. Bazarr
// writes them in its own local time without an offset.
func WithLocation(loc *time.Location) Option {
	return func(s *Selector) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSelector(language string, opts ...Option) *Selector {
	s := &Selector{
		language: normalize(language),
		location: time.Local,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Language returns the normalized language code the selector matches.
func (s *Selector) Language() string { return s.language }

// Decide evaluates actions against the selector's clock.
func (s *Selector) Decide(actions []bazarr.HistoryAction) Decision {
	return DecideAt(actions, s.language, s.now(), s.location)
}

// DecideAt is the pure form of Selector.Decide.
//
// Among actions that acquired a subtitle in language, the one with the latest
// timestamp is chosen; on equal timestamps the first one in input order wins.
// The candidate is eligible once it is strictly older than MinAge.
func DecideAt(actions []bazarr.HistoryAction, language string, now time.Time, loc *time.Location) Decision {
	if loc == nil {
		loc = time.Local
	}
	language = normalize(language)

	var (
		decision   Decision
		candidate  *bazarr.HistoryAction
		acquiredAt time.Time
	)
	for i := range actions {
		action := &actions[i]
		if !action.Kind.Acquired() || normalize(action.Language) != language {
			continue
		}
		ts, err := ParseTimestamp(action.Timestamp, loc)
		if err != nil {
			decision.Unparseable++
			continue
		}
		if candidate == nil || ts.After(acquiredAt) {
			candidate = action
			acquiredAt = ts
		}
	}

	if candidate == nil {
		decision.Outcome = NoCandidate
		return decision
	}

	decision.Path = candidate.Path
	decision.ItemID = candidate.ItemID
	decision.AcquiredAt = acquiredAt
	decision.Age = now.Sub(acquiredAt)
	if decision.Age > MinAge {
		decision.Outcome = Translate
	} else {
		decision.Outcome = NotYetEligible
	}
	return decision
}

// ParseTimestamp parses a Bazarr history timestamp in loc.
func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, strings.TrimSpace(value), loc)
}

// FormatTimestamp renders t the way Bazarr does.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
