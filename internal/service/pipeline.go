package service

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
	"github.com/MimeLyc/bazarr-autotranslate/internal/eligibility"
	"github.com/MimeLyc/bazarr-autotranslate/internal/metrics"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

// Driver runs the movie and episode pipelines one item at a time.
type Driver struct {
	bazarr   Bazarr
	primary  string
	selector *eligibility.Selector
	metrics  metrics.Recorder
	logger   *log.Logger
}

type DriverOption func(*Driver)

func WithRecorder(r metrics.Recorder) DriverOption {
	return func(d *Driver) {
		if r != nil {
			d.metrics = r
		}
	}
}

func WithLogger(l *log.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDriver builds a driver looking for subtitles in primary and translating
// from the selector's language.
func NewDriver(b Bazarr, primary string, selector *eligibility.Selector, opts ...DriverOption) *Driver {
	d := &Driver{
		bazarr:   b,
		primary:  primary,
		selector: selector,
		metrics:  metrics.Nop{},
		logger:   log.GetLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run processes every kind in order. Failures are logged and counted; they
// never stop the remaining items.
func (d *Driver) Run(ctx context.Context, cycleID string) []PipelineReport {
	logger := d.logger.With("cycle", cycleID)

	reports := make([]PipelineReport, 0, len(bazarr.Kinds))
	for _, kind := range bazarr.Kinds {
		if ctx.Err() != nil {
			logger.Warn("Cycle interrupted before %s pipeline: %v", kind, ctx.Err())
			break
		}
		reports = append(reports, d.runKind(ctx, logger, kind))
	}
	return reports
}

func (d *Driver) runKind(ctx context.Context, logger *log.Logger, kind bazarr.Kind) PipelineReport {
	report := PipelineReport{Kind: kind}

	items, err := d.bazarr.ListWanted(ctx, kind)
	if err != nil {
		logger.Error("Failed to fetch wanted %ss: %v", kind, err)
		d.metrics.RecordSourceFailure(kind.String(), "wanted")
		report.WantedFailed = true
		report.WantedErr = err
		return report
	}
	report.Wanted = len(items)
	if len(items) == 0 {
		logger.Info("Nothing to do - %ss", kind)
		return report
	}

	seen := make(map[int64]struct{}, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			logger.Warn("Stopping %s pipeline: %v", kind, ctx.Err())
			break
		}
		if !item.Missing(d.primary) {
			continue
		}
		if _, dup := seen[item.ID]; dup {
			report.Duplicates++
			continue
		}
		seen[item.ID] = struct{}{}
		report.Matched++

		d.processItem(ctx, logger, item, &report)
	}

	logger.Info("Finished %s pipeline: wanted=%d matched=%d translated=%d failed=%d waiting=%d no_candidate=%d history_errors=%d",
		kind, report.Wanted, report.Matched, report.Translated, report.TranslateFailed,
		report.NotYetEligible, report.NoCandidate, report.HistoryErrors)
	return report
}

func (d *Driver) processItem(ctx context.Context, logger *log.Logger, item bazarr.WantedItem, report *PipelineReport) {
	kind := item.Kind
	logger.Info("Missing %s subtitles for %s (%s %d)", d.primary, item.Title, kind, item.ID)

	actions, err := d.bazarr.ListHistory(ctx, kind, item.ID)
	if err != nil {
		logger.Error("Failed to fetch history for %s: %v", item.Title, err)
		d.metrics.RecordSourceFailure(kind.String(), "history")
		report.HistoryErrors++
		return
	}

	decision := d.selector.Decide(actions)
	d.metrics.RecordDecision(kind.String(), decision.Outcome.String())
	if decision.Unparseable > 0 {
		logger.Warn("Skipped %d history records of %s with unreadable timestamps", decision.Unparseable, item.Title)
		d.metrics.RecordUnparseable(kind.String(), decision.Unparseable)
		report.Unparseable += decision.Unparseable
	}

	switch decision.Outcome {
	case eligibility.NoCandidate:
		logger.Debug("No %s subtitles downloaded for %s", d.selector.Language(), item.Title)
		report.NoCandidate++
		return
	case eligibility.NotYetEligible:
		logger.Info("Subtitles for %s downloaded %s, not eligible for translation yet",
			d.selector.Language(), humanize.Time(decision.AcquiredAt))
		report.NotYetEligible++
		return
	}

	itemID := decision.ItemID
	if itemID == 0 {
		itemID = item.ID
	}

	logger.Info("Translating %s (downloaded %s)", decision.Path, humanize.Time(decision.AcquiredAt))
	result := d.bazarr.Translate(ctx, bazarr.TranslateRequest{
		Kind:     kind,
		ItemID:   itemID,
		Path:     decision.Path,
		Language: d.primary,
	})
	d.metrics.RecordTranslation(kind.String(), result.Status.String())

	if result.OK() {
		logger.Info("Success translating subtitle %s", decision.Path)
		report.Translated++
		return
	}
	logger.Warn("Failed to translate subtitle %s (%s, status %d): %v",
		decision.Path, result.Status, result.StatusCode, result.Err)
	report.TranslateFailed++
}
