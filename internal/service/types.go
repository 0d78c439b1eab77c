package service

import (
	"context"
	"time"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
)

// BacklogSource lists items missing subtitles.
type BacklogSource interface {
	ListWanted(ctx context.Context, kind bazarr.Kind) ([]bazarr.WantedItem, error)
}

// HistorySource lists the subtitle history of one item.
type HistorySource interface {
	ListHistory(ctx context.Context, kind bazarr.Kind, itemID int64) ([]bazarr.HistoryAction, error)
}

// TranslationTrigger starts a translation. Failures come back in the result.
type TranslationTrigger interface {
	Translate(ctx context.Context, req bazarr.TranslateRequest) bazarr.TranslateResult
}

// Bazarr is everything a cycle needs from the subtitle service.
type Bazarr interface {
	BacklogSource
	HistorySource
	TranslationTrigger
}

// PipelineReport summarises one kind within a cycle.
type PipelineReport struct {
	Kind bazarr.Kind

	// WantedFailed is set when the backlog could not be fetched; WantedErr
	// holds the cause.
	WantedFailed bool
	WantedErr    error

	Wanted          int
	Matched         int
	Duplicates      int
	HistoryErrors   int
	NoCandidate     int
	NotYetEligible  int
	Translated      int
	TranslateFailed int
	Unparseable     int
}

// CycleReport summarises a cycle. SkipReason is non-empty when the cycle did
// not run.
type CycleReport struct {
	ID         string
	StartedAt  time.Time
	Duration   time.Duration
	SkipReason string
	Pipelines  []PipelineReport
}

// Pipeline returns the report for kind, if it ran.
func (r CycleReport) Pipeline(kind bazarr.Kind) (PipelineReport, bool) {
	for _, p := range r.Pipelines {
		if p.Kind == kind {
			return p, true
		}
	}
	return PipelineReport{}, false
}

// Skipped reports whether the cycle was gated off.
func (r CycleReport) Skipped() bool {
	return r.SkipReason != ""
}
