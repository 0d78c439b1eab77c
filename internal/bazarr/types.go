package bazarr

import (
	"fmt"
	"strings"
)

// Kind selects which Bazarr catalogue an operation targets.
type Kind string

const (
	KindMovie   Kind = "movie"
	KindEpisode Kind = "episode"
)

// Kinds lists the catalogues processed by a cycle, in processing order.
var Kinds = []Kind{KindMovie, KindEpisode}

func (k Kind) String() string { return string(k) }

func (k Kind) wantedPath() string {
	if k == KindEpisode {
		return "/api/episodes/wanted"
	}
	return "/api/movies/wanted"
}

func (k Kind) historyPath() string {
	if k == KindEpisode {
		return "/api/episodes/history"
	}
	return "/api/movies/history"
}

// historyIDParam is the query parameter Bazarr filters history by.
func (k Kind) historyIDParam() string {
	if k == KindEpisode {
		return "episodeid"
	}
	return "radarrid"
}

// ActionKind mirrors Bazarr's history action codes.
type ActionKind int

const (
	ActionDeleted ActionKind = iota
	ActionDownloaded
	ActionManual
	ActionUpgraded
	ActionUploaded
	ActionSynced
	ActionTranslated
)

// Acquired reports whether the action put a subtitle file on disk that can be
// used as a translation source.
func (a ActionKind) Acquired() bool {
	return a == ActionDownloaded || a == ActionUpgraded
}

func (a ActionKind) String() string {
	switch a {
	case ActionDeleted:
		return "deleted"
	case ActionDownloaded:
		return "downloaded"
	case ActionManual:
		return "manual"
	case ActionUpgraded:
		return "upgraded"
	case ActionUploaded:
		return "uploaded"
	case ActionSynced:
		return "synced"
	case ActionTranslated:
		return "translated"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// WantedItem is a movie or episode Bazarr reports as missing subtitles.
type WantedItem struct {
	Kind             Kind
	ID               int64
	Title            string
	MissingLanguages []string
}

// Missing reports whether code is among the missing languages (case-insensitive).
func (w WantedItem) Missing(code string) bool {
	for _, lang := range w.MissingLanguages {
		if strings.EqualFold(lang, code) {
			return true
		}
	}
	return false
}

// HistoryAction is one subtitle event recorded by Bazarr for an item.
type HistoryAction struct {
	Kind      ActionKind
	Language  string
	Timestamp string
	Path      string
	ItemID    int64
}

// TranslateRequest asks Bazarr to translate an existing subtitle file into Language.
type TranslateRequest struct {
	Kind     Kind
	ItemID   int64
	Path     string
	Language string
}

type TranslateStatus int

const (
	TranslateSucceeded TranslateStatus = iota
	TranslateRejected
	TranslateTransportError
)

func (s TranslateStatus) String() string {
	switch s {
	case TranslateSucceeded:
		return "succeeded"
	case TranslateRejected:
		return "rejected"
	default:
		return "transport_error"
	}
}

// TranslateResult is the outcome of a translation trigger. Failures are
// carried as values; the caller decides how to report them.
type TranslateResult struct {
	Status     TranslateStatus
	StatusCode int
	Err        error
}

func (r TranslateResult) OK() bool { return r.Status == TranslateSucceeded }

// StatusError is returned when Bazarr answers with an unexpected status code.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("bazarr %s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("bazarr %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

type apiLanguage struct {
	Code2 string `json:"code2"`
	Name  string `json:"name"`
}

type wantedResponse struct {
	Data  []wantedRecord `json:"data"`
	Total int            `json:"total"`
}

type wantedRecord struct {
	Title            string        `json:"title"`
	RadarrID         int64         `json:"radarrId"`
	SeriesTitle      string        `json:"seriesTitle"`
	EpisodeTitle     string        `json:"episodeTitle"`
	SonarrEpisodeID  int64         `json:"sonarrEpisodeId"`
	MissingSubtitles []apiLanguage `json:"missing_subtitles"`
}

func (r wantedRecord) toItem(kind Kind) WantedItem {
	item := WantedItem{
		Kind:             kind,
		MissingLanguages: make([]string, 0, len(r.MissingSubtitles)),
	}
	if kind == KindEpisode {
		item.ID = r.SonarrEpisodeID
		item.Title = r.SeriesTitle + " - " + r.EpisodeTitle
	} else {
		item.ID = r.RadarrID
		item.Title = r.Title
	}
	for _, lang := range r.MissingSubtitles {
		item.MissingLanguages = append(item.MissingLanguages, strings.ToLower(lang.Code2))
	}
	return item
}

type historyResponse struct {
	Data  []historyRecord `json:"data"`
	Total int             `json:"total"`
}

type historyRecord struct {
	Action          ActionKind   `json:"action"`
	Language        *apiLanguage `json:"language"`
	ParsedTimestamp string       `json:"parsed_timestamp"`
	SubtitlesPath   string       `json:"subtitles_path"`
	RadarrID        int64        `json:"radarrId"`
	SonarrEpisodeID int64        `json:"sonarrEpisodeId"`
}

func (r historyRecord) toAction(kind Kind) HistoryAction {
	action := HistoryAction{
		Kind:      r.Action,
		Timestamp: r.ParsedTimestamp,
		Path:      r.SubtitlesPath,
		ItemID:    r.RadarrID,
	}
	if kind == KindEpisode {
		action.ItemID = r.SonarrEpisodeID
	}
	if r.Language != nil {
		action.Language = strings.ToLower(r.Language.Code2)
	}
	return action
}
