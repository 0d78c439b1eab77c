package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/bazarr-autotranslate/internal/bazarr"
	"github.com/MimeLyc/bazarr-autotranslate/internal/config"
	"github.com/MimeLyc/bazarr-autotranslate/internal/eligibility"
	"github.com/MimeLyc/bazarr-autotranslate/internal/metrics"
	"github.com/MimeLyc/bazarr-autotranslate/pkg/log"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Bazarr: config.BazarrConfig{Hostname: "bazarr", Port: 6767, APIKey: "secret", Scheme: "http"},
		Translate: config.TranslateConfig{
			FirstLang:     "en",
			SecondLang:    "es",
			AutoTranslate: true,
			CronExpr:      "0 * * * *",
			LockFile:      filepath.Join(dir, "cycle.lock"),
		},
		Heartbeat: config.HeartbeatConfig{
			File:   filepath.Join(dir, "heartbeat.txt"),
			MaxAge: 3 * time.Hour,
		},
	}
}

func eligibleMovieBazarr() *fakeBazarr {
	f := newFakeBazarr()
	f.wanted[bazarr.KindMovie] = []bazarr.WantedItem{wanted(bazarr.KindMovie, 42, "Movie A", "en")}
	f.history[itemKey{bazarr.KindMovie, 42}] = []bazarr.HistoryAction{downloaded("es", 72*time.Hour, "/subs/a.srt", 42)}
	return f
}

func newTestService(cfg config.Config, f *fakeBazarr, opts ...ServiceOption) *TransService {
	opts = append([]ServiceOption{WithClock(func() time.Time { return testNow })}, opts...)
	return NewRunnableTransService(cfg, newTestDriver(f), opts...)
}

func TestRunOnce_RunsCycleAndWritesHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()
	svc := newTestService(cfg, f)

	report, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Skipped())
	assert.NotEmpty(t, report.ID)
	assert.Len(t, f.translations, 1)

	last, ok, err := svc.Heartbeat().Last()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(testNow))
}

func TestRunOnce_SkipsWhenDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Translate.AutoTranslate = false
	f := eligibleMovieBazarr()

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SkipDisabled, report.SkipReason)
	assert.Empty(t, f.translations)
	assert.NoFileExists(t, cfg.Heartbeat.File)
}

func TestRunOnce_SkipsWhenHeartbeatFresh(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()
	require.NoError(t, NewHeartbeat(cfg.Heartbeat.File, cfg.Heartbeat.MaxAge).Write(testNow.Add(-time.Hour)))

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SkipHeartbeatFresh, report.SkipReason)
	assert.Empty(t, f.translations)
}

func TestRunOnce_RunsWhenHeartbeatStale(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()
	require.NoError(t, NewHeartbeat(cfg.Heartbeat.File, cfg.Heartbeat.MaxAge).Write(testNow.Add(-4*time.Hour)))

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.NoError(t, err)

	assert.False(t, report.Skipped())
	assert.Len(t, f.translations, 1)
}

func TestRunOnce_RunsEveryTimeWithoutHeartbeatFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Heartbeat.File = ""
	f := eligibleMovieBazarr()
	svc := newTestService(cfg, f)

	for i := 0; i < 2; i++ {
		report, err := svc.RunOnce(context.Background())
		require.NoError(t, err)
		assert.False(t, report.Skipped())
	}
	assert.Len(t, f.translations, 2)
}

func TestRunOnce_SkipsWhenLockHeld(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()

	other := flock.New(cfg.Translate.LockFile)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, SkipCycleInProgress, report.SkipReason)
	assert.Empty(t, f.translations)
}

func TestRunOnce_ReleasesLock(t *testing.T) {
	cfg := testConfig(t)
	_, err := newTestService(cfg, newFakeBazarr()).RunOnce(context.Background())
	require.NoError(t, err)

	lock := flock.New(cfg.Translate.LockFile)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	require.NoError(t, lock.Unlock())
}

func TestRunOnce_WritesMetricsTextfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "autotranslate.prom")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	f := eligibleMovieBazarr()
	svc := NewRunnableTransService(cfg, newTestDriver(f, WithRecorder(collector)),
		WithClock(func() time.Time { return testNow }),
		WithMetrics(collector, reg),
	)

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bazarr_autotranslate_translations_total{kind="movie",status="succeeded"} 1`)
	assert.Contains(t, string(data), "bazarr_autotranslate_last_cycle_timestamp_seconds")
}

func TestRunOnce_HeartbeatWriteFailureIsReported(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Heartbeat.File = filepath.Join(blocker, "heartbeat.txt")
	f := eligibleMovieBazarr()

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrHeartbeat))
	assert.Len(t, f.translations, 1)
	assert.False(t, report.Skipped())
}

func TestRunOnce_InterruptedCycleLeavesHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()
	svc := newTestService(cfg, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.RunOnce(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, report.Skipped())
	assert.NoFileExists(t, cfg.Heartbeat.File)

	report, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Skipped())
	assert.Len(t, f.translations, 1)
}

func TestRunOnce_UnreachableBazarrLeavesHeartbeat(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeBazarr()
	f.wantedErr[bazarr.KindMovie] = errors.New("dial tcp: connection refused")
	f.wantedErr[bazarr.KindEpisode] = errors.New("dial tcp: connection refused")
	svc := newTestService(cfg, f)

	report, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNetwork))
	assert.Contains(t, err.Error(), "connection refused")
	require.Len(t, report.Pipelines, 2)
	assert.NoFileExists(t, cfg.Heartbeat.File)
	assert.Error(t, svc.Heartbeat().Check(testNow))

	report, err = svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.False(t, report.Skipped())
}

func TestRunOnce_FailedCycleStillExportsMetrics(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "autotranslate.prom")
	f := newFakeBazarr()
	for _, kind := range bazarr.Kinds {
		f.wantedErr[kind] = errors.New("connection refused")
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	svc := NewRunnableTransService(cfg, newTestDriver(f, WithRecorder(collector)),
		WithClock(func() time.Time { return testNow }),
		WithMetrics(collector, reg),
	)

	_, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrNetwork))

	data, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `bazarr_autotranslate_source_failures_total{kind="movie",source="wanted"} 1`)
}

func TestRunOnce_BazarrErrorStatusIsAPIError(t *testing.T) {
	cfg := testConfig(t)
	f := newFakeBazarr()
	for _, kind := range bazarr.Kinds {
		f.wantedErr[kind] = &bazarr.StatusError{Method: http.MethodGet, Path: "/api/" + kind.String(), StatusCode: http.StatusUnauthorized}
	}

	_, err := newTestService(cfg, f).RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrAPI))
	assert.NoFileExists(t, cfg.Heartbeat.File)
}

func TestRunOnce_PartialBacklogFailureCompletes(t *testing.T) {
	cfg := testConfig(t)
	f := eligibleMovieBazarr()
	f.wantedErr[bazarr.KindEpisode] = errors.New("status 500")

	report, err := newTestService(cfg, f).RunOnce(context.Background())
	require.NoError(t, err)

	episodes, ok := report.Pipeline(bazarr.KindEpisode)
	require.True(t, ok)
	assert.True(t, episodes.WantedFailed)
	assert.Len(t, f.translations, 1)
	assert.FileExists(t, cfg.Heartbeat.File)
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.GetLogger()
	log.InitLogger(log.NewWithWriter(&buf, log.LevelInfo))
	t.Cleanup(func() { log.InitLogger(prev) })
	return &buf
}

func TestSchedule_LogsTriggerTimes(t *testing.T) {
	buf := captureLog(t)
	now := time.Date(2024, 6, 15, 12, 20, 0, 0, time.UTC)
	svc := NewRunnableTransService(testConfig(t), newTestDriver(newFakeBazarr()),
		WithCron(cron.New()),
		WithClock(func() time.Time { return now }),
	)

	require.NoError(t, svc.Schedule(context.Background()))

	out := buf.String()
	assert.Contains(t, out, "Previous trigger was at 2024-06-15 12:00:00 (20m0s ago)")
	assert.Contains(t, out, "Next translation cycle at 2024-06-15 13:00:00 (in 40m0s)")
}

func TestSchedule_RequiresCron(t *testing.T) {
	err := newTestService(testConfig(t), newFakeBazarr()).Schedule(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrConfig))
}

func TestSchedule_RegistersJob(t *testing.T) {
	c := cron.New()
	svc := newTestService(testConfig(t), newFakeBazarr(), WithCron(c))

	require.NoError(t, svc.Schedule(context.Background()))
	assert.Len(t, c.Entries(), 1)
}

func TestSchedule_RejectsBadExpression(t *testing.T) {
	cfg := testConfig(t)
	cfg.Translate.CronExpr = "every hour"
	svc := newTestService(cfg, newFakeBazarr(), WithCron(cron.New()))

	err := svc.Schedule(context.Background())
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrConfig))
}

type fakeServer struct {
	t            *testing.T
	wanted       map[string]any
	history      map[string]any
	translations []string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-API-KEY") != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/wanted"):
		writeJSON(s.t, w, s.wanted[r.URL.Path])
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/history"):
		q := r.URL.Query()
		id := q.Get("radarrid") + q.Get("episodeid")
		writeJSON(s.t, w, s.history[r.URL.Path+"?"+id])
	case r.Method == http.MethodPatch && r.URL.Path == "/api/subtitles":
		s.translations = append(s.translations, r.URL.RawQuery)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	if v == nil {
		v = map[string]any{"data": []any{}, "total": 0}
	}
	w.Header().Set("Content-Type", "application/json")
	assert.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestRunOnce_AgainstBazarrAPI(t *testing.T) {
	stamp := func(age time.Duration) string { return eligibility.FormatTimestamp(testNow.Add(-age)) }
	srv := &fakeServer{
		t: t,
		wanted: map[string]any{
			"/api/movies/wanted": map[string]any{"data": []any{
				map[string]any{"title": "Movie A", "radarrId": 42, "missing_subtitles": []any{map[string]any{"code2": "en"}}},
				map[string]any{"title": "Movie B", "radarrId": 43, "missing_subtitles": []any{map[string]any{"code2": "fr"}}},
			}},
			"/api/episodes/wanted": map[string]any{"data": []any{
				map[string]any{"seriesTitle": "Show", "episodeTitle": "Pilot", "sonarrEpisodeId": 7, "missing_subtitles": []any{map[string]any{"code2": "en"}}},
			}},
		},
		history: map[string]any{
			"/api/movies/history?42": map[string]any{"data": []any{
				map[string]any{"action": 1, "language": map[string]any{"code2": "es"}, "parsed_timestamp": stamp(72 * time.Hour), "subtitles_path": "/subs/a.srt", "radarrId": 42},
				map[string]any{"action": 6, "language": map[string]any{"code2": "es"}, "parsed_timestamp": stamp(time.Hour), "subtitles_path": "/subs/t.srt", "radarrId": 42},
			}},
			"/api/episodes/history?7": map[string]any{"data": []any{
				map[string]any{"action": 3, "language": map[string]any{"code2": "es"}, "parsed_timestamp": stamp(time.Hour), "subtitles_path": "/subs/e.srt", "sonarrEpisodeId": 7},
			}},
		},
	}
	server := httptest.NewServer(srv)
	defer server.Close()

	client, err := bazarr.NewClient(bazarr.Config{BaseURL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	selector := eligibility.NewSelector("es",
		eligibility.WithLocation(time.UTC),
		eligibility.WithClock(func() time.Time { return testNow }),
	)
	svc := NewRunnableTransService(testConfig(t), NewDriver(client, "en", selector),
		WithClock(func() time.Time { return testNow }),
	)

	report, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, srv.translations, 1)
	assert.Contains(t, srv.translations[0], "action=translate")
	assert.Contains(t, srv.translations[0], "id=42")
	assert.Contains(t, srv.translations[0], "type=movie")
	assert.Contains(t, srv.translations[0], "language=en")
	assert.Contains(t, srv.translations[0], "path=%2Fsubs%2Fa.srt")

	movies, ok := report.Pipeline(bazarr.KindMovie)
	require.True(t, ok)
	assert.Equal(t, 2, movies.Wanted)
	assert.Equal(t, 1, movies.Matched)
	assert.Equal(t, 1, movies.Translated)

	episodes, ok := report.Pipeline(bazarr.KindEpisode)
	require.True(t, ok)
	assert.Equal(t, 1, episodes.NotYetEligible)
}
