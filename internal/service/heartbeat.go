package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/bazarr-autotranslate/pkg/file"
)

// Heartbeat is a file holding the finish time of the last completed cycle.
// Container health checks read it; the runner uses it to space cycles.
type Heartbeat struct {
	path   string
	maxAge time.Duration
}

func NewHeartbeat(path string, maxAge time.Duration) *Heartbeat {
	return &Heartbeat{path: path, maxAge: maxAge}
}

// Enabled reports whether a heartbeat path is configured.
func (h *Heartbeat) Enabled() bool {
	return h != nil && strings.TrimSpace(h.path) != ""
}

// Last returns the recorded time. ok is false when no heartbeat exists yet.
func (h *Heartbeat) Last() (last time.Time, ok bool, err error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, NewErrorWithCause(ErrHeartbeat, "read heartbeat", err).WithContext("path", h.path)
	}
	last, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, false, NewErrorWithCause(ErrParse, "parse heartbeat", err).WithContext("path", h.path)
	}
	return last, true, nil
}

// Fresh reports whether the last heartbeat is younger than the max age.
// Missing or unreadable heartbeats are not fresh.
func (h *Heartbeat) Fresh(now time.Time) bool {
	last, ok, err := h.Last()
	if err != nil || !ok {
		return false
	}
	return now.Sub(last) < h.maxAge
}

// Write records now as the latest heartbeat.
func (h *Heartbeat) Write(now time.Time) error {
	content := []byte(now.UTC().Format(time.RFC3339Nano) + "\n")
	if err := file.WriteAtomic(h.path, content, 0o644); err != nil {
		return NewErrorWithCause(ErrHeartbeat, "write heartbeat", err).WithContext("path", h.path)
	}
	return nil
}

// Check is the health probe. Cycles refresh the heartbeat at most once per
// max age, so a healthy process is never more than two max ages behind.
func (h *Heartbeat) Check(now time.Time) error {
	last, ok, err := h.Last()
	if err != nil {
		return err
	}
	if !ok {
		return NewError(ErrHeartbeat, "no heartbeat recorded yet").WithContext("path", h.path)
	}
	if age := now.Sub(last); age > 2*h.maxAge {
		return NewError(ErrHeartbeat, fmt.Sprintf("heartbeat is stale (%s old)", age.Round(time.Second))).
			WithContext("path", h.path)
	}
	return nil
}
