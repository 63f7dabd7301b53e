package domain

import (
	"fmt"
	"time"
)

const (
	consecutiveFailureLimit = 3
	failureWindow           = 2 * time.Hour
)

// AppendLog adds an entry and evicts the oldest ones beyond MaxLogEntries.
func (w *WorkItem) AppendLog(status AttemptStatus, message string, at time.Time) {
	w.Log = append(w.Log, LogEntry{Status: status, Message: message, Timestamp: at})
	if over := len(w.Log) - MaxLogEntries; over > 0 {
		w.Log = append(w.Log[:0:0], w.Log[over:]...)
	}
}

// RecordSuccess stores fresh metrics and logs the attempt.
func (w *WorkItem) RecordSuccess(metrics Metrics, at time.Time) {
	w.Metrics = metrics
	w.AppendLog(StatusSuccess, "fetched "+metrics.Summary(), at)
}

// RecordFailure logs a failed attempt and demotes the item when its recent history
// shows it is chronically unreachable. It returns true if the item was demoted.
func (w *WorkItem) RecordFailure(reason string, at time.Time) bool {
	w.AppendLog(StatusFailed, reason, at)

	streak := w.failureStreak()
	if streak >= consecutiveFailureLimit {
		w.invalidate(fmt.Sprintf("%d consecutive failures", streak), at)
		return true
	}

	if streak >= 2 {
		last := w.Log[len(w.Log)-1].Timestamp
		prev := w.Log[len(w.Log)-2].Timestamp
		if last.Sub(prev) <= failureWindow {
			w.invalidate("2 consecutive failures within 2h", at)
			return true
		}
	}

	return false
}

func (w *WorkItem) failureStreak() int {
	streak := 0
	for i := len(w.Log) - 1; i >= 0; i-- {
		if w.Log[i].Status != StatusFailed {
			break
		}
		streak++
	}
	return streak
}

func (w *WorkItem) invalidate(reason string, at time.Time) {
	w.Valid = false
	w.AppendLog(StatusInvalidated, "marked invalid: "+reason, at)
}

// Summary renders metrics in a stable key order for log messages.
func (m Metrics) Summary() string {
	out := ""
	for _, key := range MetricKeys {
		if v, ok := m[key]; ok {
			if out != "" {
				out += ", "
			}
			out += fmt.Sprintf("%s=%d", key, v)
		}
	}
	return out
}

// MetricKeys lists the counters tracked for every work item, in display order.
var MetricKeys = []string{"view", "danmaku", "reply", "like", "coin", "favorite", "share"}
