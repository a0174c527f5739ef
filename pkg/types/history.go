package types

import (
	"fmt"
	"time"
)

// LogLevel is the severity of a task log entry
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// LogEntry is one user-visible message in a task's history.
// Entries sharing a Key are coalesced: repeats bump Count instead of appending.
type LogEntry struct {
	Time    time.Time         `json:"time"`
	Level   LogLevel          `json:"level"`
	Message string            `json:"message"`
	Key     string            `json:"key,omitempty"`
	Count   int               `json:"count,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// StageRecord holds timing and logs for one status of a task
type StageRecord struct {
	Status    TaskStatus    `json:"status"`
	StartTime time.Time     `json:"start_time"`
	EndTime   *time.Time    `json:"end_time,omitempty"`
	Duration  time.Duration `json:"duration"`
	Logs      []LogEntry    `json:"logs"`
}

// StatusHistory is the ordered per-status log of a task
type StatusHistory struct {
	Stages []*StageRecord `json:"stages"`
}

// Get returns the record for status, or nil
func (h *StatusHistory) Get(status TaskStatus) *StageRecord {
	for _, s := range h.Stages {
		if s.Status == status {
			return s
		}
	}
	return nil
}

// Current returns the most recently entered stage, or nil
func (h *StatusHistory) Current() *StageRecord {
	var cur *StageRecord
	for _, s := range h.Stages {
		if s.EndTime == nil {
			cur = s
		}
	}
	if cur == nil && len(h.Stages) > 0 {
		cur = h.Stages[len(h.Stages)-1]
	}
	return cur
}

// Enter closes the open stage and starts (or reopens) the record for status
func (h *StatusHistory) Enter(status TaskStatus, at time.Time) {
	for _, s := range h.Stages {
		if s.EndTime == nil && s.Status != status {
			end := at
			s.EndTime = &end
			s.Duration = end.Sub(s.StartTime)
		}
	}

	if rec := h.Get(status); rec != nil {
		rec.StartTime = at
		rec.EndTime = nil
		rec.Duration = 0
		return
	}
	h.Stages = append(h.Stages, &StageRecord{
		Status:    status,
		StartTime: at,
		Logs:      []LogEntry{},
	})
}

// Append adds a log entry to the current stage
func (h *StatusHistory) Append(level LogLevel, msg string, at time.Time) *LogEntry {
	cur := h.Current()
	if cur == nil {
		return nil
	}
	cur.Logs = append(cur.Logs, LogEntry{Time: at, Level: level, Message: msg})
	return &cur.Logs[len(cur.Logs)-1]
}

// Upsert coalesces repeated messages: if the current stage's last entry has the
// same key its counter is bumped and its message replaced, otherwise a new
// entry is appended with Count 1. msg receives the new count.
func (h *StatusHistory) Upsert(key string, level LogLevel, msg func(count int) string, at time.Time) int {
	cur := h.Current()
	if cur == nil {
		return 0
	}
	if n := len(cur.Logs); n > 0 && cur.Logs[n-1].Key == key {
		last := &cur.Logs[n-1]
		last.Count++
		last.Time = at
		last.Level = level
		last.Message = msg(last.Count)
		return last.Count
	}
	cur.Logs = append(cur.Logs, LogEntry{Time: at, Level: level, Message: msg(1), Key: key, Count: 1})
	return 1
}

// DiscardAfter removes every stage ordered after target and reports which
// statuses were removed
func (h *StatusHistory) DiscardAfter(target TaskStatus) []TaskStatus {
	var (
		kept      []*StageRecord
		discarded []TaskStatus
	)
	for _, s := range h.Stages {
		if target.Before(s.Status) {
			discarded = append(discarded, s.Status)
			continue
		}
		kept = append(kept, s)
	}
	h.Stages = kept
	return discarded
}

// String renders a short summary, used in debug logs
func (h StatusHistory) String() string {
	return fmt.Sprintf("StatusHistory(%d stages)", len(h.Stages))
}
