// Package audit is the append-only record of the curation pipeline: lifecycle
// events for every candidate, and a separate advisory usage-metering log.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EventName identifies a pipeline lifecycle transition.
type EventName string

const (
	EventStaged           EventName = "staged"
	EventApproved         EventName = "approved"
	EventRejected         EventName = "rejected"
	EventApplied          EventName = "applied"
	EventValidationFailed EventName = "validation_failed"
	EventMaintenance      EventName = "maintenance"
)

// Event is one Pipeline Event line: {ts, event, candidate_id, ...context}.
type Event struct {
	Timestamp   time.Time
	Name        EventName
	CandidateID string
	Context     map[string]any
}

var reservedKeys = map[string]bool{"ts": true, "event": true, "candidate_id": true}

// MarshalJSON flattens Context into the top-level object. Context keys that
// collide with the fixed fields are dropped.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Context)+3)
	for k, v := range e.Context {
		if reservedKeys[k] {
			continue
		}
		out[k] = v
	}
	out["ts"] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	out["event"] = e.Name
	if e.CandidateID != "" {
		out["candidate_id"] = e.CandidateID
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event{}
	if ts, ok := raw["ts"].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("event ts: %w", err)
		}
		e.Timestamp = t
	}
	if name, ok := raw["event"].(string); ok {
		e.Name = EventName(name)
	}
	if id, ok := raw["candidate_id"].(string); ok {
		e.CandidateID = id
	}
	for k, v := range raw {
		if reservedKeys[k] {
			continue
		}
		if e.Context == nil {
			e.Context = make(map[string]any)
		}
		e.Context[k] = v
	}
	return nil
}

// Usage is one metering line. It is advisory only.
type Usage struct {
	Timestamp        time.Time `json:"ts"`
	Channel          string    `json:"channel"`
	Bucket           string    `json:"bucket"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	Model            string    `json:"model"`
}

// Ledger records pipeline events and usage to two independent logs.
type Ledger struct {
	events *JSONLog
	usage  *JSONLog
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedger creates a ledger writing to eventsPath and usagePath.
func NewLedger(eventsPath, usagePath string, logger zerolog.Logger) *Ledger {
	return &Ledger{
		events: NewJSONLog(eventsPath),
		usage:  NewJSONLog(usagePath),
		now:    time.Now,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Record appends a pipeline event. A zero Timestamp is filled in.
func (l *Ledger) Record(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if err := l.events.Append(ev); err != nil {
		l.logger.Error().Err(err).Str("event", string(ev.Name)).Msg("failed to record pipeline event")
		return err
	}
	l.logger.Info().
		Str("event", string(ev.Name)).
		Str("candidate_id", ev.CandidateID).
		Msg("pipeline event")
	return nil
}

// RecordUsage appends a metering line. Failures are logged and returned but
// callers treat them as non-fatal.
func (l *Ledger) RecordUsage(u Usage) error {
	if u.Timestamp.IsZero() {
		u.Timestamp = l.now()
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	if err := l.usage.Append(u); err != nil {
		l.logger.Warn().Err(err).Str("channel", u.Channel).Msg("failed to record usage")
		return err
	}
	return nil
}

// Events returns recorded events, newest last. When candidateID is non-empty
// only that candidate's events are returned.
func (l *Ledger) Events(candidateID string) ([]Event, error) {
	var out []Event
	err := l.events.Scan(func(raw json.RawMessage) error {
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return err
		}
		if candidateID == "" || ev.CandidateID == candidateID {
			out = append(out, ev)
		}
		return nil
	})
	return out, err
}

// UsageRecords returns every metering line in file order.
func (l *Ledger) UsageRecords() ([]Usage, error) {
	var out []Usage
	err := l.usage.Scan(func(raw json.RawMessage) error {
		var u Usage
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}
