// Package runregistry keeps one on-disk record per runner process so that
// operators can see which host is working which item, and which claims were
// left behind by processes that are gone.
package runregistry

import "time"

// State is the lifecycle state of a runner process.
//
// NOTE: These values are persisted in run.json and are part of the stable
// on-disk contract.
type State string

const (
	StateRunning State = "running"
	StateIdle    State = "idle"
	StateStopped State = "stopped"
	StateFailed  State = "failed"
	// StateUnknown marks a record whose process disappeared without
	// finishing it.
	StateUnknown State = "unknown"
)

// Live reports whether the state describes a process still expected to run.
func (s State) Live() bool {
	return s == StateRunning || s == StateIdle
}

// Record is the persistent record written to run.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type Record struct {
	RunID string   `json:"run_id"`
	Host  string   `json:"host"`
	PID   int      `json:"pid,omitempty"`
	Job   string   `json:"job"`
	Kinds []string `json:"kinds,omitempty"`
	Debug bool     `json:"debug,omitempty"`
	State State    `json:"state"`

	// Current is the key of the item being worked, e.g. "dumps/enwiki/20150703".
	Current      string     `json:"current,omitempty"`
	CurrentSince *time.Time `json:"current_since,omitempty"`
	Processed    int        `json:"processed"`
	Failed       int        `json:"failed"`
	LastError    string     `json:"last_error,omitempty"`

	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
}
