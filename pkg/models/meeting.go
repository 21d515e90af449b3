// Package models contains the wire and storage shapes shared across the
// registry, status machine, allocator, supervisor and API packages.
package models

import (
	"encoding/json"
	"time"
)

// Platform enumerates the conferencing platforms a bot can join.
type Platform string

const (
	PlatformGoogleMeet Platform = "google_meet"
	PlatformTeams      Platform = "teams"
)

// IsValid reports whether p is one of the known platform values.
func (p Platform) IsValid() bool {
	switch p {
	case PlatformGoogleMeet, PlatformTeams:
		return true
	default:
		return false
	}
}

// Status enumerates the meeting lifecycle states.
type Status string

const (
	StatusRequested         Status = "REQUESTED"
	StatusJoining           Status = "JOINING"
	StatusAwaitingAdmission Status = "AWAITING_ADMISSION"
	StatusActive            Status = "ACTIVE"
	StatusCompleted         Status = "COMPLETED"
	StatusFailed            Status = "FAILED"

	// statusStoppingLegacy is a value that may still be present in rows
	// written by a predecessor system. It is never written by this
	// control plane; NormalizeLegacyStatus folds it on read.
	statusStoppingLegacy Status = "stopping"
)

// IsTerminal reports whether s is a terminal status. Terminal statuses are
// immutable: once reached, no further transition is legal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NormalizeLegacyStatus folds the legacy "stopping" value, which a
// predecessor system could leave behind, into the canonical terminal-only
// model. A row observed in "stopping" is treated as a REQUESTED→COMPLETED
// transition still in progress, so it is read back as REQUESTED: it is
// not yet terminal and remains eligible for a watchdog or callback to
// resolve it.
func NormalizeLegacyStatus(s Status) Status {
	if s == statusStoppingLegacy {
		return StatusRequested
	}
	return s
}

// legalPredecessors lists, for JOINING, AWAITING_ADMISSION, ACTIVE and
// COMPLETED, the statuses from which a bot-sourced transition into it is
// legal. Any
// non-terminal status may also transition to FAILED (handled separately
// in the status machine, not encoded here).
var legalPredecessors = map[Status][]Status{
	StatusJoining:           {StatusRequested},
	StatusAwaitingAdmission: {StatusRequested, StatusJoining},
	StatusActive:            {StatusRequested, StatusJoining, StatusAwaitingAdmission},
	StatusCompleted:         {StatusActive},
}

// IsLegalTransition reports whether from -> to follows the status graph
// in spec.md §3, ignoring the API-absolute override (callers implement
// that separately since it depends on the transition source).
func IsLegalTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	for _, p := range legalPredecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// Task enumerates the transcription task a bot performs.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

func (t Task) IsValid() bool {
	switch t {
	case TaskTranscribe, TaskTranslate, "":
		return true
	default:
		return false
	}
}

// TransitionSource identifies who requested a status transition. The
// status machine's priority rule depends on this value: SourceAPI always
// wins over SourceBotCallback, which always wins over SourceWatchdog.
type TransitionSource string

const (
	SourceAPI         TransitionSource = "api"
	SourceBotCallback TransitionSource = "bot_callback"
	SourceWatchdog    TransitionSource = "watchdog"
)

// Transition is one entry in a meeting's status_transition history,
// appended to its data envelope on every successful transition.
type Transition struct {
	From      Status           `json:"from"`
	To        Status           `json:"to"`
	Timestamp time.Time        `json:"timestamp"`
	Source    TransitionSource `json:"source"`
}

// Envelope is the semi-structured mapping described in spec.md §3,
// accumulated across a meeting's lifetime and stored as JSONB.
type Envelope struct {
	CompletionReason string       `json:"completion_reason,omitempty"`
	FailureStage     string       `json:"failure_stage,omitempty"`
	ErrorDetails     string       `json:"error_details,omitempty"`
	Transitions      []Transition `json:"status_transition,omitempty"`
}

// Config is the bot's dynamic configuration object (spec.md §9): an
// enumerated option table, not free-form — unknown keys are rejected at
// validation time by pkg/validation, not here.
type Config struct {
	Language   string `json:"language,omitempty"`
	Task       Task   `json:"task,omitempty"`
	BotName    string `json:"bot_name,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

// Meeting is the durable record owned by C1 and mutated only through C2.
type Meeting struct {
	MeetingID       string     `json:"meeting_id"`
	OwnerID         string     `json:"owner_id"`
	Platform        Platform   `json:"platform"`
	NativeMeetingID string     `json:"native_meeting_id"`
	Passcode        string     `json:"-"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ContainerID     string     `json:"container_id,omitempty"`
	WorkerURL       string     `json:"worker_url,omitempty"`
	Envelope        Envelope   `json:"data"`
	Config          Config     `json:"config"`
}

// NonTerminalStatuses lists the statuses counted against the duplicate
// and concurrency-limit invariants in spec.md §4.4 step 2-3.
var NonTerminalStatuses = []Status{
	StatusRequested, StatusJoining, StatusAwaitingAdmission, StatusActive,
}

// MarshalEnvelope and UnmarshalEnvelope convert Envelope to/from the JSONB
// column representation used by pkg/database.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if len(data) == 0 {
		return e, nil
	}
	err := json.Unmarshal(data, &e)
	return e, err
}

func MarshalConfig(c Config) ([]byte, error) {
	return json.Marshal(c)
}

func UnmarshalConfig(data []byte) (Config, error) {
	var c Config
	if len(data) == 0 {
		return c, nil
	}
	err := json.Unmarshal(data, &c)
	return c, err
}
