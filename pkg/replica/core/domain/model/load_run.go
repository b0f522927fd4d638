// Package model defines the domain types of the replication engine.
package model

import (
	"fmt"
	"time"
)

// LoadStatus is the status of one LoadRun. It is a closed set; the zero value is invalid.
type LoadStatus uint8

const (
	_ LoadStatus = iota
	// StatusPreparing marks a run that has been created and is loading entities.
	StatusPreparing
	// StatusReady marks a run whose load completed and is ready for consumption.
	StatusReady
	// StatusSuccessful marks a Ready run acknowledged by the consumer.
	StatusSuccessful
	// StatusFailed marks a run that failed at orchestrator or entity level.
	StatusFailed
	// StatusBackTrack marks a failed run an operator asked to replay.
	StatusBackTrack
	// StatusInitialize marks a run after which a full resynchronisation is requested.
	StatusInitialize
)

var statusCodes = map[LoadStatus]string{
	StatusPreparing:  "P",
	StatusReady:      "R",
	StatusSuccessful: "S",
	StatusFailed:     "F",
	StatusBackTrack:  "B",
	StatusInitialize: "I",
}

var statusNames = map[LoadStatus]string{
	StatusPreparing:  "Preparing",
	StatusReady:      "Ready",
	StatusSuccessful: "Successful",
	StatusFailed:     "Failed",
	StatusBackTrack:  "BackTrack",
	StatusInitialize: "Initialize",
}

// Code returns the one-character code persisted in Load_Status_Code.
func (s LoadStatus) Code() string {
	return statusCodes[s]
}

// String returns the status name.
func (s LoadStatus) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("LoadStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the defined statuses.
func (s LoadStatus) Valid() bool {
	_, ok := statusCodes[s]
	return ok
}

// ParseLoadStatus converts a persisted code (or a status name) into a LoadStatus.
func ParseLoadStatus(code string) (LoadStatus, error) {
	for s, c := range statusCodes {
		if c == code || statusNames[s] == code {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown load status code %q", code)
}

// LoadType is the mode a run was executed (or recorded) in.
type LoadType uint8

const (
	_ LoadType = iota
	// TypeHistoric is a full resynchronisation preceded by a truncate.
	TypeHistoric
	// TypeDelta is an incremental load driven by change tracking.
	TypeDelta
)

// Code returns the one-character code persisted in Load_Type_Code.
func (t LoadType) Code() string {
	switch t {
	case TypeHistoric:
		return "H"
	case TypeDelta:
		return "D"
	}
	return ""
}

// String returns the type name.
func (t LoadType) String() string {
	switch t {
	case TypeHistoric:
		return "Historic"
	case TypeDelta:
		return "Delta"
	}
	return fmt.Sprintf("LoadType(%d)", uint8(t))
}

// ParseLoadType converts a persisted code (or a type name) into a LoadType.
func ParseLoadType(code string) (LoadType, error) {
	switch code {
	case "H", "Historic":
		return TypeHistoric, nil
	case "D", "Delta":
		return TypeDelta, nil
	}
	return 0, fmt.Errorf("unknown load type code %q", code)
}

// ChangeMarker is a change-tracking version boundary.
type ChangeMarker int64

// NoBaseline is the sentinel marker meaning "no baseline, do a full load".
const NoBaseline ChangeMarker = -1

// HasBaseline reports whether the marker can be used to fetch changes.
func (m ChangeMarker) HasBaseline() bool {
	return m > NoBaseline
}

// LoadRun is one orchestration attempt as recorded in the run history.
type LoadRun struct {
	ID           int64
	Type         LoadType
	Status       LoadStatus
	FirstVersion ChangeMarker
	LastVersion  ChangeMarker
	From         time.Time
	To           time.Time
}

// Terminal reports whether the run has left the Preparing state.
func (r *LoadRun) Terminal() bool {
	return r.Status != StatusPreparing
}

// Window renders the run window with the given time layout.
func (r *LoadRun) Window(layout string) string {
	if layout == "" {
		layout = time.RFC3339
	}
	return fmt.Sprintf("%s .. %s", r.From.Format(layout), r.To.Format(layout))
}

// NextRun computes the run that follows prev, given the source's current
// change-tracking version and the current time.
//
// Failed or BackTrack replays from prev's starting marker; Successful resumes
// from prev's ending marker; no prior run or Initialize is a cold start with
// the NoBaseline marker. Any other prior status is not a valid predecessor.
func NextRun(prev *LoadRun, current ChangeMarker, now time.Time) (LoadRun, error) {
	next := LoadRun{
		Status:      StatusPreparing,
		LastVersion: current,
		To:          now,
	}
	if prev == nil {
		next.Type = TypeHistoric
		next.FirstVersion = NoBaseline
		next.From = now
		return next, nil
	}
	switch prev.Status {
	case StatusFailed, StatusBackTrack:
		next.Type = TypeDelta
		next.FirstVersion = prev.FirstVersion
		next.From = prev.From
	case StatusSuccessful:
		next.Type = TypeDelta
		next.FirstVersion = prev.LastVersion
		next.From = prev.To
	case StatusInitialize:
		next.Type = TypeHistoric
		next.FirstVersion = NoBaseline
		next.From = now
	default:
		return LoadRun{}, fmt.Errorf("cannot start a run after run %d in status %s", prev.ID, prev.Status)
	}
	return next, nil
}

// CanTransition reports whether an operator may move a run from one status to another.
// Ready runs are acknowledged to Successful, Failed runs are sent back for replay,
// and any run may be reset to Initialize. A run left Preparing by a crashed
// process can be abandoned to Failed, which then waits for a backtrack.
func CanTransition(from, to LoadStatus) bool {
	switch to {
	case StatusSuccessful:
		return from == StatusReady
	case StatusBackTrack:
		return from == StatusFailed
	case StatusFailed:
		return from == StatusPreparing
	case StatusInitialize:
		return from != StatusInitialize
	}
	return false
}
