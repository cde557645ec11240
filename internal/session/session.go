// Package session holds the authoritative in-memory record of each live
// phone call and the process-wide registry that owns those records.
package session

import (
	"sync"
	"time"
)

// State enumerates the call state machine states.
type State string

const (
	StateInitializing       State = "INITIALIZING"
	StateGreeting           State = "GREETING"
	StateEmergencyScreening State = "EMERGENCY_SCREENING"
	StateTriage             State = "TRIAGE"
	StateBooking            State = "BOOKING"
	StateEscalating         State = "ESCALATING"
	StateEnding             State = "ENDING"
	StateCompleted          State = "COMPLETED"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one turn in a call's conversation history.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// CallSession is the authoritative record for one phone call. All fields
// other than CallID/From/To are mutated only while holding the embedded
// mutex; the state machine bound to the call is the single writer.
type CallSession struct {
	sync.Mutex

	CallID     string
	From       string
	To         string
	HospitalID string

	State           State
	History         []Message
	ExtractedFields map[string]string
	DetectedIntent  string
	IsEmergency     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is an immutable copy of a session, safe to hand to goroutines
// that outlive the lock (escalation payloads, call-record updates).
type Snapshot struct {
	CallID          string
	From            string
	To              string
	HospitalID      string
	State           State
	History         []Message
	ExtractedFields map[string]string
	DetectedIntent  string
	IsEmergency     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Snapshot copies the session under its lock.
func (s *CallSession) Snapshot() Snapshot {
	s.Lock()
	defer s.Unlock()
	return s.SnapshotLocked()
}

// SnapshotLocked copies the session without taking the lock. The caller
// must already hold it.
func (s *CallSession) SnapshotLocked() Snapshot {
	hist := make([]Message, len(s.History))
	copy(hist, s.History)
	fields := make(map[string]string, len(s.ExtractedFields))
	for k, v := range s.ExtractedFields {
		fields[k] = v
	}
	return Snapshot{
		CallID:          s.CallID,
		From:            s.From,
		To:              s.To,
		HospitalID:      s.HospitalID,
		State:           s.State,
		History:         hist,
		ExtractedFields: fields,
		DetectedIntent:  s.DetectedIntent,
		IsEmergency:     s.IsEmergency,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

// LastAssistantReply returns the most recent assistant turn, if any.
func (s *CallSession) LastAssistantReply() (string, bool) {
	s.Lock()
	defer s.Unlock()
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			return s.History[i].Text, true
		}
	}
	return "", false
}
