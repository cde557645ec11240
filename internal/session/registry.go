package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// ErrSessionExists is returned by Create when a session for the call
// already exists. Rejecting duplicates avoids silently discarding state
// on retried webhooks; callers decide whether to reuse the existing one.
var ErrSessionExists = errors.New("session already exists")

// Registry is the process-wide table of active call sessions. It is the
// only structure shared across calls; all mutation goes through its
// narrow interface.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
	now      func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*CallSession),
		now:      time.Now,
	}
}

// Create registers a new session for the call. It fails with
// ErrSessionExists when one is already present.
func (r *Registry) Create(callID, from, to, hospitalID string) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		return nil, ErrSessionExists
	}
	now := r.now()
	s := &CallSession{
		CallID:          callID,
		From:            from,
		To:              to,
		HospitalID:      hospitalID,
		State:           StateInitializing,
		ExtractedFields: make(map[string]string),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.sessions[callID] = s
	logging.Infow("session created", logging.CallFields(callID)...)
	return s, nil
}

// Get returns the session for the call, if present.
func (r *Registry) Get(callID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Update is a partial merge of fields into the session. Missing sessions
// are a benign no-op so late or duplicated network events are tolerated.
// UpdatedAt is always refreshed.
type Update struct {
	HospitalID     *string
	State          *State
	DetectedIntent *string
	IsEmergency    *bool
}

// Update applies a partial update to the named session.
func (r *Registry) Update(callID string, upd Update) {
	r.mu.RLock()
	s, ok := r.sessions[callID]
	r.mu.RUnlock()
	if !ok {
		logging.Debugw("update for unknown session ignored", logging.CallFields(callID)...)
		return
	}
	s.Lock()
	defer s.Unlock()
	if upd.HospitalID != nil {
		s.HospitalID = *upd.HospitalID
	}
	if upd.State != nil {
		s.State = *upd.State
	}
	if upd.DetectedIntent != nil {
		s.DetectedIntent = *upd.DetectedIntent
	}
	if upd.IsEmergency != nil {
		s.IsEmergency = *upd.IsEmergency
	}
	s.UpdatedAt = r.now()
}

// Remove deletes the session for the call. Removing an absent session is
// a no-op.
func (r *Registry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callID]; ok {
		delete(r.sessions, callID)
		logging.Infow("session removed", logging.CallFields(callID)...)
	}
}

// Len reports the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepExpired removes every session whose UpdatedAt is older than maxAge
// and returns how many were evicted. This is the only safety net against
// memory growth when terminal call-status signals are lost.
func (r *Registry) SweepExpired(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		s.Lock()
		updated := s.UpdatedAt
		s.Unlock()
		if updated.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	r.mu.Lock()
	removed := 0
	for _, id := range stale {
		if _, ok := r.sessions[id]; ok {
			delete(r.sessions, id)
			removed++
			logging.Infow("evicted stale session", logging.CallFields(id)...)
		}
	}
	r.mu.Unlock()
	return removed
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logging.Infow("session sweeper started", "interval", interval.String(), "max_age", maxAge.String())
		for {
			select {
			case <-ctx.Done():
				logging.Infow("session sweeper stopped")
				return
			case <-ticker.C:
				if n := r.SweepExpired(maxAge); n > 0 {
					logging.Infow("session sweep completed", "evicted", n)
				}
			}
		}
	}()
}
