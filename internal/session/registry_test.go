package session

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()
	s, err := r.Create("CA123", "+15551234567", "+15559876543", "hosp-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.State != StateInitializing {
		t.Fatalf("state = %q, want %q", s.State, StateInitializing)
	}
	if s.ExtractedFields == nil {
		t.Fatal("ExtractedFields not initialized")
	}
	got, ok := r.Get("CA123")
	if !ok || got != s {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("CA123", "", "", ""); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := r.Create("CA123", "", "", ""); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("duplicate Create: err = %v, want ErrSessionExists", err)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Create("CA123", "", "", "")
	before := s.UpdatedAt

	st := StateTriage
	intent := "schedule_appointment"
	r.Update("CA123", Update{State: &st, DetectedIntent: &intent})

	snap := s.Snapshot()
	if snap.State != StateTriage || snap.DetectedIntent != "schedule_appointment" {
		t.Fatalf("merge failed: %+v", snap)
	}
	if snap.UpdatedAt.Before(before) {
		t.Fatal("UpdatedAt not refreshed")
	}
	// untouched fields survive a partial update
	if snap.IsEmergency {
		t.Fatal("IsEmergency changed by unrelated update")
	}
}

func TestUpdateUnknownSessionIsNoOp(t *testing.T) {
	r := NewRegistry()
	st := StateEnding
	r.Update("nope", Update{State: &st}) // must not panic
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Create("CA123", "", "", "")
	r.Remove("CA123")
	if _, ok := r.Get("CA123"); ok {
		t.Fatal("session still present after Remove")
	}
	r.Remove("CA123") // absent removal is a no-op
}

func TestSweepExpired(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Create("old", "", "", "")
	r.now = func() time.Time { return now.Add(30 * time.Minute) }
	r.Create("fresh", "", "", "")

	r.now = func() time.Time { return now.Add(61 * time.Minute) }
	if n := r.SweepExpired(60 * time.Minute); n != 1 {
		t.Fatalf("evicted %d sessions, want 1", n)
	}
	if _, ok := r.Get("old"); ok {
		t.Fatal("stale session retained")
	}
	if _, ok := r.Get("fresh"); !ok {
		t.Fatal("fresh session evicted")
	}
}

func TestSweepSparesRecentlyUpdated(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }
	r.Create("busy", "", "", "")

	// activity on the call keeps it alive past its creation age
	r.now = func() time.Time { return now.Add(55 * time.Minute) }
	st := StateBooking
	r.Update("busy", Update{State: &st})

	r.now = func() time.Time { return now.Add(70 * time.Minute) }
	if n := r.SweepExpired(60 * time.Minute); n != 0 {
		t.Fatalf("evicted %d sessions, want 0", n)
	}
}
