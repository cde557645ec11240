package coreapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"5551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"911", "911"},
	}
	for _, c := range cases {
		if got := NormalizePhone(c.in); got != c.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatPhone(t *testing.T) {
	if got := FormatPhone("5551234567"); got != "+1 (555) 123-4567" {
		t.Fatalf("FormatPhone = %q", got)
	}
	if got := FormatPhone("911"); got != "911" {
		t.Fatalf("FormatPhone(911) = %q", got)
	}
}

func TestLookupHospitalByPhone(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/hospitals/by-phone/+15551234567" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(Hospital{ID: "hosp-1", Name: "General"})
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	h := c.LookupHospitalByPhone(context.Background(), "(555) 123-4567")
	if h == nil || h.ID != "hosp-1" {
		t.Fatalf("hospital = %+v", h)
	}
	if miss := c.LookupHospitalByPhone(context.Background(), "+19998887777"); miss != nil {
		t.Fatalf("expected nil on miss, got %+v", miss)
	}
}

func TestLookupSurvivesDeadServer(t *testing.T) {
	c := NewClient("http://127.0.0.1:1")
	if h := c.LookupHospitalByPhone(context.Background(), "5551234567"); h != nil {
		t.Fatalf("expected nil, got %+v", h)
	}
}

func TestCreateAndUpdateCall(t *testing.T) {
	var gotCreate CallRecord
	var gotUpdate CallUpdate
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/calls":
			json.NewDecoder(r.Body).Decode(&gotCreate)
		case r.Method == http.MethodPatch && r.URL.Path == "/api/calls/CA1":
			json.NewDecoder(r.Body).Decode(&gotUpdate)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	err := c.CreateCall(context.Background(), CallRecord{
		HospitalID: "hosp-1", Direction: "inbound",
		FromNumber: "+15551234567", ToNumber: "+15559876543", CallSID: "CA1",
	})
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if gotCreate.CallSID != "CA1" || gotCreate.Direction != "inbound" {
		t.Fatalf("create payload = %+v", gotCreate)
	}

	if err := c.UpdateCall(context.Background(), "CA1", CallUpdate{Status: "completed", DetectedIntent: "billing_inquiry"}); err != nil {
		t.Fatalf("UpdateCall: %v", err)
	}
	if gotUpdate.Status != "completed" {
		t.Fatalf("update payload = %+v", gotUpdate)
	}
}

func TestAppendTranscriptAndHandoff(t *testing.T) {
	paths := map[string]bool{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths[r.URL.Path] = true
		if r.URL.Path == "/api/handoffs" {
			var h Handoff
			json.NewDecoder(r.Body).Decode(&h)
			if h.CallID != "CA1" || h.Fields["reason"] != "checkup" {
				t.Errorf("handoff = %+v", h)
			}
		}
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	segments := []TranscriptSegment{{Speaker: "user", Text: "hello", Timestamp: time.Now()}}
	if err := c.AppendTranscript(context.Background(), "CA1", segments); err != nil {
		t.Fatalf("AppendTranscript: %v", err)
	}
	err := c.CreateHandoff(context.Background(), Handoff{
		CallID: "CA1", HospitalID: "hosp-1", IntentKey: "schedule_appointment",
		Tag: "booking", Summary: "wants a checkup", Fields: map[string]string{"reason": "checkup"},
	})
	if err != nil {
		t.Fatalf("CreateHandoff: %v", err)
	}
	if !paths["/api/calls/CA1/transcript"] || !paths["/api/handoffs"] {
		t.Fatalf("paths hit = %v", paths)
	}
}
