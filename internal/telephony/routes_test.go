package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wardline/voice-orchestrator/internal/callflow"
	"github.com/wardline/voice-orchestrator/internal/config"
	"github.com/wardline/voice-orchestrator/internal/coreapi"
	"github.com/wardline/voice-orchestrator/internal/emergency"
	"github.com/wardline/voice-orchestrator/internal/llm"
	"github.com/wardline/voice-orchestrator/internal/session"
)

type stubIntents struct{}

func (stubIntents) DetectIntent(context.Context, string, []llm.Message) (llm.IntentResult, error) {
	return llm.IntentResult{IntentKey: llm.IntentGeneralInquiry, ExtractedFields: map[string]string{}}, nil
}

type stubDialogue struct{}

func (stubDialogue) Greeting(context.Context) (string, error) { return "welcome", nil }
func (stubDialogue) EmergencyScreening(context.Context, []llm.Message) (string, error) {
	return "any emergencies?", nil
}
func (stubDialogue) BookingReply(context.Context, []llm.Message, map[string]string) (string, error) {
	return "when?", nil
}

type coreAPIRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (rec *coreAPIRecorder) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.paths = append(rec.paths, r.Method+" "+r.URL.Path)
		rec.mu.Unlock()
		if strings.HasPrefix(r.URL.Path, "/api/hospitals/") {
			w.Write([]byte(`{"id":"hosp-1","name":"General"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func (rec *coreAPIRecorder) sawPrefix(prefix string) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, p := range rec.paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func newTestHandler(t *testing.T) (*Handler, *session.Registry, *coreAPIRecorder, func()) {
	t.Helper()
	rec := &coreAPIRecorder{}
	coreTS := httptest.NewServer(rec.handler())

	cfg := &config.Config{
		Port:                    "3002",
		PublicHost:              "voice.example.com",
		EmergencyTransferNumber: "911",
	}
	registry := session.NewRegistry()
	factory := &callflow.Factory{
		Detector: emergency.NewDetector(),
		Intents:  stubIntents{},
		Dialogue: stubDialogue{},
	}
	h := NewHandler(cfg, registry, factory, coreapi.NewClient(coreTS.URL))
	return h, registry, rec, coreTS.Close
}

func postForm(t *testing.T, handler http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestIncomingCreatesSessionAndBridgesToStream(t *testing.T) {
	h, registry, rec, done := newTestHandler(t)
	defer done()
	router := h.Routes()

	w := postForm(t, router, "/voice/incoming", url.Values{
		"CallSid": {"CA1"},
		"From":    {"+15551234567"},
		"To":      {"(555) 987-6543"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("content type = %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "wss://voice.example.com/media/CA1") {
		t.Fatalf("no stream URL in TwiML: %s", body)
	}
	if !strings.Contains(body, "hospital automated system") {
		t.Fatalf("no greeting in TwiML: %s", body)
	}

	sess, ok := registry.Get("CA1")
	if !ok {
		t.Fatal("session not created")
	}
	snap := sess.Snapshot()
	if snap.State != session.StateGreeting {
		t.Fatalf("state = %q", snap.State)
	}
	if snap.HospitalID != "hosp-1" {
		t.Fatalf("hospital = %q", snap.HospitalID)
	}
	if len(snap.History) != 1 || snap.History[0].Text != "welcome" {
		t.Fatalf("history = %+v", snap.History)
	}
	if !rec.sawPrefix("GET /api/hospitals/by-phone/") {
		t.Fatal("hospital lookup never happened")
	}
}

func TestIncomingRetryReusesSession(t *testing.T) {
	h, registry, _, done := newTestHandler(t)
	defer done()
	router := h.Routes()

	form := url.Values{"CallSid": {"CA1"}, "From": {"+15551234567"}, "To": {"+15559876543"}}
	postForm(t, router, "/voice/incoming", form)
	w := postForm(t, router, "/voice/incoming", form)
	if w.Code != http.StatusOK {
		t.Fatalf("retry status = %d", w.Code)
	}
	if registry.Len() != 1 {
		t.Fatalf("sessions = %d", registry.Len())
	}
	// the retry must not re-run the greeting
	sess, _ := registry.Get("CA1")
	if hist := sess.Snapshot().History; len(hist) != 1 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestGatherNoInput(t *testing.T) {
	h, _, _, done := newTestHandler(t)
	defer done()

	w := postForm(t, h.Routes(), "/voice/gather", url.Values{"CallSid": {"CA1"}})
	body := w.Body.String()
	if !strings.Contains(body, "did not receive any input") {
		t.Fatalf("body = %s", body)
	}
	if !strings.Contains(body, "Redirect") {
		t.Fatalf("no redirect in TwiML: %s", body)
	}
}

func TestGatherSpeechAdvancesCall(t *testing.T) {
	h, registry, _, done := newTestHandler(t)
	defer done()
	router := h.Routes()

	sess, _ := registry.Create("CA1", "", "", "")
	sess.Lock()
	sess.State = session.StateGreeting
	sess.Unlock()

	w := postForm(t, router, "/voice/gather", url.Values{
		"CallSid":      {"CA1"},
		"SpeechResult": {"hello, I have a question"},
	})
	if !strings.Contains(w.Body.String(), "Pause") {
		t.Fatalf("body = %s", w.Body.String())
	}
	if snap := sess.Snapshot(); snap.State != session.StateEmergencyScreening {
		t.Fatalf("state = %q", snap.State)
	}
}

func TestGatherEmergencyDialsTransferNumber(t *testing.T) {
	h, registry, _, done := newTestHandler(t)
	defer done()
	router := h.Routes()

	sess, _ := registry.Create("CA1", "", "", "")
	sess.Lock()
	sess.State = session.StateTriage
	sess.Unlock()

	w := postForm(t, router, "/voice/gather", url.Values{
		"CallSid":      {"CA1"},
		"SpeechResult": {"my father is having a heart attack"},
	})
	body := w.Body.String()
	if !strings.Contains(body, "Dial") || !strings.Contains(body, "911") {
		t.Fatalf("body = %s", body)
	}
	if snap := sess.Snapshot(); snap.State != session.StateEscalating || !snap.IsEmergency {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGatherUnknownCallReturnsErrorTwiML(t *testing.T) {
	h, _, _, done := newTestHandler(t)
	defer done()

	w := postForm(t, h.Routes(), "/voice/gather", url.Values{
		"CallSid":      {"nope"},
		"SpeechResult": {"hello"},
	})
	if !strings.Contains(w.Body.String(), "technical difficulties") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestStatusCompletedRemovesSession(t *testing.T) {
	h, registry, rec, done := newTestHandler(t)
	defer done()
	router := h.Routes()

	sess, _ := registry.Create("CA1", "", "", "")
	sess.Lock()
	sess.State = session.StateTriage
	sess.History = []session.Message{{Role: session.RoleUser, Text: "hello"}}
	sess.Unlock()

	w := postForm(t, router, "/voice/status", url.Values{
		"CallSid":      {"CA1"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := registry.Get("CA1"); ok {
		t.Fatal("session not removed")
	}

	deadline := time.Now().Add(2 * time.Second)
	for !rec.sawPrefix("PATCH /api/calls/CA1") || !rec.sawPrefix("POST /api/calls/CA1/transcript") {
		if time.Now().After(deadline) {
			t.Fatalf("core api never finalized: %v", rec.paths)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusInProgressKeepsSession(t *testing.T) {
	h, registry, _, done := newTestHandler(t)
	defer done()

	registry.Create("CA1", "", "", "")
	postForm(t, h.Routes(), "/voice/status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"in-progress"},
	})
	if _, ok := registry.Get("CA1"); !ok {
		t.Fatal("session removed on non-terminal status")
	}
}

func TestHealthAndReady(t *testing.T) {
	h, registry, _, done := newTestHandler(t)
	defer done()
	registry.Create("CA1", "", "", "")

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.Routes().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("%s status = %d", path, w.Code)
		}
	}
}
