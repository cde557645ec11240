// Package telephony terminates the provider's HTTP webhooks: the initial
// incoming-call hook, speech/DTMF gather callbacks, and call status
// updates. Responses are TwiML documents steering the call toward the
// media stream WebSocket.
package telephony

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/twilio/twilio-go/twiml"

	"github.com/wardline/voice-orchestrator/internal/callflow"
	"github.com/wardline/voice-orchestrator/internal/config"
	"github.com/wardline/voice-orchestrator/internal/coreapi"
	"github.com/wardline/voice-orchestrator/internal/logging"
	"github.com/wardline/voice-orchestrator/internal/session"
)

const sayVoice = "Polly.Joanna"

// Handler serves the voice webhook routes.
type Handler struct {
	cfg      *config.Config
	registry *session.Registry
	machines *callflow.Factory
	core     *coreapi.Client
}

// NewHandler wires the webhook routes to their collaborators.
func NewHandler(cfg *config.Config, registry *session.Registry, machines *callflow.Factory, core *coreapi.Client) *Handler {
	return &Handler{cfg: cfg, registry: registry, machines: machines, core: core}
}

// Routes builds the router for the voice webhook surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/voice/incoming", h.handleIncoming)
	r.Post("/voice/gather", h.handleGather)
	r.Post("/voice/status", h.handleStatus)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","sessions":` + strconv.Itoa(h.registry.Len()) + `}`))
	})
	return r
}

// handleIncoming answers the initial webhook for a new call: it creates
// the session, runs the START transition, records the call, and returns
// TwiML that bridges the caller onto the media stream.
func (h *Handler) handleIncoming(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w)
		return
	}
	callSID := r.FormValue("CallSid")
	from := r.FormValue("From")
	to := r.FormValue("To")
	if callSID == "" {
		h.writeError(w)
		return
	}
	logging.Infow("incoming call", append(logging.CallFields(callSID), "from", from, "to", to)...)

	hospitalID := ""
	if hospital := h.core.LookupHospitalByPhone(r.Context(), to); hospital != nil {
		hospitalID = hospital.ID
	}

	sess, err := h.registry.Create(callSID, from, to, hospitalID)
	if err != nil {
		// a retried webhook reuses the session it already created
		existing, ok := h.registry.Get(callSID)
		if !ok {
			h.writeError(w)
			return
		}
		sess = existing
		logging.Infow("reusing session for retried webhook", logging.CallFields(callSID)...)
	} else {
		if terr := h.machines.For(sess).Transition(r.Context(), callflow.EventStart); terr != nil {
			logging.Warnw("greeting generation degraded",
				append(logging.CallFields(callSID), "err", terr.Error())...)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if cerr := h.core.CreateCall(ctx, coreapi.CallRecord{
				HospitalID: hospitalID,
				Direction:  "inbound",
				FromNumber: coreapi.NormalizePhone(from),
				ToNumber:   coreapi.NormalizePhone(to),
				CallSID:    callSID,
			}); cerr != nil {
				logging.Warnw("call record creation failed",
					append(logging.CallFields(callSID), "err", cerr.Error())...)
			}
		}()
	}

	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{
			Message: "Hello, you have reached the hospital automated system. Please hold while we connect you.",
			Voice:   sayVoice,
		},
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: h.cfg.MediaStreamURL(sess.CallID)},
			},
		},
	})
	if err != nil {
		h.writeError(w)
		return
	}
	writeTwiML(w, doc)
}

// handleGather processes speech or keypad input delivered over the
// webhook channel rather than the media stream.
func (h *Handler) handleGather(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w)
		return
	}
	callSID := r.FormValue("CallSid")
	input := r.FormValue("SpeechResult")
	if input == "" {
		input = r.FormValue("Digits")
	}
	if input == "" {
		doc, err := twiml.Voice([]twiml.Element{
			&twiml.VoiceSay{Message: "I did not receive any input. Please try again.", Voice: sayVoice},
			&twiml.VoiceRedirect{Url: "/voice/incoming", Method: "POST"},
		})
		if err != nil {
			h.writeError(w)
			return
		}
		writeTwiML(w, doc)
		return
	}

	sess, ok := h.registry.Get(callSID)
	if !ok {
		logging.Warnw("gather for unknown call", logging.CallFields(callSID)...)
		h.writeError(w)
		return
	}
	if _, err := h.machines.For(sess).HandleInput(r.Context(), input); err != nil {
		logging.Warnw("gather input handling degraded",
			append(logging.CallFields(callSID), "err", err.Error())...)
	}

	if snap := sess.Snapshot(); snap.IsEmergency && snap.State == session.StateEscalating {
		doc, err := twiml.Voice([]twiml.Element{
			&twiml.VoiceSay{
				Message: "I have detected this may be an emergency. Transferring you to emergency services immediately.",
				Voice:   sayVoice,
			},
			&twiml.VoiceDial{
				InnerElements: []twiml.Element{
					&twiml.VoiceNumber{PhoneNumber: h.cfg.EmergencyTransferNumber},
				},
			},
		})
		if err != nil {
			h.writeError(w)
			return
		}
		writeTwiML(w, doc)
		return
	}

	// long pause keeps the webhook leg open while the media stream talks
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoicePause{Length: "60"},
	})
	if err != nil {
		h.writeError(w)
		return
	}
	writeTwiML(w, doc)
}

// handleStatus consumes call status callbacks and tears the session down
// on terminal statuses.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	duration, _ := strconv.Atoi(r.FormValue("CallDuration"))
	logging.Infow("call status update",
		append(logging.CallFields(callSID), "status", status, "duration_s", duration)...)

	if status == "completed" || status == "failed" {
		if sess, ok := h.registry.Get(callSID); ok {
			_ = h.machines.For(sess).Transition(r.Context(), callflow.EventEnd)
			snap := sess.Snapshot()
			go h.finalizeCall(snap, status, duration)
			h.registry.Remove(callSID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// finalizeCall pushes the terminal call record and transcript to the core
// API off the webhook path.
func (h *Handler) finalizeCall(snap session.Snapshot, status string, duration int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.core.UpdateCall(ctx, snap.CallID, coreapi.CallUpdate{
		Status:         status,
		DurationSecs:   duration,
		DetectedIntent: snap.DetectedIntent,
		IsEmergency:    snap.IsEmergency,
	}); err != nil {
		logging.Warnw("final call update failed",
			append(logging.CallFields(snap.CallID), "err", err.Error())...)
	}

	if len(snap.History) == 0 {
		return
	}
	segments := make([]coreapi.TranscriptSegment, 0, len(snap.History))
	for _, msg := range snap.History {
		segments = append(segments, coreapi.TranscriptSegment{
			Speaker:   string(msg.Role),
			Text:      msg.Text,
			Timestamp: snap.UpdatedAt,
		})
	}
	if err := h.core.AppendTranscript(ctx, snap.CallID, segments); err != nil {
		logging.Warnw("transcript save failed",
			append(logging.CallFields(snap.CallID), "err", err.Error())...)
	}
}

func (h *Handler) writeError(w http.ResponseWriter) {
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{
			Message: "I apologize, but we are experiencing technical difficulties. Please call back later or dial 911 for emergencies.",
			Voice:   sayVoice,
		},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, doc)
}

func writeTwiML(w http.ResponseWriter, doc string) {
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(doc))
}
