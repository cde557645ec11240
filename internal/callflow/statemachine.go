// Package callflow drives the per-call conversation state machine. Each
// machine is bound to exactly one call session and is the session's single
// writer: it holds the session lock for the full duration of an input so
// classification, state change, and history append are one atomic step.
package callflow

import (
	"context"
	"time"

	"github.com/wardline/voice-orchestrator/internal/emergency"
	"github.com/wardline/voice-orchestrator/internal/llm"
	"github.com/wardline/voice-orchestrator/internal/logging"
	"github.com/wardline/voice-orchestrator/internal/session"
)

// Event names a state machine transition trigger.
type Event string

const (
	EventStart             Event = "START"
	EventEmergencyDetected Event = "EMERGENCY_DETECTED"
	EventEmergencyCleared  Event = "EMERGENCY_CLEARED"
	EventIntentDetected    Event = "INTENT_DETECTED"
	EventEscalate          Event = "ESCALATE"
	EventEnd               Event = "END"
)

// EscalationThreshold is the classifier confidence above which an input
// preempts all conversation flow. It sits above the classifier's own
// emergency cut-off; the gap is intentional and both values are kept.
const EscalationThreshold = 0.7

// emergencyUtterance is spoken the moment dangerous language preempts the
// call. It is fixed text so escalation never waits on generation.
const emergencyUtterance = "I have detected this may be an emergency. Transferring you to emergency services immediately."

// requiredBookingFields must all be collected before a booking hands off.
var requiredBookingFields = []string{"patient_name", "callback_number", "reason", "preferred_time"}

var nowFunc = time.Now

// IntentDetector classifies an utterance given recent history.
type IntentDetector interface {
	DetectIntent(ctx context.Context, input string, history []llm.Message) (llm.IntentResult, error)
}

// Responder generates the assistant's spoken replies per stage.
type Responder interface {
	Greeting(ctx context.Context) (string, error)
	EmergencyScreening(ctx context.Context, history []llm.Message) (string, error)
	BookingReply(ctx context.Context, history []llm.Message, extracted map[string]string) (string, error)
}

// Factory builds machines that share one set of collaborators. OnEscalate
// is invoked asynchronously with a session snapshot whenever a call enters
// ESCALATING.
type Factory struct {
	Detector   *emergency.Detector
	Intents    IntentDetector
	Dialogue   Responder
	OnEscalate func(session.Snapshot)
}

// For binds a machine to a session.
func (f *Factory) For(sess *session.CallSession) *Machine {
	return &Machine{sess: sess, f: f}
}

// Machine is the state machine for one call.
type Machine struct {
	sess *session.CallSession
	f    *Factory
}

// Transition applies a lifecycle event that is not tied to caller input,
// such as call start and call end.
func (m *Machine) Transition(ctx context.Context, ev Event) error {
	m.sess.Lock()
	defer m.sess.Unlock()
	err := m.applyEvent(ctx, ev)
	m.sess.UpdatedAt = nowFunc()
	return err
}

// HandleInput processes one final transcript utterance. The returned reply
// is what the assistant should speak next; it is empty when the current
// stage produces no new utterance. Dangerous language above the escalation
// threshold short-circuits everything else.
func (m *Machine) HandleInput(ctx context.Context, input string) (string, error) {
	m.sess.Lock()
	defer m.sess.Unlock()

	m.sess.History = append(m.sess.History, session.Message{Role: session.RoleUser, Text: input})

	assessment := m.f.Detector.Analyze(input)
	if assessment.IsEmergency && assessment.Confidence > EscalationThreshold {
		logging.Warnw("emergency language detected",
			append(logging.CallFields(m.sess.CallID),
				"confidence", assessment.Confidence,
				"matched", assessment.MatchedTerms)...)
		if err := m.applyEvent(ctx, EventEmergencyDetected); err != nil {
			return "", err
		}
		m.sess.UpdatedAt = nowFunc()
		return emergencyUtterance, nil
	}

	var (
		reply string
		err   error
	)
	switch m.sess.State {
	case session.StateGreeting:
		reply, err = m.handleGreetingInput(ctx)
	case session.StateEmergencyScreening:
		reply, err = m.handleScreeningInput(ctx, input)
	case session.StateTriage:
		reply, err = m.handleTriageInput(ctx, input)
	case session.StateBooking:
		reply, err = m.handleBookingInput(ctx, input)
	default:
		logging.Warnw("no input handler for state",
			append(logging.CallFields(m.sess.CallID), "state", string(m.sess.State))...)
	}

	m.sess.UpdatedAt = nowFunc()
	return reply, err
}

func (m *Machine) applyEvent(ctx context.Context, ev Event) error {
	logging.Infow("state transition",
		append(logging.CallFields(m.sess.CallID),
			"from", string(m.sess.State), "event", string(ev))...)

	switch ev {
	case EventStart:
		m.sess.State = session.StateGreeting
		greeting, err := m.f.Dialogue.Greeting(ctx)
		m.appendAssistant(greeting)
		return err
	case EventEmergencyDetected:
		m.sess.State = session.StateEscalating
		m.sess.IsEmergency = true
		m.appendAssistant(emergencyUtterance)
		m.fireEscalation()
	case EventEmergencyCleared:
		m.sess.State = session.StateTriage
		m.sess.IsEmergency = false
	case EventIntentDetected:
		if m.sess.DetectedIntent == llm.IntentScheduleAppointment {
			m.sess.State = session.StateBooking
		} else {
			m.sess.State = session.StateTriage
		}
	case EventEscalate:
		m.sess.State = session.StateEscalating
		m.fireEscalation()
	case EventEnd:
		m.sess.State = session.StateCompleted
	default:
		logging.Warnw("unknown event ignored",
			append(logging.CallFields(m.sess.CallID), "event", string(ev))...)
	}
	return nil
}

func (m *Machine) handleGreetingInput(ctx context.Context) (string, error) {
	m.sess.State = session.StateEmergencyScreening
	reply, err := m.f.Dialogue.EmergencyScreening(ctx, m.historyMessages())
	m.appendAssistant(reply)
	return reply, err
}

// handleScreeningInput re-runs the classifier at its own lower threshold.
// The screening answer is the one place an explicit all-clear is allowed.
func (m *Machine) handleScreeningInput(ctx context.Context, input string) (string, error) {
	assessment := m.f.Detector.Analyze(input)
	if assessment.IsEmergency {
		if err := m.applyEvent(ctx, EventEmergencyDetected); err != nil {
			return "", err
		}
		return emergencyUtterance, nil
	}
	return "", m.applyEvent(ctx, EventEmergencyCleared)
}

func (m *Machine) handleTriageInput(ctx context.Context, input string) (string, error) {
	result, err := m.f.Intents.DetectIntent(ctx, input, m.historyMessages())
	if err != nil {
		logging.Warnw("intent detection degraded",
			append(logging.CallFields(m.sess.CallID), "error", err.Error())...)
	}
	m.sess.DetectedIntent = result.IntentKey
	for k, v := range result.ExtractedFields {
		m.sess.ExtractedFields[k] = v
	}
	if err := m.applyEvent(ctx, EventIntentDetected); err != nil {
		return "", err
	}
	if m.sess.State == session.StateBooking {
		reply, err := m.f.Dialogue.BookingReply(ctx, m.historyMessages(), m.sess.ExtractedFields)
		m.appendAssistant(reply)
		return reply, err
	}
	return "", nil
}

func (m *Machine) handleBookingInput(ctx context.Context, input string) (string, error) {
	result, err := m.f.Intents.DetectIntent(ctx, input, m.historyMessages())
	if err == nil {
		for k, v := range result.ExtractedFields {
			m.sess.ExtractedFields[k] = v
		}
	}
	reply, genErr := m.f.Dialogue.BookingReply(ctx, m.historyMessages(), m.sess.ExtractedFields)
	m.appendAssistant(reply)
	if m.hasAllRequiredFields() {
		if err := m.applyEvent(ctx, EventEscalate); err != nil {
			return reply, err
		}
	}
	return reply, genErr
}

func (m *Machine) hasAllRequiredFields() bool {
	for _, f := range requiredBookingFields {
		if m.sess.ExtractedFields[f] == "" {
			return false
		}
	}
	return true
}

func (m *Machine) appendAssistant(text string) {
	if text == "" {
		return
	}
	m.sess.History = append(m.sess.History, session.Message{Role: session.RoleAssistant, Text: text})
}

// fireEscalation hands a snapshot to the escalation hook off the hot path.
func (m *Machine) fireEscalation() {
	if m.f.OnEscalate == nil {
		return
	}
	snap := m.sess.SnapshotLocked()
	go m.f.OnEscalate(snap)
}

func (m *Machine) historyMessages() []llm.Message {
	msgs := make([]llm.Message, 0, len(m.sess.History))
	for _, h := range m.sess.History {
		msgs = append(msgs, llm.Message{Role: string(h.Role), Content: h.Text})
	}
	return msgs
}
