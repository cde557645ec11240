package media

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/wardline/voice-orchestrator/internal/audio"
	"github.com/wardline/voice-orchestrator/internal/callflow"
	"github.com/wardline/voice-orchestrator/internal/logging"
	"github.com/wardline/voice-orchestrator/internal/session"
	"github.com/wardline/voice-orchestrator/internal/speech"
)

// Recognizer is the per-stream speech recognition bridge.
type Recognizer interface {
	WritePCM(pcm []byte)
	Results() <-chan speech.Utterance
	Stop()
}

// Synthesizer produces reply audio for assistant text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// MediaWriter is the outbound half of a media connection.
type MediaWriter interface {
	WriteJSON(v interface{}) error
}

// NewRecognizerFunc builds a recognizer for one stream.
type NewRecognizerFunc func(streamID, callID string) Recognizer

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Manager owns all active media streams for the process.
type Manager struct {
	ctx           context.Context
	registry      *session.Registry
	machines      *callflow.Factory
	newRecognizer NewRecognizerFunc
	synth         Synthesizer
	fallback      string

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	callID string
	conn   MediaWriter
	rec    Recognizer
}

// NewManager wires the media plane to its collaborators. The fallback
// utterance is spoken when reply generation succeeds but synthesis of the
// generated text fails.
func NewManager(ctx context.Context, registry *session.Registry, machines *callflow.Factory, newRec NewRecognizerFunc, synth Synthesizer, fallback string) *Manager {
	return &Manager{
		ctx:           ctx,
		registry:      registry,
		machines:      machines,
		newRecognizer: newRec,
		synth:         synth,
		fallback:      fallback,
		streams:       make(map[string]*stream),
	}
}

// HandleConnection upgrades an HTTP request to a media WebSocket and runs
// its read loop until the peer disconnects.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warnw("websocket upgrade failed", "err", err.Error())
		return
	}
	defer conn.Close()
	logging.Infow("media connection established", "remote", conn.RemoteAddr().String())

	sc := &safeConn{conn: conn}
	streamID := ""
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			logging.Infow("media connection closed", "stream_id", streamID, "err", err.Error())
			break
		}
		var env Envelope
		if uerr := json.Unmarshal(data, &env); uerr != nil {
			logging.Warnw("malformed media frame dropped", "err", uerr.Error())
			continue
		}
		switch env.Event {
		case "connected":
			logging.Debugw("media stream handshake complete")
		case "start":
			if env.Start == nil {
				logging.Warnw("start event without payload dropped")
				continue
			}
			streamID = env.Start.StreamSID
			m.StartStream(sc, env.Start.StreamSID, env.Start.CallSID)
		case "media":
			if env.Media == nil {
				continue
			}
			m.HandleMedia(env.StreamSID, env.Media.Payload)
		case "stop":
			m.StopStream(streamID)
		default:
			logging.Debugw("unhandled media event", "event", env.Event)
		}
	}
	if streamID != "" {
		m.StopStream(streamID)
	}
}

// StartStream registers a stream, spins up its recognizer, and starts the
// single handler goroutine that consumes its utterances in order.
func (m *Manager) StartStream(conn MediaWriter, streamID, callID string) {
	rec := m.newRecognizer(streamID, callID)
	st := &stream{callID: callID, conn: conn, rec: rec}

	m.mu.Lock()
	if _, exists := m.streams[streamID]; exists {
		m.mu.Unlock()
		rec.Stop()
		logging.Warnw("duplicate stream start ignored", logging.StreamFields(streamID, callID)...)
		return
	}
	m.streams[streamID] = st
	m.mu.Unlock()

	logging.Infow("media stream started", logging.StreamFields(streamID, callID)...)
	go m.handleUtterances(st, streamID)
}

// handleUtterances is the stream's only consumer: utterances are processed
// strictly in arrival order, one at a time.
func (m *Manager) handleUtterances(st *stream, streamID string) {
	for u := range st.rec.Results() {
		if !u.Final {
			continue
		}
		sess, ok := m.registry.Get(st.callID)
		if !ok {
			logging.Warnw("utterance for unknown call dropped",
				append(logging.StreamFields(streamID, st.callID), "text", u.Text)...)
			continue
		}
		reply, err := m.machines.For(sess).HandleInput(m.ctx, u.Text)
		if err != nil {
			logging.Warnw("input handling degraded",
				append(logging.StreamFields(streamID, st.callID), "err", err.Error())...)
		}
		if reply == "" {
			continue
		}
		m.speak(st, streamID, reply)
	}
}

// speak synthesizes text and writes it back as an outbound media frame.
// When synthesis of the reply fails it retries once with the fixed
// fallback utterance; if that fails too the turn is skipped.
func (m *Manager) speak(st *stream, streamID, text string) {
	audioBytes, err := m.synth.Synthesize(m.ctx, text)
	if err != nil {
		logging.Warnw("synthesis failed, using fallback utterance",
			append(logging.StreamFields(streamID, st.callID), "err", err.Error())...)
		if m.fallback == "" || m.fallback == text {
			return
		}
		audioBytes, err = m.synth.Synthesize(m.ctx, m.fallback)
		if err != nil {
			logging.Errorw("fallback synthesis failed, skipping reply",
				append(logging.StreamFields(streamID, st.callID), "err", err.Error())...)
			return
		}
	}

	payload := base64.StdEncoding.EncodeToString(audio.EncodeMuLaw(audioBytes))
	env := Envelope{
		Event:     "media",
		StreamSID: streamID,
		Media:     &MediaPayload{Payload: payload},
	}
	if err := st.conn.WriteJSON(env); err != nil {
		logging.Warnw("failed to write reply audio",
			append(logging.StreamFields(streamID, st.callID), "err", err.Error())...)
		return
	}
	logging.Debugw("reply audio sent", logging.StreamFields(streamID, st.callID)...)
}

// HandleMedia routes one inbound audio chunk to its stream's recognizer.
// Chunks for unknown streams are dropped with a warning.
func (m *Manager) HandleMedia(streamID, payload string) {
	m.mu.Lock()
	st, ok := m.streams[streamID]
	m.mu.Unlock()
	if !ok {
		logging.Warnw("media for unknown stream dropped", "stream_id", streamID)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		logging.Warnw("undecodable media payload dropped",
			append(logging.StreamFields(streamID, st.callID), "err", err.Error())...)
		return
	}
	st.rec.WritePCM(audio.DecodeMuLaw(raw))
}

// StopStream tears a stream down. Stopping an unknown or already stopped
// stream is a no-op.
func (m *Manager) StopStream(streamID string) {
	m.mu.Lock()
	st, ok := m.streams[streamID]
	if ok {
		delete(m.streams, streamID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	st.rec.Stop()
	logging.Infow("media stream stopped", logging.StreamFields(streamID, st.callID)...)
}

// ActiveStreams reports how many streams are live.
func (m *Manager) ActiveStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Close stops every active stream.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.streams))
	for id := range m.streams {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.StopStream(id)
	}
}

// safeConn serializes writes to a websocket connection.
type safeConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *safeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}
