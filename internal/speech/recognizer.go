// Package speech bridges the media plane to the external speech providers:
// a streaming recognizer that segments caller audio into utterances and a
// synthesizer that turns assistant replies back into telephony audio.
package speech

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/voice-orchestrator/internal/audio"
	"github.com/wardline/voice-orchestrator/internal/config"
	"github.com/wardline/voice-orchestrator/internal/logging"
)

const sampleRate = 8000

// Utterance is one recognized segment of caller speech.
type Utterance struct {
	Text       string
	Confidence float64
	Final      bool
}

// Recognizer accumulates linear PCM from one media stream and flushes an
// utterance to the transcription service when the caller goes quiet or the
// segment hits its maximum length. All accumulation state is owned by the
// run goroutine; WritePCM only enqueues.
type Recognizer struct {
	cfg       config.RecognizerConfig
	url       string
	authToken string
	timeoutMs int
	streamID  string
	callID    string
	client    *http.Client

	in       chan []byte
	results  chan Utterance
	quit     chan struct{}
	stopOnce sync.Once

	// owned by run
	buf       []byte
	voiced    bool
	lastVoice time.Time
	segStart  time.Time
}

// NewRecognizer starts a recognizer for one media stream.
func NewRecognizer(cfg config.RecognizerConfig, url, authToken string, timeout time.Duration, streamID, callID string) *Recognizer {
	r := &Recognizer{
		cfg:       cfg,
		url:       url,
		authToken: authToken,
		timeoutMs: int(timeout.Milliseconds()),
		streamID:  streamID,
		callID:    callID,
		client:    &http.Client{Timeout: timeout},
		in:        make(chan []byte, cfg.QueueSize),
		results:   make(chan Utterance, 8),
		quit:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Results delivers final utterances. The channel is closed by Stop.
func (r *Recognizer) Results() <-chan Utterance {
	return r.results
}

// WritePCM enqueues a chunk of 16-bit little-endian PCM. It never blocks
// the media read loop; chunks are dropped with a warning when the queue is
// full.
func (r *Recognizer) WritePCM(pcm []byte) {
	select {
	case <-r.quit:
	case r.in <- pcm:
	default:
		logging.Warnw("dropping audio chunk; recognizer queue full",
			logging.StreamFields(r.streamID, r.callID)...)
	}
}

// Stop flushes any buffered speech and shuts the recognizer down. Safe to
// call more than once.
func (r *Recognizer) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

func (r *Recognizer) run() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	defer close(r.results)

	for {
		select {
		case <-r.quit:
			// drain whatever the read loop enqueued before stopping
			for {
				select {
				case chunk := <-r.in:
					r.ingest(chunk)
					continue
				default:
				}
				break
			}
			if r.voiced {
				r.flush()
			}
			return
		case chunk := <-r.in:
			r.ingest(chunk)
		case <-ticker.C:
			r.maybeFlush()
		}
	}
}

func (r *Recognizer) ingest(pcm []byte) {
	now := time.Now()
	if len(r.buf) == 0 {
		r.segStart = now
	}
	r.buf = append(r.buf, pcm...)
	if rmsOf(pcm) >= float64(r.cfg.RMSThreshold) {
		r.voiced = true
		r.lastVoice = now
	}
}

func (r *Recognizer) maybeFlush() {
	if len(r.buf) == 0 {
		return
	}
	now := time.Now()
	if !r.voiced {
		// pure silence never reaches the transcriber
		if now.Sub(r.segStart) >= time.Duration(r.cfg.SilenceMs)*time.Millisecond {
			r.buf = nil
		}
		return
	}
	silence := now.Sub(r.lastVoice) >= time.Duration(r.cfg.SilenceMs)*time.Millisecond
	tooLong := now.Sub(r.segStart) >= time.Duration(r.cfg.MaxUtteranceMs)*time.Millisecond
	if silence || tooLong {
		r.flush()
	}
}

// flush wraps the buffered PCM into a WAV, posts it to the transcription
// service, and emits a final utterance.
func (r *Recognizer) flush() {
	pcm := r.buf
	r.buf = nil
	r.voiced = false

	if r.url == "" {
		logging.Warnw("transcription URL not configured, dropping audio",
			logging.StreamFields(r.streamID, r.callID)...)
		return
	}

	correlationID := uuid.NewString()
	wav := audio.BuildWAV(pcm, sampleRate, 1, 16)
	samples := len(pcm) / 2
	logging.Debugw("sending utterance for transcription",
		append(logging.StreamFields(r.streamID, r.callID),
			"bytes", len(pcm),
			"duration_ms", samples*1000/sampleRate,
			"correlation_id", correlationID)...)

	resp, err := PostWithRetries(context.Background(), r.client, r.url, "audio/wav", wav, r.authToken, r.timeoutMs, 3, correlationID)
	if err != nil {
		logging.Warnw("transcription request failed",
			append(logging.StreamFields(r.streamID, r.callID), "err", err.Error(), "correlation_id", correlationID)...)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		logging.Warnw("transcription returned non-2xx",
			append(logging.StreamFields(r.streamID, r.callID), "status", resp.StatusCode, "correlation_id", correlationID)...)
		return
	}

	var out struct {
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		logging.Warnw("transcription response unparseable",
			append(logging.StreamFields(r.streamID, r.callID), "err", err.Error(), "correlation_id", correlationID)...)
		return
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return
	}
	logging.Infow("utterance transcribed",
		append(logging.StreamFields(r.streamID, r.callID),
			"text", text, "confidence", out.Confidence, "correlation_id", correlationID)...)
	select {
	case r.results <- Utterance{Text: text, Confidence: out.Confidence, Final: true}:
	default:
		logging.Warnw("dropping utterance; results queue full",
			logging.StreamFields(r.streamID, r.callID)...)
	}
}

func rmsOf(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
