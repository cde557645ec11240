package speech

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// Synthesizer turns assistant text into raw 16-bit 8 kHz PCM via an
// external text-to-speech service.
type Synthesizer struct {
	URL       string
	AuthToken string
	Client    *http.Client
	TimeoutMs int
}

// NewSynthesizer builds a synthesizer against the given service URL.
func NewSynthesizer(url, authToken string, timeout time.Duration) *Synthesizer {
	return &Synthesizer{
		URL:       url,
		AuthToken: authToken,
		Client:    &http.Client{Timeout: timeout},
		TimeoutMs: int(timeout.Milliseconds()),
	}
}

// Synthesize posts text to the service and returns the audio bytes.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if s == nil || s.URL == "" {
		return nil, fmt.Errorf("synthesizer not configured")
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	timeout := s.TimeoutMs
	if timeout <= 0 {
		timeout = 10000
	}
	resp, err := PostWithRetries(ctx, s.Client, s.URL, "application/json", body, s.AuthToken, timeout, 2, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		logging.Warnw("synthesis returned non-2xx", "status", resp.StatusCode)
		return nil, fmt.Errorf("synthesis returned status %d", resp.StatusCode)
	}
	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return audioBytes, nil
}
