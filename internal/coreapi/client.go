// Package coreapi is the HTTP client for the platform's configuration and
// record-keeping service. Everything here is off the hot path: call-record
// and transcript writes are fire-and-forget from the caller's perspective,
// so failures are logged and never block a live call.
package coreapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// Client talks to the core API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client against the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Hospital identifies the tenant a call belongs to.
type Hospital struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LookupHospitalByPhone resolves the dialed number to a hospital. A miss
// or failure returns nil without error so the call proceeds untenanted.
func (c *Client) LookupHospitalByPhone(ctx context.Context, phone string) *Hospital {
	normalized := NormalizePhone(phone)
	endpoint := fmt.Sprintf("%s/api/hospitals/by-phone/%s", c.baseURL, url.PathEscape(normalized))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logging.Warnw("hospital lookup failed", "phone", normalized, "err", err.Error())
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logging.Debugw("hospital not found for number", "phone", normalized, "status", resp.StatusCode)
		return nil
	}
	var h Hospital
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		logging.Warnw("hospital lookup response unparseable", "err", err.Error())
		return nil
	}
	logging.Infow("hospital resolved", "phone", normalized, "hospital_id", h.ID)
	return &h
}

// CallRecord creates the call's row in the core API.
type CallRecord struct {
	HospitalID string `json:"hospitalId"`
	Direction  string `json:"direction"`
	FromNumber string `json:"fromNumber"`
	ToNumber   string `json:"toNumber"`
	CallSID    string `json:"callSid"`
}

// CreateCall registers a new call record.
func (c *Client) CreateCall(ctx context.Context, rec CallRecord) error {
	return c.post(ctx, "/api/calls", rec)
}

// CallUpdate is a partial update of a call record.
type CallUpdate struct {
	Status         string `json:"status,omitempty"`
	DurationSecs   int    `json:"duration,omitempty"`
	DetectedIntent string `json:"detectedIntent,omitempty"`
	IsEmergency    bool   `json:"isEmergency,omitempty"`
}

// UpdateCall patches the call record.
func (c *Client) UpdateCall(ctx context.Context, callID string, upd CallUpdate) error {
	body, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/calls/%s", c.baseURL, url.PathEscape(callID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("update call returned status %d", resp.StatusCode)
	}
	return nil
}

// TranscriptSegment is one attributed line of conversation.
type TranscriptSegment struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// AppendTranscript stores transcript segments for a call.
func (c *Client) AppendTranscript(ctx context.Context, callID string, segments []TranscriptSegment) error {
	path := fmt.Sprintf("/api/calls/%s/transcript", url.PathEscape(callID))
	return c.post(ctx, path, map[string]interface{}{"segments": segments})
}

// Turn is one line of conversation carried on a handoff.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Handoff is the payload handed to the human escalation queue. It carries
// the full conversation so the receiving agent has complete context.
type Handoff struct {
	CallID     string            `json:"callId"`
	HospitalID string            `json:"hospitalId"`
	IntentKey  string            `json:"intentKey"`
	Tag        string            `json:"tag"`
	Summary    string            `json:"summary"`
	Fields     map[string]string `json:"fields"`
	History    []Turn            `json:"history"`
}

// CreateHandoff queues a call for a human agent.
func (c *Client) CreateHandoff(ctx context.Context, h Handoff) error {
	return c.post(ctx, "/api/handoffs", h)
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}
