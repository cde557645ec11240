package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// DialogueService generates the assistant's spoken replies for each stage
// of the call. Every method degrades to a usable utterance on failure so
// the caller is never met with silence; the error is still returned so
// callers can log or escalate.
type DialogueService struct {
	client *Client
}

// NewDialogueService wraps an existing chat client.
func NewDialogueService(c *Client) *DialogueService {
	return &DialogueService{client: c}
}

// Greeting produces the opening line of the call.
func (s *DialogueService) Greeting(ctx context.Context) (string, error) {
	return s.generate(ctx, promptGreeting, nil)
}

// EmergencyScreening produces the screening question asked before any
// administrative handling.
func (s *DialogueService) EmergencyScreening(ctx context.Context, history []Message) (string, error) {
	return s.generate(ctx, promptEmergencyScreening, history)
}

// BookingReply asks for the next missing piece of appointment information
// given what has been extracted so far.
func (s *DialogueService) BookingReply(ctx context.Context, history []Message, extracted map[string]string) (string, error) {
	fieldsJSON, err := json.Marshal(extracted)
	if err != nil {
		fieldsJSON = []byte("{}")
	}
	prompt := fmt.Sprintf(promptBookingTemplate, fieldsJSON)
	return s.generate(ctx, prompt, history)
}

func (s *DialogueService) generate(ctx context.Context, systemPrompt string, history []Message) (string, error) {
	messages := make([]Message, 0, historyWindow+1)
	messages = append(messages, Message{Role: "system", Content: systemPrompt})
	messages = append(messages, tail(history, historyWindow)...)

	resp, err := s.client.CreateChatCompletion(ctx, ChatRequest{
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		logging.Warnw("dialogue generation failed", "error", err.Error())
		return FallbackEscalation, err
	}
	if resp.Content == "" {
		return fallbackReply, nil
	}
	logging.Debugw("dialogue generated", "reply", resp.Content)
	return resp.Content, nil
}
