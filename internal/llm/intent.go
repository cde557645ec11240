package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wardline/voice-orchestrator/internal/logging"
)

// Intent keys the classifier may return.
const (
	IntentScheduleAppointment = "schedule_appointment"
	IntentBillingInquiry      = "billing_inquiry"
	IntentPrescriptionRefill  = "prescription_refill"
	IntentMedicalRecords      = "medical_records"
	IntentGeneralInquiry      = "general_inquiry"
)

// historyWindow limits how many prior turns are sent for context.
const historyWindow = 5

// IntentResult is the classifier's verdict for one utterance.
type IntentResult struct {
	IntentKey       string            `json:"intentKey"`
	Confidence      float64           `json:"confidence"`
	SubIntent       string            `json:"subIntent,omitempty"`
	ExtractedFields map[string]string `json:"extractedFields"`
}

var classifyIntentParams = json.RawMessage(`{
  "type": "object",
  "properties": {
    "intent": {
      "type": "string",
      "enum": [
        "schedule_appointment",
        "billing_inquiry",
        "prescription_refill",
        "medical_records",
        "general_inquiry"
      ],
      "description": "The detected intent"
    },
    "confidence": {
      "type": "number",
      "description": "Confidence score between 0 and 1"
    },
    "subIntent": {
      "type": "string",
      "description": "More specific sub-intent if applicable"
    },
    "fields": {
      "type": "object",
      "description": "Extracted fields like dates, names, or specific requests"
    }
  },
  "required": ["intent", "confidence"]
}`)

// IntentService classifies caller utterances via function calling.
type IntentService struct {
	client *Client
}

// NewIntentService wraps an existing chat client.
func NewIntentService(c *Client) *IntentService {
	return &IntentService{client: c}
}

// DetectIntent classifies one utterance in the context of the recent
// conversation. It never fails the call: on any error it returns
// general_inquiry with zero confidence.
func (s *IntentService) DetectIntent(ctx context.Context, input string, history []Message) (IntentResult, error) {
	messages := make([]Message, 0, historyWindow+2)
	messages = append(messages, Message{Role: "system", Content: promptIntentClassifier})
	messages = append(messages, tail(history, historyWindow)...)
	messages = append(messages, Message{Role: "user", Content: input})

	resp, err := s.client.CreateChatCompletion(ctx, ChatRequest{
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   150,
		Tools: []Tool{{
			Name:        "classify_intent",
			Description: "Classify the user intent and extract relevant fields",
			Parameters:  classifyIntentParams,
		}},
	})
	if err != nil {
		logging.Warnw("intent detection failed", "error", err.Error())
		return IntentResult{IntentKey: IntentGeneralInquiry, Confidence: 0, ExtractedFields: map[string]string{}}, err
	}

	if resp.ToolCall == nil || resp.ToolCall.Name != "classify_intent" {
		return IntentResult{IntentKey: IntentGeneralInquiry, Confidence: 0.3, ExtractedFields: map[string]string{}}, nil
	}

	var args struct {
		Intent     string                 `json:"intent"`
		Confidence float64                `json:"confidence"`
		SubIntent  string                 `json:"subIntent"`
		Fields     map[string]interface{} `json:"fields"`
	}
	if err := json.Unmarshal(resp.ToolCall.Arguments, &args); err != nil {
		logging.Warnw("intent arguments unparseable", "error", err.Error())
		return IntentResult{IntentKey: IntentGeneralInquiry, Confidence: 0, ExtractedFields: map[string]string{}}, nil
	}

	intent := args.Intent
	if intent == "" {
		intent = IntentGeneralInquiry
	}
	confidence := args.Confidence
	if confidence == 0 && args.Intent != "" {
		confidence = 0.5
	}
	fields := make(map[string]string, len(args.Fields))
	for k, v := range args.Fields {
		fields[k] = fmt.Sprintf("%v", v)
	}
	return IntentResult{
		IntentKey:       intent,
		Confidence:      confidence,
		SubIntent:       args.SubIntent,
		ExtractedFields: fields,
	}, nil
}

func tail(msgs []Message, n int) []Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
