// Package media terminates the telephony provider's media stream
// WebSocket: it routes inbound caller audio into a per-stream recognizer,
// feeds final utterances through the call state machine, and ships the
// synthesized reply back down the same socket.
package media

// Envelope is one JSON frame on the media WebSocket. The provider sends
// connected, start, media, and stop events; we send media events back.
type Envelope struct {
	Event          string        `json:"event"`
	SequenceNumber string        `json:"sequenceNumber,omitempty"`
	StreamSID      string        `json:"streamSid,omitempty"`
	CallSID        string        `json:"callSid,omitempty"`
	Start          *StartPayload `json:"start,omitempty"`
	Media          *MediaPayload `json:"media,omitempty"`
}

// StartPayload describes the stream being opened.
type StartPayload struct {
	StreamSID   string      `json:"streamSid"`
	CallSID     string      `json:"callSid"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat declares the encoding of the inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 chunk of 8-bit telephony audio.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}
