package protocol

import (
	"encoding/json"
	"fmt"
)

// ResultsType is the message type of a recognition result.
const ResultsType = "Results"

// KeepAlive is the liveness message sent on the recognition leg.
type KeepAlive struct {
	Type string `json:"type"`
}

// NewKeepAlive returns the recognition keepalive message.
func NewKeepAlive() KeepAlive {
	return KeepAlive{Type: "KeepAlive"}
}

// RecognitionResult is a streaming speech recognition result.
type RecognitionResult struct {
	Type        string  `json:"type"`
	Channel     Channel `json:"channel"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
}

// Channel holds the recognition hypotheses for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one transcription hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ParseRecognitionResult parses a recognition leg message.
func ParseRecognitionResult(data []byte) (*RecognitionResult, error) {
	var r RecognitionResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: recognition: %v", ErrMalformed, err)
	}
	return &r, nil
}

// IsResults reports whether the message carries transcription results.
func (r *RecognitionResult) IsResults() bool {
	return r.Type == ResultsType
}

// Transcript returns the best alternative, or "" when there is none.
func (r *RecognitionResult) Transcript() string {
	if len(r.Channel.Alternatives) == 0 {
		return ""
	}
	return r.Channel.Alternatives[0].Transcript
}
