// Package protocol defines the WebSocket message formats spoken on the three legs of a call:
// the telephony media stream, the speech recognition stream and the realtime dialogue stream.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed indicates a frame that is not valid JSON for its leg.
var ErrMalformed = errors.New("protocol: malformed message")

// TelephonyEvent identifies the kind of a telephony frame.
type TelephonyEvent string

const (
	// Telephony → bridge
	EventStart TelephonyEvent = "start" // Call media stream started (also sent back per turn)
	EventMedia TelephonyEvent = "media" // Caller audio chunk (also used for synthesized audio)
	EventStop  TelephonyEvent = "stop"  // Call media stream stopped

	// Bridge → telephony
	EventText TelephonyEvent = "text" // Human readable confirmation
)

// Audio format advertised to the telephony leg.
const (
	MediaEncoding   = "PCM16"
	MediaSampleRate = 24000
)

// TelephonyFrame is the wrapper for all telephony media-stream frames.
type TelephonyFrame struct {
	Event          TelephonyEvent `json:"event"`
	SequenceNumber *int           `json:"sequenceNumber,omitempty"`
	Start          *StartData     `json:"start,omitempty"`
	Media          *MediaData     `json:"media,omitempty"`
	Content        string         `json:"content,omitempty"`
}

// StartData describes the media format of the outbound audio stream.
type StartData struct {
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat names the encoding and sample rate of a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

// MediaData carries one base64 audio chunk.
type MediaData struct {
	Chunk     int64  `json:"chunk,omitempty"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Greeting is the one-off frame sent to the telephony leg when a call is accepted.
type Greeting struct {
	Message string `json:"message"`
}

// ParseTelephonyFrame parses an inbound telephony frame. Only the event name and the
// media payload are read; everything else the platform sends is ignored.
// Unknown events are not an error.
func ParseTelephonyFrame(data []byte) (*TelephonyFrame, error) {
	var in struct {
		Event TelephonyEvent `json:"event"`
		Media *struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: telephony: %v", ErrMalformed, err)
	}

	f := &TelephonyFrame{Event: in.Event}
	if in.Media != nil {
		f.Media = &MediaData{Payload: in.Media.Payload}
	}
	return f, nil
}

// Audio decodes the media payload of a frame.
func (f *TelephonyFrame) Audio() ([]byte, error) {
	if f.Media == nil {
		return nil, fmt.Errorf("%w: media frame without media", ErrMalformed)
	}
	audio, err := base64.StdEncoding.DecodeString(f.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: media payload: %v", ErrMalformed, err)
	}
	return audio, nil
}

// Bytes returns the JSON-encoded frame.
func (f *TelephonyFrame) Bytes() ([]byte, error) {
	return json.Marshal(f)
}

// NewStartFrame creates the start-of-media-stream frame sent once per dialogue turn.
func NewStartFrame() *TelephonyFrame {
	seq := 0
	return &TelephonyFrame{
		Event:          EventStart,
		SequenceNumber: &seq,
		Start: &StartData{
			MediaFormat: MediaFormat{Encoding: MediaEncoding, SampleRate: MediaSampleRate},
		},
	}
}

// NewMediaFrame wraps one packet of PCM16 audio. Chunk and timestamp carry the send time
// in Unix milliseconds.
func NewMediaFrame(packet []byte, at time.Time) *TelephonyFrame {
	ms := at.UnixMilli()
	return &TelephonyFrame{
		Event: EventMedia,
		Media: &MediaData{
			Chunk:     ms,
			Payload:   base64.StdEncoding.EncodeToString(packet),
			Timestamp: ms,
		},
	}
}

// NewTextFrame creates a text frame for the caller.
func NewTextFrame(content string) *TelephonyFrame {
	return &TelephonyFrame{Event: EventText, Content: content}
}
