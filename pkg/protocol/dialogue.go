package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Dialogue event types handled by the bridge.
const (
	TypeSessionUpdate       = "session.update"
	TypeItemCreate          = "conversation.item.create"
	TypeResponseCreate      = "response.create"
	TypeItemCreated         = "conversation.item.created"
	TypeTranscriptDone      = "response.audio_transcript.done"
	TypeAudioDelta          = "response.audio.delta"
	TypeFunctionCall        = "response.function_call"
	TypeFunctionCallArgDone = "response.function_call_arguments.done"
	TypeSessionCreated      = "session.created"
	TypeSessionUpdated      = "session.updated"
	TypeError               = "error"
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
	CreateResponse    bool    `json:"create_response"`
}

// DefaultTurnDetection returns the server VAD parameters used for calls.
func DefaultTurnDetection() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
		CreateResponse:    true,
	}
}

// Tool is a function definition offered to the dialogue model.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema "properties" object.
	Parameters map[string]any
	Required   []string
}

// SessionOptions configures the dialogue session sent once the leg opens.
type SessionOptions struct {
	Instructions        string
	Voice               string
	Language            string
	TranscriptionPrompt string
	Temperature         float64
	TurnDetection       *TurnDetection
	Tools               []Tool
}

// NewSessionUpdate builds the one-time session.update event.
func NewSessionUpdate(opts SessionOptions) map[string]any {
	tools := make([]map[string]any, len(opts.Tools))
	for i, tool := range opts.Tools {
		required := tool.Required
		if required == nil {
			required = []string{}
		}
		tools[i] = map[string]any{
			"type":        "function",
			"name":        tool.Name,
			"description": tool.Description,
			"parameters": map[string]any{
				"type":       "object",
				"properties": tool.Parameters,
				"required":   required,
			},
		}
	}

	turnDetection := opts.TurnDetection
	if turnDetection == nil {
		turnDetection = DefaultTurnDetection()
	}

	transcription := map[string]any{"model": "whisper-1"}
	if opts.Language != "" {
		transcription["language"] = opts.Language
	}
	if opts.TranscriptionPrompt != "" {
		transcription["prompt"] = opts.TranscriptionPrompt
	}

	return map[string]any{
		"type": TypeSessionUpdate,
		"session": map[string]any{
			"modalities":                 []string{"text", "audio"},
			"instructions":               opts.Instructions,
			"voice":                      opts.Voice,
			"input_audio_format":         "pcm16",
			"output_audio_format":        "pcm16",
			"input_audio_transcription":  transcription,
			"turn_detection":             turnDetection,
			"temperature":                opts.Temperature,
			"max_response_output_tokens": "inf",
			"tools":                      tools,
			"tool_choice":                "auto",
		},
	}
}

// NewUserMessage builds a conversation.item.create event carrying one user utterance.
func NewUserMessage(text string) map[string]any {
	return map[string]any{
		"type": TypeItemCreate,
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
}

// NewResponseCreate builds the event asking the model to answer.
func NewResponseCreate() map[string]any {
	return map[string]any{
		"type": TypeResponseCreate,
		"response": map[string]any{
			"modalities": []string{"text", "audio"},
		},
	}
}

// DialogueEvent is an inbound realtime event. Only the fields the bridge reads are decoded.
type DialogueEvent struct {
	Type       string        `json:"type"`
	Item       *Item         `json:"item,omitempty"`
	ItemID     string        `json:"item_id,omitempty"`
	Delta      string        `json:"delta,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Call       *FunctionCall `json:"function_call,omitempty"`
	Name       string        `json:"name,omitempty"`
	Arguments  string        `json:"arguments,omitempty"`
	CallID     string        `json:"call_id,omitempty"`
	Error      *APIError     `json:"error,omitempty"`
}

// Item is a conversation item reference.
type Item struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}

// FunctionCall is a tool invocation with its raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	CallID    string `json:"call_id,omitempty"`
}

// APIError is an error event reported by the dialogue service.
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseDialogueEvent parses a dialogue leg message.
func ParseDialogueEvent(data []byte) (*DialogueEvent, error) {
	var ev DialogueEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: dialogue: %v", ErrMalformed, err)
	}
	return &ev, nil
}

// FunctionCall returns the tool invocation carried by either function call event shape.
func (e *DialogueEvent) FunctionCall() (FunctionCall, bool) {
	switch e.Type {
	case TypeFunctionCall:
		if e.Call != nil {
			return *e.Call, true
		}
		if e.Name != "" {
			return FunctionCall{Name: e.Name, Arguments: e.Arguments, CallID: e.CallID}, true
		}
	case TypeFunctionCallArgDone:
		return FunctionCall{Name: e.Name, Arguments: e.Arguments, CallID: e.CallID}, true
	}
	return FunctionCall{}, false
}

// ItemIDOrEmpty returns the created item id, or "" when absent.
func (e *DialogueEvent) ItemIDOrEmpty() string {
	if e.Item != nil {
		return e.Item.ID
	}
	return e.ItemID
}

// Audio decodes the base64 PCM16 delta of a response.audio.delta event.
func (e *DialogueEvent) Audio() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("%w: audio delta: %v", ErrMalformed, err)
	}
	return audio, nil
}
