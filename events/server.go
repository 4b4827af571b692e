package events

import "fmt"

// Wire types.
const (
	// Client events.
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeItemCreate       = "conversation.item.create"
	TypeItemDelete       = "conversation.item.delete"
	TypeItemTruncate     = "conversation.item.truncate"
	TypeResponseCreate   = "response.create"
	TypeResponseCancel   = "response.cancel"

	// Server events.
	TypeError                  = "error"
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeItemCreated            = "conversation.item.created"
	TypeItemTruncated          = "conversation.item.truncated"
	TypeItemDeleted            = "conversation.item.deleted"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted    = "input_audio_buffer.committed"
	TypeResponseCreated        = "response.created"
	TypeOutputItemAdded        = "response.output_item.added"
	TypeOutputItemDone         = "response.output_item.done"
	TypeContentPartAdded       = "response.content_part.added"
	TypeAudioTranscriptDelta   = "response.audio_transcript.delta"
	TypeAudioDelta             = "response.audio.delta"
	TypeTextDelta              = "response.text.delta"
	TypeFunctionArgsDelta      = "response.function_call_arguments.delta"
)

type ErrorEvent struct {
	BaseEvent
	ErrorDetail ErrorDetail `json:"error"`
}

func (e *ErrorEvent) Error() string {
	return e.ErrorDetail.Error()
}

// ErrorDetail holds the details of the error.
type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventID string `json:"event_id"`
}

func (e *ErrorDetail) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type SessionCreatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type SessionUpdatedEvent struct {
	BaseEvent
	Session Session `json:"session"`
}

type ItemCreatedEvent struct {
	BaseEvent
	PreviousItemID string `json:"previous_item_id,omitempty"`
	Item           Item   `json:"item"`
}

type ItemTruncatedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type ItemDeletedEvent struct {
	BaseEvent
	ItemID string `json:"item_id"`
}

type TranscriptionCompletedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type SpeechStartedEvent struct {
	BaseEvent
	ItemID       string `json:"item_id"`
	AudioStartMS int    `json:"audio_start_ms"`
}

type SpeechStoppedEvent struct {
	BaseEvent
	ItemID     string `json:"item_id"`
	AudioEndMS int    `json:"audio_end_ms"`
}

type InputAudioCommittedEvent struct {
	BaseEvent
	ItemID         string `json:"item_id"`
	PreviousItemID string `json:"previous_item_id,omitempty"`
}

type ResponseCreatedEvent struct {
	BaseEvent
	Response ResponseInfo `json:"response"`
}

type OutputItemAddedEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

type OutputItemDoneEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	OutputIndex int    `json:"output_index"`
	Item        Item   `json:"item"`
}

type ContentPartAddedEvent struct {
	BaseEvent
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

type AudioTranscriptDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type AudioDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type TextDeltaEvent struct {
	BaseEvent
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type FunctionCallArgumentsDeltaEvent struct {
	BaseEvent
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id,omitempty"`
	Delta       string `json:"delta"`
}

// UnknownEvent wraps an inbound frame with a type this client has no
// struct for. It is still dispatched so observers see the full stream.
type UnknownEvent struct {
	BaseEvent
	Raw []byte `json:"-"`
}

// ServerEvent is implemented by every typed inbound event.
type ServerEvent interface {
	EventType() string
}

// ParseServer decodes an inbound frame into its typed event. Required
// fields are validated here so downstream consumers can assume
// well-formed input.
func ParseServer(data []byte) (ServerEvent, error) {
	env, err := Parse[BaseEvent](data)
	if err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}

	var evt ServerEvent
	switch env.Type {
	case TypeError:
		evt, err = Parse[ErrorEvent](data)
	case TypeSessionCreated:
		evt, err = Parse[SessionCreatedEvent](data)
	case TypeSessionUpdated:
		evt, err = Parse[SessionUpdatedEvent](data)
	case TypeItemCreated:
		evt, err = Parse[ItemCreatedEvent](data)
	case TypeItemTruncated:
		evt, err = Parse[ItemTruncatedEvent](data)
	case TypeItemDeleted:
		evt, err = Parse[ItemDeletedEvent](data)
	case TypeTranscriptionCompleted:
		evt, err = Parse[TranscriptionCompletedEvent](data)
	case TypeSpeechStarted:
		evt, err = Parse[SpeechStartedEvent](data)
	case TypeSpeechStopped:
		evt, err = Parse[SpeechStoppedEvent](data)
	case TypeInputAudioCommitted:
		evt, err = Parse[InputAudioCommittedEvent](data)
	case TypeResponseCreated:
		evt, err = Parse[ResponseCreatedEvent](data)
	case TypeOutputItemAdded:
		evt, err = Parse[OutputItemAddedEvent](data)
	case TypeOutputItemDone:
		evt, err = Parse[OutputItemDoneEvent](data)
	case TypeContentPartAdded:
		evt, err = Parse[ContentPartAddedEvent](data)
	case TypeAudioTranscriptDelta:
		evt, err = Parse[AudioTranscriptDeltaEvent](data)
	case TypeAudioDelta:
		evt, err = Parse[AudioDeltaEvent](data)
	case TypeTextDelta:
		evt, err = Parse[TextDeltaEvent](data)
	case TypeFunctionArgsDelta:
		evt, err = Parse[FunctionCallArgumentsDeltaEvent](data)
	default:
		return &UnknownEvent{BaseEvent: *env, Raw: data}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", env.Type, err)
	}
	if err := validate(evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// validate enforces the fields the conversation layer assumes present.
func validate(evt ServerEvent) error {
	missing := func(field string) error {
		return fmt.Errorf("%s: missing %s", evt.EventType(), field)
	}
	switch e := evt.(type) {
	case *ItemCreatedEvent:
		if e.Item.ID == "" {
			return missing("item.id")
		}
	case *ItemTruncatedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *ItemDeletedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *TranscriptionCompletedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *SpeechStartedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *SpeechStoppedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *ResponseCreatedEvent:
		if e.Response.ID == "" {
			return missing("response.id")
		}
	case *OutputItemAddedEvent:
		if e.ResponseID == "" {
			return missing("response_id")
		}
		if e.Item.ID == "" {
			return missing("item.id")
		}
	case *OutputItemDoneEvent:
		if e.Item.ID == "" {
			return missing("item.id")
		}
	case *ContentPartAddedEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *AudioTranscriptDeltaEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *AudioDeltaEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *TextDeltaEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	case *FunctionCallArgumentsDeltaEvent:
		if e.ItemID == "" {
			return missing("item_id")
		}
	}
	return nil
}
