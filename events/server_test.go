package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerItemCreated(t *testing.T) {
	data := []byte(`{
		"event_id": "evt_1",
		"type": "conversation.item.created",
		"previous_item_id": "item_0",
		"item": {
			"id": "item_1",
			"type": "message",
			"role": "user",
			"content": [{"type": "input_text", "text": "hola"}]
		}
	}`)

	evt, err := ParseServer(data)
	require.NoError(t, err)

	created, ok := evt.(*ItemCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, TypeItemCreated, created.EventType())
	assert.Equal(t, "item_0", created.PreviousItemID)
	assert.Equal(t, "item_1", created.Item.ID)
	assert.Equal(t, "user", created.Item.Role)
	require.Len(t, created.Item.Content, 1)
	assert.Equal(t, "hola", created.Item.Content[0].Text)
}

func TestParseServerMissingItemID(t *testing.T) {
	cases := map[string]string{
		"item created":   `{"type": "conversation.item.created", "item": {"type": "message"}}`,
		"item truncated": `{"type": "conversation.item.truncated", "audio_end_ms": 100}`,
		"speech started": `{"type": "input_audio_buffer.speech_started", "audio_start_ms": 0}`,
		"audio delta":    `{"type": "response.audio.delta", "delta": "AAAA"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseServer([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestParseServerMissingResponseID(t *testing.T) {
	_, err := ParseServer([]byte(`{"type": "response.created", "response": {}}`))
	require.Error(t, err)

	_, err = ParseServer([]byte(`{"type": "response.output_item.added", "item": {"id": "item_1"}}`))
	require.Error(t, err)
}

func TestParseServerUnknownType(t *testing.T) {
	data := []byte(`{"type": "rate_limits.updated", "rate_limits": []}`)

	evt, err := ParseServer(data)
	require.NoError(t, err)

	unknown, ok := evt.(*UnknownEvent)
	require.True(t, ok)
	assert.Equal(t, "rate_limits.updated", unknown.EventType())
	assert.Equal(t, data, unknown.Raw)
}

func TestParseServerError(t *testing.T) {
	data := []byte(`{
		"type": "error",
		"error": {"type": "invalid_request_error", "code": "bad", "message": "nope"}
	}`)

	evt, err := ParseServer(data)
	require.NoError(t, err)

	errEvt, ok := evt.(*ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, "bad: nope", errEvt.Error())
}

func TestParseServerBadJSON(t *testing.T) {
	_, err := ParseServer([]byte(`{"type":`))
	require.Error(t, err)
}

func TestSessionUpdateNullTurnDetection(t *testing.T) {
	data, err := json.Marshal(SessionUpdate{Modalities: []string{"text"}})
	require.NoError(t, err)
	// nil turn detection must serialize as an explicit null so the remote
	// disables voice activity detection instead of keeping its default.
	assert.Contains(t, string(data), `"turn_detection":null`)
}
