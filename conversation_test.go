package realtime

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingobridge/realtime-go/events"
)

func newConversation() *Conversation {
	return NewConversation(nil)
}

func pcmRamp(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i)
	}
	return buf
}

func mustProcess(t *testing.T, c *Conversation, event any, inputAudio []byte) (*Item, *Delta) {
	t.Helper()
	item, delta, err := c.ProcessEvent(event, inputAudio)
	require.NoError(t, err)
	return item, delta
}

func TestSpeechSliceAllOrderings(t *testing.T) {
	// 200ms of input at 24kHz mono PCM16, speech detected from 100ms to
	// 200ms. The slice must come out identical for every arrival order of
	// the three racing signals.
	buffer := pcmRamp(msToByteOffset(200))
	want := buffer[msToByteOffset(100):msToByteOffset(200)]

	type step struct {
		name  string
		apply func(t *testing.T, c *Conversation)
	}
	started := step{"started", func(t *testing.T, c *Conversation) {
		mustProcess(t, c, &events.SpeechStartedEvent{ItemID: "item_1", AudioStartMS: 100}, nil)
	}}
	stopped := step{"stopped", func(t *testing.T, c *Conversation) {
		mustProcess(t, c, &events.SpeechStoppedEvent{ItemID: "item_1", AudioEndMS: 200}, buffer)
	}}
	created := step{"created", func(t *testing.T, c *Conversation) {
		mustProcess(t, c, &events.ItemCreatedEvent{
			Item: events.Item{ID: "item_1", Type: "message", Role: "user"},
		}, nil)
	}}

	orderings := [][]step{
		{started, stopped, created},
		{started, created, stopped},
		{stopped, started, created},
		{stopped, created, started},
		{created, started, stopped},
		{created, stopped, started},
	}

	for _, order := range orderings {
		name := fmt.Sprintf("%s-%s-%s", order[0].name, order[1].name, order[2].name)
		t.Run(name, func(t *testing.T) {
			c := newConversation()
			for _, s := range order {
				s.apply(t, c)
			}

			item, ok := c.Item("item_1")
			require.True(t, ok)
			assert.Equal(t, want, item.Formatted.Audio)
			assert.Equal(t, StatusCompleted, item.Status)
		})
	}
}

func TestSpeechSliceClampsToBuffer(t *testing.T) {
	c := newConversation()

	// Stop boundary past the end of the captured buffer.
	buffer := pcmRamp(msToByteOffset(150))
	mustProcess(t, c, &events.SpeechStartedEvent{ItemID: "item_1", AudioStartMS: 100}, nil)
	mustProcess(t, c, &events.SpeechStoppedEvent{ItemID: "item_1", AudioEndMS: 400}, buffer)
	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "user"},
	}, nil)

	item, ok := c.Item("item_1")
	require.True(t, ok)
	assert.Equal(t, buffer[msToByteOffset(100):], item.Formatted.Audio)
}

func TestItemCreatedUserMessage(t *testing.T) {
	c := newConversation()

	item, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{
			ID:   "item_1",
			Type: "message",
			Role: "user",
			Content: []events.ContentPart{
				{Type: "input_text", Text: "hola "},
				{Type: "input_text", Text: "mundo"},
			},
		},
	}, nil)

	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, "hola mundo", item.Formatted.Text)
	assert.Len(t, c.Items(), 1)
}

func TestItemCreatedIdempotent(t *testing.T) {
	c := newConversation()

	evt := &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}
	first, _ := mustProcess(t, c, evt, nil)
	require.NotNil(t, first)

	// The duplicate is a no-op and yields no item to re-announce.
	second, delta, err := c.ProcessEvent(evt, nil)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Nil(t, delta)
	assert.Len(t, c.Items(), 1)
}

func TestItemCreatedDuplicatePreservesState(t *testing.T) {
	c := newConversation()

	created := &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}
	mustProcess(t, c, created, nil)
	mustProcess(t, c, &events.ContentPartAddedEvent{
		ItemID: "item_1", Part: events.ContentPart{Type: "audio"},
	}, nil)
	mustProcess(t, c, &events.AudioTranscriptDeltaEvent{
		ItemID: "item_1", ContentIndex: 0, Delta: "Hello",
	}, nil)
	audio := pcmRamp(480)
	mustProcess(t, c, &events.AudioDeltaEvent{ItemID: "item_1", Delta: EncodeAudio(audio)}, nil)
	mustProcess(t, c, &events.OutputItemDoneEvent{
		Item: events.Item{ID: "item_1", Status: "completed"},
	}, nil)

	// A replayed creation frame must not wipe the accumulated state or
	// regress the completed status.
	mustProcess(t, c, created, nil)

	item, ok := c.Item("item_1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, "Hello", item.Formatted.Transcript)
	assert.Equal(t, audio, item.Formatted.Audio)
	require.Len(t, item.Content, 1)
	assert.Equal(t, "Hello", item.Content[0].Transcript)
}

func TestItemCreatedAttachesQueuedInputAudio(t *testing.T) {
	c := newConversation()

	committed := pcmRamp(960)
	c.QueueInputAudio(committed)

	item, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "user"},
	}, nil)
	assert.Equal(t, committed, item.Formatted.Audio)

	// Consumed by the first user item, not the next one.
	next, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_2", Type: "message", Role: "user"},
	}, nil)
	assert.Empty(t, next.Formatted.Audio)
}

func TestItemCreatedFunctionCall(t *testing.T) {
	c := newConversation()

	item, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{
			ID:        "item_1",
			Type:      "function_call",
			CallID:    "call_1",
			Name:      "lookup",
			Arguments: `{"q":`,
		},
	}, nil)

	require.NotNil(t, item.Formatted.Tool)
	assert.Equal(t, "lookup", item.Formatted.Tool.Name)
	assert.Equal(t, "call_1", item.Formatted.Tool.CallID)
	assert.Equal(t, `{"q":`, item.Formatted.Tool.Arguments)
	assert.Equal(t, StatusInProgress, item.Status)
}

func TestFunctionCallArgumentsDelta(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "function_call", CallID: "call_1", Name: "lookup"},
	}, nil)

	for _, d := range []string{`{"q"`, `:"rain`, `"}`} {
		mustProcess(t, c, &events.FunctionCallArgumentsDeltaEvent{ItemID: "item_1", Delta: d}, nil)
	}

	item, _ := c.Item("item_1")
	assert.Equal(t, `{"q":"rain"}`, item.Arguments)
	assert.Equal(t, `{"q":"rain"}`, item.Formatted.Tool.Arguments)
}

func TestTextDeltas(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)
	mustProcess(t, c, &events.ContentPartAddedEvent{
		ItemID: "item_1", Part: events.ContentPart{Type: "text"},
	}, nil)

	deltas := []string{"Guten", " ", "", "Tag"}
	for _, d := range deltas {
		item, delta := mustProcess(t, c, &events.TextDeltaEvent{ItemID: "item_1", ContentIndex: 0, Delta: d}, nil)
		require.NotNil(t, item)
		assert.Equal(t, d, delta.Text)
	}

	item, _ := c.Item("item_1")
	assert.Equal(t, "Guten Tag", item.Formatted.Text)
	assert.Equal(t, "Guten Tag", item.Content[0].Text)
}

func TestTextDeltaBadContentIndex(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)

	_, _, err := c.ProcessEvent(&events.TextDeltaEvent{ItemID: "item_1", ContentIndex: 2, Delta: "x"}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)

	item, _ := c.Item("item_1")
	assert.Empty(t, item.Formatted.Text)
}

func TestAudioTranscriptDeltas(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)
	mustProcess(t, c, &events.ContentPartAddedEvent{
		ItemID: "item_1", Part: events.ContentPart{Type: "audio"},
	}, nil)

	mustProcess(t, c, &events.AudioTranscriptDeltaEvent{ItemID: "item_1", ContentIndex: 0, Delta: "Bon"}, nil)
	mustProcess(t, c, &events.AudioTranscriptDeltaEvent{ItemID: "item_1", ContentIndex: 0, Delta: "jour"}, nil)

	item, _ := c.Item("item_1")
	assert.Equal(t, "Bonjour", item.Formatted.Transcript)
	assert.Equal(t, "Bonjour", item.Content[0].Transcript)
}

func TestAudioDeltaAccumulates(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)

	first := pcmRamp(480)
	second := pcmRamp(240)
	item, delta := mustProcess(t, c, &events.AudioDeltaEvent{ItemID: "item_1", Delta: EncodeAudio(first)}, nil)
	assert.Equal(t, first, delta.Audio)
	mustProcess(t, c, &events.AudioDeltaEvent{ItemID: "item_1", Delta: EncodeAudio(second)}, nil)

	assert.Equal(t, append(append([]byte(nil), first...), second...), item.Formatted.Audio)
}

func TestAudioDeltaUnknownItemIgnored(t *testing.T) {
	c := newConversation()

	// Audio for an unknown item is dropped, not a protocol failure; the
	// delta can outrun item creation during rapid turn taking.
	item, delta, err := c.ProcessEvent(&events.AudioDeltaEvent{ItemID: "ghost", Delta: EncodeAudio(pcmRamp(48))}, nil)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Nil(t, delta)
}

func TestAudioDeltaBadBase64(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)

	_, _, err := c.ProcessEvent(&events.AudioDeltaEvent{ItemID: "item_1", Delta: "%%%"}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestTruncateShortensAudioAndDropsTranscript(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)
	mustProcess(t, c, &events.ContentPartAddedEvent{
		ItemID: "item_1", Part: events.ContentPart{Type: "audio"},
	}, nil)
	mustProcess(t, c, &events.AudioDeltaEvent{ItemID: "item_1", Delta: EncodeAudio(pcmRamp(msToByteOffset(100)))}, nil)
	mustProcess(t, c, &events.AudioTranscriptDeltaEvent{ItemID: "item_1", ContentIndex: 0, Delta: "unfinished sentence"}, nil)

	item, _ := mustProcess(t, c, &events.ItemTruncatedEvent{ItemID: "item_1", AudioEndMS: 40}, nil)

	assert.Len(t, item.Formatted.Audio, msToByteOffset(40))
	assert.Empty(t, item.Formatted.Transcript)
}

func TestTruncatePastEndKeepsAudio(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)
	audio := pcmRamp(msToByteOffset(50))
	mustProcess(t, c, &events.AudioDeltaEvent{ItemID: "item_1", Delta: EncodeAudio(audio)}, nil)

	item, _ := mustProcess(t, c, &events.ItemTruncatedEvent{ItemID: "item_1", AudioEndMS: 500}, nil)
	assert.Equal(t, audio, item.Formatted.Audio)
}

func TestTruncateUnknownItem(t *testing.T) {
	c := newConversation()

	_, _, err := c.ProcessEvent(&events.ItemTruncatedEvent{ItemID: "ghost", AudioEndMS: 40}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Empty(t, c.Items())
}

func TestItemDeleted(t *testing.T) {
	c := newConversation()

	for _, id := range []string{"item_1", "item_2", "item_3"} {
		mustProcess(t, c, &events.ItemCreatedEvent{
			Item: events.Item{ID: id, Type: "message", Role: "user"},
		}, nil)
	}

	mustProcess(t, c, &events.ItemDeletedEvent{ItemID: "item_2"}, nil)

	_, ok := c.Item("item_2")
	assert.False(t, ok)
	items := c.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "item_1", items[0].ID)
	assert.Equal(t, "item_3", items[1].ID)

	_, _, err := c.ProcessEvent(&events.ItemDeletedEvent{ItemID: "item_2"}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestTranscriptionCompleted(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{
			ID:      "item_1",
			Type:    "message",
			Role:    "user",
			Content: []events.ContentPart{{Type: "input_audio"}},
		},
	}, nil)

	item, delta := mustProcess(t, c, &events.TranscriptionCompletedEvent{
		ItemID: "item_1", ContentIndex: 0, Transcript: "hello there",
	}, nil)

	assert.Equal(t, "hello there", item.Formatted.Transcript)
	assert.Equal(t, "hello there", item.Content[0].Transcript)
	assert.Equal(t, "hello there", delta.Transcript)
}

func TestTranscriptionCompletedBeforeItemIsQueued(t *testing.T) {
	c := newConversation()

	item, delta, err := c.ProcessEvent(&events.TranscriptionCompletedEvent{
		ItemID: "item_1", Transcript: "delayed",
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Nil(t, delta)

	created, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "user"},
	}, nil)
	assert.Equal(t, "delayed", created.Formatted.Transcript)
}

func TestEmptyTranscriptBecomesSpace(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{
			ID:      "item_1",
			Type:    "message",
			Role:    "user",
			Content: []events.ContentPart{{Type: "input_audio"}},
		},
	}, nil)

	item, _ := mustProcess(t, c, &events.TranscriptionCompletedEvent{
		ItemID: "item_1", ContentIndex: 0, Transcript: "",
	}, nil)

	assert.Equal(t, " ", item.Formatted.Transcript)
	assert.Empty(t, item.Content[0].Transcript)
}

func TestResponseTracking(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ResponseCreatedEvent{Response: events.ResponseInfo{ID: "resp_1"}}, nil)
	// A repeat registration of the same response is a no-op.
	mustProcess(t, c, &events.ResponseCreatedEvent{Response: events.ResponseInfo{ID: "resp_1"}}, nil)

	mustProcess(t, c, &events.OutputItemAddedEvent{
		ResponseID: "resp_1",
		Item:       events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)

	_, _, err := c.ProcessEvent(&events.OutputItemAddedEvent{
		ResponseID: "resp_2",
		Item:       events.Item{ID: "item_2", Type: "message"},
	}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestOutputItemDone(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "assistant"},
	}, nil)

	item, _ := mustProcess(t, c, &events.OutputItemDoneEvent{
		Item: events.Item{ID: "item_1", Status: "completed"},
	}, nil)
	assert.Equal(t, StatusCompleted, item.Status)

	_, _, err := c.ProcessEvent(&events.OutputItemDoneEvent{
		Item: events.Item{ID: "ghost", Status: "completed"},
	}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestClear(t *testing.T) {
	c := newConversation()

	mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_1", Type: "message", Role: "user"},
	}, nil)
	c.QueueInputAudio(pcmRamp(48))

	c.Clear()

	assert.Empty(t, c.Items())
	item, _ := mustProcess(t, c, &events.ItemCreatedEvent{
		Item: events.Item{ID: "item_2", Type: "message", Role: "user"},
	}, nil)
	assert.Empty(t, item.Formatted.Audio)
}

func TestUnsupportedEvent(t *testing.T) {
	c := newConversation()

	_, _, err := c.ProcessEvent(&events.SessionCreatedEvent{}, nil)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}
