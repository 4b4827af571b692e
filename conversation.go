package realtime

import (
	"io"
	"log/slog"
	"sync"

	"github.com/lingobridge/realtime-go/events"
)

type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
)

// Item is one turn element of the conversation: a message, a function
// call, or a function call output.
type Item struct {
	ID        string
	Type      ItemType
	Role      Role
	Status    ItemStatus
	Content   []events.ContentPart
	CallID    string
	Name      string
	Arguments string
	Output    string
	Formatted Formatted
}

// Formatted is the aggregated, consumer-facing projection of an item:
// full text, transcript and audio so far, versus the raw incremental
// content parts.
type Formatted struct {
	Text       string
	Transcript string
	Audio      []byte
	Output     string
	Tool       *FormattedTool
}

// FormattedTool accumulates the function call a model is streaming.
type FormattedTool struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// Response tracks one assistant generation cycle and the ids of the items
// it produced.
type Response struct {
	ID     string
	Output []string
}

// Delta is the incremental fragment a processed event contributed.
type Delta struct {
	Text       string
	Transcript string
	Audio      []byte
	Arguments  string
}

// speechSegment tracks voice-activity-detected user speech before its
// item exists. The three signals for one utterance (speech started,
// speech stopped, item created) arrive in no guaranteed order; the
// segment converges to the same slice for every interleaving.
type speechSegment struct {
	startMS  int
	endMS    int
	hasStart bool
	hasEnd   bool
	buffer   []byte // input buffer snapshot taken at speech stop
	audio    []byte // resolved sample-accurate slice
}

// Conversation consumes dispatched server events and maintains the
// ordered item collection together with its id-keyed lookup. The two are
// always updated atomically under the conversation lock.
type Conversation struct {
	mu                sync.Mutex
	itemLookup        map[string]*Item
	items             []*Item
	responseLookup    map[string]*Response
	responses         []*Response
	queuedSpeech      map[string]*speechSegment
	queuedTranscripts map[string]string
	queuedInputAudio  []byte
	logger            *slog.Logger
}

func NewConversation(logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Conversation{logger: logger}
	c.Clear()
	return c
}

// Clear resets every table. Called on every disconnect so a reconnected
// session starts from an empty conversation.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemLookup = make(map[string]*Item)
	c.items = nil
	c.responseLookup = make(map[string]*Response)
	c.responses = nil
	c.queuedSpeech = make(map[string]*speechSegment)
	c.queuedTranscripts = make(map[string]string)
	c.queuedInputAudio = nil
}

// QueueInputAudio stores the committed input buffer to be attached to the
// next user message item.
func (c *Conversation) QueueInputAudio(audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInputAudio = audio
}

// Item returns the conversation item with the given id.
func (c *Conversation) Item(id string) (*Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.itemLookup[id]
	return item, ok
}

// Items returns the ordered conversation items.
func (c *Conversation) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Item, len(c.items))
	copy(out, c.items)
	return out
}

// ProcessEvent applies one typed server event. inputAudio is the live
// input buffer and is only consulted for speech stop events. It returns
// the affected item, the incremental delta the event contributed, or a
// ProtocolError when the event references state that must exist but does
// not. A failed event leaves the conversation unchanged.
func (c *Conversation) ProcessEvent(event any, inputAudio []byte) (*Item, *Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt := event.(type) {
	case *events.ItemCreatedEvent:
		return c.processItemCreated(evt)
	case *events.ItemTruncatedEvent:
		return c.processItemTruncated(evt)
	case *events.ItemDeletedEvent:
		return c.processItemDeleted(evt)
	case *events.TranscriptionCompletedEvent:
		return c.processTranscriptionCompleted(evt)
	case *events.SpeechStartedEvent:
		return c.processSpeechStarted(evt)
	case *events.SpeechStoppedEvent:
		return c.processSpeechStopped(evt, inputAudio)
	case *events.ResponseCreatedEvent:
		return c.processResponseCreated(evt)
	case *events.OutputItemAddedEvent:
		return c.processOutputItemAdded(evt)
	case *events.OutputItemDoneEvent:
		return c.processOutputItemDone(evt)
	case *events.ContentPartAddedEvent:
		return c.processContentPartAdded(evt)
	case *events.AudioTranscriptDeltaEvent:
		return c.processAudioTranscriptDelta(evt)
	case *events.AudioDeltaEvent:
		return c.processAudioDelta(evt)
	case *events.TextDeltaEvent:
		return c.processTextDelta(evt)
	case *events.FunctionCallArgumentsDeltaEvent:
		return c.processFunctionCallArgumentsDelta(evt)
	default:
		return nil, nil, protocolErrorf("no conversation processor for event %T", event)
	}
}

func (c *Conversation) processItemCreated(evt *events.ItemCreatedEvent) (*Item, *Delta, error) {
	wire := evt.Item

	// Duplicate creation frames leave the registered item untouched:
	// reclassifying would wipe the accumulated formatted state and drag a
	// completed item back to in_progress.
	if _, ok := c.itemLookup[wire.ID]; ok {
		return nil, nil, nil
	}

	item := &Item{
		ID:        wire.ID,
		Type:      ItemType(wire.Type),
		Role:      Role(wire.Role),
		Status:    ItemStatus(wire.Status),
		Content:   append([]events.ContentPart(nil), wire.Content...),
		CallID:    wire.CallID,
		Name:      wire.Name,
		Arguments: wire.Arguments,
		Output:    wire.Output,
	}
	c.itemLookup[item.ID] = item
	c.items = append(c.items, item)
	for _, part := range item.Content {
		if part.Type == "text" || part.Type == "input_text" {
			item.Formatted.Text += part.Text
		}
	}
	if transcript, ok := c.queuedTranscripts[item.ID]; ok {
		item.Formatted.Transcript = transcript
		delete(c.queuedTranscripts, item.ID)
	}
	c.resolveSpeech(item.ID)

	switch item.Type {
	case ItemTypeMessage:
		if item.Role == RoleUser {
			item.Status = StatusCompleted
			if c.queuedInputAudio != nil {
				item.Formatted.Audio = c.queuedInputAudio
				c.queuedInputAudio = nil
			}
		} else {
			item.Status = StatusInProgress
		}
	case ItemTypeFunctionCall:
		item.Formatted.Tool = &FormattedTool{
			Type:      "function",
			Name:      item.Name,
			CallID:    item.CallID,
			Arguments: item.Arguments,
		}
		item.Status = StatusInProgress
	case ItemTypeFunctionCallOutput:
		item.Status = StatusCompleted
		item.Formatted.Output = item.Output
	}

	return item, nil, nil
}

func (c *Conversation) processItemTruncated(evt *events.ItemTruncatedEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("item.truncated: item %q not found", evt.ItemID)
	}

	end := msToByteOffset(evt.AudioEndMS)
	if end < len(item.Formatted.Audio) {
		item.Formatted.Audio = item.Formatted.Audio[:end]
	}
	// The truncated tail is unknown, so the transcript is invalidated
	// wholesale rather than trimmed.
	item.Formatted.Transcript = ""

	return item, nil, nil
}

func (c *Conversation) processItemDeleted(evt *events.ItemDeletedEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("item.deleted: item %q not found", evt.ItemID)
	}

	delete(c.itemLookup, item.ID)
	for i, it := range c.items {
		if it == item {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			break
		}
	}

	return item, nil, nil
}

func (c *Conversation) processTranscriptionCompleted(evt *events.TranscriptionCompletedEvent) (*Item, *Delta, error) {
	// An empty transcript becomes a single space: spoken but inaudible,
	// as opposed to no speech at all.
	formatted := evt.Transcript
	if formatted == "" {
		formatted = " "
	}

	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		// Transcription may race ahead of item creation; hold it for the
		// merge in processItemCreated.
		c.queuedTranscripts[evt.ItemID] = formatted
		return nil, nil, nil
	}

	if evt.ContentIndex < 0 || evt.ContentIndex >= len(item.Content) {
		return nil, nil, protocolErrorf("transcription.completed: item %q has no content part %d", evt.ItemID, evt.ContentIndex)
	}
	item.Content[evt.ContentIndex].Transcript = evt.Transcript
	item.Formatted.Transcript = formatted

	return item, &Delta{Transcript: evt.Transcript}, nil
}

func (c *Conversation) processSpeechStarted(evt *events.SpeechStartedEvent) (*Item, *Delta, error) {
	seg := c.speechSegment(evt.ItemID)
	seg.startMS = evt.AudioStartMS
	seg.hasStart = true
	c.resolveSpeech(evt.ItemID)
	return nil, nil, nil
}

func (c *Conversation) processSpeechStopped(evt *events.SpeechStoppedEvent, inputAudio []byte) (*Item, *Delta, error) {
	seg := c.speechSegment(evt.ItemID)
	seg.endMS = evt.AudioEndMS
	seg.hasEnd = true
	if inputAudio != nil {
		seg.buffer = append([]byte(nil), inputAudio...)
	}
	c.resolveSpeech(evt.ItemID)
	return nil, nil, nil
}

func (c *Conversation) speechSegment(itemID string) *speechSegment {
	seg, ok := c.queuedSpeech[itemID]
	if !ok {
		seg = &speechSegment{}
		c.queuedSpeech[itemID] = seg
	}
	return seg
}

// resolveSpeech slices the segment once both boundaries and the buffer
// snapshot are known, and moves the slice onto the item once the item
// exists. Safe to call after any of the three racing signals.
func (c *Conversation) resolveSpeech(itemID string) {
	seg, ok := c.queuedSpeech[itemID]
	if !ok {
		return
	}
	if seg.audio == nil && seg.hasStart && seg.hasEnd && seg.buffer != nil {
		seg.audio = sliceAudio(seg.buffer, seg.startMS, seg.endMS)
		seg.buffer = nil
	}
	if seg.audio == nil {
		return
	}
	if item, ok := c.itemLookup[itemID]; ok {
		item.Formatted.Audio = seg.audio
		delete(c.queuedSpeech, itemID)
	}
}

func (c *Conversation) processResponseCreated(evt *events.ResponseCreatedEvent) (*Item, *Delta, error) {
	id := evt.Response.ID
	if _, ok := c.responseLookup[id]; !ok {
		response := &Response{ID: id}
		c.responseLookup[id] = response
		c.responses = append(c.responses, response)
	}
	return nil, nil, nil
}

func (c *Conversation) processOutputItemAdded(evt *events.OutputItemAddedEvent) (*Item, *Delta, error) {
	response, ok := c.responseLookup[evt.ResponseID]
	if !ok {
		return nil, nil, protocolErrorf("response.output_item.added: response %q not found", evt.ResponseID)
	}
	response.Output = append(response.Output, evt.Item.ID)
	return nil, nil, nil
}

func (c *Conversation) processOutputItemDone(evt *events.OutputItemDoneEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.Item.ID]
	if !ok {
		return nil, nil, protocolErrorf("response.output_item.done: item %q not found", evt.Item.ID)
	}
	item.Status = ItemStatus(evt.Item.Status)
	return item, nil, nil
}

func (c *Conversation) processContentPartAdded(evt *events.ContentPartAddedEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("response.content_part.added: item %q not found", evt.ItemID)
	}
	item.Content = append(item.Content, evt.Part)
	return item, nil, nil
}

func (c *Conversation) processAudioTranscriptDelta(evt *events.AudioTranscriptDeltaEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("response.audio_transcript.delta: item %q not found", evt.ItemID)
	}
	if evt.ContentIndex < 0 || evt.ContentIndex >= len(item.Content) {
		return nil, nil, protocolErrorf("response.audio_transcript.delta: item %q has no content part %d", evt.ItemID, evt.ContentIndex)
	}
	item.Content[evt.ContentIndex].Transcript += evt.Delta
	item.Formatted.Transcript += evt.Delta
	return item, &Delta{Transcript: evt.Delta}, nil
}

func (c *Conversation) processAudioDelta(evt *events.AudioDeltaEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		c.logger.Debug("response.audio.delta: item not found", slog.String("item_id", evt.ItemID))
		return nil, nil, nil
	}
	audio, err := DecodeAudio(evt.Delta)
	if err != nil {
		return nil, nil, protocolErrorf("response.audio.delta: item %q: bad base64 payload: %v", evt.ItemID, err)
	}
	item.Formatted.Audio = append(item.Formatted.Audio, audio...)
	return item, &Delta{Audio: audio}, nil
}

func (c *Conversation) processTextDelta(evt *events.TextDeltaEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("response.text.delta: item %q not found", evt.ItemID)
	}
	if evt.ContentIndex < 0 || evt.ContentIndex >= len(item.Content) {
		return nil, nil, protocolErrorf("response.text.delta: item %q has no content part %d", evt.ItemID, evt.ContentIndex)
	}
	item.Content[evt.ContentIndex].Text += evt.Delta
	item.Formatted.Text += evt.Delta
	return item, &Delta{Text: evt.Delta}, nil
}

func (c *Conversation) processFunctionCallArgumentsDelta(evt *events.FunctionCallArgumentsDeltaEvent) (*Item, *Delta, error) {
	item, ok := c.itemLookup[evt.ItemID]
	if !ok {
		return nil, nil, protocolErrorf("response.function_call_arguments.delta: item %q not found", evt.ItemID)
	}
	item.Arguments += evt.Delta
	if item.Formatted.Tool != nil {
		item.Formatted.Tool.Arguments += evt.Delta
	}
	return item, &Delta{Arguments: evt.Delta}, nil
}
