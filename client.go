// Package realtime implements a stateful client for bidirectional
// streaming speech endpoints: a transport that turns the raw event stream
// into typed events, a conversation state machine that reconciles the
// out-of-order stream into ordered items, a session client that owns
// configuration, audio buffering and tool invocation, and a room that
// composes many sessions for multi-participant translation.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/lingobridge/realtime-go/eventbus"
	"github.com/lingobridge/realtime-go/events"
	"github.com/lingobridge/realtime-go/tool"
)

// Session-level event names dispatched on the client bus.
const (
	EventConversationUpdated     = "conversation.updated"
	EventConversationInterrupted = "conversation.interrupted"
	EventConversationError       = "conversation.error"
	EventItemAppended            = "conversation.item.appended"
	EventItemCompleted           = "conversation.item.completed"
	EventTranscriptionCompleted  = "conversation.item.input_audio_transcription.completed"
	EventRealtime                = "realtime.event"
)

// ConversationUpdate is the payload of EventConversationUpdated and
// EventTranscriptionCompleted.
type ConversationUpdate struct {
	Item  *Item
	Delta *Delta
}

// ItemEvent is the payload of EventItemAppended and EventItemCompleted.
type ItemEvent struct {
	Item *Item
}

// RealtimeEvent mirrors every frame crossing the wire, for observers.
type RealtimeEvent struct {
	Time   time.Time
	Source string // "client" or "server"
	Event  any
}

type registeredTool struct {
	definition tool.Tool
	handler    tool.Handler
}

// Client is one session against the remote endpoint. It wires transport
// events into the conversation, owns the session configuration and the
// pending input audio buffer, and exposes the participant-facing
// operations.
type Client struct {
	config       *clientConfig
	bus          *eventbus.Bus
	transport    *Transport
	conversation *Conversation
	logger       *slog.Logger

	mu             sync.Mutex
	session        events.SessionUpdate
	tools          map[string]registeredTool
	inputAudio     []byte
	sessionCreated bool
	created        chan struct{}
}

// New builds a disconnected session client.
func New(opts ...ClientOption) *Client {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	c := &Client{
		config:       config,
		logger:       config.logger,
		bus:          eventbus.New(config.logger),
		conversation: NewConversation(config.logger),
		session:      config.sessionUpdate(),
		tools:        make(map[string]registeredTool),
		created:      make(chan struct{}),
	}
	c.transport = newTransport(
		eventbus.New(config.logger),
		config.logger,
		config.dialer,
		config.url(),
		config.headers(),
	)
	c.registerHandlers()
	return c
}

// On subscribes a handler to a session-level event.
func (c *Client) On(name string, h eventbus.Handler) eventbus.Subscription {
	return c.bus.On(name, h)
}

// Off removes a session-level subscription.
func (c *Client) Off(sub eventbus.Subscription) {
	c.bus.Off(sub)
}

// Conversation exposes the session's conversation state.
func (c *Client) Conversation() *Conversation {
	return c.conversation
}

func (c *Client) registerHandlers() {
	tb := c.transport.Bus()

	tb.On("client.*", func(e any) { c.relayRaw("client", e) })
	tb.On("server.*", func(e any) { c.relayRaw("server", e) })

	tb.On("server."+events.TypeSessionCreated, c.onSessionCreated)
	tb.On("server."+events.TypeItemCreated, c.onItemCreated)
	tb.On("server."+events.TypeSpeechStarted, c.onSpeechStarted)
	tb.On("server."+events.TypeSpeechStopped, c.onSpeechStopped)
	tb.On("server."+events.TypeOutputItemDone, c.onOutputItemDone)

	for _, t := range []string{
		events.TypeItemTruncated,
		events.TypeItemDeleted,
		events.TypeTranscriptionCompleted,
		events.TypeResponseCreated,
		events.TypeOutputItemAdded,
		events.TypeContentPartAdded,
		events.TypeAudioTranscriptDelta,
		events.TypeAudioDelta,
		events.TypeTextDelta,
		events.TypeFunctionArgsDelta,
	} {
		tb.On("server."+t, func(e any) { c.processEvent(e, nil) })
	}
}

func (c *Client) relayRaw(source string, event any) {
	c.bus.Dispatch(EventRealtime, RealtimeEvent{
		Time:   time.Now(),
		Source: source,
		Event:  event,
	})
}

func (c *Client) onSessionCreated(any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sessionCreated {
		c.sessionCreated = true
		close(c.created)
	}
}

// processEvent routes one server event through the conversation and
// re-dispatches the semantic view. A conversation failure is surfaced on
// the bus and logged, never swallowed, and never kills the receive loop.
func (c *Client) processEvent(event any, inputAudio []byte) (*Item, *Delta) {
	item, delta, err := c.conversation.ProcessEvent(event, inputAudio)
	if err != nil {
		c.logger.Error("conversation event failed", slog.Any("err", err))
		c.bus.Dispatch(EventConversationError, err)
		return nil, nil
	}
	// A transcription that raced ahead of its item is queued silently; the
	// merge surfaces through conversation.updated once the item arrives.
	if _, ok := event.(*events.TranscriptionCompletedEvent); ok && item != nil {
		c.bus.Dispatch(EventTranscriptionCompleted, ConversationUpdate{Item: item, Delta: delta})
	}
	if item != nil {
		c.bus.Dispatch(EventConversationUpdated, ConversationUpdate{Item: item, Delta: delta})
	}
	return item, delta
}

func (c *Client) onItemCreated(event any) {
	item, _ := c.processEvent(event, nil)
	if item == nil {
		return
	}
	c.bus.Dispatch(EventItemAppended, ItemEvent{Item: item})
	if item.Status == StatusCompleted {
		c.bus.Dispatch(EventItemCompleted, ItemEvent{Item: item})
	}
}

func (c *Client) onSpeechStarted(event any) {
	c.processEvent(event, nil)
	c.bus.Dispatch(EventConversationInterrupted, event)
}

func (c *Client) onSpeechStopped(event any) {
	c.mu.Lock()
	buf := append([]byte(nil), c.inputAudio...)
	c.mu.Unlock()
	c.processEvent(event, buf)
}

func (c *Client) onOutputItemDone(event any) {
	item, _ := c.processEvent(event, nil)
	if item == nil {
		return
	}
	if item.Status == StatusCompleted {
		c.bus.Dispatch(EventItemCompleted, ItemEvent{Item: item})
	}
	if item.Formatted.Tool != nil {
		t := *item.Formatted.Tool
		go c.callTool(t)
	}
}

// callTool executes one model-requested function call and reports the
// result (or the failure) back as a function_call_output item, then asks
// for a new response so the model can react to it.
func (c *Client) callTool(t FormattedTool) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("tool handler panicked",
				slog.String("tool", t.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	output := c.runTool(t)

	err := c.transport.Send(events.ConversationItemCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeItemCreate),
		Item: events.Item{
			Type:   string(ItemTypeFunctionCallOutput),
			CallID: t.CallID,
			Output: output,
		},
	})
	if err != nil {
		c.logger.Error("tool output send failed", slog.String("tool", t.Name), slog.Any("err", err))
		return
	}
	if err := c.CreateResponse(); err != nil {
		c.logger.Error("tool follow-up response failed", slog.String("tool", t.Name), slog.Any("err", err))
	}
}

func (c *Client) runTool(t FormattedTool) string {
	fail := func(err error) string {
		c.logger.Error("tool call failed", slog.String("tool", t.Name), slog.Any("err", err))
		d, _ := json.Marshal(map[string]any{"error": err.Error()})
		return string(d)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(t.Arguments), &args); err != nil {
		return fail(usageErrorf("tool %q: bad arguments: %v", t.Name, err))
	}

	c.mu.Lock()
	rt, ok := c.tools[t.Name]
	c.mu.Unlock()
	if !ok {
		return fail(usageErrorf("tool %q has not been registered", t.Name))
	}

	result, err := rt.handler(context.Background(), args)
	if err != nil {
		return fail(err)
	}

	d, err := json.Marshal(result)
	if err != nil {
		return fail(err)
	}
	return string(d)
}

// IsConnected reports whether the transport holds a live connection.
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// Connect opens the transport and immediately pushes the current session
// configuration. It fails when already connected.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.config.validate(); err != nil {
		return err
	}
	if c.IsConnected() {
		return usageErrorf("already connected, use Disconnect first")
	}
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}
	return c.pushSessionUpdate()
}

// WaitForSessionCreated blocks until the remote confirms session
// creation. The wait has no internal timeout; bound it with ctx.
func (c *Client) WaitForSessionCreated(ctx context.Context) error {
	if !c.IsConnected() {
		return usageErrorf("not connected, use Connect first")
	}
	c.mu.Lock()
	if c.sessionCreated {
		c.mu.Unlock()
		return nil
	}
	created := c.created
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-created:
		return nil
	}
}

// Disconnect resets the session-created flag, clears the conversation and
// closes the transport. Safe to call repeatedly; a disconnected session
// can be connected again and starts from an empty conversation.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.sessionCreated = false
	c.created = make(chan struct{})
	c.mu.Unlock()

	c.conversation.Clear()

	if c.transport.IsConnected() {
		return c.transport.Disconnect(ctx)
	}
	return nil
}

// RegisterTool adds a model-invocable function and, when connected,
// pushes the updated session configuration.
func (c *Client) RegisterTool(definition tool.Tool, handler tool.Handler) error {
	if definition.Name == "" {
		return usageErrorf("missing tool name in definition")
	}
	if handler == nil {
		return usageErrorf("tool %q: handler must not be nil", definition.Name)
	}

	c.mu.Lock()
	if _, exists := c.tools[definition.Name]; exists {
		c.mu.Unlock()
		return usageErrorf("tool %q already registered, unregister it first", definition.Name)
	}
	c.tools[definition.Name] = registeredTool{definition: definition, handler: handler}
	c.mu.Unlock()

	if c.IsConnected() {
		return c.pushSessionUpdate()
	}
	return nil
}

// UnregisterTool removes a previously registered tool.
func (c *Client) UnregisterTool(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tools[name]; !ok {
		return usageErrorf("tool %q does not exist, cannot be removed", name)
	}
	delete(c.tools, name)
	return nil
}

// UpdateSession mutates the session configuration and, when connected,
// pushes it to the remote endpoint.
func (c *Client) UpdateSession(opts ...SessionOption) error {
	c.mu.Lock()
	for _, opt := range opts {
		opt(&c.session)
	}
	c.mu.Unlock()

	if c.IsConnected() {
		return c.pushSessionUpdate()
	}
	return nil
}

// sessionPayload merges the session-level tools with the registered tool
// definitions. Registered tools are appended in name order so the payload
// is deterministic.
func (c *Client) sessionPayload() events.SessionUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	tools := append([]tool.Tool(nil), s.Tools...)

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := c.tools[name].definition
		def.Type = "function"
		tools = append(tools, def)
	}
	s.Tools = tools
	return s
}

func (c *Client) pushSessionUpdate() error {
	return c.transport.Send(events.SessionUpdateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeSessionUpdate),
		Session:   c.sessionPayload(),
	})
}

// AppendInputAudio streams raw PCM16LE session-rate audio to the input
// buffer, both remotely and in the local copy used for speech slicing and
// manual commits. Empty input is a no-op.
func (c *Client) AppendInputAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	err := c.transport.Send(events.InputAudioBufferAppendEvent{
		BaseEvent: events.NewBaseEvent(events.TypeInputAudioAppend),
		Audio:     EncodeAudio(pcm),
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.inputAudio = append(c.inputAudio, pcm...)
	c.mu.Unlock()
	return nil
}

// CreateResponse asks the model to generate. With turn detection disabled
// and a non-empty input buffer it first commits the buffer, hands it to
// the conversation for the next user item, and clears the local copy.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	needCommit := c.session.TurnDetection == nil && len(c.inputAudio) > 0
	var buf []byte
	if needCommit {
		buf = c.inputAudio
		c.inputAudio = nil
	}
	c.mu.Unlock()

	if needCommit {
		err := c.transport.Send(events.InputAudioBufferCommitEvent{
			BaseEvent: events.NewBaseEvent(events.TypeInputAudioCommit),
		})
		if err != nil {
			return err
		}
		c.conversation.QueueInputAudio(buf)
	}

	return c.transport.Send(events.ResponseCreateEvent{
		BaseEvent: events.NewBaseEvent(events.TypeResponseCreate),
	})
}

// CancelResponse cancels the in-progress response. With an item id it
// additionally truncates that assistant message at the playback position
// given as a sample count, so the conversation reflects what the listener
// actually heard.
func (c *Client) CancelResponse(itemID string, sampleCount int) (*Item, error) {
	cancel := func() error {
		return c.transport.Send(events.ResponseCancelEvent{
			BaseEvent: events.NewBaseEvent(events.TypeResponseCancel),
		})
	}

	if itemID == "" {
		return nil, cancel()
	}

	item, ok := c.conversation.Item(itemID)
	if !ok {
		return nil, usageErrorf("could not find item %q", itemID)
	}
	if item.Type != ItemTypeMessage {
		return nil, usageErrorf("can only cancel items of type %q", ItemTypeMessage)
	}
	if item.Role != RoleAssistant {
		return nil, usageErrorf("can only cancel items with role %q", RoleAssistant)
	}

	if err := cancel(); err != nil {
		return nil, err
	}

	audioIndex := -1
	for i, part := range item.Content {
		if part.Type == "audio" {
			audioIndex = i
			break
		}
	}
	if audioIndex == -1 {
		return nil, usageErrorf("item %q has no audio content to truncate", itemID)
	}

	err := c.transport.Send(events.ConversationItemTruncateEvent{
		BaseEvent:    events.NewBaseEvent(events.TypeItemTruncate),
		ItemID:       itemID,
		ContentIndex: audioIndex,
		AudioEndMS:   sampleCount * 1000 / SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// SendUserMessage creates a user message item with the given content and
// requests a response.
func (c *Client) SendUserMessage(content ...events.ContentPart) error {
	if len(content) > 0 {
		err := c.transport.Send(events.ConversationItemCreateEvent{
			BaseEvent: events.NewBaseEvent(events.TypeItemCreate),
			Item: events.Item{
				ID:      events.NewID("item_"),
				Type:    string(ItemTypeMessage),
				Role:    string(RoleUser),
				Content: content,
			},
		})
		if err != nil {
			return err
		}
	}
	return c.CreateResponse()
}

// DeleteItem removes a conversation item on the remote endpoint. The
// local state follows when the deletion event comes back.
func (c *Client) DeleteItem(itemID string) error {
	return c.transport.Send(events.ConversationItemDeleteEvent{
		BaseEvent: events.NewBaseEvent(events.TypeItemDelete),
		ItemID:    itemID,
	})
}

// WaitForNextItem blocks until the next item is appended to the
// conversation. Bound the wait with ctx.
func (c *Client) WaitForNextItem(ctx context.Context) (*Item, error) {
	return c.waitForItemEvent(ctx, EventItemAppended)
}

// WaitForNextCompletedItem blocks until the next item completes. Bound
// the wait with ctx.
func (c *Client) WaitForNextCompletedItem(ctx context.Context) (*Item, error) {
	return c.waitForItemEvent(ctx, EventItemCompleted)
}

func (c *Client) waitForItemEvent(ctx context.Context, name string) (*Item, error) {
	payload, err := c.bus.WaitForNext(ctx, name)
	if err != nil {
		return nil, err
	}
	evt, ok := payload.(ItemEvent)
	if !ok {
		return nil, protocolErrorf("unexpected payload %T for %s", payload, name)
	}
	return evt.Item, nil
}

// TextContent builds a user text content part.
func TextContent(text string) events.ContentPart {
	return events.ContentPart{Type: "input_text", Text: text}
}

// AudioContent builds a user audio content part from raw PCM16LE bytes.
func AudioContent(pcm []byte) events.ContentPart {
	return events.ContentPart{Type: "input_audio", Audio: EncodeAudio(pcm)}
}

// SessionOption mutates the session configuration record.
type SessionOption func(*events.SessionUpdate)

func SessionVoice(voice string) SessionOption {
	return func(s *events.SessionUpdate) { s.Voice = voice }
}

func SessionInstructions(instructions string) SessionOption {
	return func(s *events.SessionUpdate) { s.Instructions = instructions }
}

func SessionModalities(modalities ...string) SessionOption {
	return func(s *events.SessionUpdate) { s.Modalities = modalities }
}

func SessionTurnDetection(td *events.TurnDetection) SessionOption {
	return func(s *events.SessionUpdate) { s.TurnDetection = td }
}

func SessionTemperature(temperature float64) SessionOption {
	return func(s *events.SessionUpdate) { s.Temperature = temperature }
}
