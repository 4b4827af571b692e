package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lingobridge/realtime-go/events"
)

// Room-level event names relayed from participant sessions.
const (
	RoomItemAppended  = "item.appended"
	RoomItemCompleted = "item.completed"
)

// RoomHandler receives a relayed session event tagged with the
// originating participant id.
type RoomHandler func(participantID string, event any)

// Participant describes one connected room member.
type Participant struct {
	ID        string
	Username  string
	SessionID string
	Anonymous bool
}

// Room groups independent session clients, one per human participant.
// Each participant keeps its own connection to the remote endpoint; the
// room assigns stable ids, relays session events to room-level listeners
// and fans out broadcast messages.
type Room struct {
	newClient func() *Client
	logger    *slog.Logger

	mu           sync.Mutex
	participants map[string]*Client
	identities   map[string]Participant
	listeners    map[string][]RoomHandler
}

// NewRoom creates an empty room. Every participant added later gets a
// fresh client built from opts.
func NewRoom(opts ...ClientOption) *Room {
	config := &clientConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	return &Room{
		newClient:    func() *Client { return New(opts...) },
		logger:       config.logger,
		participants: make(map[string]*Client),
		identities:   make(map[string]Participant),
		listeners:    make(map[string][]RoomHandler),
	}
}

// On registers a room-level listener for RoomItemAppended or
// RoomItemCompleted.
func (r *Room) On(name string, h RoomHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[name] = append(r.listeners[name], h)
}

func (r *Room) relay(name, participantID string, event any) {
	r.mu.Lock()
	handlers := append([]RoomHandler(nil), r.listeners[name]...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(participantID, event)
	}
}

// participantID derives a stable id. Anonymous names get a random suffix
// so repeat joins never collide.
func participantID(username string) (id, sessionID string) {
	if strings.HasPrefix(username, "anonymous-") {
		sessionID = uuid.NewString()[:8]
		return fmt.Sprintf("%s_%s", username, sessionID), sessionID
	}
	return username, ""
}

// AddParticipant connects a fresh session for the given name and wires
// its events into the room. Any existing session under the same id is
// torn down first; on failure the partially constructed session is
// disconnected before the error propagates.
func (r *Room) AddParticipant(ctx context.Context, username string) (string, *Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, sessionID := participantID(username)

	if _, exists := r.participants[id]; exists {
		r.removeLocked(ctx, id)
	}

	client := r.newClient()
	if err := r.connectParticipant(ctx, client); err != nil {
		return "", nil, fmt.Errorf("add participant %q: %w", username, err)
	}

	r.participants[id] = client
	r.identities[id] = Participant{
		ID:        id,
		Username:  username,
		SessionID: sessionID,
		Anonymous: strings.HasPrefix(username, "anonymous-"),
	}

	client.On(EventItemAppended, func(e any) { r.relay(RoomItemAppended, id, e) })
	client.On(EventItemCompleted, func(e any) { r.relay(RoomItemCompleted, id, e) })

	return id, client, nil
}

func (r *Room) connectParticipant(ctx context.Context, client *Client) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if err := client.WaitForSessionCreated(ctx); err != nil {
		if derr := client.Disconnect(ctx); derr != nil {
			r.logger.Error("cleanup after failed join", slog.Any("err", derr))
		}
		return err
	}
	return nil
}

// RemoveParticipant disconnects and discards a session. Removing an
// unknown id is a no-op.
func (r *Room) RemoveParticipant(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(ctx, id)
}

func (r *Room) removeLocked(ctx context.Context, id string) {
	client, ok := r.participants[id]
	delete(r.participants, id)
	delete(r.identities, id)
	if !ok {
		return
	}
	if client.IsConnected() {
		if err := client.Disconnect(ctx); err != nil {
			r.logger.Error("participant disconnect failed",
				slog.String("participant", id), slog.Any("err", err))
		}
	}
}

// Participants lists the current room members.
func (r *Room) Participants() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Participant, 0, len(r.participants))
	for id := range r.participants {
		out = append(out, r.identities[id])
	}
	return out
}

// Broadcast sends the same message to every connected participant in
// parallel. One participant failing never blocks delivery to the others;
// the per-participant errors are joined and returned.
func (r *Room) Broadcast(content ...events.ContentPart) error {
	r.mu.Lock()
	clients := make(map[string]*Client, len(r.participants))
	for id, client := range r.participants {
		if client.IsConnected() {
			clients[id] = client
		}
	}
	r.mu.Unlock()

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
		errs  []error
	)
	for id, client := range clients {
		wg.Add(1)
		go func(id string, client *Client) {
			defer wg.Done()
			if err := client.SendUserMessage(content...); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("participant %q: %w", id, err))
				errMu.Unlock()
			}
		}(id, client)
	}
	wg.Wait()

	return errors.Join(errs...)
}
