package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Polling bounds for require.Eventually across the package tests.
const (
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

// fakeConn is an in-memory Conn capturing outbound frames.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (f *fakeConn) WriteText(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), data...))
}

func (f *fakeConn) Close(context.Context) error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func (f *fakeConn) Done() <-chan struct{} { return f.done }

func (f *fakeConn) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.frames))
	for _, frame := range f.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(frame, &env); err == nil {
			types = append(types, env.Type)
		}
	}
	return types
}

func (f *fakeConn) countType(eventType string) int {
	n := 0
	for _, t := range f.sentTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}

// lastOfType decodes the most recent frame of the given type.
func (f *fakeConn) lastOfType(t *testing.T, eventType string) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		var frame map[string]any
		require.NoError(t, json.Unmarshal(f.frames[i], &frame))
		if frame["type"] == eventType {
			return frame
		}
	}
	t.Fatalf("no frame of type %q sent", eventType)
	return nil
}

// testSession is a connected client backed by a fake connection.
type testSession struct {
	t       *testing.T
	client  *Client
	conn    *fakeConn
	receive func(data []byte) error
}

func newTestSession(t *testing.T, opts ...ClientOption) *testSession {
	t.Helper()

	s := &testSession{t: t, conn: newFakeConn()}
	dial := func(ctx context.Context, cfg DialConfig) (Conn, error) {
		s.receive = cfg.OnMessage
		return s.conn, nil
	}

	s.client = New(append([]ClientOption{withDialer(dial)}, opts...)...)
	require.NoError(t, s.client.Connect(context.Background()))
	return s
}

// deliver injects one server frame, as the receive loop would.
func (s *testSession) deliver(frame map[string]any) {
	s.t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(s.t, err)
	require.NoError(s.t, s.receive(data))
}

func itemCreated(item map[string]any) map[string]any {
	return map[string]any{"type": "conversation.item.created", "item": item}
}

func userMessage(id string) map[string]any {
	return map[string]any{"id": id, "type": "message", "role": "user"}
}

func assistantMessage(id string, content ...map[string]any) map[string]any {
	m := map[string]any{"id": id, "type": "message", "role": "assistant"}
	if len(content) > 0 {
		m["content"] = content
	}
	return m
}
