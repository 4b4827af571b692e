package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lingobridge/realtime-go/eventbus"
	"github.com/lingobridge/realtime-go/events"
	"github.com/lingobridge/realtime-go/internal/websocket"
)

// Conn is one live duplex connection to the remote endpoint.
type Conn interface {
	WriteText(data []byte)
	Close(ctx context.Context) error
	Done() <-chan struct{}
}

// DialConfig carries the opaque connection parameters to a Dialer.
type DialConfig struct {
	URL       string
	Headers   http.Header
	OnMessage func(data []byte) error
	Logger    *slog.Logger
}

// Dialer opens a connection; the default dials a WebSocket.
type Dialer func(ctx context.Context, cfg DialConfig) (Conn, error)

func dialWebsocket(ctx context.Context, cfg DialConfig) (Conn, error) {
	return websocket.Connect(ctx, websocket.ClientConfig{
		URL:     cfg.URL,
		Headers: cfg.Headers,
		OnText:  cfg.OnMessage,
		Logger:  cfg.Logger,
	})
}

// Transport owns exactly one connection to the remote endpoint. Outbound
// commands are serialized as JSON envelopes and mirrored on the bus under
// "client.<type>" and "client.*" before they leave; every inbound frame
// is parsed into its typed event and dispatched under "server.<type>" and
// "server.*".
type Transport struct {
	bus    *eventbus.Bus
	logger *slog.Logger
	dial   Dialer
	url    string
	header http.Header

	mu   sync.Mutex
	conn Conn
}

func newTransport(bus *eventbus.Bus, logger *slog.Logger, dial Dialer, url string, header http.Header) *Transport {
	if dial == nil {
		dial = dialWebsocket
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Transport{
		bus:    bus,
		logger: logger,
		dial:   dial,
		url:    url,
		header: header,
	}
}

// Bus exposes the transport-level event bus.
func (t *Transport) Bus() *eventbus.Bus { return t.bus }

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Connect opens the connection and starts the receive loop. It fails when
// a connection already exists.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return usageErrorf("already connected")
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx, DialConfig{
		URL:       t.url,
		Headers:   t.header,
		OnMessage: t.receive,
		Logger:    t.logger,
	})
	if err != nil {
		return transportError("connect failed", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	// Drop the connection reference once the peer goes away so that
	// subsequent sends fail cleanly instead of writing into the void.
	go func() {
		<-conn.Done()
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
	}()

	return nil
}

// receive handles one inbound frame: parse, log errors, dispatch. Error
// frames are data at this layer; they are logged and dispatched like any
// other event.
func (t *Transport) receive(data []byte) error {
	evt, err := events.ParseServer(data)
	if err != nil {
		t.logger.Error("bad inbound frame", slog.Any("err", err))
		return err
	}

	if errEvt, ok := evt.(*events.ErrorEvent); ok {
		t.logger.Error("server error event", slog.Any("err", errEvt))
	}

	t.bus.Dispatch("server."+evt.EventType(), evt)
	t.bus.Dispatch("server.*", evt)
	return nil
}

// Send writes one command to the connection. The envelope is dispatched
// locally before the write so observers see outbound traffic first.
func (t *Transport) Send(evt events.ClientEvent) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return usageErrorf("not connected")
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}

	t.bus.Dispatch("client."+evt.EventType(), evt)
	t.bus.Dispatch("client.*", evt)

	conn.WriteText(data)
	return nil
}

// Disconnect closes the connection. Safe to call repeatedly.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	if err := conn.Close(ctx); err != nil {
		return transportError("disconnect failed", err)
	}
	return nil
}
