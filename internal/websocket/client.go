// Package websocket wraps a gobwas/ws client connection behind a small
// write/close surface with channel-based pumps.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	OnText      func(data []byte) error
	Logger      *slog.Logger
}

type Client struct {
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger
}

func (c *Client) setDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection has shut down, locally or remotely.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) WriteText(data []byte) {
	c.write(ws.OpText, data)
}

func (c *Client) Ping(data []byte) {
	c.write(ws.OpPing, data)
}

func (c *Client) Close(ctx context.Context) error {
	c.write(ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, "closing"))
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

func (c *Client) write(opcode ws.OpCode, data []byte) {
	select {
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
	case <-c.done:
	}
}

// Connect dials the endpoint, performs the WebSocket handshake and starts
// the read and write pumps. Text frames are delivered to config.OnText in
// arrival order on a single goroutine.
func Connect(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("url", config.URL))

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, _, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		ws.PutReader(buf)
	}

	logger.Info("connected")

	client := &Client{
		out:    make(chan wsutil.Message, 1000),
		done:   make(chan struct{}),
		logger: logger,
	}

	onText := config.OnText
	if onText == nil {
		onText = func([]byte) error { return nil }
	}

	// read pump: frames are handled in strict arrival order.
	go func() {
		defer client.setDone()
		for {
			messages, err := wsutil.ReadServerMessage(conn, nil)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Error("ws read failed", slog.Any("err", err))
				}
				return
			}
			for _, msg := range messages {
				if ws.OpCode.IsControl(msg.OpCode) {
					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Error("control message handling failed", slog.Any("err", err))
					}
					if msg.OpCode == ws.OpClose {
						logger.Debug("rcv: close", slog.String("reason", string(msg.Payload)))
						return
					}
					continue
				}
				if msg.OpCode != ws.OpText {
					continue
				}
				if err := onText(msg.Payload); err != nil {
					logger.Error("text message handler failed", slog.Any("err", err))
				}
			}
		}
	}()

	// write pump
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.done:
				return
			case msg := <-client.out:
				if err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload); err != nil {
					logger.Error("ws write failed", slog.Any("err", err))
					client.setDone()
					return
				}
			}
		}
	}()

	return client, nil
}
