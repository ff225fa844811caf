// Package bridge implements the session transport by talking to a protocol
// bridge process over a WebSocket. The bridge owns the chat protocol; this
// side only sees JSON frames.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/statuskeeper/internal/types"
)

var ErrClosed = errors.New("bridge connection closed")

const (
	defaultURL       = "ws://localhost:3001"
	signalBuffer     = 256
	pingInterval     = 30 * time.Second
	readTimeout      = 75 * time.Second
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 15 * time.Second
)

// Transport dials the bridge.
type Transport struct {
	URL   string
	Token string

	dialer *websocket.Dialer
}

func NewTransport(url, token string) *Transport {
	if url == "" {
		url = defaultURL
	}
	return &Transport{
		URL:    url,
		Token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Connect opens a WebSocket to the bridge and hands it the stored
// credentials (nil on first pairing).
func (t *Transport) Connect(ctx context.Context, credentials []byte) (types.Conn, error) {
	header := http.Header{}
	if t.Token != "" {
		header.Set("Authorization", "Bearer "+t.Token)
	}
	ws, resp, err := t.dialer.DialContext(ctx, t.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial bridge %s: %w (status %d)", t.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial bridge %s: %w", t.URL, err)
	}

	c := &Conn{
		ws:      ws,
		signals: make(chan types.Signal, signalBuffer),
		pending: make(map[string]chan *frame),
		done:    make(chan struct{}),
	}
	if err := c.write(&frame{Type: frameHello, Credentials: credentials}); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// Conn is one bridge session.
type Conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	signals chan types.Signal

	mu      sync.Mutex
	pending map[string]chan *frame

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (c *Conn) Signals() <-chan types.Signal { return c.signals }

// FetchMedia asks the bridge to download and decrypt one payload and waits
// for the answer.
func (c *Conn) FetchMedia(ctx context.Context, ref json.RawMessage, kind types.Kind) ([]byte, error) {
	id := string(types.NewRequestID())
	ch := make(chan *frame, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	if err := c.write(&frame{Type: frameDownload, RequestID: id, Media: ref, Kind: kind}); err != nil {
		return nil, fmt.Errorf("send download request: %w", err)
	}

	select {
	case f, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		if f.Error != "" {
			return nil, fmt.Errorf("bridge download: %s", f.Error)
		}
		return f.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Close ends the session. Signals closes once the read loop exits.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"))
		c.writeMu.Unlock()
		err = c.ws.Close()
		c.wg.Wait()
	})
	return err
}

func (c *Conn) write(f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(f)
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("bridge read failed", "error", err)
				} else {
					slog.Info("bridge connection ended", "error", err)
				}
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Warn("bridge sent malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case frameMedia:
			c.resolve(&f)
			continue
		case frameError:
			slog.Warn("bridge error", "error", f.Error)
			continue
		}

		sig, ok := f.toSignal()
		if !ok {
			slog.Debug("bridge frame ignored", "type", f.Type)
			continue
		}
		select {
		case c.signals <- sig:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) resolve(f *frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.RequestID]
	c.mu.Unlock()
	if !ok {
		slog.Debug("bridge media response without request", "request_id", f.RequestID)
		return
	}
	select {
	case ch <- f:
	default:
	}
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// shutdown fails pending downloads and closes the signal stream.
func (c *Conn) shutdown() {
	c.mu.Lock()
	for _, ch := range c.pending {
		close(ch)
	}
	c.pending = nil
	c.mu.Unlock()
	close(c.signals)
	c.ws.Close()
}
