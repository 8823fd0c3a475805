package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"parlor/internal/metrics"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const SendQueueSize = 256

var ErrSlowConsumer = errors.New("send queue full")

type wsConnection interface {
	Close() error
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
}

// Handler receives the events of one connection. Calls come from the
// connection's own goroutine, one at a time.
type Handler interface {
	OnMessage(c *Connection, data []byte)
	OnClose(c *Connection)
	OnError(c *Connection, err error)
}

type Connection struct {
	id         string
	ws         wsConnection
	fromClient chan []byte
	fromServer chan []byte
	errorCh    chan error
	closed     chan struct{}
	closeOnce  sync.Once
	closeErr   error

	mu    sync.Mutex
	state []byte
}

func NewConnection(ws wsConnection) *Connection {
	return &Connection{
		id:         uuid.NewString(),
		ws:         ws,
		fromClient: make(chan []byte),
		fromServer: make(chan []byte, SendQueueSize),
		errorCh:    make(chan error, 2),
		closed:     make(chan struct{}),
	}
}

func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) State() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) SetState(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = data
}

// Send queues a text frame without blocking. A full queue disconnects the socket.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.fromServer <- data:
		return true
	default:
		metrics.SocketsDroppedTotal.Inc()
		slog.Warn("disconnecting slow socket", "conn_id", c.id)
		c.Abort(ErrSlowConsumer)
		return false
	}
}

func (c *Connection) SendJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode outbound event", "conn_id", c.id, "error", err)
		return false
	}
	return c.Send(data)
}

// Close flushes queued frames and then shuts the socket down. Handle returns shortly after.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Abort shuts the socket down immediately, dropping queued frames.
func (c *Connection) Abort(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.closed)
	})
	_ = c.ws.Close()
}

// Reject closes a socket that was never handed to Handle, telling the client why.
func (c *Connection) Reject(reason string) {
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	c.Abort(nil)
}

func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

// Handle pumps the socket until it closes, then reports to h exactly once:
// OnClose for a clean shutdown, OnError otherwise.
func (c *Connection) Handle(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx, h)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.closeOnce.Do(func() { close(c.closed) })
	_ = c.ws.Close()
	wg.Wait()

	if c.closeErr != nil {
		err = c.closeErr
	}

	if isCleanClose(err) {
		h.OnClose(c)
		return
	}
	h.OnError(c, err)
}

func isCleanClose(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, errLocalClose):
		return true
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return true
	default:
		return false
	}
}

var errLocalClose = errors.New("closed locally")

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return errLocalClose
			default:
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		select {
		case c.fromClient <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, h Handler) error {
	for {
		select {
		case data := <-c.fromClient:
			h.OnMessage(c, data)
		case data := <-c.fromServer:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		case <-c.closed:
			c.flush()
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return errLocalClose
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Connection) flush() {
	for {
		select {
		case data := <-c.fromServer:
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}
