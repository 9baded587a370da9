// Package transport owns named bidirectional stream connections and delivers
// their lifecycle as edge events: connect, close, timeout, data, write.
package transport

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event names a connection callback hook.
type Event string

const (
	EventConnect Event = "connect"
	EventClose   Event = "close"
	EventTimeout Event = "timeout"
	EventData    Event = "data"
	EventWrite   Event = "write"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: connection closed")
)

const (
	dialTimeout = 5 * time.Second
	readBufSize = 4096
)

// Conn is one named stream connection. Register handlers before calling
// Dial; they run synchronously on the connection goroutine and must not
// block or mutate link state.
type Conn struct {
	name string
	addr string
	log  zerolog.Logger

	mu          sync.Mutex
	handlers    map[Event][]func([]byte)
	raw         net.Conn
	idleTimeout time.Duration
	dialed      bool
	closed      bool

	onDone func()
}

func (c *Conn) Name() string { return c.name }

// On appends a handler for the named event. The payload is non-nil only for
// data and write events.
func (c *Conn) On(ev Event, fn func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[ev] = append(c.handlers[ev], fn)
}

// SetIdleTimeout sets how long the stream may stay silent before a timeout
// event fires. Zero disables the idle check. The connection is never closed
// by a timeout; it is a liveness signal only.
func (c *Conn) SetIdleTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idleTimeout = d
}

// Dial starts the asynchronous connect and returns immediately. The outcome
// arrives as a connect event, or a close event when the dial fails.
func (c *Conn) Dial() {
	c.mu.Lock()
	if c.dialed || c.closed {
		c.mu.Unlock()
		return
	}
	c.dialed = true
	c.mu.Unlock()
	go c.run()
}

// Write sends bytes on the live connection and fires the write event.
func (c *Conn) Write(b []byte) error {
	c.mu.Lock()
	raw := c.raw
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}
	if raw == nil {
		return ErrNotConnected
	}
	if _, err := raw.Write(b); err != nil {
		c.log.Error().Err(err).Msg("write failed")
		return err
	}
	c.emit(EventWrite, b)
	return nil
}

// Close tears the connection down. The close event fires exactly once, no
// matter how many times Close is called or whether the peer closed first.
func (c *Conn) Close() {
	c.finish()
}

func (c *Conn) run() {
	raw, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		c.log.Error().Err(err).Str("addr", c.addr).Msg("dial failed")
		c.finish()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		raw.Close()
		return
	}
	c.raw = raw
	c.mu.Unlock()

	c.log.Info().Str("addr", c.addr).Msg("connected")
	c.emit(EventConnect, nil)
	c.readLoop(raw)
}

func (c *Conn) readLoop(raw net.Conn) {
	buf := make([]byte, readBufSize)
	for {
		idle := c.currentIdleTimeout()
		if idle > 0 {
			_ = raw.SetReadDeadline(time.Now().Add(idle))
		} else {
			_ = raw.SetReadDeadline(time.Time{})
		}

		n, err := raw.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.emit(EventData, chunk)
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				c.emit(EventTimeout, nil)
				continue
			}
			c.finish()
			return
		}
	}
}

func (c *Conn) currentIdleTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idleTimeout
}

func (c *Conn) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	raw := c.raw
	c.raw = nil
	done := c.onDone
	c.mu.Unlock()

	if raw != nil {
		raw.Close()
	}
	if done != nil {
		done()
	}
	c.log.Info().Msg("closed")
	c.emit(EventClose, nil)
}

func (c *Conn) emit(ev Event, payload []byte) {
	c.mu.Lock()
	fns := append(([]func([]byte))(nil), c.handlers[ev]...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
}
