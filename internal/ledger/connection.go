// Package ledger provides the per-session connection handle to the Ledger
// Engine and the typed event bus that fans engine events out to handlers.
package ledger

import (
	"errors"
	"sync"

	"github.com/Klingon-tech/klingnet-hub/config"
	"github.com/Klingon-tech/klingnet-hub/internal/engine"
	klog "github.com/Klingon-tech/klingnet-hub/internal/log"
	"github.com/rs/zerolog"
)

// Connection errors.
var (
	ErrAlreadyConnected = errors.New("session already has an open connection")
	ErrNotConnected     = errors.New("no active connection")
)

// HandlerID identifies a registered event handler so it can be removed
// precisely. Handler identity is preserved across the handler's lifetime.
type HandlerID uint64

// Connection is a session's live connection to one network. At most one
// open connection exists per session at a time.
type Connection struct {
	network  config.Network
	endpoint string
	eng      engine.Engine

	mu       sync.Mutex
	handlers map[HandlerID]func(engine.Event)
	nextID   HandlerID
	closed   bool
	done     chan struct{}

	logger zerolog.Logger
}

// New wraps an engine in a connection handle and starts the event
// dispatcher. The connection owns the engine and closes it on Close.
func New(network config.Network, endpoint string, eng engine.Engine) *Connection {
	c := &Connection{
		network:  network,
		endpoint: endpoint,
		eng:      eng,
		handlers: make(map[HandlerID]func(engine.Event)),
		done:     make(chan struct{}),
		logger:   klog.WithComponent("ledger").With().Str("network", string(network)).Logger(),
	}
	go c.dispatch()
	return c
}

// Network returns the network this connection is bound to.
func (c *Connection) Network() config.Network {
	return c.network
}

// Endpoint returns the node RPC endpoint.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Connected reports whether the connection is still open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// Engine returns the underlying engine, or an error when the connection
// has been closed.
func (c *Connection) Engine() (engine.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrNotConnected
	}
	return c.eng, nil
}

// AddHandler registers an event handler and returns its identity.
func (c *Connection) AddHandler(fn func(engine.Event)) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[id] = fn
	return id
}

// RemoveHandler deregisters a handler. Removing an unknown or already
// removed handler is a no-op, as is removal on a closed connection.
func (c *Connection) RemoveHandler(id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, id)
}

// HandlerCount returns the number of registered handlers.
func (c *Connection) HandlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// dispatch drains the engine's event stream and fans each event out to the
// registered handlers. It exits when the engine's channel closes or the
// connection is closed.
func (c *Connection) dispatch() {
	events := c.eng.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.mu.Lock()
			fns := make([]func(engine.Event), 0, len(c.handlers))
			for _, fn := range c.handlers {
				fns = append(fns, fn)
			}
			c.mu.Unlock()
			for _, fn := range fns {
				fn(ev)
			}
		case <-c.done:
			return
		}
	}
}

// Close stops dispatch and releases the engine. Closing twice is a
// checked no-op.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.handlers = make(map[HandlerID]func(engine.Event))
	close(c.done)
	c.mu.Unlock()

	if err := c.eng.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("engine close failed")
		return err
	}
	return nil
}
