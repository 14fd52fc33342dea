package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/tandem/internal/engine"
	"github.com/dshills/tandem/internal/engine/operation"
	"github.com/dshills/tandem/internal/logging"
)

var (
	// ErrClientClosed is returned by Run after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrServer wraps an error the server reported before ending the session.
	ErrServer = errors.New("server error")
)

// errSessionEnded stops Run's other goroutines when the connection closes
// cleanly.
var errSessionEnded = errors.New("session ended")

// Client is a replica connected to a server. Local edits made through
// Engine are sent to the server; operations relayed by the server are
// applied to Engine.
type Client struct {
	conn   *websocket.Conn
	engine *engine.Engine
	logger *logging.Logger

	writeTimeout time.Duration
	out          chan []operation.Operation

	done      chan struct{}
	closeOnce sync.Once

	// stopped is closed when Run returns.
	stopped  chan struct{}
	stopOnce sync.Once
}

type clientOptions struct {
	logger       *logging.Logger
	engineOpts   []engine.Option
	writeTimeout time.Duration
	queue        int
	dialer       *websocket.Dialer
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

// WithClientLogger sets the client's logger.
func WithClientLogger(l *logging.Logger) ClientOption {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithEngineOptions passes options to the client's engine.
func WithEngineOptions(opts ...engine.Option) ClientOption {
	return func(o *clientOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithWriteTimeout bounds each write to the server.
func WithWriteTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithDialer sets the websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(o *clientOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// Dial connects to a document's websocket endpoint and builds a replica
// from the welcome snapshot. Call Run to keep it in sync.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		logger:       logging.NewNull(),
		writeTimeout: 10 * time.Second,
		queue:        256,
		dialer:       websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	conn, _, err := o.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var welcome Message
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	switch welcome.Type {
	case TypeWelcome:
	case TypeError:
		conn.Close()
		return nil, fmt.Errorf("server refused: %s", welcome.Error)
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: %q before welcome", ErrUnexpectedMessage, welcome.Type)
	}

	c := &Client{
		conn:         conn,
		logger:       o.logger.WithComponent("client").WithField("replica", welcome.Replica),
		writeTimeout: o.writeTimeout,
		out:          make(chan []operation.Operation, o.queue),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	engineOpts := append(o.engineOpts,
		engine.WithLogger(o.logger),
		engine.WithBroadcaster(engine.BroadcastFunc(c.enqueue)),
	)
	eng, err := engine.NewFromSnapshot(welcome.Replica, welcome.Snapshot, engineOpts...)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	c.engine = eng
	if len(welcome.Ops) > 0 {
		_, _ = eng.ReceiveBatch(welcome.Ops)
	}
	return c, nil
}

// Engine returns the client's replica.
func (c *Client) Engine() *engine.Engine {
	return c.engine
}

// enqueue runs as the engine's broadcaster. It blocks while the queue is
// full so no local operation is lost, until the session ends. After that
// operations stay local.
func (c *Client) enqueue(ops []operation.Operation) {
	select {
	case c.out <- ops:
	case <-c.done:
	case <-c.stopped:
	}
}

// Run exchanges operations with the server until ctx ends, Close is called
// or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(c.readLoop)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-c.done:
		}
		// Unblocks readLoop.
		_ = c.conn.Close()
		return nil
	})

	err := g.Wait()
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

// readLoop applies relayed operations. If the server reported an error
// before closing the session, that error ends Run.
func (c *Client) readLoop() error {
	var serverErr string
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if errors.Is(err, net.ErrClosed) || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				if serverErr != "" {
					return fmt.Errorf("%w: %s", ErrServer, serverErr)
				}
				return errSessionEnded
			}
			return err
		}
		switch msg.Type {
		case TypeOps:
			// Rejections are logged by the engine.
			_, _ = c.engine.ReceiveBatch(msg.Ops)
		case TypeError:
			serverErr = msg.Error
			c.logger.Warn("server error: %s", msg.Error)
		default:
			c.logger.Warn("ignoring %q message", msg.Type)
		}
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case ops := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteJSON(opsMessage(ops)); err != nil {
				return fmt.Errorf("send %d operations: %w", len(ops), err)
			}
		}
	}
}

// Close ends the session. Operations still queued are dropped.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.writeTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	return err
}
