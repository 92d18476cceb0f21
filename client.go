package mongosvc

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/mongosvc/wire"
)

// State is the lifecycle position of a Client.
type State int

const (
	Unconnected State = iota
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client owns a single connection to the mongo service and performs one
// request/response exchange at a time over it. The protocol carries no
// request identifier, so concurrent Execute calls are serialized rather
// than interleaved.
type Client struct {
	conf Config

	mu      sync.Mutex
	state   State
	conn    net.Conn
	rw      *bufio.ReadWriter
	failure error

	// Close interrupts a running exchange through live before it
	// waits for mu.
	closing atomic.Bool
	liveMu  sync.Mutex
	live    net.Conn
}

// NewClient validates the configuration and returns an unconnected
// client.
func NewClient(conf Config) (*Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, newError(UsageError, "new client", errors.Wrap(err, "invalid configuration"))
	}

	return &Client{conf: conf}, nil
}

// Connect builds a client and opens its connection.
func Connect(ctx context.Context, conf Config) (*Client, error) {
	c, err := NewClient(conf)
	if err != nil {
		return nil, err
	}

	if err := c.Open(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) Config() Config { return c.conf }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open makes a single attempt to connect. It does not retry.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Unconnected {
		return usageErrorf("open", "cannot open a %s client", c.state)
	}

	addr := c.conf.Address()
	dialer := &net.Dialer{Timeout: c.conf.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return newError(ConnectivityError, "open", errors.Wrapf(err, "connecting to %s", addr))
	}

	c.conn = conn
	c.rw = bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	c.state = Connected

	c.liveMu.Lock()
	c.live = conn
	c.liveMu.Unlock()

	grip.Info(message.Fields{
		"message":     "connected to mongo service",
		"address":     addr,
		"application": c.conf.Application,
	})

	return nil
}

// Execute sends the request and waits for the service's reply. Any
// connectivity or framing failure leaves the stream in an unknown
// position; the client refuses further exchanges until it is closed and
// replaced.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, usageErrorf("execute", "request must not be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Unconnected:
		return nil, usageErrorf("execute", "client is not connected")
	case Closed:
		return nil, usageErrorf("execute", "client is closed")
	}

	if c.failure != nil {
		return nil, newError(UsageError, "execute", errors.Wrap(c.failure, "connection is unusable after a failed exchange"))
	}

	if err := req.Validate(); err != nil {
		return nil, newError(UsageError, "execute", errors.Wrap(err, "invalid request"))
	}

	payload, err := req.MarshalBSON()
	if err != nil {
		recordFailure(req.Action, err)
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// nothing has been written yet, so the connection stays usable
	if err := ctx.Err(); err != nil {
		return nil, newError(ConnectivityError, "execute", err)
	}

	started := time.Now()
	resp, err := c.exchange(ctx, payload)
	if err != nil {
		c.failure = err
		recordFailure(req.Action, err)
		grip.Warning(message.WrapError(err, message.Fields{
			"message":        "exchange failed",
			"action":         req.Action.String(),
			"database":       req.Database,
			"collection":     req.Collection,
			"correlation_id": req.CorrelationID,
		}))
		return nil, err
	}

	recordRequest(req.Action, len(payload), len(resp.raw), started)
	grip.Debug(message.Fields{
		"message":  "exchange complete",
		"action":   req.Action.String(),
		"written":  len(payload),
		"read":     len(resp.raw),
		"duration": time.Since(started),
	})

	return resp, nil
}

func (c *Client) exchange(ctx context.Context, payload []byte) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok && c.conf.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.RequestTimeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(ConnectivityError, "execute", err)
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, newError(ConnectivityError, "execute", errors.Wrap(err, "setting deadline"))
	}

	// checked after the deadline is set, so an interrupt from Close
	// either lands here or overrides the deadline above
	if c.closing.Load() {
		return nil, newError(ConnectivityError, "execute", errors.New("client is closing"))
	}

	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(interrupted)
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer func() {
		if !stop() {
			<-interrupted
		}
	}()

	if err := wire.WriteFrame(ctx, c.rw.Writer, payload); err != nil {
		return nil, c.classify(ctx, "write", err)
	}

	frame, err := wire.ReadFrame(ctx, c.rw.Reader, c.conf.MaxResponseSize)
	if err != nil {
		return nil, c.classify(ctx, "read", err)
	}

	resp, err := ReadResponse(frame)
	if err != nil {
		return nil, newError(FramingError, "decode", err)
	}

	return resp, nil
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, wire.ErrTruncated) || errors.Is(err, wire.ErrInvalidSize) || errors.Is(err, wire.ErrTooLarge) {
		return newError(FramingError, op, err)
	}

	if c.closing.Load() {
		return newError(ConnectivityError, op, errors.Wrap(err, "client closed during exchange"))
	}

	if cause := interruption(ctx, err); cause != nil {
		return newError(ConnectivityError, op, errors.Wrapf(cause, "exchange interrupted [%s]", err))
	}

	switch {
	case errors.Is(err, io.EOF):
		return newError(ConnectivityError, op, errors.Wrap(err, "connection closed by peer"))
	default:
		return newError(ConnectivityError, op, err)
	}
}

// interruption reports the context error behind a failed read or
// write. The connection deadline can expire a moment before the
// context notices its own deadline, so an elapsed deadline counts too.
func interruption(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}

	return nil
}

// Close signals the end of output to the service and releases the
// connection. An exchange blocked on the service is interrupted and
// fails with a ConnectivityError. Closing twice, or closing a client
// that was never opened, is an error.
func (c *Client) Close() error {
	c.closing.Store(true)
	c.interrupt()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Unconnected:
		c.closing.Store(false)
		return usageErrorf("close", "client was never opened")
	case Closed:
		return usageErrorf("close", "client is already closed")
	}

	c.state = Closed

	if tcp, ok := c.conn.(*net.TCPConn); ok {
		grip.Debug(message.WrapError(tcp.CloseWrite(), "half-closing connection"))
	}

	if err := c.conn.Close(); err != nil {
		return newError(ConnectivityError, "close", err)
	}

	grip.Info(message.Fields{
		"message": "disconnected from mongo service",
		"address": c.conf.Address(),
	})

	return nil
}

func (c *Client) interrupt() {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()

	if c.live != nil {
		_ = c.live.SetDeadline(time.Unix(1, 0))
	}
}

// WithClient connects, runs fn, and closes the client on every exit
// path, panics included. A failure from fn takes precedence over a
// failure to close.
func WithClient(ctx context.Context, conf Config, fn func(context.Context, *Client) error) (err error) {
	client, err := Connect(ctx, conf)
	if err != nil {
		return err
	}

	defer func() {
		p := recover()
		closeErr := client.Close()
		if p != nil {
			panic(p)
		}

		if err == nil {
			err = closeErr
		} else {
			grip.Warning(message.WrapError(closeErr, "closing client after failed scope"))
		}
	}()

	return fn(ctx, client)
}
