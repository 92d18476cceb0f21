package stub

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/tychoish/grip"
	"github.com/tychoish/grip/message"
	"github.com/tychoish/grip/recovery"
	"github.com/tychoish/mongosvc/wire"
	"go.mongodb.org/mongo-driver/bson"
)

// HandlerFunc answers one request. Handlers write exactly one frame to
// the writer, typically with WriteResponse or WriteErrorResponse; a
// handler that writes nothing, or closes the connection, lets tests
// simulate a misbehaving service. Returned errors go to the service's
// error handlers; the connection keeps being served.
type HandlerFunc func(ctx context.Context, w io.Writer, req bson.Raw) error

// Service is an in-process stand-in for the mongo service. Requests are
// dispatched on their "action" field. Each connection is served
// sequentially, so replies keep request order.
type Service struct {
	host string
	port int

	registry *xsync.MapOf[string, HandlerFunc]
	conns    *xsync.MapOf[net.Conn, struct{}]

	mu            sync.Mutex
	listener      net.Listener
	cancel        context.CancelFunc
	errorHandlers []func(error)
	wg            sync.WaitGroup
}

// NewService builds a service that listens on host and port once
// started. Port 0 selects an ephemeral port.
func NewService(host string, port int) *Service {
	return &Service{
		host:     host,
		port:     port,
		registry: xsync.NewMapOf[string, HandlerFunc](),
		conns:    xsync.NewMapOf[net.Conn, struct{}](),
	}
}

// RegisterHandler binds a handler to an action name. Each action may
// only be registered once.
func (s *Service) RegisterHandler(action string, h HandlerFunc) error {
	if action == "" {
		return errors.New("cannot register a handler without an action")
	}
	if h == nil {
		return errors.Errorf("cannot register nil handler for %q", action)
	}

	if _, loaded := s.registry.LoadOrStore(action, h); loaded {
		return errors.Errorf("handler for %q is already registered", action)
	}

	return nil
}

// Handler returns the handler registered for action, if any.
func (s *Service) Handler(action string) (HandlerFunc, bool) {
	return s.registry.Load(action)
}

func (s *Service) RegisterErrorHandler(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorHandlers = append(s.errorHandlers, fn)
}

func (s *Service) handleError(err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	handlers := append([]func(error){}, s.errorHandlers...)
	s.mu.Unlock()

	grip.Warning(err)
	for _, fn := range handlers {
		fn(err)
	}
}

// Address reports the listening address, which includes the chosen
// port once the service has started.
func (s *Service) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Port reports the listening port, resolved after Start.
func (s *Service) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.port
}

// Start begins listening and serves connections in the background until
// the context is canceled or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return errors.New("service is already running")
	}

	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "problem listening on %s", addr)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.listener = l

	grip.Info(message.Fields{
		"message": "stub service listening",
		"address": l.Addr().String(),
	})

	s.wg.Add(1)
	go s.run(ctx, l)

	return nil
}

// Close stops accepting, drops open connections, and waits for every
// connection handler to return.
func (s *Service) Close() error {
	s.mu.Lock()
	l := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	if l == nil {
		return errors.New("service is not running")
	}

	cancel()
	err := l.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	s.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})

	s.wg.Wait()
	return errors.Wrap(err, "closing listener")
}

func (s *Service) run(ctx context.Context, l net.Listener) {
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.handleError(errors.Wrap(err, "accepting connection"))
			continue
		}

		s.conns.Store(conn, struct{}{})
		if ctx.Err() != nil {
			// Close may have already swept the connection set
			s.conns.Delete(conn)
			_ = conn.Close()
			return
		}

		s.wg.Add(1)
		go s.dispatch(ctx, conn)
	}
}

func (s *Service) dispatch(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.handleError(recovery.HandlePanicWithError(recover(), nil, "stub connection handling"))
		s.conns.Delete(conn)
		_ = conn.Close()
	}()

	for {
		frame, err := wire.ReadFrame(ctx, conn, 0)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.handleError(errors.Wrapf(err, "reading request from %s", conn.RemoteAddr()))
			return
		}

		req := bson.Raw(frame)
		if err := req.Validate(); err != nil {
			s.handleError(errors.Wrap(err, "invalid request document"))
			return
		}

		action, _ := req.Lookup("action").StringValueOK()
		handler, ok := s.registry.Load(action)
		if !ok {
			s.handleError(WriteErrorResponse(ctx, conn, fmt.Errorf("unsupported action %q", action)))
			continue
		}

		s.handleError(errors.Wrapf(handler(ctx, conn, req), "handling %q", action))
	}
}
