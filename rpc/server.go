package rpc

import (
	"context"
	"net"
	"sync"

	"github.com/signalsfoundry/nexplane/internal/logging"
	"github.com/signalsfoundry/nexplane/internal/observability"
)

// Handler implements one RPC method. Params arrive as decoded msgpack
// values; the result must be msgpack-encodable.
type Handler func(params []any) (any, error)

// Server accepts bridge connections and dispatches requests to named
// handlers. All handlers run on the connection's goroutine, one request
// at a time per connection; the mount I/O owner behind them serializes
// across connections.
type Server struct {
	mu       sync.Mutex
	handlers map[string]Handler

	listener net.Listener
	log      logging.Logger
	metrics  *observability.Collector
}

// NewServer constructs a server with no handlers registered. metrics may
// be nil.
func NewServer(log logging.Logger, metrics *observability.Collector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{
		handlers: make(map[string]Handler),
		log:      log,
		metrics:  metrics,
	}
}

// Register adds a handler for a method name.
func (s *Server) Register(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Listen binds the server to addr.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = l
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled or the listener
// closes.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return net.ErrClosed
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.log.Info(ctx, "bridge client connected",
			logging.String("peer", conn.RemoteAddr().String()))
		go s.serveConn(ctx, conn)
	}
}

// serveConn handles one client connection until it breaks.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			if ctx.Err() == nil {
				s.log.Info(ctx, "bridge client disconnected",
					logging.String("peer", conn.RemoteAddr().String()))
			}
			return
		}

		resp := s.dispatch(&req)
		if err := writeFrame(conn, resp); err != nil {
			return
		}
	}
}

// dispatch runs one request through its handler.
func (s *Server) dispatch(req *Request) *Response {
	s.mu.Lock()
	h, ok := s.handlers[req.Method]
	s.mu.Unlock()

	if !ok {
		s.count(req.Method, "unsupported")
		return &Response{
			ID:    req.ID,
			Error: &WireError{Kind: KindUnsupported, Message: "unknown method " + req.Method},
		}
	}

	result, err := h(req.Params)
	if err != nil {
		s.count(req.Method, "error")
		return &Response{ID: req.ID, Error: WireErrorFor(err)}
	}
	s.count(req.Method, "ok")
	return &Response{ID: req.ID, Result: result}
}

func (s *Server) count(method, outcome string) {
	if s.metrics != nil {
		s.metrics.RPCRequests.WithLabelValues(method, outcome).Inc()
	}
}

// Close closes the listener.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
