// Package server implements the XCP accept loop and per-connection
// session handler: bind, accept, run the HELLO→CAPS handshake, then
// dispatch DATA/PING frames to registered handlers until the
// connection closes.
//
// Accept loop shape:
//
//	Accept conn → go handleConn (one goroutine per connection)
//	  → session.Accept (handshake)
//	  → for each frame: session.HandleFrame → middleware chain → Router.Dispatch
//	    → write response (or NACK, or close on frame-layer error)
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/maida-ai/xcp/codec"
	"github.com/maida-ai/xcp/directory"
	"github.com/maida-ai/xcp/ether"
	"github.com/maida-ai/xcp/frame"
	"github.com/maida-ai/xcp/middleware"
	"github.com/maida-ai/xcp/session"
)

// Server accepts XCP connections and dispatches Established-phase
// frames to registered handlers. No state is shared across connections
// beyond the process-wide codec registry and router (spec.md §4.6/§5).
type Server struct {
	listener net.Listener
	registry *codec.Registry
	router   *Router
	cfg      session.Config

	middlewares  []middleware.Middleware
	handler      middleware.HandlerFunc
	frameHandler session.FrameHandlerFunc

	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// Option configures a Server at construction time (spec.md §6 — no
// config files or env vars; everything is a constructor parameter).
type Option func(*Server)

// WithCodecs restricts the codecs this server advertises in CAPS to
// ids, in preference order, instead of every codec in the registry.
func WithCodecs(ids ...codec.ID) Option {
	return func(s *Server) { s.cfg.Codecs = ids }
}

// WithMaxFrameBytes sets the local frame-size cap offered during the
// handshake (spec.md §6 defaults: 1 MiB default, 512 KiB WAN, 4 MiB LAN).
func WithMaxFrameBytes(n uint64) Option {
	return func(s *Server) { s.cfg.MaxFrameBytes = n }
}

// WithAccepts/WithEmits advertise the Ether kinds this server accepts
// and emits in CAPS.
func WithAccepts(kinds ...string) Option { return func(s *Server) { s.cfg.Accepts = kinds } }
func WithEmits(kinds ...string) Option   { return func(s *Server) { s.cfg.Emits = kinds } }

// WithMiddleware appends a middleware to the chain wrapping the router.
func WithMiddleware(mw middleware.Middleware) Option {
	return func(s *Server) { s.middlewares = append(s.middlewares, mw) }
}

// WithFrameHandler installs a raw frame handler for DATA bodies that
// are not Ether envelopes (spec.md §4.4's benchmark "raw payload" path).
// When set, it takes priority over the Ether/router path.
func WithFrameHandler(h session.FrameHandlerFunc) Option {
	return func(s *Server) { s.frameHandler = h }
}

// WithRegistry overrides the default codec registry (process-wide,
// built once — spec.md §9 "Global state").
func WithRegistry(r *codec.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// New binds a TCP listener on host:port and returns a Server ready for
// handler registration and ServeForever.
func New(host string, port int, opts ...Option) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener: listener,
		registry: codec.NewRegistry(),
		router:   NewRouter(),
		cfg:      session.Config{MaxFrameBytes: frame.DefaultMaxFrameBytes},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the bound listener address (useful when port 0 was
// requested, e.g. in tests).
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// RegisterWith advertises this server under agent in dir, so a
// client.ConnectViaAgent call on another process can discover it. The
// registered PeerInstance.Kinds mirrors the Accepts this server
// negotiates in CAPS (set via WithAccepts), so FilterByKind narrows
// candidates to instances that actually handle the kind a caller wants.
// ttlSeconds is handled by dir: EtcdDirectory keeps its lease alive in
// the background, and MemoryDirectory ignores it.
func (s *Server) RegisterWith(dir directory.Directory, agent string, weight int, ttlSeconds int64) error {
	inst := directory.PeerInstance{
		Addr:   s.listener.Addr().String(),
		Weight: weight,
		Kinds:  s.cfg.Accepts,
	}
	return dir.Register(agent, inst, ttlSeconds)
}

// Handle registers an Ether handler for a specific kind, dispatched via
// the server's Router.
func (s *Server) Handle(kind string, h session.EtherHandlerFunc) {
	s.router.Handle(kind, h)
}

// Fallback registers a handler invoked when no kind-specific handler
// matches (the default echoes the Ether back unchanged).
func (s *Server) Fallback(h session.EtherHandlerFunc) {
	s.router.Fallback(h)
}

// ServeForever runs the accept loop until Stop is called.
func (s *Server) ServeForever() error {
	s.handler = middleware.Chain(s.middlewares...)(s.router.Dispatch)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Stop closes the listener so ServeForever returns; connections already
// accepted keep running until they observe EOF or a frame-layer error.
func (s *Server) Stop() error {
	s.shutdown.Store(true)
	return s.listener.Close()
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	sess, err := session.Accept(conn, s.registry, s.cfg)
	if err != nil {
		log.Printf("server: handshake failed: %v", err)
		return
	}

	etherHandler := func(e *ether.Ether) (*ether.Ether, error) {
		return s.handler(context.Background(), e)
	}

	for {
		f, err := sess.ReadFrame(sess.MaxFrameBytes)
		if err != nil {
			if !session.IsEOF(err) {
				log.Printf("server: frame error: %v", err)
			}
			return
		}

		resp := sess.HandleFrame(f, etherHandler, s.frameHandler)
		if resp == nil {
			continue
		}
		if err := sess.WriteFrame(resp); err != nil {
			log.Printf("server: write error: %v", err)
			return
		}
	}
}

// Router maps an Ether's kind to a handler, mirroring spec.md §4.4's
// description of dispatch by kind rather than by a reflected method
// signature. Concurrent-safe: handlers are normally registered once at
// startup, but Handle may also be called after ServeForever starts.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]session.EtherHandlerFunc
	fallback session.EtherHandlerFunc
}

// NewRouter returns an empty Router whose fallback echoes the Ether
// back unchanged (the default handler spec.md §4.4 describes: "Echo
// path in the default handler reuses channel_id and body_codec of the
// request").
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]session.EtherHandlerFunc),
		fallback: func(e *ether.Ether) (*ether.Ether, error) { return e, nil },
	}
}

// Handle registers h for kind, replacing any existing handler.
func (r *Router) Handle(kind string, h session.EtherHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Fallback replaces the handler invoked for an unmatched kind.
func (r *Router) Fallback(h session.EtherHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = h
}

// Dispatch is the server's top-level middleware.HandlerFunc target: it
// looks up e.Kind and invokes the matching handler, or the fallback.
func (r *Router) Dispatch(ctx context.Context, e *ether.Ether) (*ether.Ether, error) {
	r.mu.RLock()
	h, ok := r.handlers[e.Kind]
	fallback := r.fallback
	r.mu.RUnlock()

	if ok {
		return h(e)
	}
	if fallback != nil {
		return fallback(e)
	}
	return nil, fmt.Errorf("server: no handler registered for kind %q", e.Kind)
}

// RunEcho starts a server on host:port with the default echo fallback
// (no kind-specific handlers) and returns a stop function. Useful for
// tests and demos that just need a live peer to talk to (grounded on
// the original Python reference's run_echo_server context manager).
func RunEcho(host string, port int, opts ...Option) (addr net.Addr, stop func(), err error) {
	s, err := New(host, port, opts...)
	if err != nil {
		return nil, nil, err
	}

	done := make(chan error, 1)
	go func() { done <- s.ServeForever() }()

	return s.Addr(), func() {
		s.Stop()
		<-done
	}, nil
}
