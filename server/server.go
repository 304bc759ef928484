// Package server implements the accepting side of the protocol.
//
// Per accepted connection, a goroutine loops: frame a request, decode it,
// verify the envelope when a secret is configured, invoke the handler
// chain, and frame a response, until the peer closes the connection or a
// send fails. Responses go back strictly in the order requests were read;
// there is no per-connection concurrency and no reordering.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/adrianchifor/arrpc/auth"
	"github.com/adrianchifor/arrpc/codec"
	"github.com/adrianchifor/arrpc/metrics"
	"github.com/adrianchifor/arrpc/middleware"
	"github.com/adrianchifor/arrpc/registry"
	"github.com/adrianchifor/arrpc/rpcerror"
	"github.com/adrianchifor/arrpc/tlsutil"
	"github.com/adrianchifor/arrpc/wire"
)

// Handler processes one decoded (and, when a secret is configured,
// unwrapped) message and returns the response message.
//
// Contract: the only failure a Handler may safely report is a
// *rpcerror.RPCError, which travels to the caller in-band. Returning any
// other error is fatal to the connection that carried the request, by
// design. Handlers are shared read-only across all connections and must
// not hold per-connection mutable state.
type Handler interface {
	Handle(ctx context.Context, msg any) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg any) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, msg any) (any, error) {
	return f(ctx, msg)
}

const registrationTTL = 10 // seconds, renewed by the registry's KeepAlive

type Server struct {
	host        string
	port        int
	handler     Handler
	handlerName string
	authSecret  string
	tlsConf     *tls.Config
	cdc         codec.Codec
	logger      zerolog.Logger

	met         *metrics.Metrics
	metricsPort int

	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc

	reg           registry.Registry
	serviceName   string
	advertiseAddr string

	listener net.Listener
	wg       sync.WaitGroup
	shutdown atomic.Bool
}

// Option configures a Server.
type Option func(*Server) error

// WithAuthSecret requires every request to carry a valid signed envelope
// and signs every successful response.
func WithAuthSecret(secret string) Option {
	return func(s *Server) error {
		s.authSecret = secret
		return nil
	}
}

// WithTLS serves TLS with the given PEM certificate/key pair.
func WithTLS(certfile, keyfile string) Option {
	return func(s *Server) error {
		cfg, err := tlsutil.ServerConfig(certfile, keyfile)
		if err != nil {
			return err
		}
		s.tlsConf = cfg
		return nil
	}
}

// WithTLSConfig supplies a prebuilt TLS config instead of file paths.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConf = cfg
		return nil
	}
}

// WithCodec selects the wire codec. Default MessagePack.
func WithCodec(t codec.CodecType) Option {
	return func(s *Server) error {
		s.cdc = codec.GetCodec(t)
		return nil
	}
}

// WithMetrics enables metrics on the process-wide instrument set and
// ensures the scrape server listens on port.
func WithMetrics(port int) Option {
	return func(s *Server) error {
		s.met = metrics.Default()
		s.metricsPort = port
		return nil
	}
}

// WithMetricsRegistry records observations on an explicitly constructed
// instrument set. No scrape server is started.
func WithMetricsRegistry(m *metrics.Metrics) Option {
	return func(s *Server) error {
		s.met = m
		return nil
	}
}

// WithDebug lowers the server logger to debug level.
func WithDebug() Option {
	return func(s *Server) error {
		s.logger = s.logger.Level(zerolog.DebugLevel)
		return nil
	}
}

// WithLogger replaces the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithMiddleware appends middlewares around the handler, applied in the
// order given. They run after decoding and verification.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(s *Server) error {
		s.middlewares = append(s.middlewares, mws...)
		return nil
	}
}

// WithRegistry registers advertiseAddr under serviceName when the server
// starts, and deregisters it on Shutdown. advertiseAddr must be routable
// by clients; the listen address usually is not.
func WithRegistry(reg registry.Registry, serviceName, advertiseAddr string) Option {
	return func(s *Server) error {
		if reg == nil || serviceName == "" || advertiseAddr == "" {
			return fmt.Errorf("registry, service name and advertise address are all required")
		}
		s.reg = reg
		s.serviceName = serviceName
		s.advertiseAddr = advertiseAddr
		return nil
	}
}

// New builds a Server. Nothing listens until Serve or ServeBackground.
func New(host string, port int, handler Handler, opts ...Option) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	s := &Server{
		host:        host,
		port:        port,
		handler:     handler,
		handlerName: fmt.Sprintf("%T", handler),
		cdc:         codec.GetCodec(codec.CodecTypeMsgpack),
		logger:      zerolog.New(os.Stderr).With().Timestamp().Str("component", "arrpc.server").Logger().Level(zerolog.InfoLevel),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Serve listens and accepts connections until Shutdown. It returns nil
// after an orderly Shutdown and the accept error otherwise.
func (s *Server) Serve() error {
	if err := s.listen(); err != nil {
		return err
	}
	return s.acceptLoop()
}

// ServeBackground binds the listener synchronously, then runs the accept
// loop on a background goroutine so the caller can continue other work.
// The goroutine is abandoned, not joined; use Shutdown to stop accepting,
// and do not expect a graceful drain without it.
func (s *Server) ServeBackground() error {
	if err := s.listen(); err != nil {
		return err
	}
	go func() {
		if err := s.acceptLoop(); err != nil {
			s.logger.Error().Err(err).Msg("accept loop failed")
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) listen() error {
	// Build the handler chain once at startup, not per request.
	s.chain = middleware.Chain(s.middlewares...)(s.handler.Handle)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.tlsConf != nil {
		listener = tls.NewListener(listener, s.tlsConf)
		s.logger.Info().Str("addr", addr).Msg("Listening on TCP/TLS")
	} else {
		s.logger.Info().Str("addr", addr).Msg("Listening on TCP")
	}
	s.listener = listener

	if s.met != nil && s.metricsPort > 0 {
		metrics.StartScrapeServer(s.metricsPort)
	}

	if s.reg != nil {
		err := s.reg.Register(context.Background(), s.serviceName, registry.ServiceInstance{
			Addr: s.advertiseAddr,
		}, registrationTTL)
		if err != nil {
			s.listener.Close()
			return fmt.Errorf("failed to register %s: %w", s.serviceName, err)
		}
	}
	return nil
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Shutdown closes the listener, which surfaces here as an
			// accept error. The flag tells an orderly stop apart from a
			// real failure.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Shutdown deregisters from the registry, stops accepting, and waits up to
// timeout for in-flight requests to finish. Connections idle between
// requests are not torn down; their goroutines exit when the peer closes.
func (s *Server) Shutdown(timeout time.Duration) error {
	if s.reg != nil {
		// Deregister first so clients stop routing new calls here.
		if err := s.reg.Deregister(context.Background(), s.serviceName, s.advertiseAddr); err != nil {
			s.logger.Error().Err(err).Msg("Failed to deregister")
		}
	}

	// Set the flag before closing, or acceptLoop reports a real error.
	s.shutdown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for ongoing requests to finish")
	}
}

// handleConn runs the per-connection request loop.
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Debug().Str("remote", remote).Msg("Connection accepted")

	labels := metrics.Labels{
		Side:    metrics.SideServer,
		Remote:  remote,
		Handler: s.handlerName,
		Auth:    s.authSecret != "",
		TLS:     s.tlsConf != nil,
	}

	for {
		data, err := wire.ReadMessage(conn)
		if err != nil {
			s.logger.Debug().Err(err).Str("remote", remote).Msg("Failed to read message")
			if s.met != nil {
				s.met.IncError(labels, "read_failed")
			}
			return
		}
		if len(data) == 0 {
			// Peer closed the connection. Not an error.
			s.logger.Debug().Str("remote", remote).Msg("Connection closed by peer")
			return
		}
		if !s.handleRequest(conn, data, labels) {
			return
		}
	}
}

// handleRequest processes one framed request and reports whether the
// connection loop should continue.
func (s *Server) handleRequest(conn net.Conn, data []byte, labels metrics.Labels) bool {
	s.wg.Add(1)
	defer s.wg.Done()
	start := time.Now()
	remote := labels.Remote

	msg, err := s.cdc.Decode(data)
	if err != nil {
		// Not valid codec output: drop silently, send nothing, keep the
		// connection. Historical protocol leniency, preserved as-is.
		s.logger.Debug().Err(err).Str("remote", remote).Msg("Failed to decode message, dropping")
		if s.met != nil {
			s.met.IncError(labels, "undecodable_message")
		}
		return true
	}
	s.logger.Debug().Str("remote", remote).Msg("Received message")

	// response holds either the handler result or the in-band encoding of
	// a reportable failure. Error text is transmitted unsigned so a peer
	// with a mismatched secret can still read the rejection.
	var response any
	var inBandError bool

	if s.authSecret != "" {
		payload, verr := auth.Verify(msg, s.authSecret)
		if verr != nil {
			s.logger.Error().Err(verr).Str("remote", remote).Msg("Failed to verify message signature")
			if s.met != nil {
				s.met.IncError(labels, "auth_failed")
			}
			response, _ = rpcerror.EncodeWire(verr)
			inBandError = true
		} else {
			s.logger.Debug().Str("remote", remote).Msg("Verified message signature")
			inner, derr := s.cdc.Decode(payload)
			if derr != nil {
				s.logger.Debug().Err(derr).Str("remote", remote).Msg("Failed to decode verified payload, dropping")
				if s.met != nil {
					s.met.IncError(labels, "undecodable_message")
				}
				return true
			}
			msg = inner
		}
	}

	if !inBandError {
		result, herr := s.chain(context.Background(), msg)
		if herr != nil {
			text, encodable := rpcerror.EncodeWire(herr)
			if !encodable {
				// Handler contract violation: only RPCError is
				// reportable. Fatal to this connection.
				s.logger.Error().Err(herr).Str("remote", remote).Msg("Handler failed with unreportable error, closing connection")
				if s.met != nil {
					s.met.IncError(labels, "handler_failed")
				}
				return false
			}
			if s.met != nil {
				s.met.IncError(labels, "rpc_error")
			}
			response = text
			inBandError = true
		} else {
			response = result
		}
	}

	respBytes, err := s.cdc.Encode(response)
	if err != nil {
		s.logger.Error().Err(err).Str("remote", remote).Msg("Failed to encode response, closing connection")
		if s.met != nil {
			s.met.IncError(labels, "encode_failed")
		}
		return false
	}
	if s.authSecret != "" && !inBandError {
		respBytes, err = auth.Sign(respBytes, s.authSecret, s.cdc)
		if err != nil {
			s.logger.Error().Err(err).Str("remote", remote).Msg("Failed to sign response, closing connection")
			return false
		}
	}

	if err := wire.WriteMessage(conn, respBytes); err != nil {
		s.logger.Error().Err(err).Str("remote", remote).Msg("Failed to send response")
		if s.met != nil {
			s.met.IncError(labels, "send_failed")
		}
		return false
	}
	s.logger.Debug().Str("remote", remote).Msg("Sent response")

	if s.met != nil {
		s.met.ObserveDuration(labels, time.Since(start).Seconds())
		s.met.ObserveSize(labels, float64(len(data)))
	}
	return true
}
