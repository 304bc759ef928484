// Package client implements the calling side of the protocol.
//
// A Client owns at most one outbound TCP (or TLS) connection. The
// connection is established lazily on the first Send, reused across calls,
// and transparently re-established once per call when it turns out to be
// broken. One Client instance is not safe for concurrent Sends: it holds
// exactly one socket and mutates it in place. Concurrent callers must
// serialize externally or use distinct Clients.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/adrianchifor/arrpc/auth"
	"github.com/adrianchifor/arrpc/codec"
	"github.com/adrianchifor/arrpc/loadbalance"
	"github.com/adrianchifor/arrpc/metrics"
	"github.com/adrianchifor/arrpc/registry"
	"github.com/adrianchifor/arrpc/rpcerror"
	"github.com/adrianchifor/arrpc/tlsutil"
	"github.com/adrianchifor/arrpc/wire"
)

// ConnState is the connection lifecycle state of a Client.
type ConnState int

const (
	// Disconnected: no socket held. Initial state, and the state after a
	// broken connection is detected or a connect sequence is exhausted.
	Disconnected ConnState = iota
	// Connecting: a connect attempt sequence with backoff is in progress.
	Connecting
	// Connected: one live stream is held and reused by Send.
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Dialer establishes the raw transport stream. Swappable so the state
// machine can be driven in tests without real sockets.
type Dialer func(addr string, timeout time.Duration) (net.Conn, error)

func defaultDialer(addr string, timeout time.Duration) (net.Conn, error) {
	if timeout > 0 {
		return net.DialTimeout("tcp", addr, timeout)
	}
	return net.Dial("tcp", addr)
}

type Client struct {
	host          string
	port          int
	timeout       time.Duration
	conMaxRetries int
	backoffUnit   time.Duration
	authSecret    string
	tlsConf       *tls.Config
	cdc           codec.Codec
	dialer        Dialer
	logger        zerolog.Logger

	met         *metrics.Metrics
	metricsPort int

	reg         registry.Registry
	serviceName string
	balancer    loadbalance.Balancer

	state    ConnState
	conn     net.Conn
	lastAddr string
}

// Option configures a Client.
type Option func(*Client) error

// WithTimeout bounds both connect attempts and per-call socket reads.
// Expiry during a call surfaces as a *rpcerror.TimeoutError.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithMaxRetries sets how many connect attempts one connect sequence makes
// before failing with a *rpcerror.ConnectError. Default 5.
func WithMaxRetries(n int) Option {
	return func(c *Client) error {
		if n < 1 {
			return fmt.Errorf("max retries must be at least 1, got %d", n)
		}
		c.conMaxRetries = n
		return nil
	}
}

// WithBackoffUnit overrides the backoff time unit (default one second).
// Attempt n sleeps n units before attempt n+1.
func WithBackoffUnit(d time.Duration) Option {
	return func(c *Client) error {
		c.backoffUnit = d
		return nil
	}
}

// WithAuthSecret enables the signed envelope with a shared static secret.
func WithAuthSecret(secret string) Option {
	return func(c *Client) error {
		c.authSecret = secret
		return nil
	}
}

// WithCodec selects the wire codec. Default MessagePack.
func WithCodec(t codec.CodecType) Option {
	return func(c *Client) error {
		c.cdc = codec.GetCodec(t)
		return nil
	}
}

// WithTLS upgrades the connection to TLS, verifying the server against the
// CA bundle at cafile. selfSigned disables hostname and certificate
// verification for self-signed deployments.
func WithTLS(cafile string, selfSigned bool) Option {
	return func(c *Client) error {
		cfg, err := tlsutil.ClientConfig(cafile, c.host, selfSigned)
		if err != nil {
			return err
		}
		c.tlsConf = cfg
		return nil
	}
}

// WithTLSConfig supplies a prebuilt TLS config instead of file paths.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) error {
		c.tlsConf = cfg
		return nil
	}
}

// WithMetrics enables metrics on the process-wide instrument set and
// ensures the scrape server listens on port.
func WithMetrics(port int) Option {
	return func(c *Client) error {
		c.met = metrics.Default()
		c.metricsPort = port
		return nil
	}
}

// WithMetricsRegistry records observations on an explicitly constructed
// instrument set instead of the process-wide one. No scrape server is
// started.
func WithMetricsRegistry(m *metrics.Metrics) Option {
	return func(c *Client) error {
		c.met = m
		return nil
	}
}

// WithDebug lowers the client logger to debug level.
func WithDebug() Option {
	return func(c *Client) error {
		c.logger = c.logger.Level(zerolog.DebugLevel)
		return nil
	}
}

// WithLogger replaces the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithDialer replaces the transport dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) error {
		c.dialer = d
		return nil
	}
}

// WithRegistry resolves the target address through service discovery
// instead of the static host:port. The balancer is consulted once per
// fresh connect sequence.
func WithRegistry(reg registry.Registry, serviceName string, bal loadbalance.Balancer) Option {
	return func(c *Client) error {
		if reg == nil || serviceName == "" || bal == nil {
			return fmt.Errorf("registry, service name and balancer are all required")
		}
		c.reg = reg
		c.serviceName = serviceName
		c.balancer = bal
		return nil
	}
}

// New builds a Client. No connection is made until the first Send.
func New(host string, port int, opts ...Option) (*Client, error) {
	c := &Client{
		host:          host,
		port:          port,
		conMaxRetries: 5,
		backoffUnit:   time.Second,
		cdc:           codec.GetCodec(codec.CodecTypeMsgpack),
		dialer:        defaultDialer,
		logger:        zerolog.New(os.Stderr).With().Timestamp().Str("component", "arrpc.client").Logger().Level(zerolog.InfoLevel),
		state:         Disconnected,
		lastAddr:      fmt.Sprintf("%s:%d", host, port),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.met != nil && c.metricsPort > 0 {
		metrics.StartScrapeServer(c.metricsPort)
	}
	return c, nil
}

// State reports the connection lifecycle state.
func (c *Client) State() ConnState {
	return c.state
}

// Send performs one call: encode, optionally sign, write the frame, read
// the response frame, decode, optionally verify, and surface any in-band
// error the server reported.
//
// A response that is not valid codec output is treated as absent: Send
// returns (nil, nil). Historical protocol leniency, preserved as-is.
func (c *Client) Send(msg any) (any, error) {
	payload, err := c.cdc.Encode(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	if c.authSecret != "" {
		payload, err = auth.Sign(payload, c.authSecret, c.cdc)
		if err != nil {
			return nil, fmt.Errorf("failed to sign message: %w", err)
		}
	}

	start := time.Now()
	raw, err := c.roundTrip(payload, false)
	if err != nil {
		c.observeError(err)
		return nil, err
	}
	if c.met != nil {
		c.met.ObserveDuration(c.labels(), time.Since(start).Seconds())
		c.met.ObserveSize(c.labels(), float64(len(payload)))
	}

	return c.parseResponse(raw)
}

// Close tears down the held connection, if any. The Client stays usable; a
// later Send starts a fresh connect sequence.
func (c *Client) Close() error {
	if c.conn == nil {
		c.state = Disconnected
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.state = Disconnected
	return err
}

// roundTrip writes the payload and reads the response on the held stream,
// connecting first if needed. A broken stream is replaced and the call
// retried exactly once; the retry bound lives in the connect sequence's
// backoff policy, not here.
func (c *Client) roundTrip(payload []byte, retried bool) ([]byte, error) {
	if c.state != Connected {
		if err := c.connect(); err != nil {
			return nil, err
		}
	}

	if c.timeout > 0 {
		c.conn.SetDeadline(time.Now().Add(c.timeout))
	}

	err := wire.WriteMessage(c.conn, payload)
	var raw []byte
	if err == nil {
		c.logger.Debug().Str("addr", c.lastAddr).Msg("Sent message")
		raw, err = wire.ReadMessage(c.conn)
		if err == nil && len(raw) == 0 {
			// Nothing before EOF: the peer closed the persistent
			// connection between calls.
			err = io.EOF
		}
	}
	if err != nil {
		if isTimeout(err) {
			// The response to the timed-out request may still arrive and
			// sit in the socket. Reusing the stream would pair it with the
			// next call, so the stream dies with the call.
			c.teardown()
			return nil, &rpcerror.TimeoutError{Op: "response", Err: err}
		}
		if isBrokenConn(err) && !retried {
			c.logger.Debug().Err(err).Msg("Connection broken, reconnecting")
			c.teardown()
			return c.roundTrip(payload, true)
		}
		c.teardown()
		return nil, err
	}

	c.logger.Debug().Str("addr", c.lastAddr).Msg("Got response")
	return raw, nil
}

// connect runs one Connecting sequence: resolve the target address, then
// attempt to dial up to conMaxRetries times with linearly increasing
// backoff (1, 2, 3, ... units). Exhaustion fails the call with a
// ConnectError but leaves the Client reusable.
func (c *Client) connect() error {
	c.state = Connecting

	addr, err := c.resolveAddr()
	if err != nil {
		c.state = Disconnected
		return err
	}
	c.lastAddr = addr

	attempt := 1
	backoff := c.backoffUnit
	for attempt <= c.conMaxRetries {
		conn, err := c.dial(addr)
		if err == nil {
			c.conn = conn
			c.state = Connected
			c.logger.Debug().Str("addr", addr).Msg("Connected")
			return nil
		}
		c.logger.Debug().Err(err).Str("addr", addr).Int("attempt", attempt).Msg("Failed to connect")
		if attempt == c.conMaxRetries {
			// Do not wait after the last attempt.
			break
		}
		time.Sleep(backoff)
		backoff += c.backoffUnit
		attempt++
	}

	c.state = Disconnected
	return &rpcerror.ConnectError{Addr: addr, Attempts: c.conMaxRetries}
}

func (c *Client) dial(addr string) (net.Conn, error) {
	conn, err := c.dialer(addr, c.timeout)
	if err != nil {
		return nil, err
	}
	if c.tlsConf == nil {
		return conn, nil
	}

	tconn := tls.Client(conn, c.tlsConf)
	if c.timeout > 0 {
		tconn.SetDeadline(time.Now().Add(c.timeout))
	}
	if err := tconn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	if c.timeout > 0 {
		tconn.SetDeadline(time.Time{})
	}
	return tconn, nil
}

func (c *Client) resolveAddr() (string, error) {
	if c.reg == nil {
		return fmt.Sprintf("%s:%d", c.host, c.port), nil
	}
	instances, err := c.reg.Discover(context.Background(), c.serviceName)
	if err != nil {
		return "", fmt.Errorf("failed to discover %s: %w", c.serviceName, err)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return "", fmt.Errorf("failed to pick an instance of %s: %w", c.serviceName, err)
	}
	return instance.Addr, nil
}

func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = Disconnected
}

// parseResponse turns the raw response frame into the caller's value. The
// in-band error check runs before envelope verification: error responses
// travel unenveloped so a caller with a wrong secret still learns it was
// rejected.
func (c *Client) parseResponse(raw []byte) (any, error) {
	v, err := c.cdc.Decode(raw)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to decode response, treating as absent")
		return nil, nil
	}

	if err := rpcerror.ParseResponse(v); err != nil {
		return nil, err
	}

	if c.authSecret != "" {
		data, err := auth.Verify(v, c.authSecret)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to verify response signature")
			return nil, err
		}
		c.logger.Debug().Msg("Verified response signature")
		inner, err := c.cdc.Decode(data)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to decode verified payload, treating as absent")
			return nil, nil
		}
		return inner, nil
	}

	return v, nil
}

func (c *Client) labels() metrics.Labels {
	return metrics.Labels{
		Side:   metrics.SideClient,
		Remote: c.lastAddr,
		Auth:   c.authSecret != "",
		TLS:    c.tlsConf != nil,
	}
}

func (c *Client) observeError(err error) {
	if c.met == nil {
		return
	}
	reason := "transport_failed"
	switch err.(type) {
	case *rpcerror.ConnectError:
		reason = "connect_failed"
	case *rpcerror.TimeoutError:
		reason = "timeout"
	}
	c.met.IncError(c.labels(), reason)
}

// isTimeout reports whether err is a socket deadline expiry.
func isTimeout(err error) bool {
	if os.IsTimeout(err) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// isBrokenConn reports whether err means the held stream is dead and a
// fresh one may transparently replace it.
func isBrokenConn(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
