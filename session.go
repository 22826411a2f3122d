package wsauth

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carterjones/wsauth/auth"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Session defaults.
const (
	DefaultPath           = "/ws"
	DefaultUserAgent      = "wsauth websocket-client-async-ssl"
	DefaultConnectTimeout = 30 * time.Second
	DefaultPingInterval   = 30 * time.Second
	DefaultPongWait       = 5 * time.Second
	DefaultCloseTimeout   = 5 * time.Second
)

// Phase is a step of the session's connection sequence. A session moves
// through the phases in declaration order, possibly skipping straight to
// PhaseClosed on failure.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseConnecting
	PhaseTLSHandshaking
	PhaseWSHandshaking
	PhaseAuthenticating
	PhaseStreaming
	PhaseClosing
	PhaseClosed
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseResolving:
		return "RESOLVING"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseTLSHandshaking:
		return "TLS_HANDSHAKING"
	case PhaseWSHandshaking:
		return "WS_HANDSHAKING"
	case PhaseAuthenticating:
		return "AUTHENTICATING"
	case PhaseStreaming:
		return "STREAMING"
	case PhaseClosing:
		return "CLOSING"
	case PhaseClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Frame is one message read from the server.
type Frame struct {
	// websocket.TextMessage or websocket.BinaryMessage
	Type int

	// The payload. It is only valid until the handler returns, because the
	// session reuses its inbound buffer for the next read.
	Data []byte
}

// MessageHandler receives every frame a session reads. It is called from the
// goroutine running the session, so it must not block for long.
type MessageHandler func(Frame)

// Session is a single authenticated WebSocket session. It resolves the host,
// connects, runs the TLS and WebSocket handshakes, sends the authentication
// envelope and then reads frames until it is stopped or fails. There is no
// reconnection: once a Session is closed it cannot be run again.
//
// Configure the exported fields before calling Run or Start.
type Session struct {
	// The host and port of the server.
	Host string
	Port string

	// The resource path of the WebSocket endpoint.
	Path string

	// Key pair used to sign the authentication envelope.
	Credentials auth.Credentials

	// The envelope's id field and subscription topics.
	ClientID string
	Filters  []string

	// HMAC digest for the envelope signature.
	Algorithm string

	// Stamped into the upgrade request's User-Agent header.
	UserAgent string

	// Header values added to the upgrade request.
	Headers map[string]string

	// An optional hook applied to the upgrade request headers after Headers
	// and UserAgent.
	Decorator func(http.Header)

	// An optional setting to provide a non-default TLS configuration. The
	// server name is set to Host unless the configuration names one.
	TLSClientConfig *tls.Config

	// Bounds the TCP connect, the TLS handshake and the WebSocket upgrade,
	// each on its own.
	ConnectTimeout time.Duration

	// Keepalive policy once the WebSocket is up. A ping is sent every
	// PingInterval; the session fails with a ReadError when nothing,
	// including a pong, arrives for PingInterval+PongWait. A zero
	// PingInterval disables keepalive entirely, so a quiet session never
	// times out. A zero PongWait keeps the pings but drops the deadline.
	PingInterval time.Duration
	PongWait     time.Duration

	// How long to wait for the server to answer the close frame.
	CloseTimeout time.Duration

	Transport Transport

	// Time source for the envelope nonce.
	Now func() time.Time

	Logger *zap.Logger

	// This value is not part of the protocol. If set, it is added to log
	// entries.
	CustomID string

	id       string
	phase    atomic.Uint32
	stopping atomic.Bool
	initOnce sync.Once
	stopOnce sync.Once
	stopCh   chan struct{}

	errMu sync.Mutex
	err   error

	// Owned by the goroutine running the session.
	log        *zap.Logger
	raw        net.Conn
	tlsConn    net.Conn
	ws         WebsocketConn
	inbound    bytes.Buffer
	reading    bool
	cancelOp   context.CancelFunc
	pinger     *time.Ticker
	closeTimer *time.Timer
}

// result is the completion of one operation.
type result struct {
	addrs     []string
	conn      net.Conn
	ws        WebsocketConn
	frameType int
	data      []byte
	err       error
}

type operation func(ctx context.Context) result

// New creates a session for host:port with the default settings.
func New(host, port string, creds auth.Credentials) *Session {
	return &Session{
		Host:           host,
		Port:           port,
		Path:           DefaultPath,
		Credentials:    creds,
		ClientID:       auth.DefaultClientID,
		Filters:        []string{auth.DefaultFilter},
		Algorithm:      auth.AlgorithmSHA256,
		UserAgent:      DefaultUserAgent,
		Headers:        make(map[string]string),
		ConnectTimeout: DefaultConnectTimeout,
		PingInterval:   DefaultPingInterval,
		PongWait:       DefaultPongWait,
		CloseTimeout:   DefaultCloseTimeout,
		Transport:      &NetTransport{},
		Now:            time.Now,
		Logger:         DefaultLogger(),
		id:             uuid.New().String(),
	}
}

// ID returns the identifier used to correlate this session's log entries.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase. It is safe to call from any goroutine.
func (s *Session) Phase() Phase {
	return Phase(s.phase.Load())
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Stop asks the session to close. During setup the pending operation is
// cancelled; while streaming, a close frame is sent and the session ends
// once the server answers or CloseTimeout passes. Stop is safe to call from
// any goroutine, any number of times.
func (s *Session) Stop() {
	s.stopping.Store(true)
	s.stopOnce.Do(func() {
		close(s.stopChan())
	})
}

// Start runs the session on a new goroutine. The returned channel receives
// the result of Run and is then closed.
func (s *Session) Start(ctx context.Context, handle MessageHandler) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		errCh <- s.Run(ctx, handle)
	}()
	return errCh
}

// Run drives the session to completion on the calling goroutine and returns
// the error that ended it, or nil after a requested close. Cancelling ctx
// has the same effect as Stop.
func (s *Session) Run(ctx context.Context, handle MessageHandler) error {
	if !s.phase.CompareAndSwap(uint32(PhaseIdle), uint32(PhaseResolving)) {
		return errors.New("session has already been run")
	}

	if handle == nil {
		handle = func(Frame) {}
	}
	s.applyDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.Debug("phase changed",
		zap.Stringer("from", PhaseIdle), zap.Stringer("to", PhaseResolving))
	host := s.Host
	pending := s.issue(ctx, func(ctx context.Context) result {
		addrs, err := s.Transport.Resolve(ctx, host)
		return result{addrs: addrs, err: err}
	})

	stop := s.stopChan()
	done := ctx.Done()
	for pending != nil {
		var pingC, closeC <-chan time.Time
		if s.pinger != nil {
			pingC = s.pinger.C
		}
		if s.closeTimer != nil {
			closeC = s.closeTimer.C
		}

		select {
		case res := <-pending:
			// A cancelled ctx can complete the pending operation before
			// done is selected.
			if done != nil && ctx.Err() != nil {
				done = nil
				s.Stop()
			}
			pending = s.dispatch(ctx, res, handle)
		case <-stop:
			stop = nil
			pending = s.interrupt(pending)
		case <-done:
			done = nil
			s.Stop()
		case <-pingC:
			s.ping()
		case <-closeC:
			s.log.Warn("close handshake timed out", zap.Duration("timeout", s.CloseTimeout))
			pending = s.retire()
		}
	}

	return s.Err()
}

// dispatch consumes the completion of the operation issued in the current
// phase and issues the next one. It returns nil once the session is closed.
func (s *Session) dispatch(ctx context.Context, res result, handle MessageHandler) <-chan result {
	switch s.Phase() {
	case PhaseResolving:
		if res.err != nil {
			return s.fail(ResolutionError, res.err)
		}
		if s.stopping.Load() {
			return s.retire()
		}

		addrs, port := res.addrs, s.Port
		s.log.Debug("resolved", zap.Strings("addrs", addrs))
		return s.advance(ctx, PhaseConnecting, func(ctx context.Context) result {
			ctx, cancel := s.withConnectTimeout(ctx)
			defer cancel()

			conn, err := s.Transport.Connect(ctx, addrs, port)
			return result{conn: conn, err: err}
		})

	case PhaseConnecting:
		if res.err != nil {
			return s.fail(ConnectError, res.err)
		}
		s.raw = res.conn
		if s.stopping.Load() {
			return s.retire()
		}

		raw, cfg := s.raw, s.tlsConfig()
		return s.advance(ctx, PhaseTLSHandshaking, func(ctx context.Context) result {
			ctx, cancel := s.withConnectTimeout(ctx)
			defer cancel()

			conn, err := s.Transport.HandshakeTLS(ctx, raw, cfg)
			return result{conn: conn, err: err}
		})

	case PhaseTLSHandshaking:
		if res.err != nil {
			return s.fail(TLSHandshakeError, res.err)
		}
		s.tlsConn = res.conn

		// The connect timeout ends here. From now on the keepalive policy
		// is the only timeout.
		_ = s.tlsConn.SetDeadline(time.Time{})

		if s.stopping.Load() {
			return s.retire()
		}

		conn, u, header := s.tlsConn, s.endpoint(), makeHeader(s)
		return s.advance(ctx, PhaseWSHandshaking, func(ctx context.Context) result {
			ctx, cancel := s.withConnectTimeout(ctx)
			defer cancel()

			ws, err := s.Transport.HandshakeWS(ctx, conn, u, header)
			return result{ws: ws, err: err}
		})

	case PhaseWSHandshaking:
		if res.err != nil {
			return s.fail(WSHandshakeError, res.err)
		}
		s.ws = res.ws
		s.keepAlive()
		if s.stopping.Load() {
			return s.beginClose(nil)
		}

		data, err := s.envelope()
		if err != nil {
			return s.fail(SignatureError, err)
		}

		ws := s.ws
		return s.advance(ctx, PhaseAuthenticating, func(context.Context) result {
			return result{err: ws.WriteMessage(websocket.TextMessage, data)}
		})

	case PhaseAuthenticating:
		if res.err != nil {
			return s.fail(WriteError, res.err)
		}
		if s.stopping.Load() {
			return s.beginClose(nil)
		}

		s.setPhase(PhaseStreaming)
		return s.read(ctx)

	case PhaseStreaming:
		s.reading = false
		if res.err != nil {
			if websocket.IsCloseError(res.err, websocket.CloseNormalClosure) {
				s.log.Info("server closed the session")
				return s.retire()
			}
			return s.fail(ReadError, res.err)
		}

		s.deliver(res, handle)
		if s.stopping.Load() {
			return s.beginClose(nil)
		}
		return s.read(ctx)

	case PhaseClosing:
		// The read that was pending when the close frame went out.
		s.reading = false
		if res.err == nil {
			s.deliver(res, handle)
		} else if !websocket.IsCloseError(res.err, websocket.CloseNormalClosure) {
			s.log.Debug("pending read ended during close", zap.Error(res.err))
		}
		return s.retire()
	}

	return nil
}

// interrupt reacts to Stop while an operation is pending.
func (s *Session) interrupt(pending <-chan result) <-chan result {
	phase := s.Phase()
	s.log.Debug("stop requested", zap.Stringer("phase", phase))

	switch phase {
	case PhaseStreaming:
		return s.beginClose(pending)
	case PhaseClosing, PhaseClosed:
		return pending
	default:
		// Setup operations honor their context. The write issued while
		// authenticating does not, and completes on its own.
		if s.cancelOp != nil {
			s.cancelOp()
		}
		return pending
	}
}

// issue runs op on its own goroutine. Only one operation is ever pending, so
// the returned channel is the only one the loop waits on.
func (s *Session) issue(ctx context.Context, op operation) <-chan result {
	opCtx, cancel := context.WithCancel(ctx)
	s.cancelOp = cancel

	ch := make(chan result, 1)
	go func() {
		defer cancel()
		ch <- op(opCtx)
	}()
	return ch
}

func (s *Session) advance(ctx context.Context, next Phase, op operation) <-chan result {
	s.setPhase(next)
	return s.issue(ctx, op)
}

// read issues the next read into a cleared inbound buffer.
func (s *Session) read(ctx context.Context) <-chan result {
	s.inbound.Reset()
	s.reading = true

	ws := s.ws
	return s.issue(ctx, func(context.Context) result {
		t, p, err := ws.ReadMessage()
		return result{frameType: t, data: p, err: err}
	})
}

func (s *Session) deliver(res result, handle MessageHandler) {
	s.inbound.Write(res.data)
	s.extendReadDeadline()
	handle(Frame{Type: res.frameType, Data: s.inbound.Bytes()})
	s.inbound.Reset()
}

// beginClose sends the close frame. If a read is pending on pendingRead, its
// completion (or the close timer) finishes the session; otherwise the
// session is retired right away.
func (s *Session) beginClose(pendingRead <-chan result) <-chan result {
	s.setPhase(PhaseClosing)
	s.stopKeepAlive()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.CloseTimeout))
	if err != nil {
		s.log.Error("close failed", zap.Error(err))
		s.setErr(newError(CloseError, err))
		return s.retire()
	}

	if !s.reading || pendingRead == nil {
		return s.retire()
	}

	s.closeTimer = time.NewTimer(s.CloseTimeout)
	return pendingRead
}

func (s *Session) fail(kind ErrorKind, err error) <-chan result {
	if s.stopping.Load() && kind.setup() {
		// Cancelled by Stop; not a failure.
		s.log.Debug("setup aborted", zap.Stringer("phase", s.Phase()), zap.Error(err))
		return s.retire()
	}

	e := newError(kind, err)
	s.log.Error(kind.String()+" failed", zap.Error(err))
	s.setErr(e)
	return s.retire()
}

// retire tears down the transport stack and marks the session closed.
func (s *Session) retire() <-chan result {
	s.stopKeepAlive()
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}

	var err error
	switch {
	case s.ws != nil:
		err = s.ws.Close()
	case s.tlsConn != nil:
		err = s.tlsConn.Close()
	case s.raw != nil:
		err = s.raw.Close()
	}
	if err != nil {
		s.log.Debug("transport close", zap.Error(err))
	}
	s.ws, s.tlsConn, s.raw = nil, nil, nil

	s.setPhase(PhaseClosed)
	return nil
}

func (s *Session) keepAlive() {
	if s.PingInterval <= 0 {
		return
	}

	if s.PongWait > 0 {
		idle := s.PingInterval + s.PongWait
		ws := s.ws
		_ = ws.SetReadDeadline(time.Now().Add(idle))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(idle))
		})
	}

	s.pinger = time.NewTicker(s.PingInterval)
}

func (s *Session) extendReadDeadline() {
	if s.PingInterval > 0 && s.PongWait > 0 && s.ws != nil {
		_ = s.ws.SetReadDeadline(time.Now().Add(s.PingInterval + s.PongWait))
	}
}

func (s *Session) stopKeepAlive() {
	if s.pinger != nil {
		s.pinger.Stop()
		s.pinger = nil
	}
}

func (s *Session) ping() {
	if s.ws == nil || s.Phase() != PhaseStreaming {
		return
	}

	wait := s.PongWait
	if wait == 0 {
		wait = s.PingInterval
	}

	err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait))
	if err != nil {
		s.log.Warn("ping failed", zap.Error(err))
	}
}

func (s *Session) envelope() ([]byte, error) {
	env, err := auth.Build(s.Credentials, s.Now(),
		auth.WithClientID(s.ClientID),
		auth.WithFilters(s.Filters...),
		auth.WithAlgorithm(s.Algorithm),
	)
	if err != nil {
		return nil, err
	}

	data, err := env.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "envelope marshal failed")
	}

	s.log.Debug("auth preview", zap.ByteString("envelope", data))
	return data, nil
}

func (s *Session) tlsConfig() *tls.Config {
	var cfg *tls.Config
	if s.TLSClientConfig != nil {
		cfg = s.TLSClientConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}

	// SNI; many hosts need this to handshake successfully.
	if cfg.ServerName == "" {
		cfg.ServerName = s.Host
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	return cfg
}

// endpoint is the upgrade URL. The scheme is ws because TLS is already
// running underneath; the host part becomes the Host header.
func (s *Session) endpoint() *url.URL {
	return &url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(s.Host, s.Port),
		Path:   s.Path,
	}
}

func (s *Session) withConnectTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.ConnectTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.ConnectTimeout)
}

func (s *Session) setPhase(p Phase) {
	old := Phase(s.phase.Swap(uint32(p)))
	if old != p {
		s.log.Debug("phase changed", zap.Stringer("from", old), zap.Stringer("to", p))
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Session) stopChan() chan struct{} {
	s.initOnce.Do(func() {
		s.stopCh = make(chan struct{})
	})
	return s.stopCh
}

func (s *Session) applyDefaults() {
	if s.Path == "" {
		s.Path = DefaultPath
	}
	if s.ClientID == "" {
		s.ClientID = auth.DefaultClientID
	}
	if s.Algorithm == "" {
		s.Algorithm = auth.AlgorithmSHA256
	}
	if s.CloseTimeout <= 0 {
		s.CloseTimeout = DefaultCloseTimeout
	}
	if s.Transport == nil {
		s.Transport = &NetTransport{}
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}

	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s.log = logger.With(sessionFields(s)...)
}

func makeHeader(s *Session) http.Header {
	header := make(http.Header)

	// If no session is specified, return an empty header.
	if s == nil {
		return header
	}

	for k, v := range s.Headers {
		header.Add(k, v)
	}

	if s.UserAgent != "" {
		header.Set("User-Agent", s.UserAgent)
	}

	if s.Decorator != nil {
		s.Decorator(header)
	}

	return header
}
