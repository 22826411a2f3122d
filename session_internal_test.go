package wsauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carterjones/wsauth/auth"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

func red(s string) string {
	return "\033[31m" + s + "\033[39m"
}

// Note: this is largely derived from
// https://github.com/golang/go/blob/1c69384da4fb4a1323e011941c101189247fea67/src/net/http/response_test.go#L915-L940
func testErrMatches(tb testing.TB, id string, err error, wantErr interface{}) {
	if err == nil {
		if wantErr == nil {
			return
		}

		if sub, ok := wantErr.(string); ok {
			tb.Errorf(red("%s | unexpected success; want error with substring %q"), id, sub)
			return
		}

		tb.Errorf(red("%s | unexpected success; want error %v"), id, wantErr)
		return
	}

	if wantErr == nil {
		tb.Errorf(red("%s | %v; want success"), id, err)
		return
	}

	if sub, ok := wantErr.(string); ok {
		if strings.Contains(err.Error(), sub) {
			return
		}
		tb.Errorf(red("%s | error = %v; want an error with substring %q"), id, err, sub)
		return
	}

	if err == wantErr {
		return
	}

	tb.Errorf(red("%s | %v; want %v"), id, err, wantErr)
}

// recorder tracks the network operations a session issues and how many of
// them overlap.
type recorder struct {
	mu          sync.Mutex
	calls       []string
	inFlight    int
	maxInFlight int
}

func (r *recorder) enter(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.mu.Unlock()

	// Widen the window in which an overlapping call would be noticed.
	time.Sleep(time.Millisecond)
}

func (r *recorder) leave() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), r.maxInFlight
}

type fakeWS struct {
	rec *recorder

	// Frames returned by successive reads. Once they run out, reads block
	// until the connection is closed or, with echoClose, a close frame is
	// written.
	frames    []string
	readErr   error
	writeErr  error
	echoClose bool

	mu        sync.Mutex
	reads     int
	deadlines int
	writes    [][]byte
	controls  []int
	closed    bool
	closeCh   chan struct{}
	echoCh    chan struct{}
	closeOnce sync.Once
	echoOnce  sync.Once
}

func newFakeWS(rec *recorder, frames ...string) *fakeWS {
	return &fakeWS{
		rec:     rec,
		frames:  frames,
		closeCh: make(chan struct{}),
		echoCh:  make(chan struct{}),
	}
}

func (c *fakeWS) ReadMessage() (int, []byte, error) {
	c.rec.enter("read")
	defer c.rec.leave()

	c.mu.Lock()
	i := c.reads
	c.reads++
	c.mu.Unlock()

	if i < len(c.frames) {
		return websocket.TextMessage, []byte(c.frames[i]), nil
	}

	if c.readErr != nil {
		return 0, nil, c.readErr
	}

	select {
	case <-c.echoCh:
		return websocket.CloseMessage, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-c.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeWS) WriteMessage(messageType int, data []byte) error {
	c.rec.enter("write")
	defer c.rec.leave()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeWS) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	c.controls = append(c.controls, messageType)
	c.mu.Unlock()

	if messageType == websocket.CloseMessage && c.echoClose {
		c.echoOnce.Do(func() { close(c.echoCh) })
	}
	return nil
}

func (c *fakeWS) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadlines++
	c.mu.Unlock()
	return nil
}

func (c *fakeWS) SetPongHandler(h func(appData string) error) {}

func (c *fakeWS) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closeCh)
	})
	return nil
}

func (c *fakeWS) stats() (reads int, writes [][]byte, controls []int, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.writes, append([]int(nil), c.controls...), c.closed
}

func (c *fakeWS) closeFrames() int {
	_, _, controls, _ := c.stats()
	n := 0
	for _, t := range controls {
		if t == websocket.CloseMessage {
			n++
		}
	}
	return n
}

type fakeTransport struct {
	rec *recorder
	ws  *fakeWS

	resolveErr   error
	connectErr   error
	tlsErr       error
	wsErr        error
	blockResolve bool
	blockWS      bool

	mu         sync.Mutex
	wsDeadline time.Time
	url        *url.URL
	header     http.Header
	tlsCfg     *tls.Config
	pipes      []net.Conn
}

func (f *fakeTransport) Resolve(ctx context.Context, host string) ([]string, error) {
	f.rec.enter("resolve")
	defer f.rec.leave()

	if f.blockResolve {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return []string{"192.0.2.10", "192.0.2.11"}, nil
}

func (f *fakeTransport) Connect(ctx context.Context, addrs []string, port string) (net.Conn, error) {
	f.rec.enter("connect")
	defer f.rec.leave()

	if f.connectErr != nil {
		return nil, f.connectErr
	}

	client, server := net.Pipe()
	f.mu.Lock()
	f.pipes = append(f.pipes, client, server)
	f.mu.Unlock()
	return client, nil
}

func (f *fakeTransport) HandshakeTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	f.rec.enter("tls")
	defer f.rec.leave()

	f.mu.Lock()
	f.tlsCfg = cfg
	f.mu.Unlock()

	if f.tlsErr != nil {
		return nil, f.tlsErr
	}
	return conn, nil
}

func (f *fakeTransport) HandshakeWS(ctx context.Context, conn net.Conn, u *url.URL, header http.Header) (WebsocketConn, error) {
	f.rec.enter("ws")
	defer f.rec.leave()

	f.mu.Lock()
	f.url = u
	f.header = header
	f.wsDeadline, _ = ctx.Deadline()
	f.mu.Unlock()

	if f.blockWS {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.wsErr != nil {
		return nil, f.wsErr
	}
	return f.ws, nil
}

func (f *fakeTransport) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.pipes {
		c.Close()
	}
}

var testCreds = auth.Credentials{AccessKey: "AKIDEXAMPLE", SecretKey: "s3cr3t"}

var fixedNow = time.UnixMilli(1700000000123)

func newTestSession(ft *fakeTransport) *Session {
	s := New("example.test", "443", testCreds)
	s.Transport = ft
	s.Now = func() time.Time { return fixedNow }
	s.PingInterval = 0
	s.CloseTimeout = time.Second
	return s
}

func newFakes(frames ...string) (*recorder, *fakeTransport) {
	rec := &recorder{}
	return rec, &fakeTransport{rec: rec, ws: newFakeWS(rec, frames...)}
}

func runWithTimeout(t *testing.T, s *Session, handle MessageHandler) error {
	t.Helper()

	select {
	case err := <-s.Start(context.Background(), handle):
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf(red("session did not finish, phase %v"), s.Phase())
		return nil
	}
}

func equalCalls(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}

func TestSession_sequencing(t *testing.T) {
	rec, ft := newFakes(`{"n":1}`, `{"n":2}`, `{"n":3}`)
	defer ft.close()

	s := newTestSession(ft)

	// Stop from within the handler once the second frame arrives.
	var got []string
	err := runWithTimeout(t, s, func(f Frame) {
		got = append(got, string(f.Data))
		if len(got) == 2 {
			s.Stop()
		}
	})
	testErrMatches(t, "run", err, nil)

	calls, maxInFlight := rec.snapshot()
	if maxInFlight != 1 {
		t.Errorf(red("max in flight = %d, want 1"), maxInFlight)
	}

	exp := []string{"resolve", "connect", "tls", "ws", "write", "read", "read"}
	if !equalCalls(calls, exp) {
		t.Errorf(red("calls = %v, want %v"), calls, exp)
	}

	if len(got) != 2 {
		t.Errorf(red("delivered %d frames, want 2"), len(got))
	}

	if n := ft.ws.closeFrames(); n != 1 {
		t.Errorf(red("sent %d close frames, want 1"), n)
	}

	if _, _, _, closed := ft.ws.stats(); !closed {
		t.Error(red("websocket was not closed"))
	}

	if s.Phase() != PhaseClosed {
		t.Errorf(red("phase = %v, want %v"), s.Phase(), PhaseClosed)
	}
}

func TestSession_firstFrameIsEnvelope(t *testing.T) {
	_, ft := newFakes(`hello`)
	defer ft.close()

	s := newTestSession(ft)
	s.ClientID = "desk-7"
	s.Filters = []string{"account", "orders"}

	err := runWithTimeout(t, s, func(Frame) { s.Stop() })
	testErrMatches(t, "run", err, nil)

	mac := hmac.New(sha256.New, []byte("s3cr3t"))
	mac.Write([]byte("1700000000123"))
	sig := hex.EncodeToString(mac.Sum(nil))

	exp := `{"action":"auth","apiKey":"AKIDEXAMPLE","nonce":1700000000123,"signature":"` + sig +
		`","id":"desk-7","filters":["account","orders"]}`

	_, writes, _, _ := ft.ws.stats()
	if len(writes) != 1 {
		t.Fatalf(red("got %d writes, want exactly 1"), len(writes))
	}
	if string(writes[0]) != exp {
		t.Errorf(red("first frame:\n\texp: %s\n\tgot: %s"), exp, writes[0])
	}
}

func TestSession_failures(t *testing.T) {
	cases := map[string]struct {
		setup    func(ft *fakeTransport, s *Session)
		wantKind ErrorKind
		wantErr  string
		expCalls []string
	}{
		"resolution failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.resolveErr = errors.New("no such host")
			},
			wantKind: ResolutionError,
			wantErr:  "resolve: no such host",
			expCalls: []string{"resolve"},
		},
		"connect failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.connectErr = errors.New("connection refused")
			},
			wantKind: ConnectError,
			wantErr:  "connect: connection refused",
			expCalls: []string{"resolve", "connect"},
		},
		"tls failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.tlsErr = errors.New("certificate signed by unknown authority")
			},
			wantKind: TLSHandshakeError,
			wantErr:  "tls handshake: certificate signed by unknown authority",
			expCalls: []string{"resolve", "connect", "tls"},
		},
		"ws failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.wsErr = websocket.ErrBadHandshake
			},
			wantKind: WSHandshakeError,
			wantErr:  "ws handshake: websocket: bad handshake",
			expCalls: []string{"resolve", "connect", "tls", "ws"},
		},
		"signature failure": {
			setup: func(ft *fakeTransport, s *Session) {
				s.Algorithm = "md5"
			},
			wantKind: SignatureError,
			wantErr:  "unsupported hmac algorithm",
			expCalls: []string{"resolve", "connect", "tls", "ws"},
		},
		"write failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.ws.writeErr = errors.New("broken pipe")
			},
			wantKind: WriteError,
			wantErr:  "write: broken pipe",
			expCalls: []string{"resolve", "connect", "tls", "ws", "write"},
		},
		"read failure": {
			setup: func(ft *fakeTransport, s *Session) {
				ft.ws.readErr = errors.New("i/o timeout")
			},
			wantKind: ReadError,
			wantErr:  "read: i/o timeout",
			expCalls: []string{"resolve", "connect", "tls", "ws", "write", "read"},
		},
	}

	for id, tc := range cases {
		rec, ft := newFakes()
		s := newTestSession(ft)
		tc.setup(ft, s)

		err := runWithTimeout(t, s, nil)
		ft.close()

		testErrMatches(t, id, err, tc.wantErr)
		if !IsKind(err, tc.wantKind) {
			t.Errorf(red("%s | error %v is not of kind %v"), id, err, tc.wantKind)
		}
		if s.Err() != err {
			t.Errorf(red("%s | Err() = %v, want %v"), id, s.Err(), err)
		}

		calls, _ := rec.snapshot()
		if !equalCalls(calls, tc.expCalls) {
			t.Errorf(red("%s | calls = %v, want %v"), id, calls, tc.expCalls)
		}

		if s.Phase() != PhaseClosed {
			t.Errorf(red("%s | phase = %v, want %v"), id, s.Phase(), PhaseClosed)
		}
	}
}

func TestSession_resolutionFailureNeverConnects(t *testing.T) {
	rec, ft := newFakes()
	defer ft.close()
	ft.resolveErr = errors.New("lookup example.test: no such host")

	s := newTestSession(ft)
	err := runWithTimeout(t, s, nil)

	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != ResolutionError {
		t.Fatalf(red("error = %v, want a ResolutionError"), err)
	}

	calls, _ := rec.snapshot()
	for _, c := range calls {
		if c == "connect" {
			t.Error(red("connect was attempted after a failed resolution"))
		}
	}
}

func TestSession_stopDuringPendingRead(t *testing.T) {
	_, ft := newFakes(`first`)
	defer ft.close()
	ft.ws.echoClose = true

	s := newTestSession(ft)

	received := make(chan struct{}, 1)
	errCh := s.Start(context.Background(), func(Frame) {
		received <- struct{}{}
	})

	<-received

	// Let the second read block before asking for the close.
	deadline := time.Now().Add(time.Second)
	for {
		if reads, _, _, _ := ft.ws.stats(); reads >= 2 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal(red("session did not close"))
	}
	testErrMatches(t, "stop", err, nil)

	reads, _, _, closed := ft.ws.stats()
	if reads != 2 {
		t.Errorf(red("reads = %d, want 2"), reads)
	}
	if n := ft.ws.closeFrames(); n != 1 {
		t.Errorf(red("sent %d close frames, want 1"), n)
	}
	if !closed {
		t.Error(red("websocket was not closed"))
	}
}

func TestSession_closeTimeout(t *testing.T) {
	_, ft := newFakes(`first`)
	defer ft.close()

	s := newTestSession(ft)
	s.CloseTimeout = 20 * time.Millisecond

	received := make(chan struct{}, 1)
	errCh := s.Start(context.Background(), func(Frame) {
		received <- struct{}{}
	})
	<-received
	s.Stop()

	select {
	case err := <-errCh:
		testErrMatches(t, "close timeout", err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal(red("session did not give up on the close handshake"))
	}

	if s.Phase() != PhaseClosed {
		t.Errorf(red("phase = %v, want %v"), s.Phase(), PhaseClosed)
	}
}

func TestSession_stopDuringSetup(t *testing.T) {
	rec, ft := newFakes()
	defer ft.close()
	ft.blockResolve = true

	s := newTestSession(ft)
	errCh := s.Start(context.Background(), nil)

	for s.Phase() != PhaseResolving {
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	select {
	case err := <-errCh:
		testErrMatches(t, "stop during setup", err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal(red("session did not stop"))
	}

	calls, _ := rec.snapshot()
	if !equalCalls(calls, []string{"resolve"}) {
		t.Errorf(red("calls = %v, want [resolve]"), calls)
	}
}

func TestSession_contextCancel(t *testing.T) {
	_, ft := newFakes()
	defer ft.close()
	ft.blockResolve = true

	s := newTestSession(ft)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := s.Start(ctx, nil)
	cancel()

	select {
	case err := <-errCh:
		testErrMatches(t, "cancel", err, nil)
	case <-time.After(5 * time.Second):
		t.Fatal(red("session ignored context cancellation"))
	}
}

func TestSession_stopBeforeStreaming(t *testing.T) {
	rec, ft := newFakes(`never read`)
	defer ft.close()

	s := newTestSession(ft)
	s.Stop()

	err := runWithTimeout(t, s, func(Frame) {
		t.Error(red("no frame should be delivered"))
	})
	testErrMatches(t, "stop before run", err, nil)

	calls, _ := rec.snapshot()
	for _, c := range calls {
		if c == "read" {
			t.Error(red("a read was issued after stop"))
		}
	}
}

func TestSession_inboundBufferCleared(t *testing.T) {
	_, ft := newFakes(`a rather long first frame`, `x`)
	defer ft.close()

	s := newTestSession(ft)

	var got []string
	err := runWithTimeout(t, s, func(f Frame) {
		got = append(got, string(f.Data))
		if len(got) == 2 {
			s.Stop()
		}
	})
	testErrMatches(t, "run", err, nil)

	if len(got) != 2 || got[0] != `a rather long first frame` || got[1] != `x` {
		t.Errorf(red("frames = %q"), got)
	}
}

func TestSession_serverClose(t *testing.T) {
	_, ft := newFakes(`only`)
	defer ft.close()
	ft.ws.readErr = &websocket.CloseError{Code: websocket.CloseNormalClosure}

	s := newTestSession(ft)
	err := runWithTimeout(t, s, nil)
	testErrMatches(t, "server close", err, nil)

	_, ft2 := newFakes()
	defer ft2.close()
	ft2.ws.readErr = &websocket.CloseError{Code: websocket.ClosePolicyViolation, Text: "authentication failed"}

	s2 := newTestSession(ft2)
	err = runWithTimeout(t, s2, nil)
	testErrMatches(t, "policy violation", err, "read: websocket: close 1008")
}

func TestSession_runTwice(t *testing.T) {
	_, ft := newFakes()
	defer ft.close()
	ft.resolveErr = errors.New("nope")

	s := newTestSession(ft)
	_ = runWithTimeout(t, s, nil)

	err := s.Run(context.Background(), nil)
	testErrMatches(t, "second run", err, "already been run")
}

func TestSession_upgradeRequest(t *testing.T) {
	_, ft := newFakes(`x`)
	defer ft.close()

	s := newTestSession(ft)
	s.Headers["X-Custom"] = "custom-value"
	s.Decorator = func(h http.Header) {
		h.Set("X-Decorated", "yes")
	}

	err := runWithTimeout(t, s, func(Frame) { s.Stop() })
	testErrMatches(t, "run", err, nil)

	ft.mu.Lock()
	defer ft.mu.Unlock()

	if got := ft.url.String(); got != "ws://example.test:443/ws" {
		t.Errorf(red("url = %s"), got)
	}
	if got := ft.header.Get("User-Agent"); got != DefaultUserAgent {
		t.Errorf(red("user agent = %q"), got)
	}
	if got := ft.header.Get("X-Custom"); got != "custom-value" {
		t.Errorf(red("custom header = %q"), got)
	}
	if got := ft.header.Get("X-Decorated"); got != "yes" {
		t.Errorf(red("decorated header = %q"), got)
	}
	if ft.tlsCfg.ServerName != "example.test" {
		t.Errorf(red("server name = %q, want example.test"), ft.tlsCfg.ServerName)
	}
	if ft.tlsCfg.MinVersion != tls.VersionTLS12 {
		t.Errorf(red("min version = %x"), ft.tlsCfg.MinVersion)
	}
}

func TestSession_tlsConfig(t *testing.T) {
	s := New("example.test", "443", testCreds)
	s.TLSClientConfig = &tls.Config{ServerName: "override.test", MinVersion: tls.VersionTLS13}

	cfg := s.tlsConfig()
	if cfg.ServerName != "override.test" || cfg.MinVersion != tls.VersionTLS13 {
		t.Errorf(red("config was not preserved: %q %x"), cfg.ServerName, cfg.MinVersion)
	}
	if cfg == s.TLSClientConfig {
		t.Error(red("config was not cloned"))
	}
}

func TestMakeHeader(t *testing.T) {
	if h := makeHeader(nil); len(h) != 0 {
		t.Errorf(red("nil session header = %v"), h)
	}

	s := &Session{UserAgent: "agent/1", Headers: map[string]string{"User-Agent": "overridden"}}
	if got := makeHeader(s).Values("User-Agent"); len(got) != 1 || got[0] != "agent/1" {
		t.Errorf(red("user agent values = %v"), got)
	}
}

func TestPhase_String(t *testing.T) {
	cases := map[Phase]string{
		PhaseIdle:           "IDLE",
		PhaseResolving:      "RESOLVING",
		PhaseConnecting:     "CONNECTING",
		PhaseTLSHandshaking: "TLS_HANDSHAKING",
		PhaseWSHandshaking:  "WS_HANDSHAKING",
		PhaseAuthenticating: "AUTHENTICATING",
		PhaseStreaming:      "STREAMING",
		PhaseClosing:        "CLOSING",
		PhaseClosed:         "CLOSED",
		Phase(99):           "UNKNOWN",
	}

	for p, exp := range cases {
		if p.String() != exp {
			t.Errorf(red("%d.String() = %q, want %q"), p, p.String(), exp)
		}
	}
}

func TestSession_upgradeBounded(t *testing.T) {
	cases := map[string]struct {
		timeout  time.Duration
		stop     bool
		wantErr  interface{}
		wantKind ErrorKind
	}{
		"connect timeout bounds the upgrade": {
			timeout:  50 * time.Millisecond,
			wantErr:  "ws handshake: context deadline exceeded",
			wantKind: WSHandshakeError,
		},
		"stop cancels the upgrade": {
			timeout: time.Minute,
			stop:    true,
		},
	}

	for id, tc := range cases {
		_, ft := newFakes()
		ft.blockWS = true

		s := newTestSession(ft)
		s.ConnectTimeout = tc.timeout

		started := time.Now()
		errCh := s.Start(context.Background(), nil)

		if tc.stop {
			for s.Phase() != PhaseWSHandshaking {
				time.Sleep(time.Millisecond)
			}
			s.Stop()
		}

		var err error
		select {
		case err = <-errCh:
		case <-time.After(5 * time.Second):
			t.Fatalf(red("%s | session stuck in %v"), id, s.Phase())
		}
		ft.close()

		testErrMatches(t, id, err, tc.wantErr)
		if tc.wantErr != nil && !IsKind(err, tc.wantKind) {
			t.Errorf(red("%s | error %v is not of kind %v"), id, err, tc.wantKind)
		}

		ft.mu.Lock()
		deadline := ft.wsDeadline
		ft.mu.Unlock()
		if deadline.IsZero() || deadline.After(started.Add(tc.timeout+time.Second)) {
			t.Errorf(red("%s | upgrade deadline %v not bounded by %v"), id, deadline, tc.timeout)
		}
	}
}

func TestSession_keepAliveDeadlines(t *testing.T) {
	cases := map[string]struct {
		pingInterval time.Duration
		pongWait     time.Duration
		wantDeadline bool
	}{
		"pings disabled": {
			pingInterval: 0,
			pongWait:     5 * time.Second,
		},
		"pong wait disabled": {
			pingInterval: time.Hour,
			pongWait:     0,
		},
		"enabled": {
			pingInterval: time.Hour,
			pongWait:     time.Second,
			wantDeadline: true,
		},
	}

	for id, tc := range cases {
		_, ft := newFakes(`a`, `b`)
		s := newTestSession(ft)
		s.PingInterval = tc.pingInterval
		s.PongWait = tc.pongWait

		n := 0
		err := runWithTimeout(t, s, func(Frame) {
			n++
			if n == 2 {
				s.Stop()
			}
		})
		ft.close()
		testErrMatches(t, id, err, nil)

		ft.ws.mu.Lock()
		deadlines := ft.ws.deadlines
		ft.ws.mu.Unlock()

		if tc.wantDeadline && deadlines == 0 {
			t.Errorf(red("%s | no read deadline was set"), id)
		}
		if !tc.wantDeadline && deadlines != 0 {
			t.Errorf(red("%s | %d read deadlines set, want none"), id, deadlines)
		}
	}
}
