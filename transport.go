package wsauth

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// MessageReader is the interface that wraps ReadMessage.
//
// ReadMessage is defined at
// https://godoc.org/github.com/gorilla/websocket#Conn.ReadMessage
type MessageReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// MessageWriter is the interface that wraps WriteMessage.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebsocketConn is the subset of *websocket.Conn a Session drives. It exists
// so tests can substitute instrumented connections.
type WebsocketConn interface {
	MessageReader
	MessageWriter

	// WriteControl may be called concurrently with the other methods.
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Transport performs the network operations of a session, one per phase.
// Every method blocks until its operation completes or ctx is done.
type Transport interface {
	// Resolve looks up the addresses of host.
	Resolve(ctx context.Context, host string) ([]string, error)

	// Connect opens a TCP connection to the first address that accepts one.
	Connect(ctx context.Context, addrs []string, port string) (net.Conn, error)

	// HandshakeTLS runs a client TLS handshake over conn.
	HandshakeTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error)

	// HandshakeWS upgrades conn to a WebSocket connection for u.
	HandshakeWS(ctx context.Context, conn net.Conn, u *url.URL, header http.Header) (WebsocketConn, error)
}

// NetTransport is the Transport backed by the net, crypto/tls and gorilla
// websocket packages.
type NetTransport struct {
	// Resolver used for lookups. If nil, net.DefaultResolver is used.
	Resolver *net.Resolver

	// Dialer used to open TCP connections. If nil, a zero net.Dialer is used.
	Dialer *net.Dialer

	// Upper bound for the WebSocket upgrade exchange. Zero leaves the bound
	// to the context passed to HandshakeWS.
	HandshakeTimeout time.Duration

	// Buffer sizes handed to the websocket dialer. Zero selects gorilla's
	// defaults.
	ReadBufferSize  int
	WriteBufferSize int
}

// Resolve implements Transport.
func (t *NetTransport) Resolve(ctx context.Context, host string) ([]string, error) {
	r := t.Resolver
	if r == nil {
		r = net.DefaultResolver
	}

	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, errors.Wrap(err, "lookup failed")
	}

	if len(addrs) == 0 {
		return nil, errors.Errorf("no addresses found for %s", host)
	}

	return addrs, nil
}

// Connect implements Transport. Addresses are tried in order; the error of
// the last attempt is returned when none succeeds.
func (t *NetTransport) Connect(ctx context.Context, addrs []string, port string) (net.Conn, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no addresses to connect to")
	}

	d := t.Dialer
	if d == nil {
		d = &net.Dialer{}
	}

	var err error
	for _, addr := range addrs {
		var conn net.Conn
		conn, err = d.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}

		if ctx.Err() != nil {
			break
		}
	}

	return nil, errors.Wrap(err, "dial failed")
}

// HandshakeTLS implements Transport.
func (t *NetTransport) HandshakeTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrap(err, "handshake failed")
	}

	return tlsConn, nil
}

// HandshakeWS implements Transport. The upgrade request is written on conn
// as is; TLS, if any, is expected to be established already.
//
// The gorilla dialer only turns a context deadline into a connection
// deadline, so cancellation is forwarded to conn here.
func (t *NetTransport) HandshakeWS(ctx context.Context, conn net.Conn, u *url.URL, header http.Header) (WebsocketConn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})

	dialer := &websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			return conn, nil
		},
		HandshakeTimeout: t.HandshakeTimeout,
		ReadBufferSize:   t.ReadBufferSize,
		WriteBufferSize:  t.WriteBufferSize,
	}

	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		// According to the gorilla documentation, a bad handshake carries
		// the server's response, so report its status.
		if resp != nil {
			return nil, errors.Wrapf(err, "upgrade rejected: %v", resp.Status)
		}
		if !stop() && ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "upgrade aborted")
		}
		return nil, errors.Wrap(err, "upgrade failed")
	}

	if !stop() {
		// Cancelled right as the upgrade completed; the deadline is spent.
		_ = ws.Close()
		return nil, errors.Wrap(ctx.Err(), "upgrade aborted")
	}

	return ws, nil
}
