/*
Package wsauth provides a client for authenticated WebSocket sessions over
TLS.

A session goes through the following steps, one network operation at a time:

	- resolve: look up the server's addresses
	- connect: open a TCP connection to the first address that accepts one
	- tls handshake: secure the connection, sending the host name via SNI
	- ws handshake: upgrade the connection at the "/ws" resource
	- authenticate: send the signed envelope built by package auth
	- stream: read frames and hand them to the caller until stopped
	- close: send a normal-closure close frame and tear the connection down

Nothing is retried. Any failure ends the session with an *Error whose Kind
names the step that failed.

Session.Run drives a session on the calling goroutine, Session.Start on a new
one. A Controller ties a session to the process: it turns SIGINT and SIGTERM
into a graceful close.

See the provided examples for how to use this library.
*/
package wsauth
