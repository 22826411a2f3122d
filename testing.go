package wsauth

import (
	"net/http"
	"time"

	"github.com/carterjones/wsauth/auth"
	"github.com/gorilla/websocket"
)

// TestAuthenticatedMessage is the frame TestAuthHandler sends after a valid
// authentication envelope.
const TestAuthenticatedMessage = `{"event":"authenticated"}`

// TestAuthHandler returns a sample "/ws" handling function for servers that
// accept sessions signed with creds.
//
// The handler upgrades the connection, reads the authentication envelope and
// verifies it. On success it sends TestAuthenticatedMessage and then echoes
// every frame it receives. On failure it closes the connection with a policy
// violation. If the upgrade itself fails, it will panic.
func TestAuthHandler(creds auth.Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			panic(err)
		}

		go func() {
			defer c.Close()

			if !testAuthenticate(c, creds) {
				msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
				_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				return
			}

			if werr := c.WriteMessage(websocket.TextMessage, []byte(TestAuthenticatedMessage)); werr != nil {
				return
			}

			for {
				t, p, rerr := c.ReadMessage()
				if rerr != nil {
					return
				}

				if werr := c.WriteMessage(t, p); werr != nil {
					return
				}
			}
		}()
	}
}

func testAuthenticate(c *websocket.Conn, creds auth.Credentials) bool {
	t, p, err := c.ReadMessage()
	if err != nil || t != websocket.TextMessage {
		return false
	}

	env, err := auth.Parse(p)
	if err != nil {
		return false
	}

	if env.APIKey != creds.AccessKey {
		return false
	}

	return auth.Verify(creds.SecretKey, env) == nil
}
