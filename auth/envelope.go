// Package auth builds and verifies the authentication envelope that opens
// every session, together with the digest helpers and the key loader it
// depends on.
//
// The envelope is a single JSON object:
//
//	{"action":"auth","apiKey":"...","nonce":1700000000000,"signature":"...","id":"client-id","filters":["account"]}
//
// The nonce is the number of milliseconds since the Unix epoch at the time
// the envelope is built. The signature is the hex encoded HMAC-SHA256 of the
// nonce's decimal form, keyed with the secret key.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ActionAuth is the action carried by every authentication envelope.
const ActionAuth = "auth"

// Defaults used by Build when no option overrides them.
const (
	DefaultClientID = "client-id"
	DefaultFilter   = "account"
)

// Envelope is the authentication message sent to the server once the
// WebSocket upgrade completes.
type Envelope struct {
	// always "auth"
	Action string `json:"action"`

	// the access key identifying the caller
	APIKey string `json:"apiKey"`

	// milliseconds since the Unix epoch, sampled once per envelope
	Nonce int64 `json:"nonce"`

	// hex HMAC of the nonce's decimal string, keyed with the secret key
	Signature string `json:"signature"`

	// client identifier
	ID string `json:"id"`

	// subscription topics, in order
	Filters []string `json:"filters"`
}

type buildOptions struct {
	clientID  string
	filters   []string
	algorithm string
}

// Option customizes Build.
type Option func(*buildOptions)

// WithClientID sets the envelope's id field.
func WithClientID(id string) Option {
	return func(o *buildOptions) { o.clientID = id }
}

// WithFilters sets the subscription topics.
func WithFilters(filters ...string) Option {
	return func(o *buildOptions) { o.filters = filters }
}

// WithAlgorithm selects the HMAC digest. Verify only accepts "sha256".
func WithAlgorithm(algorithm string) Option {
	return func(o *buildOptions) { o.algorithm = algorithm }
}

// NonceString returns the decimal form of the millisecond nonce for t.
func NonceString(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Build creates a signed envelope. now is sampled once and used for both the
// nonce and the signature input.
func Build(creds Credentials, now time.Time, opts ...Option) (*Envelope, error) {
	o := buildOptions{
		clientID:  DefaultClientID,
		filters:   []string{DefaultFilter},
		algorithm: AlgorithmSHA256,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if creds.AccessKey == "" {
		return nil, errors.New("access key is empty")
	}
	if creds.SecretKey == "" {
		return nil, errors.New("secret key is empty")
	}

	nonce := now.UnixMilli()
	signature, err := HMAC(o.algorithm, creds.SecretKey, strconv.FormatInt(nonce, 10))
	if err != nil {
		return nil, errors.Wrap(err, "signature failed")
	}

	filters := make([]string, len(o.filters))
	copy(filters, o.filters)

	return &Envelope{
		Action:    ActionAuth,
		APIKey:    creds.AccessKey,
		Nonce:     nonce,
		Signature: signature,
		ID:        o.clientID,
		Filters:   filters,
	}, nil
}

// Marshal serializes the envelope to its wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	if e.Signature == "" {
		return nil, errors.New("envelope is not signed")
	}

	// A nil filter list must still go out as [].
	if e.Filters == nil {
		cp := *e
		cp.Filters = []string{}
		return json.Marshal(&cp)
	}

	return json.Marshal(e)
}

// Parse decodes an envelope from its wire form.
func Parse(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "json unmarshal failed")
	}

	if e.Action != ActionAuth {
		return nil, errors.Errorf("unexpected action: %q", e.Action)
	}

	return &e, nil
}

// Verify checks that env carries a valid HMAC-SHA256 signature of its nonce
// for the given secret.
func Verify(secret string, env *Envelope) error {
	if env == nil {
		return errors.New("envelope is nil")
	}

	want, err := HMAC(AlgorithmSHA256, secret, strconv.FormatInt(env.Nonce, 10))
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(want), []byte(env.Signature)) != 1 {
		return errors.New("signature mismatch")
	}

	return nil
}
