package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"

	"github.com/pkg/errors"
)

// ErrUnsupportedAlgorithm is returned by HMAC when the algorithm identifier
// is not one of the supported digests.
var ErrUnsupportedAlgorithm = errors.New("unsupported hmac algorithm")

// AlgorithmSHA256 is the digest used to sign authentication envelopes.
const AlgorithmSHA256 = "sha256"

var digests = map[string]func() hash.Hash{
	AlgorithmSHA256: sha256.New,
	"sha384":        sha512.New384,
	"sha512":        sha512.New,
}

// SHA256Hex returns the lowercase hex encoding of the SHA-256 digest of raw.
func SHA256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Base64 encodes raw using the standard, padded base64 alphabet.
func Base64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// HMAC computes the hex encoded HMAC of raw keyed with secret, using the
// digest named by algorithm.
//
// An unrecognized algorithm yields an empty string together with
// ErrUnsupportedAlgorithm. The empty string is never a valid signature.
func HMAC(algorithm, secret, raw string) (string, error) {
	newHash, ok := digests[algorithm]
	if !ok {
		return "", errors.Wrapf(ErrUnsupportedAlgorithm, "algorithm %q", algorithm)
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
