package auth

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultKeyDir is the directory holding the access and secret key files.
const DefaultKeyDir = "conf"

// Names of the key files inside the key directory.
const (
	AccessKeyFile = "access"
	SecretKeyFile = "secret"
)

// Credentials holds the key pair used to sign authentication envelopes. It
// is loaded once and never modified afterwards.
type Credentials struct {
	AccessKey string
	SecretKey string
}

// KeyErrorKind classifies credential loading failures.
type KeyErrorKind int

const (
	// KeyFileAccess means the key file could not be opened or read.
	KeyFileAccess KeyErrorKind = iota + 1

	// KeyFormat means the key file held no token.
	KeyFormat
)

// KeyError describes a key file that could not be loaded.
type KeyError struct {
	Kind KeyErrorKind
	Path string
	Err  error
}

func (e *KeyError) Error() string {
	switch e.Kind {
	case KeyFileAccess:
		return fmt.Sprintf("key file %s: %v", e.Path, e.Err)
	case KeyFormat:
		return fmt.Sprintf("key file %s: empty", e.Path)
	default:
		return fmt.Sprintf("key file %s: unknown error", e.Path)
	}
}

// Unwrap returns the underlying file system error, if any.
func (e *KeyError) Unwrap() error {
	return e.Err
}

// LoadKeys reads the access and secret keys from dir. Each file contributes
// its first whitespace delimited token.
func LoadKeys(fs afero.Fs, dir string) (Credentials, error) {
	if dir == "" {
		dir = DefaultKeyDir
	}

	access, err := readKey(fs, filepath.Join(dir, AccessKeyFile))
	if err != nil {
		return Credentials{}, err
	}

	secret, err := readKey(fs, filepath.Join(dir, SecretKeyFile))
	if err != nil {
		return Credentials{}, err
	}

	return Credentials{AccessKey: access, SecretKey: secret}, nil
}

func readKey(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", &KeyError{Kind: KeyFileAccess, Path: path, Err: err}
	}

	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", &KeyError{Kind: KeyFormat, Path: path}
	}

	return fields[0], nil
}
