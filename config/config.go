// Package config loads the settings of the wsauth client.
//
// Values are layered: built-in defaults, then a YAML file, then WSAUTH_*
// environment variables, then any command line flags bound to the viper
// instance.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"strings"
	"time"

	"github.com/carterjones/wsauth"
	"github.com/carterjones/wsauth/auth"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables that override file
// settings, e.g. WSAUTH_CLIENT_ID.
const EnvPrefix = "WSAUTH"

// DefaultFile is the name of the config file searched for in the working
// directory when no path is given.
const DefaultFile = "wsauth.yaml"

// Config holds every tunable of a client run.
type Config struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	UserAgent      string        `mapstructure:"user_agent" yaml:"user_agent"`
	Filters        []string      `mapstructure:"filters" yaml:"filters"`
	Algorithm      string        `mapstructure:"algorithm" yaml:"algorithm"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// Directory holding the access and secret key files.
	KeyDir string `mapstructure:"key_dir" yaml:"key_dir"`

	// Optional CBOR capture file for inbound frames.
	Capture string `mapstructure:"capture" yaml:"capture"`

	Debug bool `mapstructure:"debug" yaml:"debug"`

	// Additional trust anchor in PEM format.
	CAFile             string `mapstructure:"ca_file" yaml:"ca_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Path:           wsauth.DefaultPath,
		ClientID:       auth.DefaultClientID,
		UserAgent:      wsauth.DefaultUserAgent,
		Filters:        []string{auth.DefaultFilter},
		Algorithm:      auth.AlgorithmSHA256,
		ConnectTimeout: wsauth.DefaultConnectTimeout,
		PingInterval:   wsauth.DefaultPingInterval,
		PongWait:       wsauth.DefaultPongWait,
		CloseTimeout:   wsauth.DefaultCloseTimeout,
		PollInterval:   wsauth.DefaultPollInterval,
		KeyDir:         auth.DefaultKeyDir,
	}
}

// SetDefaults registers the built-in settings on v. Every key must be known
// to v for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("path", d.Path)
	v.SetDefault("client_id", d.ClientID)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("filters", d.Filters)
	v.SetDefault("algorithm", d.Algorithm)
	v.SetDefault("connect_timeout", d.ConnectTimeout)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("pong_wait", d.PongWait)
	v.SetDefault("close_timeout", d.CloseTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("key_dir", d.KeyDir)
	v.SetDefault("capture", "")
	v.SetDefault("debug", false)
	v.SetDefault("ca_file", "")
	v.SetDefault("insecure_skip_verify", false)
}

// Load reads the configuration into a Config. If path is empty, DefaultFile
// is looked up in the working directory and silently skipped when absent;
// an explicit path must exist.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFile, ".yaml"))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config failed")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config failed")
	}

	return cfg, nil
}

// TLSConfig builds the client TLS configuration. The CA file, if set, is
// read from fs and added to the system roots.
func (c Config) TLSConfig(fs afero.Fs) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}

	if c.CAFile == "" {
		return cfg, nil
	}

	pem, err := afero.ReadFile(fs, c.CAFile)
	if err != nil {
		return nil, errors.Wrap(err, "read CA file failed")
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.Errorf("no certificates found in %s", c.CAFile)
	}
	cfg.RootCAs = pool

	return cfg, nil
}

// Apply copies the session settings onto s.
func (c Config) Apply(s *wsauth.Session) {
	s.Path = c.Path
	s.ClientID = c.ClientID
	s.UserAgent = c.UserAgent
	s.Filters = append([]string(nil), c.Filters...)
	s.Algorithm = c.Algorithm
	s.ConnectTimeout = c.ConnectTimeout
	s.PingInterval = c.PingInterval
	s.PongWait = c.PongWait
	s.CloseTimeout = c.CloseTimeout
}
