package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// file is the on-disk form of Config. Durations are written in their
// string form ("30s") rather than as nanosecond counts.
type file struct {
	Path               string   `yaml:"path"`
	ClientID           string   `yaml:"client_id"`
	UserAgent          string   `yaml:"user_agent"`
	Filters            []string `yaml:"filters"`
	Algorithm          string   `yaml:"algorithm"`
	ConnectTimeout     string   `yaml:"connect_timeout"`
	PingInterval       string   `yaml:"ping_interval"`
	PongWait           string   `yaml:"pong_wait"`
	CloseTimeout       string   `yaml:"close_timeout"`
	PollInterval       string   `yaml:"poll_interval"`
	KeyDir             string   `yaml:"key_dir"`
	Capture            string   `yaml:"capture"`
	Debug              bool     `yaml:"debug"`
	CAFile             string   `yaml:"ca_file"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	f := file{
		Path:               cfg.Path,
		ClientID:           cfg.ClientID,
		UserAgent:          cfg.UserAgent,
		Filters:            cfg.Filters,
		Algorithm:          cfg.Algorithm,
		ConnectTimeout:     cfg.ConnectTimeout.String(),
		PingInterval:       cfg.PingInterval.String(),
		PongWait:           cfg.PongWait.String(),
		CloseTimeout:       cfg.CloseTimeout.String(),
		PollInterval:       cfg.PollInterval.String(),
		KeyDir:             cfg.KeyDir,
		Capture:            cfg.Capture,
		Debug:              cfg.Debug,
		CAFile:             cfg.CAFile,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "encode config failed")
	}
	return data, nil
}

// Write stores cfg at path on fs. An existing file is not overwritten.
func Write(fs afero.Fs, path string, cfg Config) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return errors.Wrap(err, "stat config failed")
	}
	if exists {
		return errors.Errorf("%s already exists", path)
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return errors.Wrap(err, "write config failed")
	}
	return nil
}
