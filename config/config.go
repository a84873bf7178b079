// ABOUTME: Layered configuration: defaults, then a YAML file, then CONDUCTOR_* environment variables.
// ABOUTME: The final struct is validated with go-playground/validator tags keyed by YAML names.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONDUCTOR_"

// FileName is the config file looked up in the config directory.
const FileName = "config.yaml"

// Config holds every runtime setting.
type Config struct {
	BackendURL           string        `yaml:"backend_url" validate:"required,url"`
	SocketURL            string        `yaml:"socket_url" validate:"omitempty,url"`
	PollInterval         time.Duration `yaml:"poll_interval" validate:"min=100ms"`
	RequestTimeout       time.Duration `yaml:"request_timeout" validate:"min=1s"`
	Reconnect            bool          `yaml:"reconnect"`
	ReconnectMaxInterval time.Duration `yaml:"reconnect_max_interval" validate:"min=100ms"`
	HistoryCache         bool          `yaml:"history_cache"`
	DataDir              string        `yaml:"data_dir" validate:"required"`
	LogLevel             string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile              bool          `yaml:"log_file"`
	MetricsAddr          string        `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns the built-in settings. DataDir is left empty when no
// home directory can be resolved.
func Default() Config {
	dataDir, _ := DefaultDataDir()
	return Config{
		BackendURL:           "http://127.0.0.1:8089",
		PollInterval:         5 * time.Second,
		RequestTimeout:       30 * time.Second,
		Reconnect:            true,
		ReconnectMaxInterval: 30 * time.Second,
		HistoryCache:         true,
		DataDir:              dataDir,
		LogLevel:             "info",
	}
}

// Load builds a Config from defaults, the YAML file at path, and the
// environment. An empty path means <config-dir>/config.yaml, which may be
// absent. An explicit path must exist. The result is not yet validated;
// call Finalize after applying flags.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path, _ = DefaultConfigFile()
	}
	if path != "" {
		if err := cfg.mergeFile(path, explicit); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string, required bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from CONDUCTOR_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(name string, dst *time.Duration) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		return nil
	}

	str("BACKEND_URL", &c.BackendURL)
	str("SOCKET_URL", &c.SocketURL)
	str("DATA_DIR", &c.DataDir)
	str("LOG_LEVEL", &c.LogLevel)
	str("METRICS_ADDR", &c.MetricsAddr)
	return errors.Join(
		dur("POLL_INTERVAL", &c.PollInterval),
		dur("REQUEST_TIMEOUT", &c.RequestTimeout),
		dur("RECONNECT_MAX_INTERVAL", &c.ReconnectMaxInterval),
		boolean("RECONNECT", &c.Reconnect),
		boolean("HISTORY_CACHE", &c.HistoryCache),
		boolean("LOG_FILE", &c.LogFile),
	)
}

// Finalize normalizes derived fields and validates the result.
func (c *Config) Finalize() error {
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.SocketURL == "" && c.BackendURL != "" {
		u, err := DeriveSocketURL(c.BackendURL)
		if err != nil {
			return fmt.Errorf("config: backend_url: %w", err)
		}
		c.SocketURL = u
	}
	return c.Validate()
}

// Validate checks the struct tags and reports every failing field by its
// YAML name.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s (got %q)", fe.Field(), fe.Tag(), fmt.Sprint(fe.Value())))
		}
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// DeriveSocketURL maps an http(s) backend URL to the ws(s) channel URL.
func DeriveSocketURL(backendURL string) (string, error) {
	u, err := url.Parse(backendURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// HistoryDBPath is where the history cache lives.
func (c Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// LogFilePath is where the JSON log file lives when enabled.
func (c Config) LogFilePath() string {
	return filepath.Join(c.DataDir, "logs", "conductor.log")
}
