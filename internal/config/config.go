package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Models  ModelsConfig
	Stream  StreamConfig
	Log     LogConfig
	Usage   UsageConfig
	Storage StorageConfig
}

type ServerConfig struct {
	Addr     string
	Token    string
	MaxConns int
}

type BackendConfig struct {
	URL    string
	APIKey string
}

type ModelsConfig struct {
	Enabled []string
}

type StreamConfig struct {
	// ForceTerminal emits a done record when the backend stream ends
	// without a [DONE] sentinel.
	ForceTerminal bool
}

type LogConfig struct {
	Level string
}

type UsageConfig struct {
	Enabled bool
}

type StorageConfig struct {
	DataDir string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr: "127.0.0.1:11434",
		},
		Stream: StreamConfig{
			ForceTerminal: true,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
	}
}

// Load reads configuration from the JSON config file, environment variables
// and the secrets file, in that order of increasing precedence. The result
// is not validated; callers apply command-line overrides first and then
// call Validate.
//
// The config file lives at $XDG_CONFIG_HOME/fakeollama/config.json, secrets
// at $XDG_DATA_HOME/fakeollama/secrets.json. Environment variables are
// named FAKEOLLAMA_*.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsReader{})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

const secretService = "fakeollama"

func loadWith(b ConfigBackend, ss secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Backend.APIKey == "" {
		if key, err := ss.Get(secretService, "backend_api_key"); err == nil && key != "" {
			cfg.Backend.APIKey = key
		}
	}
	if cfg.Server.Token == "" {
		if tok, err := ss.Get(secretService, "server_token"); err == nil && tok != "" {
			cfg.Server.Token = tok
		}
	}

	return cfg, nil
}

// Validate reports missing or malformed required settings.
func (c Config) Validate() error {
	var errs []error
	if c.Backend.URL == "" {
		errs = append(errs, errors.New("missing required config: backend URL. Set it with --url or FAKEOLLAMA_BACKEND_URL"))
	} else if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid backend URL %q", c.Backend.URL))
	}
	if c.Backend.APIKey == "" {
		errs = append(errs, errors.New("missing required config: backend API key. Set it with --api-key or FAKEOLLAMA_BACKEND_API_KEY"))
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("server.max_conns must be >= 0, got %d", c.Server.MaxConns))
	}
	return errors.Join(errs...)
}

// ParseModelList splits a comma-separated model list, dropping blanks.
func ParseModelList(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// secretsReader reads from the secrets file.
type secretsReader struct{}

func (secretsReader) Get(service, account string) (string, error) {
	out, err := secretGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
