package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is a test double for the secretStore interface.
type mockSecrets struct {
	values map[string]string
}

func (m mockSecrets) Get(service, account string) (string, error) {
	if v, ok := m.values[account]; ok {
		return v, nil
	}
	return "", os.ErrNotExist
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "127.0.0.1:11434" {
		t.Errorf("Server.Addr = %q, want 127.0.0.1:11434", cfg.Server.Addr)
	}
	if !cfg.Stream.ForceTerminal {
		t.Error("Stream.ForceTerminal = false, want true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.Usage.Enabled {
		t.Error("Usage.Enabled = true, want false")
	}
	if cfg.Server.MaxConns != 0 || cfg.Server.Token != "" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if len(cfg.Models.Enabled) != 0 {
		t.Errorf("Models.Enabled = %v, want empty", cfg.Models.Enabled)
	}
}

// TestFileParsing verifies that fields are read from the JSON config file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)

	b := writeTempConfig(t, `{
		"server.addr": "0.0.0.0:8080",
		"server.max_conns": 16,
		"backend.url": "https://api.example.com",
		"models.enabled": ["llama2", "mistral"],
		"stream.force_terminal": false,
		"usage.enabled": "true",
		"storage.data_dir": "/tmp/fo-test",
		"backend.api_key": "ignored-secret-in-file"
	}`)

	cfg, err := loadWith(b, mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Addr != "0.0.0.0:8080" || cfg.Server.MaxConns != 16 {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Backend.URL != "https://api.example.com" {
		t.Errorf("Backend.URL = %q", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "" {
		t.Errorf("Backend.APIKey = %q, secrets must not be read from the config file", cfg.Backend.APIKey)
	}
	if strings.Join(cfg.Models.Enabled, ",") != "llama2,mistral" {
		t.Errorf("Models.Enabled = %v", cfg.Models.Enabled)
	}
	if cfg.Stream.ForceTerminal {
		t.Error("Stream.ForceTerminal = true, want false")
	}
	if !cfg.Usage.Enabled {
		t.Error("Usage.Enabled = false, want true")
	}
	if cfg.Storage.DataDir != "/tmp/fo-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("FAKEOLLAMA_BACKEND_URL", "http://env:9000")
	t.Setenv("FAKEOLLAMA_BACKEND_API_KEY", "env-key")
	t.Setenv("FAKEOLLAMA_MODELS_ENABLED", "a, b,,c")
	t.Setenv("FAKEOLLAMA_SERVER_MAX_CONNS", "not-a-number")

	b := writeTempConfig(t, `{"backend.url": "http://file:9000", "server.max_conns": 4}`)
	cfg, err := loadWith(b, mockSecrets{values: map[string]string{"backend_api_key": "secret-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.URL != "http://env:9000" {
		t.Errorf("Backend.URL = %q, want env value", cfg.Backend.URL)
	}
	if cfg.Backend.APIKey != "env-key" {
		t.Errorf("Backend.APIKey = %q, want env-key", cfg.Backend.APIKey)
	}
	if strings.Join(cfg.Models.Enabled, ",") != "a,b,c" {
		t.Errorf("Models.Enabled = %v", cfg.Models.Enabled)
	}
	if cfg.Server.MaxConns != 4 {
		t.Errorf("Server.MaxConns = %d, want file value 4 after bad env value", cfg.Server.MaxConns)
	}
}

// TestSecretsFallback verifies the secrets file is consulted when no key is in env.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)

	ss := mockSecrets{values: map[string]string{
		"backend_api_key": "stored-secret",
		"server_token":    "stored-token",
	}}
	cfg, err := loadWith(writeTempConfig(t, `{}`), ss)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Backend.APIKey != "stored-secret" {
		t.Errorf("Backend.APIKey = %q, want stored-secret", cfg.Backend.APIKey)
	}
	if cfg.Server.Token != "stored-token" {
		t.Errorf("Server.Token = %q, want stored-token", cfg.Server.Token)
	}
}

func TestValidate(t *testing.T) {
	valid := defaults()
	valid.Backend = BackendConfig{URL: "https://api.example.com", APIKey: "k"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing url", func(c *Config) { c.Backend.URL = "" }, "backend URL"},
		{"relative url", func(c *Config) { c.Backend.URL = "api.example.com" }, "invalid backend URL"},
		{"missing key", func(c *Config) { c.Backend.APIKey = "" }, "backend API key"},
		{"negative max conns", func(c *Config) { c.Server.MaxConns = -1 }, "max_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	b := writeTempConfig(t, `{}`)

	if err := setKey(b, "models.enabled", "llama2, mistral"); err != nil {
		t.Fatalf("setKey(models.enabled): %v", err)
	}
	if err := setKey(b, "usage.enabled", "yes"); err == nil {
		t.Error("expected error for invalid boolean")
	}
	if err := setKey(b, "server.max_conns", "8"); err != nil {
		t.Fatalf("setKey(server.max_conns): %v", err)
	}
	if err := setKey(b, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKey(b, "backend.api_key", "sk-test"); err != nil {
		t.Fatalf("setKey(backend.api_key): %v", err)
	}

	reloaded, err := loadWith(newFileBackend(b.path), secretsReader{})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if strings.Join(reloaded.Models.Enabled, ",") != "llama2,mistral" {
		t.Errorf("Models.Enabled = %v", reloaded.Models.Enabled)
	}
	if reloaded.Server.MaxConns != 8 {
		t.Errorf("Server.MaxConns = %d, want 8", reloaded.Server.MaxConns)
	}
	if reloaded.Backend.APIKey != "sk-test" {
		t.Errorf("Backend.APIKey = %q, want sk-test from secrets file", reloaded.Backend.APIKey)
	}
}

func TestSetSecret_CorruptFileUntouched(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatal(err)
	}
	corrupt := []byte(`{"fakeollama": {"server_token": "keep-me"`)
	if err := os.WriteFile(p, corrupt, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetSecret(secretService, "backend_api_key", "sk-new"); err == nil {
		t.Fatal("expected error for unparseable secrets file")
	}

	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(corrupt) {
		t.Errorf("secrets file rewritten: %q", data)
	}
}

func TestSetSecret_PreservesOtherAccounts(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := SetSecret(secretService, "server_token", "tok"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if err := SetSecret(secretService, "backend_api_key", "sk"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}

	for account, want := range map[string]string{"server_token": "tok", "backend_api_key": "sk"} {
		got, err := secretsReader{}.Get(secretService, account)
		if err != nil || got != want {
			t.Errorf("Get(%s) = %q, %v; want %q", account, got, err, want)
		}
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Backend.APIKey = "sk-hidden"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-hidden") {
			t.Errorf("ShowAll exposed secret under %s", k.Key)
		}
	}
}

func TestParseModelList(t *testing.T) {
	got := ParseModelList(" llama2 ,, mistral,")
	if strings.Join(got, "|") != "llama2|mistral" {
		t.Errorf("ParseModelList = %v", got)
	}
	if ParseModelList("") != nil {
		t.Error("ParseModelList(\"\") should be nil")
	}
}
