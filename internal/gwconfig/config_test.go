package gwconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile_AppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
openai_clients:
  - name: a
    base_url: https://example.com
    model_match:
      type: exact
      value: [gpt-4]
    priority: 1
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Fatalf("Metrics.Path = %q, want /metrics (default)", cfg.Metrics.Path)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("Metrics.Enabled should default to true")
	}
}

func TestLoadFromFile_ExpandsEnvVars(t *testing.T) {
	os.Setenv("GATEWAYD_TEST_API_KEY", "secret-from-env")
	defer os.Unsetenv("GATEWAYD_TEST_API_KEY")

	path := writeConfigFile(t, `
server:
  port: 8080
openai_clients:
  - name: a
    base_url: https://example.com
    api_key: ${GATEWAYD_TEST_API_KEY}
    model_match:
      type: exact
      value: [gpt-4]
    priority: 1
`)
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if cfg.Providers[0].APIKey != "secret-from-env" {
		t.Fatalf("APIKey = %q, want expanded env value", cfg.Providers[0].APIKey)
	}
}

func TestValidate_RejectsEmptyProviderPool(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 8080
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject a config with no providers")
	}
}

func TestValidate_RejectsMatchingServerAndAdminPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 8080
	cfg.Server.AdminPort = 8080
	cfg.Providers = []Provider{{
		Name: "a", BaseURL: "https://example.com",
		ModelMatch: ModelMatch{Kind: MatchExact, Values: []string{"gpt-4"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject admin_port == port")
	}
}

func TestValidate_RejectsUnknownModelMatchKind(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 8080
	cfg.Providers = []Provider{{
		Name: "a", BaseURL: "https://example.com",
		ModelMatch: ModelMatch{Kind: "fuzzy", Values: []string{"gpt-4"}},
	}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject an unrecognized model_match.type")
	}
}

func TestProvider_TrimmedBaseURLStripsTrailingSlash(t *testing.T) {
	p := Provider{BaseURL: "https://example.com/v1/"}
	if got := p.TrimmedBaseURL(); got != "https://example.com/v1" {
		t.Fatalf("TrimmedBaseURL() = %q, want trailing slash stripped", got)
	}
}
