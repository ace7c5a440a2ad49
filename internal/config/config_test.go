package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("CONFIG_PATH")

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ConcurrencyLimit != 16 {
		t.Errorf("expected concurrency limit 16, got %d", cfg.Server.ConcurrencyLimit)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.MaxBodySize != 2*1024*1024 {
		t.Errorf("expected max body size 2MB, got %d", cfg.Server.MaxBodySize)
	}
}

func TestLoadConfig_ServerTokenFromEnv(t *testing.T) {
	yamlContent := `
servers:
  main_mcp:
    protocol: mcp
    sdk: hybrid
`
	tmpfile, err := os.CreateTemp("", "config*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpfile.Name())
	if _, err := tmpfile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	os.Setenv("CONFIG_PATH", tmpfile.Name())
	os.Setenv("TOKEN_MAIN_MCP", "secret-token")
	defer func() {
		os.Unsetenv("CONFIG_PATH")
		os.Unsetenv("TOKEN_MAIN_MCP")
	}()

	cfg := LoadConfig()

	sc, ok := cfg.Servers["main_mcp"]
	if !ok {
		t.Fatal("expected main_mcp server entry")
	}
	if sc.Protocol != "mcp" {
		t.Errorf("expected protocol mcp, got %s", sc.Protocol)
	}
	if sc.SDK != "hybrid" {
		t.Errorf("expected sdk hybrid, got %s", sc.SDK)
	}
	if sc.Token != "secret-token" {
		t.Errorf("expected token from env, got %q", sc.Token)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Servers = map[string]ServerConfig{
		"bad": {Protocol: "xyz"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown protocol")
	}

	cfg.Servers = map[string]ServerConfig{
		"good": {Protocol: "acp", SDK: "custom"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
