package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfigFile writes a temporary YAML config and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, "{}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Namespace != "smart_ac" {
		t.Errorf("Namespace = %q, want %q", cfg.MQTT.Namespace, "smart_ac")
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should have a default")
	}
	if cfg.Dispatch.PublishRetries != 2 {
		t.Errorf("PublishRetries = %d, want 2", cfg.Dispatch.PublishRetries)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mqtt:
  broker:
    host: broker.example.com
    port: 8883
    tls: true
  qos: 2
  namespace: fleet_ac
dispatch:
  publish_retries: 5
  provision_resend_delay: 2000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("Host = %q", cfg.MQTT.Broker.Host)
	}
	if !cfg.MQTT.Broker.TLS {
		t.Error("TLS should be enabled")
	}
	if cfg.MQTT.Namespace != "fleet_ac" {
		t.Errorf("Namespace = %q", cfg.MQTT.Namespace)
	}
	if got := cfg.Dispatch.GetProvisionResendDelay(); got != 2*time.Second {
		t.Errorf("GetProvisionResendDelay() = %v, want 2s", got)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
mqtt:
  broker:
    host: from-file
`)

	t.Setenv("SMARTAC_MQTT_HOST", "from-env")
	t.Setenv("SMARTAC_MQTT_PASSWORD", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.Broker.Host != "from-env" {
		t.Errorf("Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
	if cfg.MQTT.Auth.Password != "secret" {
		t.Errorf("Password not taken from environment")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() should fail for a missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "empty namespace",
			mutate:  func(c *Config) { c.MQTT.Namespace = "" },
			wantErr: "mqtt.namespace",
		},
		{
			name:    "namespace with wildcard",
			mutate:  func(c *Config) { c.MQTT.Namespace = "smart/+" },
			wantErr: "mqtt.namespace",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Dispatch.PublishRetries = -1 },
			wantErr: "publish_retries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
