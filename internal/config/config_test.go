package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN / ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5433,
		User:     "storefront",
		Password: "pass",
		Name:     "storefront",
		SSLMode:  "disable",
	}
	want := "host=db.example.com port=5433 user=storefront password=pass dbname=storefront sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host: "localhost",
			Name: "storefront",
			User: "storefront",
		},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
			CodeTTL:    5 * time.Minute,
		},
		Crypto: CryptoConfig{EncryptionKey: testEncryptionKey},
		Provisioning: ProvisioningConfig{
			AdminRequestTTL:      10 * time.Minute,
			EmployeeRequestTTL:   10 * time.Minute,
			SuperAdminRequestTTL: 24 * time.Hour,
			SweepInterval:        time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid server port 0", func(c *Config) { c.Server.Port = 0 }},
		{"invalid server port 70000", func(c *Config) { c.Server.Port = 70000 }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing database name", func(c *Config) { c.Database.Name = "" }},
		{"missing database user", func(c *Config) { c.Database.User = "" }},
		{"missing encryption key", func(c *Config) { c.Crypto.EncryptionKey = "" }},
		{"passphrase without salt", func(c *Config) { c.Crypto.EncryptionKey = "short-passphrase" }},
		{"zero admin ttl", func(c *Config) { c.Provisioning.AdminRequestTTL = 0 }},
		{"zero superadmin ttl", func(c *Config) { c.Provisioning.SuperAdminRequestTTL = 0 }},
		{"zero sweep interval", func(c *Config) { c.Provisioning.SweepInterval = 0 }},
		{"bad approver email", func(c *Config) { c.Provisioning.ApproverEmail = "not an address" }},
		{"zero session ttl", func(c *Config) { c.Auth.SessionTTL = 0 }},
		{"zero code ttl", func(c *Config) { c.Auth.CodeTTL = 0 }},
		{"unknown rate limit backend", func(c *Config) {
			c.Security.RateLimiting = RateLimitingConfig{Enabled: true, Backend: "memcached", RequestsPerMinute: 10}
		}},
		{"redis backend without address", func(c *Config) {
			c.Security.RateLimiting = RateLimitingConfig{Enabled: true, Backend: "redis", RequestsPerMinute: 10}
		}},
		{"rate limit of zero", func(c *Config) {
			c.Security.RateLimiting = RateLimitingConfig{Enabled: true, Backend: "memory"}
		}},
		{"tls without cert", func(c *Config) { c.Security.TLS = TLSConfig{Enabled: true, KeyFile: "k"} }},
		{"notifications without smtp host", func(c *Config) {
			c.Notifications.Enabled = true
			c.Provisioning.ApproverEmail = "approvals@example.com"
		}},
		{"notifications without approver", func(c *Config) {
			c.Notifications.Enabled = true
			c.Notifications.SMTP.Host = "smtp.example.com"
		}},
		{"webhook shipper without url", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "webhook"}}
		}},
		{"unknown shipper type", func(c *Config) {
			c.Audit.Shippers = []AuditShipperConfig{{Enabled: true, Type: "kafka"}}
		}},
		{"invalid log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() expected error, got nil")
			}
		})
	}

	t.Run("passphrase with salt passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Crypto = CryptoConfig{EncryptionKey: "short-passphrase", KeySalt: strings.Repeat("s", 16)}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("disabled shipper is not validated", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Audit.Shippers = []AuditShipperConfig{{Enabled: false, Type: "kafka"}}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})
}

func TestRequestTTL(t *testing.T) {
	p := ProvisioningConfig{
		AdminRequestTTL:      10 * time.Minute,
		EmployeeRequestTTL:   15 * time.Minute,
		SuperAdminRequestTTL: 24 * time.Hour,
	}
	tests := map[string]time.Duration{
		"admin":      10 * time.Minute,
		"employee":   15 * time.Minute,
		"superadmin": 24 * time.Hour,
	}
	for tier, want := range tests {
		if got := p.RequestTTL(tier); got != want {
			t.Errorf("RequestTTL(%q) = %v, want %v", tier, got, want)
		}
	}
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		if got := expandEnv("no-vars-here"); got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	const content = `
server:
  host: "testhost"
  port: 9999
database:
  host: "dbhost"
  name: "testdb"
  user: "testuser"
provisioning:
  approver_email: "approvals@example.com"
  superadmin_request_ttl: "48h"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %s:%d, want testhost:9999", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Name != "testdb" {
		t.Errorf("Database.Name = %q, want testdb", cfg.Database.Name)
	}
	if cfg.Provisioning.ApproverEmail != "approvals@example.com" {
		t.Errorf("Provisioning.ApproverEmail = %q", cfg.Provisioning.ApproverEmail)
	}
	if cfg.Provisioning.SuperAdminRequestTTL != 48*time.Hour {
		t.Errorf("SuperAdminRequestTTL = %v, want 48h", cfg.Provisioning.SuperAdminRequestTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Crypto.EncryptionKey != testEncryptionKey {
		t.Error("ENCRYPTION_KEY was not bound to crypto.encryption_key")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	path := writeTempConfig(t, "logging:\n  level: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.SSLMode != "require" {
		t.Errorf("default Database.SSLMode = %q, want require", cfg.Database.SSLMode)
	}
	if cfg.Auth.SessionTTL != 24*time.Hour {
		t.Errorf("default Auth.SessionTTL = %v, want 24h", cfg.Auth.SessionTTL)
	}
	if cfg.Auth.CodeTTL != 5*time.Minute {
		t.Errorf("default Auth.CodeTTL = %v, want 5m", cfg.Auth.CodeTTL)
	}
	if cfg.Provisioning.AdminRequestTTL != 10*time.Minute {
		t.Errorf("default AdminRequestTTL = %v, want 10m", cfg.Provisioning.AdminRequestTTL)
	}
	if cfg.Provisioning.EmployeeRequestTTL != 10*time.Minute {
		t.Errorf("default EmployeeRequestTTL = %v, want 10m", cfg.Provisioning.EmployeeRequestTTL)
	}
	if cfg.Provisioning.SuperAdminRequestTTL != 24*time.Hour {
		t.Errorf("default SuperAdminRequestTTL = %v, want 24h", cfg.Provisioning.SuperAdminRequestTTL)
	}
	if cfg.Security.RateLimiting.Backend != "memory" {
		t.Errorf("default rate limit backend = %q, want memory", cfg.Security.RateLimiting.Backend)
	}
	if cfg.Notifications.CodesFrom != cfg.Notifications.SMTP.From {
		t.Errorf("CodesFrom = %q, want fallback to smtp.from %q", cfg.Notifications.CodesFrom, cfg.Notifications.SMTP.From)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("SFA_DATABASE_HOST", "env-db")
	t.Setenv("SFA_PROVISIONING_SUPERADMIN_SECRET_KEY", "let-me-in")
	t.Setenv("SFA_SECURITY_RATE_LIMITING_BACKEND", "redis")

	path := writeTempConfig(t, "database:\n  host: file-db\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Host != "env-db" {
		t.Errorf("Database.Host = %q, want env-db", cfg.Database.Host)
	}
	if cfg.Provisioning.SuperAdminSecretKey != "let-me-in" {
		t.Errorf("SuperAdminSecretKey = %q", cfg.Provisioning.SuperAdminSecretKey)
	}
	if cfg.Security.RateLimiting.Backend != "redis" {
		t.Errorf("RateLimiting.Backend = %q, want redis", cfg.Security.RateLimiting.Backend)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("TEST_DB_PASS", "mysecret")
	path := writeTempConfig(t, "database:\n  password: \"${TEST_DB_PASS}\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
}

func TestLoad_MissingEncryptionKey(t *testing.T) {
	t.Setenv("ENCRYPTION_KEY", "")
	path := writeTempConfig(t, "logging:\n  level: info\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "ENCRYPTION_KEY") {
		t.Errorf("Load() error = %v, want ENCRYPTION_KEY error", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestWatch_NoFile(t *testing.T) {
	cfg := minimalValidConfig()
	if cfg.Watch(func(*Config) {}) {
		t.Error("Watch() = true for a config without a backing viper instance")
	}
}
