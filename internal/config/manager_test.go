package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "humed.json", `{
		"listen": "127.0.0.1:1984",
		"transfer_method": "webhook",
		"webhook": {"webhook_default": "https://chat.example/hook"}
	}`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TransferMethod != "webhook" {
		t.Fatalf("TransferMethod = %q", cfg.TransferMethod)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "humed.yaml", `
listen: "127.0.0.1:1984"
transfer_method: rsyslog
rsyslog:
  server: logs.example.com
  proto: udp
  port: 514
auth_token: sekret
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rsyslog == nil || cfg.Rsyslog.Server != "logs.example.com" || cfg.Rsyslog.Port != 514 {
		t.Fatalf("rsyslog block = %+v", cfg.Rsyslog)
	}
	if cfg.AuthToken != "sekret" {
		t.Fatalf("AuthToken = %q", cfg.AuthToken)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "humed.json", `{"listen": "x", "transfer_method": "syslog", "bogus": 1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"syslog ok", Config{Listen: ":1984", TransferMethod: "syslog"}, false},
		{"missing listen", Config{TransferMethod: "syslog"}, true},
		{"missing method", Config{Listen: ":1984"}, true},
		{"webhook missing default", Config{Listen: ":1984", TransferMethod: "webhook", Webhook: &WebhookConfig{}}, true},
		{"rsyslog bad proto", Config{Listen: ":1984", TransferMethod: "rsyslog", Rsyslog: &RsyslogConfig{Server: "s", Proto: "sctp", Port: 514}}, true},
		{"bad storage driver", Config{Listen: ":1984", TransferMethod: "syslog", Storage: StorageConfig{Driver: "postgres"}}, true},
		{"plugin method accepted", Config{Listen: ":1984", TransferMethod: "pager"}, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
