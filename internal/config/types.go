package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Config is the daemon configuration.
//
// Everything except the logging section is read once at startup and treated
// as immutable for the daemon's lifetime; logging is hot-reloadable.
type Config struct {
	// Listen is the ingestion request/reply TCP address.
	Listen string `json:"listen"`

	// Hostname overrides the detected daemon hostname in outbound messages.
	Hostname string `json:"hostname,omitempty"`

	// AuthToken, when set, must match the token field of every inbound packet.
	AuthToken string `json:"auth_token,omitempty"`

	// TransferMethod selects the active delivery backend: one of the
	// built-ins (syslog, rsyslog, logfwd, webhook) or a registered plugin name.
	TransferMethod string `json:"transfer_method"`

	// TemplatesDir holds the notification templates, named {base}_{level}.
	TemplatesDir string `json:"templates_dir,omitempty"`

	// RetrySweep is an optional cron spec (e.g. "@every 5m") that periodically
	// wakes the dispatch worker so pending records retry without new traffic.
	RetrySweep string `json:"retry_sweep,omitempty"`

	Syslog  *SyslogConfig  `json:"syslog,omitempty"`
	Rsyslog *RsyslogConfig `json:"rsyslog,omitempty"`
	Logfwd  *LogfwdConfig  `json:"logfwd,omitempty"`
	Webhook *WebhookConfig `json:"webhook,omitempty"`

	Metrics MetricsConfig `json:"metrics,omitempty"`
	Storage StorageConfig `json:"storage,omitempty"`
	Logging LoggingConfig `json:"logging,omitempty"`

	Plugins map[string]PluginConfigRaw `json:"plugins,omitempty"`
}

type SyslogConfig struct {
	// Tag is the syslog program tag; defaults to "humed".
	Tag          string `json:"tag,omitempty"`
	TemplateBase string `json:"template_base,omitempty"`
}

type RsyslogConfig struct {
	Server       string `json:"server"`
	Proto        string `json:"proto"` // "tcp" or "udp"
	Port         int    `json:"port"`
	Tag          string `json:"tag,omitempty"`
	TemplateBase string `json:"template_base,omitempty"`
}

// LogfwdConfig configures structured-log forwarding: JSON log events over a
// raw TCP/UDP connection to a log pipeline collector.
type LogfwdConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Proto        string `json:"proto,omitempty"` // default "tcp"
	TemplateBase string `json:"template_base,omitempty"`
}

// WebhookConfig configures the chat-webhook backend.
//
// Destination selection priority: TaskWebhooks[task], then the per-level
// key (default for ok/info, warning for warning/unknown, else the named
// level), falling back to WebhookDefault when the level key is unset.
type WebhookConfig struct {
	WebhookDefault  string `json:"webhook_default"`
	WebhookWarning  string `json:"webhook_warning,omitempty"`
	WebhookError    string `json:"webhook_error,omitempty"`
	WebhookCritical string `json:"webhook_critical,omitempty"`
	WebhookDebug    string `json:"webhook_debug,omitempty"`

	TaskWebhooks map[string]string `json:"task_webhooks,omitempty"`

	TemplateBase string `json:"template_base,omitempty"`

	// RatePerSec caps outbound webhook calls; 0 disables limiting.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:9189"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}

// StorageConfig controls the durable transfer queue.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "file"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks are
// caught at load time.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}

// BuiltinMethods lists the delivery backends compiled into the daemon.
var BuiltinMethods = []string{"syslog", "rsyslog", "logfwd", "webhook"}

// Validate checks the parts of the config the daemon cannot start without.
// Plugin transfer methods are resolved later against the plugin registry,
// so an unknown method name is not rejected here.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("listen is required")
	}
	method := strings.TrimSpace(c.TransferMethod)
	if method == "" {
		return fmt.Errorf("transfer_method is required")
	}
	switch method {
	case "rsyslog":
		if c.Rsyslog == nil || strings.TrimSpace(c.Rsyslog.Server) == "" {
			return fmt.Errorf("rsyslog.server is required for transfer_method rsyslog")
		}
		if p := c.Rsyslog.Proto; p != "tcp" && p != "udp" {
			return fmt.Errorf("rsyslog.proto must be tcp or udp, got %q", p)
		}
		if c.Rsyslog.Port <= 0 {
			return fmt.Errorf("rsyslog.port is required for transfer_method rsyslog")
		}
	case "logfwd":
		if c.Logfwd == nil || strings.TrimSpace(c.Logfwd.Host) == "" || c.Logfwd.Port <= 0 {
			return fmt.Errorf("logfwd.host and logfwd.port are required for transfer_method logfwd")
		}
		if p := c.Logfwd.Proto; p != "" && p != "tcp" && p != "udp" {
			return fmt.Errorf("logfwd.proto must be tcp or udp, got %q", p)
		}
	case "webhook":
		if c.Webhook == nil || strings.TrimSpace(c.Webhook.WebhookDefault) == "" {
			return fmt.Errorf("webhook.webhook_default is required for transfer_method webhook")
		}
	}
	if c.Storage.BusyTimeout != "" {
		if _, err := time.ParseDuration(c.Storage.BusyTimeout); err != nil {
			return fmt.Errorf("storage.busy_timeout: %w", err)
		}
	}
	if d := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); d != "" && d != "sqlite" && d != "sqlite3" && d != "file" {
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	return nil
}

// BusyTimeout parses the storage busy timeout, defaulting on absence or error.
func (c *Config) BusyTimeout(def time.Duration) time.Duration {
	if c.Storage.BusyTimeout == "" {
		return def
	}
	d, err := time.ParseDuration(c.Storage.BusyTimeout)
	if err != nil {
		return def
	}
	return d
}
