package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"humed/internal/hume"
)

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func testPacket(level hume.Level) *hume.Packet {
	return &hume.Packet{
		Hume: hume.Body{
			Timestamp: hume.Timestamp(time.Now()),
			Version:   hume.MessageVersion,
			Hostname:  "web01.example.com",
			Level:     level,
			Tags:      []string{"cron"},
			Task:      "backup",
			Msg:       "backup finished",
			Extra:     map[string]string{},
		},
	}
}

func TestResolveFallbackChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		files []string
		base  string
		level hume.Level
		want  string
	}{
		{
			name:  "exact match wins",
			files: []string{"syslog_warning", "syslog_default", "default_warning", "default_default"},
			base:  "syslog",
			level: hume.LevelWarning,
			want:  "syslog_warning",
		},
		{
			name:  "base default before level default",
			files: []string{"syslog_default", "default_warning", "default_default"},
			base:  "syslog",
			level: hume.LevelWarning,
			want:  "syslog_default",
		},
		{
			name:  "level default before catch-all",
			files: []string{"default_warning", "default_default"},
			base:  "syslog",
			level: hume.LevelWarning,
			want:  "default_warning",
		},
		{
			name:  "catch-all last",
			files: []string{"default_default"},
			base:  "syslog",
			level: hume.LevelWarning,
			want:  "default_default",
		},
		{
			name:  "empty base goes straight to defaults",
			files: []string{"default_ok", "default_default"},
			base:  "",
			level: hume.LevelOK,
			want:  "default_ok",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			for _, f := range tt.files {
				writeTemplate(t, dir, f, "x")
			}
			got, err := NewResolver(dir, tt.base).Resolve(tt.level)
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if filepath.Base(got) != tt.want {
				t.Fatalf("resolved %q, want %q", filepath.Base(got), tt.want)
			}
		})
	}
}

func TestCatchAllCoversEveryCombination(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, "default_default", "x")

	for _, base := range []string{"", "syslog", "rsyslog", "webhook"} {
		r := NewResolver(dir, base)
		for _, level := range hume.Levels {
			got, err := r.Resolve(level)
			if err != nil {
				t.Fatalf("resolve %q/%s: %v", base, level, err)
			}
			if filepath.Base(got) != "default_default" {
				t.Fatalf("resolve %q/%s = %q", base, level, filepath.Base(got))
			}
		}
	}
}

func TestResolveNoTemplate(t *testing.T) {
	t.Parallel()

	r := NewResolver(t.TempDir(), "webhook")
	if _, err := r.Resolve(hume.LevelError); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("err = %v, want ErrNoTemplate", err)
	}

	// No templates dir configured at all.
	r = NewResolver("", "webhook")
	if _, err := r.Resolve(hume.LevelError); !errors.Is(err, ErrNoTemplate) {
		t.Fatalf("err = %v, want ErrNoTemplate", err)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, "default_default",
		"{{.hostname}}:{{.task}} [{{.level}}] {{.msg}} via {{.humed_hostname}}")

	out, err := NewResolver(dir, "syslog").Render(context.Background(), "relay01", testPacket(hume.LevelOK))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "web01.example.com:backup [ok] backup finished via relay01"
	if out != want {
		t.Fatalf("out = %q, want %q", out, want)
	}
}

func TestRenderBadTemplate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTemplate(t, dir, "default_default", "{{.no_such_field}}")

	_, err := NewResolver(dir, "").Render(context.Background(), "relay01", testPacket(hume.LevelOK))
	if err == nil {
		t.Fatal("want error for unknown template field")
	}
	if !strings.Contains(err.Error(), "default_default") {
		t.Fatalf("error should name the template: %v", err)
	}
}
