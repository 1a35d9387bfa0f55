// Package render resolves and executes notification templates.
//
// Templates live in a flat directory and are named {base}_{level}, where
// base is per transfer method. Resolution walks a fixed fallback chain so
// operators can start with a single default_default template and specialize
// later.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"humed/internal/hume"
)

// ErrNoTemplate is returned when no file in the fallback chain exists.
// Backends fall back to their built-in plain-text line.
var ErrNoTemplate = errors.New("render: no template found")

// Resolver locates and renders templates for one transfer method.
type Resolver struct {
	dir  string
	base string
}

// NewResolver returns a resolver rooted at dir. base is the method-specific
// template prefix; empty means only the default_* chain applies.
func NewResolver(dir, base string) *Resolver {
	return &Resolver{dir: dir, base: base}
}

// Resolve returns the path of the first existing template for level. The
// chain is {base}_{level}, {base}_default, default_{level}, default_default.
func (r *Resolver) Resolve(level hume.Level) (string, error) {
	if r.dir == "" {
		return "", ErrNoTemplate
	}
	for _, name := range r.candidates(level) {
		path := filepath.Join(r.dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNoTemplate
}

func (r *Resolver) candidates(level hume.Level) []string {
	var names []string
	if r.base != "" && r.base != "default" {
		names = append(names,
			fmt.Sprintf("%s_%s", r.base, level),
			r.base+"_default",
		)
	}
	return append(names,
		fmt.Sprintf("default_%s", level),
		"default_default",
	)
}

// Render resolves and executes the template for the packet's level. The
// template context exposes the message fields plus the daemon hostname.
func (r *Resolver) Render(_ context.Context, humedHost string, pkt *hume.Packet) (string, error) {
	path, err := r.Resolve(pkt.Hume.Level)
	if err != nil {
		return "", err
	}
	tpl, err := template.New(filepath.Base(path)).
		Option("missingkey=error").
		ParseFiles(path)
	if err != nil {
		return "", fmt.Errorf("render: parse %s: %w", path, err)
	}

	var sb strings.Builder
	if err := tpl.Execute(&sb, Context(humedHost, pkt)); err != nil {
		return "", fmt.Errorf("render: execute %s: %w", path, err)
	}
	return sb.String(), nil
}

// AvailableBases lists the template base names present in dir, for startup
// logging. A base is everything before the final underscore in a file name.
func AvailableBases(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var bases []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		i := strings.LastIndexByte(name, '_')
		if i <= 0 {
			continue
		}
		if base := name[:i]; !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
	}
	sort.Strings(bases)
	return bases
}

// Context builds the data map templates render against.
func Context(humedHost string, pkt *hume.Packet) map[string]any {
	return map[string]any{
		"humed_hostname": humedHost,
		"hostname":       pkt.Hume.Hostname,
		"timestamp":      pkt.Hume.Timestamp,
		"level":          string(pkt.Hume.Level),
		"task":           pkt.Hume.Task,
		"msg":            pkt.Hume.Msg,
		"tags":           pkt.Hume.Tags,
		"extra":          pkt.Hume.Extra,
	}
}
