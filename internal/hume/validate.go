package hume

import (
	"fmt"
	"strings"
)

// Validate checks the structural invariants of an inbound packet.
//
// The returned error is diagnostic only: the listener has already acked
// the request by the time validation runs, so failures are logged and the
// packet is dropped.
func (p *Packet) Validate() error {
	b := p.Hume
	if !SupportedVersions[b.Version] {
		return fmt.Errorf("unsupported message version %d", b.Version)
	}
	if b.Timestamp == "" {
		return fmt.Errorf("missing timestamp")
	}
	if !IsValidHostname(b.Hostname) {
		return fmt.Errorf("invalid hostname %q", b.Hostname)
	}
	if !b.Level.Valid() {
		return fmt.Errorf("invalid level %q", b.Level)
	}
	if b.Msg == "" {
		return fmt.Errorf("missing msg")
	}
	return nil
}

// IsValidHostname reports whether s satisfies hostname syntax rules:
// labels of 1-63 alphanumeric/hyphen characters with no leading or
// trailing hyphen, at most 253 characters total.
func IsValidHostname(s string) bool {
	s = strings.TrimSuffix(s, ".")
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}
