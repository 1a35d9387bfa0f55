package backend

import (
	"fmt"
	"strings"

	"humed/internal/hume"
)

// syslogLine is the fixed plain-text form used by the syslog family when no
// template matches.
func syslogLine(pkt *hume.Packet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "hume(%s): %s [%s] %s",
		pkt.Hume.Hostname, pkt.Hume.Task, pkt.Hume.Level, pkt.Hume.Msg)
	if len(pkt.Hume.Tags) > 0 {
		fmt.Fprintf(&sb, " | TAGS=%s", strings.Join(pkt.Hume.Tags, ","))
	}
	if pkt.Process != nil && pkt.Process.LineNumber != "" {
		fmt.Fprintf(&sb, " LINE=%s", pkt.Process.LineNumber)
	}
	return sb.String()
}

// chatLine is the fixed plain-text form used by the webhook backend when no
// template matches. Ampersands and angle brackets are escaped because most
// chat services interpret message text as a markup subset.
func chatLine(humedHost string, pkt *hume.Packet) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s [%s] - %s %s:%s: '%s'",
		humedHost, pkt.Hume.Timestamp, pkt.Hume.Level,
		pkt.Hume.Hostname, pkt.Hume.Task, pkt.Hume.Msg)
	if len(pkt.Hume.Tags) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(pkt.Hume.Tags, ","))
	}
	return escapeChat(sb.String())
}

func escapeChat(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
