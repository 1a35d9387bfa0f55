package backend

import (
	"log/syslog"

	"github.com/rs/zerolog"

	"humed/internal/hume"
)

// SyslogPriority maps a hume level to its syslog severity. Nagios-style
// unknown reports as a warning so it is never silently downgraded.
func SyslogPriority(level hume.Level) syslog.Priority {
	switch level {
	case hume.LevelWarning, hume.LevelUnknown:
		return syslog.LOG_WARNING
	case hume.LevelError:
		return syslog.LOG_ERR
	case hume.LevelCritical:
		return syslog.LOG_CRIT
	case hume.LevelDebug:
		return syslog.LOG_DEBUG
	default: // ok, info
		return syslog.LOG_INFO
	}
}

// ZerologLevel maps a hume level to the level of the forwarded log event.
func ZerologLevel(level hume.Level) zerolog.Level {
	switch level {
	case hume.LevelWarning, hume.LevelUnknown:
		return zerolog.WarnLevel
	case hume.LevelError:
		return zerolog.ErrorLevel
	case hume.LevelCritical:
		return zerolog.FatalLevel
	case hume.LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
