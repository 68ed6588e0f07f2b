package log

import (
	"io"
	"log/syslog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level is rcynic's six-level log scheme, ordered least to most verbose,
// matching the `log-level` values of spec.md §6.
type Level int

const (
	SysErr Level = iota
	UsageErr
	DataErr
	Telemetry
	Verbose
	Debug
)

// ParseLevel maps the config-file/CLI spelling onto a Level.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "log_sys_err":
		return SysErr, true
	case "log_usage_err":
		return UsageErr, true
	case "log_data_err":
		return DataErr, true
	case "log_telemetry":
		return Telemetry, true
	case "log_verbose":
		return Verbose, true
	case "log_debug":
		return Debug, true
	default:
		return 0, false
	}
}

func (l Level) zerolog() zerolog.Level {
	switch {
	case l <= SysErr:
		return zerolog.ErrorLevel
	case l <= UsageErr:
		return zerolog.WarnLevel
	case l <= Telemetry:
		return zerolog.InfoLevel
	case l == Verbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// VerboseOrHigher reports whether the level is log_verbose or more verbose.
//
// spec.md §9 flags the original `!rc->log_level < log_verbose` guard as a
// precedence bug (it parses as `(!rc->log_level) < log_verbose`); this is
// the intended check.
func (l Level) VerboseOrHigher() bool {
	return l >= Verbose
}

// Config holds logging sink configuration, one field per spec.md §6 option.
type Config struct {
	Level     Level
	UseStderr bool
	UseSyslog bool
	Facility  syslog.Priority
}

// Logger is the global logger instance, valid after Init.
var Logger zerolog.Logger

// Init configures the global logger from cfg. If neither sink is enabled,
// logs are discarded rather than defaulting to stdout, since rcynic's
// stdout is reserved for the XML summary when xml-summary is "-".
func Init(cfg Config) error {
	var writers []io.Writer

	if cfg.UseStderr {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}

	if cfg.UseSyslog {
		w, err := syslog.New(cfg.Facility|syslog.LOG_INFO, "rcynic")
		if err != nil {
			return err
		}
		writers = append(writers, zerolog.SyslogLevelWriter(w))
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zerolog.SetGlobalLevel(cfg.Level.zerolog())
	Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// WithComponent creates a child logger tagged with a component field, so
// each subsystem's log lines can be filtered independently.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// Rejected logs the standard rejection line required by spec.md §7.
func Rejected(uri, reason string) {
	Logger.Info().Str("uri", uri).Str("reason", reason).
		Msg("Rejected " + uri + " because " + reason)
}

// Accepted logs the standard acceptance line required by spec.md §7.
func Accepted(uri string) {
	Logger.Info().Str("uri", uri).Msg("Accepted " + uri)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
