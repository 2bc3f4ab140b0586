package logger

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global zerolog logger at the given level and
// returns it. Every engine boundary (phase dispatch, provisioning,
// effect application) logs through the global log.Logger rather than
// threading a logger value through call chains, matching how the rest
// of this stack reaches for github.com/rs/zerolog/log.
func Setup(level string) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(level))
	l := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = l
	return l
}

// Logger returns a logger configured at info level.
func Logger() zerolog.Logger {
	return Setup("info")
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "trace":
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}
