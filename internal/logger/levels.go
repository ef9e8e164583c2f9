package logger

import "log/slog"

// The hub inherits a numeric level convention from the NMDC admin tooling:
// ops ask for remote logging "at level N" where smaller numbers are
// chattier. Level 1 carries every byte written to a client, 8 the task-pool
// chatter, 10 storage statements. These map onto slog levels below DEBUG so
// the standard ladder (DEBUG=numeric 15, INFO=20, WARN=30, ERROR=40) keeps
// its usual meaning.
const (
	// LevelData records raw protocol data sent to clients. Numeric 1.
	LevelData slog.Level = slog.LevelDebug - 12

	// LevelThreading records worker-pool and task-queue activity. Numeric 8.
	LevelThreading slog.Level = slog.LevelDebug - 8

	// LevelSQL records storage statements and torrent bookkeeping. Numeric 10.
	LevelSQL slog.Level = slog.LevelDebug - 4
)

// NumericLevel converts a slog level to the admin-facing numeric scale.
func NumericLevel(l slog.Level) int {
	switch {
	case l <= LevelData:
		return 1
	case l <= LevelThreading:
		return 8
	case l <= LevelSQL:
		return 10
	case l < slog.LevelInfo:
		return 15
	case l < slog.LevelWarn:
		return 20
	case l < slog.LevelError:
		return 30
	default:
		return 40
	}
}

// ThresholdFromNumeric converts an admin-facing numeric threshold into the
// lowest slog level whose numeric value is at least n.
func ThresholdFromNumeric(n int) slog.Level {
	switch {
	case n <= 1:
		return LevelData
	case n <= 8:
		return LevelThreading
	case n <= 10:
		return LevelSQL
	case n <= 15:
		return slog.LevelDebug
	case n <= 20:
		return slog.LevelInfo
	case n <= 30:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// LevelName returns the display name for a level, covering the hub-specific
// sub-debug levels the standard library would print as "DEBUG-12".
func LevelName(l slog.Level) string {
	switch {
	case l <= LevelData:
		return "DATA"
	case l <= LevelThreading:
		return "THREADING"
	case l <= LevelSQL:
		return "SQL"
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}
