package pidfile

import (
	"log/slog"
	"os"
)

// exit is swapped out in tests.
var exit = os.Exit

// MustCreate is Create for startup code that cannot continue without the
// guard: any failure is logged at error level and the process exits with
// ExitCode. It only returns on success.
func MustCreate(logger *slog.Logger, progName, path string, flags Flag) *File {
	f, err := Create(progName, path, flags)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error(err.Error(), "path", path, "prog", progName)
		exit(ExitCode)
		return nil
	}
	return f
}
