package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.strata/logs, or a temp dir when there is no home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".strata", "logs")
	}
	return filepath.Join(home, ".strata", "logs")
}

// DefaultLogPath returns the default log file path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "strata.log")
}
