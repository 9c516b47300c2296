package logging

import (
	"os"
	"path/filepath"
)

// DefaultLogDir returns the directory for multivec log files,
// ~/.multivec/logs, falling back to the system temp dir when the home
// directory cannot be resolved.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "multivec", "logs")
	}
	return filepath.Join(home, ".multivec", "logs")
}

// DefaultLogFile returns the default server log path.
func DefaultLogFile() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}
