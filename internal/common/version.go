package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Build     = "unknown"
	GitCommit = "unknown"
)

var versionOnce sync.Once

// GetVersion returns the release version. When the binary was built without
// ldflags, a .version file next to the executable overrides the "dev"
// placeholder.
func GetVersion() string {
	versionOnce.Do(func() {
		if Version != "dev" {
			return
		}
		if v := readVersionFile(); v != "" {
			Version = v
		}
	})
	return Version
}

// GetFullVersion returns the version with build metadata appended.
func GetFullVersion() string {
	return fmt.Sprintf("%s (build: %s, commit: %s)", GetVersion(), Build, GitCommit)
}

// readVersionFile reads a .version file placed beside the executable.
func readVersionFile() string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(filepath.Dir(exePath), ".version"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
