package agent

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// OSPaths holds per-OS candidate path lists for installation/session
// detection, grounded on the teacher's agents.OSPaths.
type OSPaths struct {
	Linux   []string
	MacOS   []string
	Windows []string
}

// Resolve returns the raw (unexpanded) paths for the current OS.
func (p OSPaths) Resolve() []string {
	switch runtime.GOOS {
	case "darwin":
		return p.MacOS
	case "windows":
		return p.Windows
	default:
		return p.Linux
	}
}

// Expanded returns the current OS's paths with leading "~" expanded.
func (p OSPaths) Expanded() []string {
	raw := p.Resolve()
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if e := expandHomePath(p); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func expandHomePath(path string) string {
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Clean(filepath.FromSlash(path))
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(expandHomePath(path))
	return err == nil
}
