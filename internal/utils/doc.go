// Package utils provides shared helper functions.
package utils

import (
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir ensures a directory exists, creating it if necessary.
func EnsureDir(path string) (string, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", err
	}
	return path, nil
}

// GetDataPath returns the mariobot data directory (~/.mariobot).
func GetDataPath() string {
	home, _ := os.UserHomeDir()
	p := filepath.Join(home, ".mariobot")
	os.MkdirAll(p, 0755)
	return p
}

// TruncateString truncates a string to maxLen, adding suffix if truncated.
func TruncateString(s string, maxLen int, suffix string) string {
	if len(s) <= maxLen {
		return s
	}
	if suffix == "" {
		suffix = "..."
	}
	cutoff := maxLen - len(suffix)
	if cutoff < 0 {
		cutoff = 0
	}
	return s[:cutoff] + suffix
}

// SafeFilename converts a string to a safe filename by replacing unsafe characters.
func SafeFilename(name string) string {
	unsafe := `<>:"/\|?*`
	for _, c := range unsafe {
		name = strings.ReplaceAll(name, string(c), "_")
	}
	return strings.TrimSpace(name)
}
