// Package common provides shared constants, types, and utilities
// used across the VPN session controller.
package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetConfigDir returns the path to the application configuration directory.
// It creates the directory if it doesn't exist.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", WrapError(err, "failed to get home directory")
	}

	configDir := filepath.Join(homeDir, ".config", ConfigDirName)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", WrapError(err, "failed to create config directory")
	}

	return configDir, nil
}

// GetRuntimeDir returns the directory for per-session runtime files
// (rendered engine profile, credentials, status file).
// XDG_RUNTIME_DIR is preferred; the config directory is the fallback.
func GetRuntimeDir() (string, error) {
	base := os.Getenv("XDG_RUNTIME_DIR")
	if base == "" {
		configDir, err := GetConfigDir()
		if err != nil {
			return "", err
		}
		base = configDir
	}

	runDir := filepath.Join(base, ConfigDirName, "run")
	if err := os.MkdirAll(runDir, 0700); err != nil {
		return "", WrapError(err, "failed to create runtime directory")
	}
	return runDir, nil
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StringInSlice checks if a string is in a slice.
func StringInSlice(s string, slice []string) bool {
	for _, item := range slice {
		if item == s {
			return true
		}
	}
	return false
}

// CleanList trims every entry, drops empty ones and removes duplicates
// while keeping first-seen order.
func CleanList(items []string) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" || StringInSlice(item, result) {
			continue
		}
		result = append(result, item)
	}
	return result
}

// FormatBytes renders n with a binary unit suffix, e.g. "1.5 KiB".
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
