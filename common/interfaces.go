// Package common provides shared constants, types, and utilities
// used across the VPN session controller.
package common

// CredentialStore defines the interface for credential storage.
// Implementations may use system keyring, encrypted files, etc.
type CredentialStore interface {
	// Store saves the password for a profile name.
	Store(profile, password string) error
	// Get retrieves the password for a profile name.
	Get(profile string) (string, error)
	// Delete removes the password for a profile name.
	Delete(profile string) error
}

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification with the given title and message.
	Notify(title, message string) error
	// NotifyWithIcon sends a notification with a custom icon.
	NotifyWithIcon(title, message, icon string) error
}

