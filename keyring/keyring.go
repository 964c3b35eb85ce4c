// Package keyring provides secure credential storage for connection
// profiles. It uses the system keyring when available, falling back to
// an encrypted local file when not.
package keyring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/yllada/vpn-session/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "vpn-session"
	probeKey    = "vpn-session-probe"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound   = common.ErrCredentialsNotFound
	ErrEmptyName  = errors.New("profile name cannot be empty")
	ErrEmptyValue = errors.New("password cannot be empty")
)

// Store keeps passwords keyed by profile name.
type Store struct {
	mu     sync.Mutex
	system bool
	file   *fileBackend
}

var _ common.CredentialStore = (*Store)(nil)

// New probes the system keyring and falls back to an encrypted file in
// configDir when it is unusable.
func New(configDir string) *Store {
	s := &Store{file: newFileBackend(filepath.Join(configDir, common.CredentialsFileName), machineSecret())}
	if err := keyring.Set(serviceName, probeKey, "probe"); err == nil {
		keyring.Delete(serviceName, probeKey)
		s.system = true
	} else {
		common.LogWarn("System keyring unavailable, using encrypted file: %v", err)
	}
	return s
}

// NewFileStore returns a store that only uses the encrypted file at path.
func NewFileStore(path string, secret []byte) *Store {
	return &Store{file: newFileBackend(path, secret)}
}

// Backend names the storage in use.
func (s *Store) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.system {
		return "system keyring"
	}
	return "encrypted file"
}

// Store saves the password for a profile.
func (s *Store) Store(profile, password string) error {
	if profile == "" {
		return ErrEmptyName
	}
	if password == "" {
		return ErrEmptyValue
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.system {
		err := keyring.Set(serviceName, profile, password)
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to file: %v", err)
		s.system = false
	}

	if err := s.file.set(profile, password); err != nil {
		return fmt.Errorf("%w: %w", common.ErrCredentialStorage, err)
	}
	return nil
}

// Get retrieves the password for a profile.
func (s *Store) Get(profile string) (string, error) {
	if profile == "" {
		return "", ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.system {
		password, err := keyring.Get(serviceName, profile)
		if err == nil {
			return password, nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring read failed: %v", err)
		}
	}

	// Entries written while the keyring was unavailable live in the file.
	password, ok, err := s.file.get(profile)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes the password for a profile from every backend.
func (s *Store) Delete(profile string) error {
	if profile == "" {
		return ErrEmptyName
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.system {
		if err := keyring.Delete(serviceName, profile); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			common.LogDebug("System keyring delete failed: %v", err)
		}
	}
	return s.file.remove(profile)
}

// Exists checks if a password is stored for a profile.
func (s *Store) Exists(profile string) bool {
	_, err := s.Get(profile)
	return err == nil
}

// machineSecret is the input keying material for the file backend.
func machineSecret() []byte {
	hostname, _ := os.Hostname()
	return []byte(fmt.Sprintf("%s-%s-%d", hostname, machineID(), os.Getuid()))
}

func machineID() string {
	for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
		if data, err := os.ReadFile(path); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return "default-machine-id"
}
