package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/hkdf"
)

const keyInfo = "vpn-session credentials v1"

// fileBackend stores credentials as AES-GCM encrypted JSON.
// Callers serialize access.
type fileBackend struct {
	path    string
	key     []byte
	entries map[string]string
	loaded  bool
}

func newFileBackend(path string, secret []byte) *fileBackend {
	return &fileBackend{path: path, key: deriveKey(secret)}
}

// deriveKey expands secret into a 256-bit AES key.
func deriveKey(secret []byte) []byte {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, []byte("vpn-session"), []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		// HKDF-SHA256 can produce up to 8160 bytes.
		panic(err)
	}
	return key
}

func (f *fileBackend) load() error {
	if f.loaded {
		return nil
	}
	f.entries = make(map[string]string)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.loaded = true
		return nil
	}
	if err != nil {
		return err
	}

	plain, err := f.decrypt(data)
	if err != nil {
		return fmt.Errorf("credentials file unreadable: %w", err)
	}
	if err := json.Unmarshal(plain, &f.entries); err != nil {
		return fmt.Errorf("credentials file corrupt: %w", err)
	}
	f.loaded = true
	return nil
}

func (f *fileBackend) save() error {
	data, err := json.Marshal(f.entries)
	if err != nil {
		return err
	}
	encrypted, err := f.encrypt(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	return os.WriteFile(f.path, encrypted, 0600)
}

func (f *fileBackend) get(name string) (string, bool, error) {
	if err := f.load(); err != nil {
		return "", false, err
	}
	v, ok := f.entries[name]
	return v, ok, nil
}

func (f *fileBackend) set(name, value string) error {
	if err := f.load(); err != nil {
		return err
	}
	f.entries[name] = value
	return f.save()
}

func (f *fileBackend) remove(name string) error {
	if err := f.load(); err != nil {
		return err
	}
	if _, ok := f.entries[name]; !ok {
		return nil
	}
	delete(f.entries, name)
	return f.save()
}

func (f *fileBackend) encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := f.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (f *fileBackend) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}

	gcm, err := f.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (f *fileBackend) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
