package czds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dropwatch-go/internal/core"
)

// cachedSession is the on-disk representation of a CZDS bearer token,
// encrypted at rest via the configured Encryptor.
type cachedSession struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionStore persists the bearer token between process runs so a fresh
// authentication isn't required on every invocation.
type sessionStore struct {
	path      string
	encryptor core.Encryptor
	decrypt   core.DecryptionContext
}

func newSessionStore(path string, encryptor core.Encryptor, decrypt core.DecryptionContext) *sessionStore {
	return &sessionStore{path: path, encryptor: encryptor, decrypt: decrypt}
}

// Load reads and decrypts the cached session, returning (nil, nil) if no
// cache file exists or it cannot be decrypted.
func (s *sessionStore) Load() (*cachedSession, error) {
	if s.path == "" || s.decrypt == nil {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening session cache: %w", err)
	}
	defer f.Close()

	var plain bytes.Buffer
	if err := s.decrypt.Decrypt(f, &plain); err != nil {
		return nil, nil // corrupt or re-keyed cache; caller re-authenticates
	}

	var cs cachedSession
	if err := json.Unmarshal(plain.Bytes(), &cs); err != nil {
		return nil, nil
	}
	return &cs, nil
}

// Save encrypts and writes cs to the cache path, creating parent
// directories as needed.
func (s *sessionStore) Save(cs cachedSession) error {
	if s.path == "" || s.encryptor == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session cache directory: %w", err)
	}
	plain, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshaling cached session: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating session cache file: %w", err)
	}
	defer f.Close()

	if err := s.encryptor.Encrypt(bytes.NewReader(plain), f); err != nil {
		return fmt.Errorf("encrypting session cache: %w", err)
	}
	return nil
}
