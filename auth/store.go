package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"go.uber.org/zap"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
	"github.com/teranos/ghostline/settings"
)

// CredentialsFile is the name of the encrypted file inside the config dir.
const CredentialsFile = "secure-credentials.dat"

// AccessToken is a short-lived API token and its expiry in unix seconds.
type AccessToken struct {
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// Valid reports whether the token is set and not expired at now.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Token != "" && now.Before(time.Unix(t.ExpiresAt, 0))
}

// Credentials are the secrets the chat backend needs.
type Credentials struct {
	DeviceCode  string      `json:"device_code,omitempty"`
	PAT         string      `json:"pat,omitempty"`
	AccessToken AccessToken `json:"access_token"`
}

// IsEmpty reports whether nothing is stored.
func (c Credentials) IsEmpty() bool {
	return c.DeviceCode == "" && c.PAT == "" && c.AccessToken.Token == ""
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Dir holds the credentials file. Defaults to the settings directory.
	Dir    string
	Logger *zap.SugaredLogger
	// Machine overrides MachineInfo for key derivation.
	Machine string
}

// Store keeps Credentials encrypted at rest with a key derived from the
// machine identity. The key stays in locked memory for the lifetime of the
// Store.
type Store struct {
	mu      sync.Mutex
	path    string
	machine string
	key     *memguard.LockedBuffer
	logger  *zap.SugaredLogger
}

// NewStore derives the key and returns a store for cfg.Dir.
func NewStore(cfg StoreConfig) (*Store, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = settings.Dir()
	}
	machine := cfg.Machine
	if machine == "" {
		machine = MachineInfo()
	}

	raw, err := deriveKey(machine)
	if err != nil {
		return nil, err
	}

	return &Store{
		path:    filepath.Join(dir, CredentialsFile),
		machine: machine,
		// wipes raw
		key:    memguard.NewBufferFromBytes(raw),
		logger: logger.Or(cfg.Logger).With(logger.FieldComponent, "credentials"),
	}, nil
}

// Path returns the credentials file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored credentials. A missing file yields empty
// credentials. Data that no known key decrypts is deleted and also yields
// empty credentials.
func (s *Store) Load() (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Credentials{}, nil
	}
	if err != nil {
		return Credentials{}, errors.Wrapf(err, "failed to read %s", s.path)
	}

	creds, err := s.open(s.key.Bytes(), string(data))
	if err == nil {
		return creds, nil
	}
	s.logger.Debugw("Current key failed, trying legacy key", logger.FieldError, err)

	creds, err = s.open(legacyKey(s.machine), string(data))
	if err == nil {
		// re-encrypt under the current key
		if err := s.saveLocked(creds); err != nil {
			s.logger.Warnw("Failed to migrate credentials to current key", logger.FieldError, err)
		}
		return creds, nil
	}

	s.logger.Warnw("Credentials could not be decrypted, clearing them",
		logger.FieldPath, s.path,
		logger.FieldError, err)
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return Credentials{}, errors.Wrap(err, "failed to delete corrupted credentials")
	}
	return Credentials{}, nil
}

// Save encrypts and writes creds with owner-only permissions.
func (s *Store) Save(creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(creds)
}

func (s *Store) saveLocked(creds Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "failed to encode credentials")
	}
	sealed, err := encrypt(s.key.Bytes(), plain)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), settings.DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create credentials directory")
	}
	if err := os.WriteFile(s.path, []byte(sealed), 0600); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}
	s.logger.Debugw("Credentials stored", logger.FieldPath, s.path)
	return nil
}

// Update loads, applies fn and saves in one step.
func (s *Store) Update(fn func(*Credentials)) error {
	creds, err := s.Load()
	if err != nil {
		return err
	}
	fn(&creds)
	return s.Save(creds)
}

// Delete removes the credentials file.
func (s *Store) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete credentials")
	}
	return nil
}

// Close wipes the key. The store is unusable afterwards.
func (s *Store) Close() {
	s.key.Destroy()
}

func (s *Store) open(key []byte, data string) (Credentials, error) {
	plain, err := decrypt(key, data)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, errors.Wrap(ErrDecrypt, "decrypted data is not credentials")
	}
	return creds, nil
}
