package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
	"github.com/fxamacker/cbor/v2"
)

const authVersion = 1

// ErrAuthDecrypt is returned when the auth file cannot be opened with the
// configured passphrase.
var ErrAuthDecrypt = errors.New("decrypt auth state")

// authEnvelope is the on-disk format of the auth state.
type authEnvelope struct {
	Version int       `cbor:"1,keyasint"`
	SavedAt time.Time `cbor:"2,keyasint"`
	Blob    []byte    `cbor:"3,keyasint"`
}

var (
	authEncMode cbor.EncMode
	authDecMode cbor.DecMode
)

func init() {
	var err error
	authEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("state: CBOR encoder initialization failed: " + err.Error())
	}
	authDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("state: CBOR decoder initialization failed: " + err.Error())
	}
}

// AuthStore persists the opaque protocol credential blob in a single file.
// With a passphrase the file is age-encrypted to a scrypt recipient.
type AuthStore struct {
	path       string
	passphrase string
	workFactor int

	mu sync.Mutex
}

type AuthOption func(*AuthStore)

// WithPassphrase enables encryption at rest.
func WithPassphrase(p string) AuthOption {
	return func(s *AuthStore) { s.passphrase = p }
}

// WithWorkFactor sets the scrypt work factor (log2 N) used for new files.
func WithWorkFactor(logN int) AuthOption {
	return func(s *AuthStore) { s.workFactor = logN }
}

func NewAuthStore(path string, opts ...AuthOption) *AuthStore {
	s := &AuthStore{path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AuthStore) Path() string { return s.path }

// Load returns the stored blob, or nil when nothing has been saved yet.
func (s *AuthStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read auth state: %w", err)
	}

	if s.passphrase != "" {
		identity, err := age.NewScryptIdentity(s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("create scrypt identity: %w", err)
		}
		r, err := age.Decrypt(bytes.NewReader(raw), identity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthDecrypt, err)
		}
		if raw, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAuthDecrypt, err)
		}
	}

	var env authEnvelope
	if err := authDecMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode auth state: %w", err)
	}
	if env.Version != authVersion {
		return nil, fmt.Errorf("unsupported auth state version %d", env.Version)
	}
	return env.Blob, nil
}

// Save replaces the stored blob. The new file is synced before it is renamed
// over the old one and the directory is synced after, so a crash leaves
// either the old or the new state.
func (s *AuthStore) Save(_ context.Context, blob []byte) error {
	raw, err := authEncMode.Marshal(&authEnvelope{
		Version: authVersion,
		SavedAt: time.Now().UTC(),
		Blob:    blob,
	})
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}

	if s.passphrase != "" {
		if raw, err = s.encrypt(raw); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	tmp := s.path + ".tmp"
	os.Remove(tmp)
	if err := writeSynced(tmp, raw); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write auth state: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("chmod auth state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename auth state: %w", err)
	}
	if err := syncDir(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("sync auth dir: %w", err)
	}
	return nil
}

// Clear deletes the stored state. Missing state is not an error.
func (s *AuthStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove auth state: %w", err)
	}
	return nil
}

func (s *AuthStore) encrypt(plaintext []byte) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return nil, fmt.Errorf("create scrypt recipient: %w", err)
	}
	if s.workFactor > 0 {
		recipient.SetWorkFactor(s.workFactor)
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing auth state to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}
