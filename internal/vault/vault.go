// Package vault is the sole owner of credential ciphertext. Nothing else in
// this repository reads or writes the files under credentials/.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/kiteflow/trader/internal/brokererr"
	"github.com/kiteflow/trader/internal/domain"

	"github.com/rs/zerolog"
)

const (
	pbkdf2Iterations = 200_000
	keyLen           = 32 // AES-256
	saltLen          = 16
)

// Vault is a symmetric-encrypted, file-backed store for per-broker
// credentials, guarded by a process-wide mutex per spec's concurrency model.
type Vault struct {
	mu        sync.Mutex
	dir       string
	masterKey []byte
	log       zerolog.Logger
}

type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// New creates a Vault rooted at dir/credentials, deriving nothing yet — the
// master key material is supplied verbatim and stretched per-file with a
// random salt so two files never share a derived key.
func New(dataDir, masterKeyMaterial string, log zerolog.Logger) (*Vault, error) {
	if masterKeyMaterial == "" {
		return nil, fmt.Errorf("vault: master key material required")
	}
	dir := filepath.Join(dataDir, "credentials")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: create dir: %w", err)
	}
	return &Vault{
		dir:       dir,
		masterKey: []byte(masterKeyMaterial),
		log:       log.With().Str("component", "vault").Logger(),
	}, nil
}

func (v *Vault) path(broker string) string {
	return filepath.Join(v.dir, broker+".enc")
}

// Save atomically encrypts and writes credential to disk for broker.
func (v *Vault) Save(broker string, credential domain.Credential) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	plaintext, err := json.Marshal(credential)
	if err != nil {
		return fmt.Errorf("vault: marshal: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("vault: salt: %w", err)
	}
	key := pbkdf2.Key(v.masterKey, salt, pbkdf2Iterations, keyLen, sha3.New256)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("vault: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("vault: gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("vault: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	env := envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}
	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("vault: marshal envelope: %w", err)
	}

	if err := atomicWrite(v.path(broker), encoded); err != nil {
		return err
	}
	v.log.Info().Str("broker", broker).Interface("presence", credential.Redacted()).Msg("credential saved")
	return nil
}

// Load decrypts and returns the credential for broker, or brokererr.ErrNotFound.
func (v *Vault) Load(broker string) (domain.Credential, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	raw, err := os.ReadFile(v.path(broker))
	if errors.Is(err, os.ErrNotExist) {
		return domain.Credential{}, brokererr.ErrNotFound
	}
	if err != nil {
		return domain.Credential{}, fmt.Errorf("vault: read: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", brokererr.ErrDecryptFailed, err)
	}

	key := pbkdf2.Key(v.masterKey, env.Salt, pbkdf2Iterations, keyLen, sha3.New256)
	block, err := aes.NewCipher(key)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("vault: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("vault: gcm: %w", err)
	}
	if len(env.Nonce) != gcm.NonceSize() {
		v.log.Error().Str("broker", broker).Msg("credential envelope has a malformed nonce")
		return domain.Credential{}, brokererr.ErrDecryptFailed
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		v.log.Error().Str("broker", broker).Msg("credential ciphertext failed to authenticate")
		return domain.Credential{}, brokererr.ErrDecryptFailed
	}

	var cred domain.Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", brokererr.ErrDecryptFailed, err)
	}
	return cred, nil
}

// Delete removes the persisted credential for broker, if any.
func (v *Vault) Delete(broker string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	err := os.Remove(v.path(broker))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: delete: %w", err)
	}
	return nil
}

// List returns the broker names with a persisted credential file.
func (v *Vault) List() ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries, err := os.ReadDir(v.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("vault: list: %w", err)
	}
	var brokers []string
	for _, e := range entries {
		name := e.Name()
		const suffix = ".enc"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			brokers = append(brokers, name[:len(name)-len(suffix)])
		}
	}
	return brokers, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("vault: write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vault: rename: %w", err)
	}
	return nil
}
