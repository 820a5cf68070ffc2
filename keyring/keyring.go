// Package keyring provides storage for saved privilege-escalation passwords.
// It uses the system keyring when available, falling back to an encrypted
// local file when not.
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
	"strings"
	"sync"

	gokeyring "github.com/zalando/go-keyring"
	"golang.org/x/crypto/hkdf"

	"github.com/yllada/openvpn-manager/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "openvpn-manager"
	// credentialsFile holds the encrypted fallback store.
	credentialsFile = ".credentials"
)

// Common errors returned by keyring operations.
var (
	ErrNotFound = common.ErrCredentialsNotFound
	ErrEmptyKey = errors.New("profile name cannot be empty")
)

// Store is a password store keyed by profile name.
type Store struct {
	mu         sync.Mutex
	useFile    bool
	entries    map[string]string
	filePath   string
	key        []byte
	system     systemKeyring
	loadedFile bool
}

// systemKeyring is the subset of go-keyring used here.
type systemKeyring interface {
	Set(service, user, password string) error
	Get(service, user string) (string, error)
	Delete(service, user string) error
}

type zalandoKeyring struct{}

func (zalandoKeyring) Set(service, user, password string) error {
	return gokeyring.Set(service, user, password)
}

func (zalandoKeyring) Get(service, user string) (string, error) {
	return gokeyring.Get(service, user)
}

func (zalandoKeyring) Delete(service, user string) error {
	return gokeyring.Delete(service, user)
}

var (
	defaultStore *Store
	defaultOnce  sync.Once
)

// Default returns the process-wide store, probing the system keyring on first use.
func Default() *Store {
	defaultOnce.Do(func() {
		dir, err := common.GetConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		defaultStore = New(filepath.Join(dir, credentialsFile), zalandoKeyring{})
		defaultStore.probe()
	})
	return defaultStore
}

// New creates a store that falls back to the encrypted file at path.
// A nil system keyring forces file storage.
func New(path string, system systemKeyring) *Store {
	s := &Store{
		filePath: path,
		system:   system,
		entries:  make(map[string]string),
		key:      deriveKey(),
	}
	if system == nil {
		s.useFile = true
	}
	return s
}

// probe checks whether the system keyring accepts writes.
func (s *Store) probe() {
	if s.system == nil {
		return
	}
	testKey := serviceName + "-probe"
	if err := s.system.Set(serviceName, testKey, "probe"); err != nil {
		common.LogDebug("System keyring unavailable, using encrypted file: %v", err)
		s.useFile = true
		return
	}
	_ = s.system.Delete(serviceName, testKey)
}

// deriveKey derives the file encryption key from machine-specific data.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%d", hostname, machineID(), os.Getuid())

	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(secret), []byte(serviceName), []byte("credentials-file"))
	if _, err := io.ReadFull(r, key); err != nil {
		sum := sha256.Sum256([]byte(secret))
		return sum[:]
	}
	return key
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// loadFile reads the encrypted store once. Caller holds s.mu.
func (s *Store) loadFile() {
	if s.loadedFile {
		return
	}
	s.loadedFile = true

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return
	}
	plain, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("Could not decrypt credentials file: %v", err)
		return
	}
	if err := json.Unmarshal(plain, &s.entries); err != nil {
		common.LogWarn("Could not parse credentials file: %v", err)
	}
}

// saveFile writes the encrypted store. Caller holds s.mu.
func (s *Store) saveFile() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return err
	}
	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return err
	}
	return common.WriteFileAtomic(s.filePath, encrypted, 0600)
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
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

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Set saves the password for a profile.
func (s *Store) Set(profileName, password string) error {
	if profileName == "" {
		return ErrEmptyKey
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		err := s.system.Set(serviceName, profileName, password)
		if err == nil {
			return nil
		}
		common.LogWarn("System keyring write failed, falling back to file: %v", err)
		s.useFile = true
	}

	s.loadFile()
	s.entries[profileName] = password
	return s.saveFile()
}

// Get retrieves the password for a profile.
func (s *Store) Get(profileName string) (string, error) {
	if profileName == "" {
		return "", ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		password, err := s.system.Get(serviceName, profileName)
		if err == nil {
			return password, nil
		}
		if !errors.Is(err, gokeyring.ErrNotFound) {
			common.LogDebug("System keyring read failed: %v", err)
		}
	}

	s.loadFile()
	password, ok := s.entries[profileName]
	if !ok {
		return "", ErrNotFound
	}
	return password, nil
}

// Delete removes the password for a profile. Missing entries are not an error.
func (s *Store) Delete(profileName string) error {
	if profileName == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.useFile {
		_ = s.system.Delete(serviceName, profileName)
	}

	s.loadFile()
	if _, ok := s.entries[profileName]; !ok {
		return nil
	}
	delete(s.entries, profileName)
	return s.saveFile()
}

// Exists reports whether a password is saved for a profile.
func (s *Store) Exists(profileName string) bool {
	_, err := s.Get(profileName)
	return err == nil
}
