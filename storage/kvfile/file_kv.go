package kvfile

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	apperrors "github.com/jrsteele09/go-session-client/internal/errors"
	"github.com/jrsteele09/go-session-client/storage"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	saltLength  = 16
	nonceLength = 24
	keyLength   = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var _ storage.KV = (*FileKV)(nil)

// fileContents is the on-disk layout. Salt is only present for sealed files.
type fileContents struct {
	Salt   string            `json:"salt,omitempty"`
	Values map[string]string `json:"values"`
}

// FileKV persists values in a single JSON file, rewritten atomically on every change.
type FileKV struct {
	path       string
	passphrase string

	mu      sync.Mutex
	keySalt string
	key     *[keyLength]byte
}

// Option configures a FileKV
type Option func(*FileKV)

// WithPassphrase seals every value with NaCl secretbox under a key derived from passphrase
func WithPassphrase(passphrase string) Option {
	return func(f *FileKV) {
		f.passphrase = passphrase
	}
}

// New returns a FileKV backed by path. The file is created lazily on first write.
func New(path string, options ...Option) *FileKV {
	f := &FileKV{path: path}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// PathForOrigin scopes the file to the host of baseURL, the way browser storage is
// scoped to an origin.
func PathForOrigin(folder, baseURL string) string {
	name := "default"
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		name = strings.NewReplacer(":", "_", "/", "_").Replace(u.Host)
	}
	return filepath.Join(folder, name+".credentials.json")
}

func (f *FileKV) Get(key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return "", false, err
	}
	raw, ok := contents.Values[key]
	if !ok {
		return "", false, nil
	}
	value, err := f.open(contents.Salt, raw)
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (f *FileKV) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return err
	}
	if f.passphrase != "" && contents.Salt == "" {
		salt := make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("[FileKV Set] failed to generate salt: %w", err)
		}
		contents.Salt = base64.StdEncoding.EncodeToString(salt)
	}
	sealed, err := f.seal(contents.Salt, value)
	if err != nil {
		return err
	}
	contents.Values[key] = sealed
	return f.write(contents)
}

func (f *FileKV) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	contents, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := contents.Values[key]; !ok {
		return nil
	}
	delete(contents.Values, key)
	return f.write(contents)
}

func (f *FileKV) read() (*fileContents, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return &fileContents{Values: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV read] %s: %w", f.path, err))
	}

	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV read] corrupt file %s: %w", f.path, err))
	}
	if contents.Values == nil {
		contents.Values = make(map[string]string)
	}
	return &contents, nil
}

func (f *FileKV) write(contents *fileContents) error {
	data, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return fmt.Errorf("[FileKV write] marshal: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] mkdir %s: %w", dir, err))
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] %w", err))
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] chmod: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] close: %w", err))
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return apperrors.Join(apperrors.ErrStorageUnavailable, fmt.Errorf("[FileKV write] rename: %w", err))
	}
	return nil
}

func (f *FileKV) seal(salt, value string) (string, error) {
	if f.passphrase == "" {
		return value, nil
	}
	key, err := f.deriveKey(salt)
	if err != nil {
		return "", err
	}

	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("[FileKV seal] failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (f *FileKV) open(salt, raw string) (string, error) {
	if f.passphrase == "" {
		return raw, nil
	}
	key, err := f.deriveKey(salt)
	if err != nil {
		return "", err
	}

	sealed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(sealed) < nonceLength {
		return "", apperrors.Join(apperrors.ErrStorageUnavailable, errors.New("[FileKV open] value is not sealed"))
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	plain, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, key)
	if !ok {
		return "", apperrors.Join(apperrors.ErrStorageUnavailable, errors.New("[FileKV open] wrong passphrase or tampered value"))
	}
	return string(plain), nil
}

// deriveKey caches the Argon2id key for the file's salt. Caller holds f.mu.
func (f *FileKV) deriveKey(salt string) (*[keyLength]byte, error) {
	if f.key != nil && f.keySalt == salt {
		return f.key, nil
	}
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return nil, apperrors.Join(apperrors.ErrStorageUnavailable, errors.New("[FileKV deriveKey] missing salt"))
	}

	var key [keyLength]byte
	copy(key[:], argon2.IDKey([]byte(f.passphrase), saltBytes, argonTime, argonMemory, argonThreads, keyLength))
	f.key = &key
	f.keySalt = salt
	return f.key, nil
}
