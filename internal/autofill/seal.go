package autofill

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// MasterKeySize is the size of the on-disk master key file in bytes.
	MasterKeySize = 32

	// sealLabel is the HKDF domain separation label for the sealing key.
	sealLabel = "textinputd:autofill-seal-v1"

	// sealVersion identifies the sealed blob format. Version 1 is
	// XChaCha20-Poly1305 with a per-value random nonce.
	sealVersion = 1
)

var (
	ErrInvalidKeySize = errors.New("autofill: invalid key size")
	ErrSealVersion    = errors.New("autofill: unsupported seal version")
)

// sealer encrypts and decrypts stored values. The AEAD key is derived
// from the master key file with HKDF-SHA256, never used raw.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(masterKey []byte) (*sealer, error) {
	key, err := deriveKey(masterKey, nil, []byte(sealLabel), chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("autofill: create cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts value under a fresh random nonce. aad binds the
// ciphertext to its database row.
func (s *sealer) seal(value, aad []byte) (nonce, sealed []byte, err error) {
	nonce = make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("autofill: generate nonce: %w", err)
	}
	return nonce, s.aead.Seal(nil, nonce, value, aad), nil
}

// open decrypts a sealed value, verifying it against the same aad it
// was sealed with.
func (s *sealer) open(nonce, sealed, aad []byte) ([]byte, error) {
	if len(nonce) != s.aead.NonceSize() {
		return nil, fmt.Errorf("autofill: bad nonce size %d", len(nonce))
	}
	value, err := s.aead.Open(nil, nonce, sealed, aad)
	if err != nil {
		return nil, fmt.Errorf("autofill: unseal failed (tampered or wrong key): %w", err)
	}
	return value, nil
}

// rowAAD binds a sealed value to its row. Both parts are length
// prefixed so distinct (context, hint) pairs never produce the same
// additional data.
func rowAAD(contextID, hint string) []byte {
	aad := make([]byte, 0, 8+len(contextID)+len(hint))
	aad = binary.BigEndian.AppendUint32(aad, uint32(len(contextID)))
	aad = append(aad, contextID...)
	aad = binary.BigEndian.AppendUint32(aad, uint32(len(hint)))
	aad = append(aad, hint...)
	return aad
}

// deriveKey derives a subkey from the master key using HKDF-SHA256.
func deriveKey(masterKey, salt, info []byte, size int) ([]byte, error) {
	if len(masterKey) < MasterKeySize {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", ErrInvalidKeySize, MasterKeySize)
	}

	reader := hkdf.New(sha256.New, masterKey, salt, info)
	key := make([]byte, size)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("autofill: key derivation: %w", err)
	}
	return key, nil
}

// loadOrCreateKey reads the master key file, generating one on first
// use. The file and its directory are restricted to the owner.
func loadOrCreateKey(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("autofill: key path not configured")
	}

	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != MasterKeySize {
			return nil, fmt.Errorf("%w: key file %s holds %d bytes, want %d",
				ErrInvalidKeySize, path, len(key), MasterKeySize)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("autofill: read key file: %w", err)
	}

	key = make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("autofill: generate key: %w", err)
	}
	if err := writeKeyFile(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

// writeKeyFile writes the key atomically: temp file in the same
// directory, then rename.
func writeKeyFile(path string, key []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("autofill: create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".autofill-key-*")
	if err != nil {
		return fmt.Errorf("autofill: create temp key file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(step string, err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("autofill: %s key file: %w", step, err)
	}

	if err := tmp.Chmod(0600); err != nil {
		return fail("chmod", err)
	}
	if _, err := tmp.Write(key); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("autofill: close key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("autofill: install key file: %w", err)
	}
	return nil
}

// wipe overwrites key material with zeros.
func wipe(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}
