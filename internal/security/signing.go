package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	publicKeyFile  = "ledger.pub"
	privateKeyFile = "ledger.key"
)

// KeyPair signs ledger entries.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// Save writes both keys hex-encoded into dir.
func (k *KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), []byte(hex.EncodeToString(k.Public)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(hex.EncodeToString(k.Private)), 0o600)
}

// LoadKeyPair reads a key pair previously written by Save.
func LoadKeyPair(dir string) (*KeyPair, error) {
	priv, err := readHexKey(filepath.Join(dir, privateKeyFile), ed25519.PrivateKeySize)
	if err != nil {
		return nil, err
	}
	pub, err := readHexKey(filepath.Join(dir, publicKeyFile), ed25519.PublicKeySize)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{Public: ed25519.PublicKey(pub), Private: ed25519.PrivateKey(priv)}
	if !kp.Public.Equal(kp.Private.Public()) {
		return nil, errors.New("public key does not match private key")
	}
	return kp, nil
}

// EnsureKeyPair loads the key pair from dir, generating and saving a new
// one when none exists. created reports which happened.
func EnsureKeyPair(dir string) (kp *KeyPair, created bool, err error) {
	if _, statErr := os.Stat(filepath.Join(dir, privateKeyFile)); os.IsNotExist(statErr) {
		kp, err = GenerateKeyPair()
		if err != nil {
			return nil, false, err
		}
		if err := kp.Save(dir); err != nil {
			return nil, false, fmt.Errorf("saving key pair: %w", err)
		}
		return kp, true, nil
	}
	kp, err = LoadKeyPair(dir)
	if err != nil {
		return nil, false, fmt.Errorf("loading key pair from %s: %w", dir, err)
	}
	return kp, false, nil
}

// Sign signs data and returns the hex-encoded signature.
func (k *KeyPair) Sign(data []byte) (string, error) {
	if len(k.Private) != ed25519.PrivateKeySize {
		return "", errors.New("private key is empty, cannot sign")
	}
	return hex.EncodeToString(ed25519.Sign(k.Private, data)), nil
}

// PublicHex returns the hex-encoded public key.
func (k *KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// VerifySignatureFromHex checks a hex signature against a hex public key.
func VerifySignatureFromHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("decoding public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, errors.New("invalid public key size")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decoding signature: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

func readHexKey(path string, size int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(key) != size {
		return nil, fmt.Errorf("%s: invalid key size %d", path, len(key))
	}
	return key, nil
}
