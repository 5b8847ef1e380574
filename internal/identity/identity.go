// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package identity manages the agent's RSA key pair. The key is the agent's
// identity: the collection server recognizes agents by their public key.
package identity

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
)

const (
	// KeyBits is the modulus size of generated identity keys.
	KeyBits = 2048

	pemType = "RSA PRIVATE KEY"
)

var ErrInvalidKeyFile = errors.New("invalid identity key file")

// Key is a loaded identity key pair.
type Key struct {
	private   *rsa.PrivateKey
	publicDER []byte
}

// FromPrivateKey wraps an existing RSA private key.
func FromPrivateKey(priv *rsa.PrivateKey) (*Key, error) {
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	return &Key{private: priv, publicDER: der}, nil
}

// Generate creates a new key of the given size.
func Generate(bits int) (*Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key: %w", err)
	}
	return FromPrivateKey(priv)
}

// Load reads a key written by Save.
func Load(path string) (*Key, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemType {
		return nil, fmt.Errorf("%w: %s: no %q block", ErrInvalidKeyFile, path, pemType)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidKeyFile, path, err)
	}
	if err := priv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidKeyFile, path, err)
	}
	return FromPrivateKey(priv)
}

// Save writes the key to path readable by the owner only. The file holds
// every private component (N, E, D, P, Q, DP, DQ, QP) as PKCS#1.
func (k *Key) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	data := pem.EncodeToMemory(&pem.Block{
		Type:  pemType,
		Bytes: x509.MarshalPKCS1PrivateKey(k.private),
	})

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return f.Close()
}

// LoadOrCreate loads the key at path, generating and persisting a new one
// when no key exists yet.
func LoadOrCreate(path string, logger logr.Logger) (*Key, error) {
	key, err := Load(path)
	if err == nil {
		logger.V(1).Info("loaded identity key", "path", path)
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	logger.Info("generating identity key", "path", path, "bits", KeyBits)
	key, err = Generate(KeyBits)
	if err != nil {
		return nil, err
	}
	if err := key.Save(path); err != nil {
		return nil, err
	}
	return key, nil
}

// PublicKey returns the base64 encoded DER SubjectPublicKeyInfo.
func (k *Key) PublicKey() string {
	return base64.StdEncoding.EncodeToString(k.publicDER)
}

// Sign returns the base64 encoded RSASSA-PKCS1-v1_5 SHA-1 signature of payload.
func (k *Key) Sign(payload []byte) (string, error) {
	digest := sha1.Sum(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a signature produced by Sign against the base64 public key
// in the form returned by PublicKey.
func Verify(publicKey string, payload []byte, signature string) error {
	der, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("failed to decode public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("public key is %T, not RSA", pub)
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", err)
	}
	digest := sha1.Sum(payload)
	return rsa.VerifyPKCS1v15(rsaPub, crypto.SHA1, digest[:], sig)
}
