// Package ece implements the subscriber side of Web Push message encryption
// (RFC 8291) over the aes128gcm content encoding (RFC 8188): key material
// management, payload framing, and decryption.
package ece

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	AuthSecretSize = 16
	PublicKeySize  = 65 // uncompressed P-256 point
	privateKeySize = 32
)

var (
	// ErrNoKeys is returned by ImportKeys when nothing was stored.
	ErrNoKeys = errors.New("ece: no keys stored")
	// ErrMalformedKeys is returned by ImportKeys when stored keys exist but
	// cannot be turned back into a usable key pair.
	ErrMalformedKeys = errors.New("ece: malformed stored keys")
)

// KeyMaterial is the subscriber's ECDH key pair plus the shared auth secret.
// PublicKey is always the 65-byte uncompressed encoding of PrivateKey's
// public half.
type KeyMaterial struct {
	AuthSecret []byte
	PublicKey  []byte
	PrivateKey *ecdh.PrivateKey
}

// ExportedKeys is the storage form of KeyMaterial. All fields are unpadded
// URL-safe base64.
type ExportedKeys struct {
	AuthSecret string `json:"authSecret"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// IsZero reports whether no field is set.
func (e ExportedKeys) IsZero() bool {
	return e.AuthSecret == "" && e.PublicKey == "" && e.PrivateKey == ""
}

// GenerateKeys creates a fresh P-256 key pair and a random auth secret.
func GenerateKeys() (*KeyMaterial, error) {
	return generateKeys(rand.Reader)
}

func generateKeys(r io.Reader) (*KeyMaterial, error) {
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("ece: generate key pair: %w", err)
	}
	auth := make([]byte, AuthSecretSize)
	if _, err := io.ReadFull(r, auth); err != nil {
		return nil, fmt.Errorf("ece: generate auth secret: %w", err)
	}
	return &KeyMaterial{
		AuthSecret: auth,
		PublicKey:  priv.PublicKey().Bytes(),
		PrivateKey: priv,
	}, nil
}

// Export encodes the key material for storage.
func (k *KeyMaterial) Export() ExportedKeys {
	return ExportedKeys{
		AuthSecret: EncodeURL(k.AuthSecret),
		PublicKey:  EncodeURL(k.PublicKey),
		PrivateKey: EncodeURL(k.PrivateKey.Bytes()),
	}
}

// ImportKeys reverses Export. It returns ErrNoKeys when e is empty and an
// error wrapping ErrMalformedKeys for anything that does not decode into a
// consistent key pair.
func ImportKeys(e ExportedKeys) (*KeyMaterial, error) {
	if e.IsZero() {
		return nil, ErrNoKeys
	}

	auth, err := DecodeURL(e.AuthSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: auth secret: %v", ErrMalformedKeys, err)
	}
	if len(auth) != AuthSecretSize {
		return nil, fmt.Errorf("%w: auth secret is %d bytes, want %d", ErrMalformedKeys, len(auth), AuthSecretSize)
	}

	pub, err := DecodeURL(e.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrMalformedKeys, err)
	}
	if len(pub) != PublicKeySize || pub[0] != 0x04 {
		return nil, fmt.Errorf("%w: public key is not an uncompressed P-256 point", ErrMalformedKeys)
	}

	d, err := DecodeURL(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrMalformedKeys, err)
	}
	if len(d) != privateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes, want %d", ErrMalformedKeys, len(d), privateKeySize)
	}
	priv, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrMalformedKeys, err)
	}

	// The scalar must produce the stored x/y halves.
	if !bytes.Equal(priv.PublicKey().Bytes(), pub) {
		return nil, fmt.Errorf("%w: private key does not match public key", ErrMalformedKeys)
	}

	return &KeyMaterial{
		AuthSecret: auth,
		PublicKey:  pub,
		PrivateKey: priv,
	}, nil
}

// P256DH returns the public key in padded standard base64.
func (k *KeyMaterial) P256DH() string { return EncodeStd(k.PublicKey) }

// Auth returns the auth secret in padded standard base64.
func (k *KeyMaterial) Auth() string { return EncodeStd(k.AuthSecret) }
