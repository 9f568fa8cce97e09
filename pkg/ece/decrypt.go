package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/hkdf"
)

const (
	cekSize   = 16
	nonceSize = 12
	tagSize   = 16
	ikmSize   = 32

	delimiterRecord = 0x01
	delimiterFinal  = 0x02
)

var (
	webPushInfo = []byte("WebPush: info\x00")
	cekInfo     = []byte("Content-Encoding: aes128gcm\x00")
	nonceInfo   = []byte("Content-Encoding: nonce\x00")
)

var (
	// ErrDecryptionFailed is wrapped by every error returned from Decrypt
	// after framing was accepted: bad peer key, tag mismatch, or plaintext
	// that is not UTF-8.
	ErrDecryptionFailed = errors.New("ece: decryption failed")
	// ErrMultiRecord is returned for ciphertext that spans more than one
	// record. Only single-record payloads are supported.
	ErrMultiRecord = errors.New("ece: multi-record payloads are not supported")
)

// Decrypt derives the content encryption key for p from the subscriber's
// keys and returns the plaintext with RFC 8188 padding removed.
func Decrypt(p *Payload, keys *KeyMaterial) (string, error) {
	if keys == nil || keys.PrivateKey == nil {
		return "", fmt.Errorf("%w: no key material", ErrDecryptionFailed)
	}
	if p.RecordSize > 0 && uint64(len(p.Ciphertext)) > uint64(p.RecordSize) {
		return "", fmt.Errorf("%w: ciphertext %d bytes, record size %d", ErrMultiRecord, len(p.Ciphertext), p.RecordSize)
	}

	serverKey, err := ecdh.P256().NewPublicKey(p.ServerPublicKey)
	if err != nil {
		return "", fmt.Errorf("%w: server public key: %v", ErrDecryptionFailed, err)
	}
	shared, err := keys.PrivateKey.ECDH(serverKey)
	if err != nil {
		return "", fmt.Errorf("%w: ECDH: %v", ErrDecryptionFailed, err)
	}

	cek, nonce, err := deriveContentKeys(shared, keys.AuthSecret, keys.PublicKey, p.ServerPublicKey, p.Salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return "", fmt.Errorf("%w: aes cipher: %v", ErrDecryptionFailed, err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return "", fmt.Errorf("%w: aes-gcm: %v", ErrDecryptionFailed, err)
	}
	// Single record, so the sequence number XORed into the nonce is zero.
	plain, err := aead.Open(nil, nonce, p.Ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	out, err := unpad(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if !utf8.Valid(out) {
		return "", fmt.Errorf("%w: plaintext is not valid UTF-8", ErrDecryptionFailed)
	}
	return string(out), nil
}

// deriveContentKeys runs the RFC 8291 key schedule:
//
//	IKM   = HKDF(auth, ecdh_secret, "WebPush: info\0" || ua_public || as_public, 32)
//	CEK   = HKDF(salt, IKM, "Content-Encoding: aes128gcm\0", 16)
//	NONCE = HKDF(salt, IKM, "Content-Encoding: nonce\0", 12)
func deriveContentKeys(shared, authSecret, uaPublic, asPublic, salt []byte) (cek, nonce []byte, err error) {
	info := make([]byte, 0, len(webPushInfo)+len(uaPublic)+len(asPublic))
	info = append(info, webPushInfo...)
	info = append(info, uaPublic...)
	info = append(info, asPublic...)

	ikm, err := hkdfBytes(authSecret, shared, info, ikmSize)
	if err != nil {
		return nil, nil, fmt.Errorf("derive ikm: %w", err)
	}
	cek, err = hkdfBytes(salt, ikm, cekInfo, cekSize)
	if err != nil {
		return nil, nil, fmt.Errorf("derive cek: %w", err)
	}
	nonce, err = hkdfBytes(salt, ikm, nonceInfo, nonceSize)
	if err != nil {
		return nil, nil, fmt.Errorf("derive nonce: %w", err)
	}
	return cek, nonce, nil
}

// hkdfBytes is HKDF-SHA256 extract-then-expand. An empty salt is treated
// as HashLen zero bytes, per RFC 5869.
func hkdfBytes(salt, ikm, info []byte, length int) ([]byte, error) {
	if len(salt) == 0 {
		salt = make([]byte, sha256.Size)
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, err
	}
	return out, nil
}

// unpad strips the trailing record delimiter and the leading padding. The
// relay's senders put the padding length in the first byte unless the
// payload starts directly with JSON.
func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errors.New("decrypted data is empty")
	}
	if last := b[len(b)-1]; last == delimiterFinal || last == delimiterRecord {
		b = b[:len(b)-1]
	}
	if len(b) == 0 {
		return nil, errors.New("decrypted data has no content after trimming")
	}

	switch first := b[0]; {
	case first == '{' || first == '[':
		return b, nil
	case int(first)+1 <= len(b):
		return b[int(first)+1:], nil
	default:
		// Padding length overruns the buffer; treat it as unpadded.
		return b, nil
	}
}
