package ece

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// DefaultRecordSize is the record size written by Encrypt when none is set.
const DefaultRecordSize = 4096

// EncryptOptions controls the sender side of Encrypt. The zero value picks
// a random sender key and salt and writes an unpadded record.
type EncryptOptions struct {
	// Sender is the application server key pair. Generated when nil.
	Sender *ecdh.PrivateKey
	// Salt must be 16 bytes. Generated when nil.
	Salt []byte
	// Padding is the number of padding bytes. When positive, a length byte
	// and that many zero bytes are prepended to the plaintext. 91 and 123
	// are rejected: their length byte reads as '[' or '{', which Decrypt
	// treats as the start of unpadded JSON.
	Padding int
	// RecordSize is written into the header. Defaults to DefaultRecordSize.
	RecordSize uint32
}

// Encrypt is the sender-side inverse of Decrypt: it encrypts plaintext to
// the subscriber identified by uaPublic and authSecret and returns the
// framed payload.
func Encrypt(plaintext, uaPublic, authSecret []byte, opts EncryptOptions) (*Payload, error) {
	return encrypt(rand.Reader, plaintext, uaPublic, authSecret, opts)
}

func encrypt(r io.Reader, plaintext, uaPublic, authSecret []byte, opts EncryptOptions) (*Payload, error) {
	if opts.Padding < 0 || opts.Padding > 255 {
		return nil, fmt.Errorf("ece: padding %d out of range", opts.Padding)
	}
	if opts.Padding == '[' || opts.Padding == '{' {
		return nil, fmt.Errorf("ece: padding %d is ambiguous with a JSON plaintext", opts.Padding)
	}

	sender := opts.Sender
	if sender == nil {
		var err error
		sender, err = ecdh.P256().GenerateKey(r)
		if err != nil {
			return nil, fmt.Errorf("ece: generate sender key: %w", err)
		}
	}

	salt := opts.Salt
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(r, salt); err != nil {
			return nil, fmt.Errorf("ece: generate salt: %w", err)
		}
	}
	if len(salt) != SaltSize {
		return nil, errors.New("ece: salt must be 16 bytes")
	}

	rs := opts.RecordSize
	if rs == 0 {
		rs = DefaultRecordSize
	}

	uaKey, err := ecdh.P256().NewPublicKey(uaPublic)
	if err != nil {
		return nil, fmt.Errorf("ece: subscriber public key: %w", err)
	}
	shared, err := sender.ECDH(uaKey)
	if err != nil {
		return nil, fmt.Errorf("ece: ECDH: %w", err)
	}

	asPublic := sender.PublicKey().Bytes()
	cek, nonce, err := deriveContentKeys(shared, authSecret, uaPublic, asPublic, salt)
	if err != nil {
		return nil, fmt.Errorf("ece: %w", err)
	}

	record := make([]byte, 0, len(plaintext)+opts.Padding+2)
	if opts.Padding > 0 {
		record = append(record, byte(opts.Padding))
		record = append(record, make([]byte, opts.Padding)...)
	}
	record = append(record, plaintext...)
	record = append(record, delimiterFinal)

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("ece: aes cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, tagSize)
	if err != nil {
		return nil, fmt.Errorf("ece: aes-gcm: %w", err)
	}

	return &Payload{
		Salt:            clone(salt),
		RecordSize:      rs,
		ServerPublicKey: asPublic,
		Ciphertext:      aead.Seal(nil, nonce, record, nil),
	}, nil
}
