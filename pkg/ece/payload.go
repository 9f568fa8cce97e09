package ece

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	SaltSize = 16

	// salt(16) || rs(4) || idlen(1)
	headerPrefixSize = SaltSize + 4 + 1
)

// ErrPayloadParse is wrapped by every framing error returned from Parse.
var ErrPayloadParse = errors.New("ece: malformed payload")

// ParseError describes a payload that ended before a field was complete.
type ParseError struct {
	Field string
	Need  int
	Have  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ece: malformed payload: %s needs %d bytes, have %d", e.Field, e.Need, e.Have)
}

func (e *ParseError) Unwrap() error { return ErrPayloadParse }

// Payload is one aes128gcm-framed push message.
//
// Wire format: salt(16) || recordSize(4, big-endian) || keyLen(1) || serverPublicKey(keyLen) || ciphertext
type Payload struct {
	Salt            []byte
	RecordSize      uint32
	ServerPublicKey []byte
	Ciphertext      []byte
}

// Parse decodes the URL-safe base64 data field of a relay notification and
// splits it into its fields. No cryptographic validation is done here.
func Parse(data string) (*Payload, error) {
	raw, err := DecodeURL(data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrPayloadParse, err)
	}
	return ParseBytes(raw)
}

// ParseBytes splits an already decoded payload. The returned slices are
// copies and do not alias b.
func ParseBytes(b []byte) (*Payload, error) {
	if len(b) < headerPrefixSize {
		return nil, &ParseError{Field: "header", Need: headerPrefixSize, Have: len(b)}
	}
	keyLen := int(b[20])
	if len(b) < headerPrefixSize+keyLen {
		return nil, &ParseError{Field: "server public key", Need: headerPrefixSize + keyLen, Have: len(b)}
	}

	p := &Payload{
		Salt:            clone(b[:SaltSize]),
		RecordSize:      binary.BigEndian.Uint32(b[SaltSize:20]),
		ServerPublicKey: clone(b[headerPrefixSize : headerPrefixSize+keyLen]),
		Ciphertext:      clone(b[headerPrefixSize+keyLen:]),
	}
	return p, nil
}

// Marshal serializes p back to its wire format.
func (p *Payload) Marshal() []byte {
	out := make([]byte, 0, headerPrefixSize+len(p.ServerPublicKey)+len(p.Ciphertext))
	out = append(out, p.Salt...)
	out = binary.BigEndian.AppendUint32(out, p.RecordSize)
	out = append(out, byte(len(p.ServerPublicKey)))
	out = append(out, p.ServerPublicKey...)
	out = append(out, p.Ciphertext...)
	return out
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
