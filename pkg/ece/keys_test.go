package ece

import (
	"bytes"
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"testing"
)

func TestGenerateKeys(t *testing.T) {
	k, err := GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	if len(k.AuthSecret) != AuthSecretSize {
		t.Fatalf("auth secret: got %d bytes", len(k.AuthSecret))
	}
	if len(k.PublicKey) != PublicKeySize || k.PublicKey[0] != 0x04 {
		t.Fatalf("public key: len=%d first=%#x", len(k.PublicKey), k.PublicKey[0])
	}
	if !bytes.Equal(k.PrivateKey.PublicKey().Bytes(), k.PublicKey) {
		t.Fatal("public key does not belong to private key")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	orig, err := GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	peer, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ImportKeys(orig.Export())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.AuthSecret, orig.AuthSecret) {
		t.Fatal("auth secret mismatch")
	}
	if !bytes.Equal(got.PublicKey, orig.PublicKey) {
		t.Fatal("public key mismatch")
	}

	want, err := orig.PrivateKey.ECDH(peer.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	have, err := got.PrivateKey.ECDH(peer.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(have, want) {
		t.Fatal("imported private key derives a different shared secret")
	}
}

func TestImportKeysEmptyIsNoKeys(t *testing.T) {
	_, err := ImportKeys(ExportedKeys{})
	if !errors.Is(err, ErrNoKeys) {
		t.Fatalf("got %v, want ErrNoKeys", err)
	}
	if errors.Is(err, ErrMalformedKeys) {
		t.Fatal("empty keys must not be reported as malformed")
	}
}

func TestImportKeysMalformed(t *testing.T) {
	good, err := GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	other, err := GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	exp := good.Export()

	tests := []struct {
		name   string
		mutate func(*ExportedKeys)
	}{
		{"bad base64", func(e *ExportedKeys) { e.PrivateKey = "!!!" }},
		{"short auth", func(e *ExportedKeys) { e.AuthSecret = EncodeURL([]byte{1, 2, 3}) }},
		{"missing public", func(e *ExportedKeys) { e.PublicKey = "" }},
		{"compressed public", func(e *ExportedKeys) { e.PublicKey = EncodeURL(append([]byte{0x02}, good.PublicKey[1:33]...)) }},
		{"short private", func(e *ExportedKeys) { e.PrivateKey = EncodeURL(make([]byte, 31)) }},
		{"zero scalar", func(e *ExportedKeys) { e.PrivateKey = EncodeURL(make([]byte, 32)) }},
		{"mismatched pair", func(e *ExportedKeys) { e.PublicKey = other.Export().PublicKey }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := exp
			tt.mutate(&e)
			_, err := ImportKeys(e)
			if !errors.Is(err, ErrMalformedKeys) {
				t.Fatalf("got %v, want ErrMalformedKeys", err)
			}
		})
	}
}

func TestStandardBase64Accessors(t *testing.T) {
	k, err := GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	// 65 bytes -> 88 chars with one '=' pad; 16 bytes -> 24 chars with "==".
	if p := k.P256DH(); len(p) != 88 || p[87] != '=' {
		t.Fatalf("p256dh: %q", p)
	}
	if a := k.Auth(); len(a) != 24 || a[22:] != "==" {
		t.Fatalf("auth: %q", a)
	}
}
