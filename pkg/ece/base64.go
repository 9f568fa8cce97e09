package ece

import (
	"encoding/base64"
	"strings"
)

// EncodeURL encodes b as unpadded URL-safe base64, the form used by the
// relay for payloads and by the store for exported keys.
func EncodeURL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeURL decodes URL-safe base64 with or without padding. Standard
// alphabet characters are accepted too, since some senders mix them.
func DecodeURL(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

// EncodeStd encodes b as padded standard base64. The origin's registration
// API expects p256dh and auth in this form.
func EncodeStd(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
