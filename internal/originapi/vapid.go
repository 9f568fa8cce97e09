package originapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/gwillem/nicopush-go/pkg/ece"
)

const (
	// DefaultServiceWorkerURL is the origin's service worker entry script.
	DefaultServiceWorkerURL = "https://account.nicovideo.jp/sw.js"
	// DefaultKeyIndex selects the production key among the arrays embedded
	// in the main script (local, dev, prod).
	DefaultKeyIndex = 2
)

var (
	// ErrVAPIDNotFound means the scripts did not contain a usable key literal.
	ErrVAPIDNotFound = errors.New("originapi: VAPID key not found in script")
	// ErrInvalidVAPIDKey means a key was found but is not a 65-byte P-256 point.
	ErrInvalidVAPIDKey = errors.New("originapi: invalid VAPID key")
)

var (
	importScriptsRe   = regexp.MustCompile(`importScripts\(['"](.*?)['"]\)`)
	uint8ArrayRe      = regexp.MustCompile(`(?:new\s+)?Uint8Array\s*\(\s*\[([\d,\s]+)\]\s*\)`)
	registrationURLRe = regexp.MustCompile(`URL\s*:\s*["'](https://api\.push\.nicovideo\.jp[^"']+)["']`)
)

// ScriptSource scrapes the application server's VAPID key from the origin's
// service worker. The key and the registration API URL found next to it are
// cached after the first successful fetch.
type ScriptSource struct {
	transport        *Transport
	serviceWorkerURL string
	keyIndex         int

	mu              sync.Mutex
	key             []byte
	registrationURL string
}

// NewScriptSource creates a source reading swURL. An empty swURL selects
// DefaultServiceWorkerURL; a negative keyIndex selects DefaultKeyIndex.
func NewScriptSource(t *Transport, swURL string, keyIndex int) *ScriptSource {
	if swURL == "" {
		swURL = DefaultServiceWorkerURL
	}
	if keyIndex < 0 {
		keyIndex = DefaultKeyIndex
	}
	return &ScriptSource{transport: t, serviceWorkerURL: swURL, keyIndex: keyIndex}
}

// VAPIDKey returns the uncompressed 65-byte VAPID public key.
func (s *ScriptSource) VAPIDKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key != nil {
		return append([]byte(nil), s.key...), nil
	}

	logf(s.transport.logger, "vapid: fetching service worker %s", s.serviceWorkerURL)
	sw, err := s.transport.GetText(ctx, s.serviceWorkerURL)
	if err != nil {
		return nil, fmt.Errorf("originapi: fetch service worker: %w", err)
	}
	m := importScriptsRe.FindStringSubmatch(sw)
	if m == nil {
		return nil, fmt.Errorf("%w: no importScripts in service worker", ErrVAPIDNotFound)
	}
	mainURL, err := resolveURL(s.serviceWorkerURL, m[1])
	if err != nil {
		return nil, fmt.Errorf("originapi: main script URL: %w", err)
	}

	logf(s.transport.logger, "vapid: fetching main script %s", mainURL)
	script, err := s.transport.GetText(ctx, mainURL)
	if err != nil {
		return nil, fmt.Errorf("originapi: fetch main script: %w", err)
	}

	key, err := extractKey(script, s.keyIndex)
	if err != nil {
		return nil, err
	}
	s.key = key
	if m := registrationURLRe.FindStringSubmatch(script); m != nil {
		s.registrationURL = m[1]
		logf(s.transport.logger, "vapid: registration API endpoint found: %s", m[1])
	}
	logf(s.transport.logger, "vapid: key extracted: %s", ece.EncodeStd(key))
	return append([]byte(nil), key...), nil
}

// RegistrationURL returns the registration API URL found in the main
// script, or DefaultRegistrationURL if none was found yet.
func (s *ScriptSource) RegistrationURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registrationURL != "" {
		return s.registrationURL
	}
	return DefaultRegistrationURL
}

// extractKey collects every Uint8Array literal in script and decodes the
// one at index, falling back to the last literal when there are fewer.
func extractKey(script string, index int) ([]byte, error) {
	matches := uint8ArrayRe.FindAllStringSubmatch(script, -1)
	if len(matches) == 0 {
		return nil, ErrVAPIDNotFound
	}
	m := matches[len(matches)-1]
	if index < len(matches) {
		m = matches[index]
	}

	var key []byte
	for _, field := range strings.Split(m[1], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.Atoi(field)
		if err != nil || n > 255 {
			return nil, fmt.Errorf("%w: byte %q", ErrInvalidVAPIDKey, field)
		}
		key = append(key, byte(n))
	}
	if len(key) != ece.PublicKeySize {
		return nil, fmt.Errorf("%w: length %d, expected %d", ErrInvalidVAPIDKey, len(key), ece.PublicKeySize)
	}
	return key, nil
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// StaticKey is a VAPID key supplied by configuration.
type StaticKey []byte

// ParseStaticKey decodes a base64 (standard or URL-safe) VAPID key.
func ParseStaticKey(s string) (StaticKey, error) {
	b, err := ece.DecodeURL(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVAPIDKey, err)
	}
	return NewStaticKey(b)
}

// NewStaticKey validates a raw VAPID key: a 65-byte uncompressed P-256 point.
func NewStaticKey(b []byte) (StaticKey, error) {
	if len(b) != ece.PublicKeySize || b[0] != 0x04 {
		return nil, fmt.Errorf("%w: expected %d-byte uncompressed point", ErrInvalidVAPIDKey, ece.PublicKeySize)
	}
	return StaticKey(append([]byte(nil), b...)), nil
}

// VAPIDKey returns the configured key.
func (k StaticKey) VAPIDKey(context.Context) ([]byte, error) {
	return append([]byte(nil), k...), nil
}
