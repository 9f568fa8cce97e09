package originapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	// DefaultRegistrationURL is the origin's push endpoint registration API.
	DefaultRegistrationURL = "https://api.push.nicovideo.jp/v1/nicopush/webpush/endpoints.json"

	destApp        = "nico_account_webpush"
	frontendID     = "8"
	accountOrigin  = "https://account.nicovideo.jp"
	requestWith    = "https://account.nicovideo.jp/my/account"
	sessionCookie  = "user_session"
	maxErrorPrefix = 200
)

// ErrNoSession means no login session cookie was configured.
var ErrNoSession = errors.New("originapi: not logged in (no user_session cookie)")

// StatusError is a non-2xx response from the origin.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > maxErrorPrefix {
		body = body[:maxErrorPrefix] + "..."
	}
	return fmt.Sprintf("originapi: status %d: %s", e.Status, body)
}

// Subscription is what the origin needs to deliver pushes: the relay
// endpoint and the subscriber's keys in standard base64.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Auth     string `json:"auth,omitempty"`
	P256dh   string `json:"p256dh,omitempty"`
}

type registrationBody struct {
	DestApp  string       `json:"destApp"`
	Endpoint Subscription `json:"endpoint"`
}

// Registrar registers push endpoints with the origin on behalf of a logged-in
// user, authenticating with the user's session cookie.
type Registrar struct {
	transport *Transport
	session   string
	url       func() string
}

// NewRegistrar creates a registrar. urlFn supplies the API URL at call time
// so a URL discovered while scraping the VAPID key is honoured; nil selects
// DefaultRegistrationURL.
func NewRegistrar(t *Transport, session string, urlFn func() string) *Registrar {
	if urlFn == nil {
		urlFn = func() string { return DefaultRegistrationURL }
	}
	return &Registrar{transport: t, session: session, url: urlFn}
}

// Register posts the subscription to the origin. A non-2xx response
// returns a *StatusError carrying the response body.
func (r *Registrar) Register(ctx context.Context, sub Subscription) error {
	logf(r.transport.logger, "origin: registering endpoint %s", sub.Endpoint)
	return r.send(ctx, http.MethodPost, sub)
}

// Unregister deletes the endpoint registration.
func (r *Registrar) Unregister(ctx context.Context, endpoint string) error {
	logf(r.transport.logger, "origin: unregistering endpoint %s", endpoint)
	return r.send(ctx, http.MethodDelete, Subscription{Endpoint: endpoint})
}

func (r *Registrar) send(ctx context.Context, method string, sub Subscription) error {
	if r.session == "" {
		return ErrNoSession
	}
	data, err := json.Marshal(registrationBody{DestApp: destApp, Endpoint: sub})
	if err != nil {
		return fmt.Errorf("originapi: marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.url(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("originapi: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-With", requestWith)
	req.Header.Set("X-Frontend-Id", frontendID)
	req.Header.Set("Origin", accountOrigin)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: r.session})

	body, status, err := r.transport.doAndRead(req)
	if err != nil {
		return fmt.Errorf("originapi: %s registration: %w", method, err)
	}
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Body: string(body)}
	}
	return nil
}
