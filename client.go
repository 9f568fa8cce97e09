// Package nicopush provides a high-level client for receiving Web Push
// notifications through a Mozilla autopush relay, subscribed on behalf of
// a niconico account.
package nicopush

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"

	"github.com/gwillem/nicopush-go/internal/autopushws"
	"github.com/gwillem/nicopush-go/internal/kvstore"
	"github.com/gwillem/nicopush-go/internal/originapi"
	"github.com/gwillem/nicopush-go/internal/pushservice"
	"github.com/gwillem/nicopush-go/pkg/ece"
)

// Event is a decrypted push notification.
type Event = pushservice.Event

// Status is a diagnostics snapshot of the client.
type Status = pushservice.Status

// Snapshot is the persisted subscription state.
type Snapshot = pushservice.Snapshot

// ErrRemoteRegistrationFailed is returned by Start when the relay
// subscription succeeded but the origin did not accept the endpoint.
var ErrRemoteRegistrationFailed = pushservice.ErrRemoteRegistrationFailed

// eventBuffer is the per-subscriber queue length used by Events.
const eventBuffer = 64

// Client is the main entry point: it owns the store, the origin
// collaborators and the subscription service.
type Client struct {
	relayURL        string
	dbPath          string
	backend         string
	store           kvstore.Store
	ownsStore       bool
	session         string
	swURL           string
	vapidIndex      int
	vapidKey        []byte
	registrationURL string
	tlsConfig       *tls.Config
	logger          *log.Logger
	connOpts        []autopushws.Option

	service *pushservice.Service
}

// Option configures a Client.
type Option func(*Client)

// WithRelayURL overrides the autopush relay WebSocket URL.
func WithRelayURL(url string) Option {
	return func(c *Client) { c.relayURL = url }
}

// WithDBPath overrides the database path for persistent storage.
// If not set, defaults to a file in $XDG_DATA_HOME/nicopush-go.
func WithDBPath(path string) Option {
	return func(c *Client) { c.dbPath = path }
}

// WithStoreBackend selects the storage backend: "sqlite" (default), "bolt"
// or "memory".
func WithStoreBackend(name string) Option {
	return func(c *Client) { c.backend = name }
}

// WithStore uses an already open store. The client does not close it.
func WithStore(s kvstore.Store) Option {
	return func(c *Client) { c.store = s }
}

// WithSessionCookie sets the niconico user_session cookie used to register
// the push endpoint. Without it the relay subscription works but the origin
// is never told about it.
func WithSessionCookie(session string) Option {
	return func(c *Client) { c.session = session }
}

// WithVAPIDKey sets the application server key directly instead of scraping
// it from the service worker.
func WithVAPIDKey(key []byte) Option {
	return func(c *Client) { c.vapidKey = key }
}

// WithServiceWorkerURL overrides the service worker the VAPID key is scraped from.
func WithServiceWorkerURL(url string) Option {
	return func(c *Client) { c.swURL = url }
}

// WithVAPIDIndex selects which embedded key array holds the VAPID key.
func WithVAPIDIndex(i int) Option {
	return func(c *Client) { c.vapidIndex = i }
}

// WithRegistrationURL overrides the origin's endpoint registration API.
func WithRegistrationURL(url string) Option {
	return func(c *Client) { c.registrationURL = url }
}

// WithTLSConfig overrides the TLS configuration used for connections.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tc }
}

// WithLogger sets the logger for verbose output.
// If not set, logging is disabled.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// withConnOptions passes extra options to the relay connection.
func withConnOptions(opts ...autopushws.Option) Option {
	return func(c *Client) { c.connOpts = append(c.connOpts, opts...) }
}

// Open creates a client, opening its store. Nothing is dialed until Start.
func Open(opts ...Option) (*Client, error) {
	c := &Client{
		relayURL:   autopushws.DefaultURL,
		vapidIndex: originapi.DefaultKeyIndex,
	}
	for _, o := range opts {
		o(c)
	}

	if c.store == nil {
		s, err := kvstore.Open(c.backend, c.dbPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		c.store = s
		c.ownsStore = true
	}

	if err := c.initService(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) initService() error {
	transport := originapi.NewTransport(c.tlsConfig, c.logger)

	var (
		vapid pushservice.VAPIDSource
		urlFn func() string
	)
	if c.vapidKey != nil {
		key, err := originapi.NewStaticKey(c.vapidKey)
		if err != nil {
			return fmt.Errorf("vapid key: %w", err)
		}
		vapid = key
	} else {
		src := originapi.NewScriptSource(transport, c.swURL, c.vapidIndex)
		vapid = src
		urlFn = src.RegistrationURL
	}
	if c.registrationURL != "" {
		u := c.registrationURL
		urlFn = func() string { return u }
	}

	var registrar pushservice.Registrar
	if c.session != "" {
		registrar = originapi.NewRegistrar(transport, c.session, urlFn)
	} else {
		logf(c.logger, "no session cookie configured, endpoint will not be registered with niconico")
	}

	connOpts := c.connOpts
	if c.tlsConfig != nil {
		wsClient := &http.Client{Transport: &http.Transport{TLSClientConfig: c.tlsConfig}}
		connOpts = append([]autopushws.Option{autopushws.WithHTTPClient(wsClient)}, connOpts...)
	}

	c.service = pushservice.NewService(pushservice.Config{
		Store:       c.store,
		RelayURL:    c.relayURL,
		VAPID:       vapid,
		Registrar:   registrar,
		Logger:      c.logger,
		ConnOptions: connOpts,
	})
	return nil
}

// Start resumes or creates the push subscription and connects to the relay.
// A registration rejected by the origin returns an error wrapping
// ErrRemoteRegistrationFailed while the relay connection stays up.
func (c *Client) Start(ctx context.Context) error {
	return c.service.Start(ctx)
}

// Stop disconnects from the relay, keeping the subscription for a later Start.
func (c *Client) Stop() {
	c.service.Stop()
}

// Reset unsubscribes and erases all persisted state.
func (c *Client) Reset(ctx context.Context) error {
	return c.service.Reset(ctx)
}

// Events subscribes to decrypted notifications and returns an iterator over
// them. The subscription starts when Events is called, so call it before
// Start to catch notifications the relay flushes right after the handshake.
// The iterator may be ranged once; the subscription ends when ctx is
// cancelled or the caller breaks.
func (c *Client) Events(ctx context.Context) iter.Seq[Event] {
	ch, cancel := c.service.Events().Subscribe(eventBuffer)
	context.AfterFunc(ctx, cancel)
	return func(yield func(Event) bool) {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok || !yield(ev) {
					return
				}
			}
		}
	}
}

// Status returns live diagnostics.
func (c *Client) Status() Status {
	return c.service.Status()
}

// Snapshot returns the persisted subscription state without connecting.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	return c.service.LoadSnapshot(ctx)
}

// Keys returns the subscriber's public key and auth secret in standard
// base64, as registered with the origin.
func (c *Client) Keys(ctx context.Context) (p256dh, auth string, err error) {
	snap, err := c.service.LoadSnapshot(ctx)
	if err != nil {
		return "", "", err
	}
	if snap.Keys == nil {
		if snap.KeysErr != nil {
			return "", "", snap.KeysErr
		}
		return "", "", ece.ErrNoKeys
	}
	return snap.Keys.P256DH(), snap.Keys.Auth(), nil
}

// Close stops the service and closes the store if the client opened it.
func (c *Client) Close() error {
	if c.service != nil {
		c.service.Stop()
	}
	if c.store != nil && c.ownsStore {
		err := c.store.Close()
		c.store = nil
		if err != nil && !errors.Is(err, kvstore.ErrClosed) {
			return err
		}
	}
	return nil
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
