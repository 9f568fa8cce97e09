// Package pushservice owns the push subscription lifecycle: it restores or
// creates the subscriber's keys and relay identity, keeps the relay
// connection up, registers the endpoint with the origin, and turns inbound
// notifications into decoded events.
package pushservice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gwillem/nicopush-go/internal/autopushws"
	"github.com/gwillem/nicopush-go/internal/kvstore"
	"github.com/gwillem/nicopush-go/internal/originapi"
	"github.com/gwillem/nicopush-go/pkg/ece"
)

// VAPIDSource supplies the application server's public key.
type VAPIDSource interface {
	VAPIDKey(ctx context.Context) ([]byte, error)
}

// Registrar registers the subscription endpoint with the origin service.
type Registrar interface {
	Register(ctx context.Context, sub originapi.Subscription) error
	Unregister(ctx context.Context, endpoint string) error
}

// Config holds the dependencies of a Service.
type Config struct {
	Store    kvstore.Store
	RelayURL string      // defaults to autopushws.DefaultURL
	VAPID    VAPIDSource // required for subscribing
	// Registrar may be nil; the subscription then stays unregistered and
	// the next Start subscribes again.
	Registrar   Registrar
	Logger      *log.Logger
	Clock       autopushws.Clock // defaults to autopushws.SystemClock
	ConnOptions []autopushws.Option
	// NewChannelID mints channel ids. Defaults to random UUIDs.
	NewChannelID func() string
}

// Service is the subscription orchestrator. One Service owns at most one
// relay connection.
type Service struct {
	store     kvstore.Store
	relayURL  string
	vapidSrc  VAPIDSource
	registrar Registrar
	logger    *log.Logger
	clock     autopushws.Clock
	connOpts  []autopushws.Option
	newID     func() string
	events    *EventBus

	opMu sync.Mutex // serializes Start, Stop and Reset

	mu        sync.Mutex
	conn      *autopushws.Conn
	lifecycle Lifecycle
	keys      *ece.KeyMaterial
	sub       *SubscriptionInfo
	uaid      string
	vapidKey  []byte
	lastEvent *ReceivedEvent
}

// NewService creates a Service. Nothing is read or dialed until Start.
func NewService(cfg Config) *Service {
	s := &Service{
		store:     cfg.Store,
		relayURL:  cfg.RelayURL,
		vapidSrc:  cfg.VAPID,
		registrar: cfg.Registrar,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		connOpts:  cfg.ConnOptions,
		newID:     cfg.NewChannelID,
		events:    NewEventBus(cfg.Logger),
	}
	if s.relayURL == "" {
		s.relayURL = autopushws.DefaultURL
	}
	if s.clock == nil {
		s.clock = autopushws.SystemClock
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Events returns the bus decoded notifications are published to.
func (s *Service) Events() *EventBus { return s.events }

// Start resumes the persisted subscription or creates a new one. It is a
// no-op while the relay session is authenticated with a channel the origin
// has registered; any other state is started over.
//
// A persisted subscription is resumed only if the origin registration
// succeeded; if the relay rejects the stored identity, a new subscription
// is created. Handshake and registration failures are returned.
func (s *Service) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.live() {
		logf(s.logger, "already started and connected")
		return nil
	}
	logf(s.logger, "starting push service")

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.keys = snap.Keys
	s.sub = snap.Subscription
	s.uaid = snap.UAID
	s.mu.Unlock()

	if snap.Subscription != nil && snap.Subscription.Registered && snap.Keys != nil && snap.UAID != "" {
		logf(s.logger, "already subscribed, resuming uaid=%s channels=%v", snap.UAID, snap.ChannelIDs)
		s.setLifecycle(LifecycleSubscribing)
		err := s.resume(ctx, snap.UAID, snap.ChannelIDs)
		if err == nil {
			s.setLifecycle(LifecycleSubscribed)
			return nil
		}
		if !errors.Is(err, autopushws.ErrIdentityExpired) {
			s.setLifecycle(LifecycleIdle)
			return err
		}
		logf(s.logger, "stored identity expired, subscribing again")
	}

	if err := s.subscribe(ctx); err != nil {
		return err
	}
	return nil
}

// live reports whether Start has nothing to do: the relay accepted the
// handshake, a channel is registered on it, and the origin knows the endpoint.
func (s *Service) live() bool {
	s.mu.Lock()
	conn, sub := s.conn, s.sub
	s.mu.Unlock()
	if conn == nil || conn.State() != autopushws.StateAuthenticated {
		return false
	}
	if sub == nil || !sub.Registered {
		return false
	}
	return len(conn.Session().ChannelIDs) > 0
}

func (s *Service) resume(ctx context.Context, uaid string, channelIDs []string) error {
	conn := s.replaceConn()
	if err := conn.Connect(ctx); err != nil {
		conn.Disconnect(true)
		return fmt.Errorf("pushservice: connect: %w", err)
	}
	if _, err := conn.SendHello(ctx, uaid, channelIDs); err != nil {
		conn.Disconnect(true)
		return fmt.Errorf("pushservice: hello: %w", err)
	}
	return nil
}

// subscribe creates keys if needed, obtains a fresh relay identity and
// channel, registers the endpoint with the origin and persists the result.
func (s *Service) subscribe(ctx context.Context) (err error) {
	logf(s.logger, "subscribing")
	s.setLifecycle(LifecycleSubscribing)
	s.mu.Lock()
	s.sub = nil
	s.uaid = ""
	s.mu.Unlock()

	var conn *autopushws.Conn
	defer func() {
		if err == nil {
			return
		}
		var remote *RemoteRegistrationError
		if errors.As(err, &remote) {
			s.setLifecycle(LifecycleSubscribed)
			return
		}
		if conn != nil {
			conn.Disconnect(true)
		}
		s.setLifecycle(LifecycleIdle)
	}()

	vapid, err := s.vapid(ctx)
	if err != nil {
		return err
	}
	keys, err := s.ensureKeys(ctx)
	if err != nil {
		return err
	}

	conn = s.replaceConn()
	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("pushservice: connect: %w", err)
	}
	hello, err := conn.SendHello(ctx, "", nil)
	if err != nil {
		return fmt.Errorf("pushservice: hello: %w", err)
	}

	channelID := s.newID()
	logf(s.logger, "registering channel %s", channelID)
	reg, err := conn.RegisterChannel(ctx, channelID, ece.EncodeURL(vapid))
	if err != nil {
		return fmt.Errorf("pushservice: register channel: %w", err)
	}

	now := s.clock.Now()
	sub := &SubscriptionInfo{
		Endpoint:  reg.PushEndpoint,
		Keys:      SubscriptionKeys{P256dh: keys.P256DH(), Auth: keys.Auth()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	remoteErr := s.registerRemote(ctx, sub)

	s.mu.Lock()
	s.sub = sub
	s.uaid = hello.UAID
	s.mu.Unlock()
	if err := s.save(ctx, map[string]any{
		keySubscription: sub,
		keyUAID:         hello.UAID,
		keyChannelIDs:   []string{channelID},
	}); err != nil {
		return err
	}

	if remoteErr != nil {
		return remoteErr
	}
	s.setLifecycle(LifecycleSubscribed)
	logf(s.logger, "subscription completed: uaid=%s channel=%s", hello.UAID, channelID)
	return nil
}

// registerRemote delegates registration to the origin and records the
// outcome on sub.
func (s *Service) registerRemote(ctx context.Context, sub *SubscriptionInfo) error {
	if s.registrar == nil {
		logf(s.logger, "no registrar configured, endpoint not registered with origin")
		return nil
	}
	err := s.registrar.Register(ctx, originapi.Subscription{
		Endpoint: sub.Endpoint,
		Auth:     sub.Keys.Auth,
		P256dh:   sub.Keys.P256dh,
	})
	if err != nil {
		sub.Registered = false
		logf(s.logger, "origin registration failed: %v", err)
		return newRemoteRegistrationError(err)
	}
	sub.Registered = true
	sub.UpdatedAt = s.clock.Now()
	logf(s.logger, "origin registration successful")
	return nil
}

func (s *Service) vapid(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	cached := s.vapidKey
	s.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if s.vapidSrc == nil {
		return nil, errors.New("pushservice: no VAPID key source configured")
	}
	key, err := s.vapidSrc.VAPIDKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("pushservice: VAPID key: %w", err)
	}
	s.mu.Lock()
	s.vapidKey = key
	s.mu.Unlock()
	return key, nil
}

func (s *Service) ensureKeys(ctx context.Context) (*ece.KeyMaterial, error) {
	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys != nil {
		return keys, nil
	}

	keys, err := ece.GenerateKeys()
	if err != nil {
		return nil, fmt.Errorf("pushservice: %w", err)
	}
	if err := s.save(ctx, map[string]any{keyKeys: keys.Export()}); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	logf(s.logger, "generated new crypto keys")
	return keys, nil
}

// replaceConn tears down any existing connection and installs a new one.
func (s *Service) replaceConn() *autopushws.Conn {
	opts := []autopushws.Option{
		autopushws.WithLogger(s.logger),
		autopushws.WithClock(s.clock),
		autopushws.WithNotificationHandler(s.handleNotification),
		autopushws.WithSessionHandler(s.handleSession),
	}
	conn := autopushws.New(s.relayURL, append(opts, s.connOpts...)...)

	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		logf(s.logger, "clearing existing relay connection")
		old.Disconnect(true)
	}
	return conn
}

func (s *Service) currentConn() *autopushws.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Stop closes the relay connection and keeps everything persisted so a
// later Start resumes without registering again.
func (s *Service) Stop() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Disconnect(true)
		logf(s.logger, "disconnected from relay")
	}
	s.setLifecycle(LifecycleStopped)
}

// Reset unregisters the channel from the relay and the origin, disconnects,
// and erases every persisted value. Unregistration is best-effort.
func (s *Service) Reset(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	logf(s.logger, "resetting push service")

	s.mu.Lock()
	conn, sub := s.conn, s.sub
	s.conn = nil
	s.mu.Unlock()

	if sub == nil {
		if snap, err := s.loadSnapshot(ctx); err == nil {
			sub = snap.Subscription
		}
	}

	if conn != nil {
		for _, id := range conn.Session().ChannelIDs {
			conn.UnregisterChannel(ctx, id)
		}
		conn.Disconnect(true)
	}
	if sub != nil && s.registrar != nil && sub.Endpoint != "" {
		if err := s.registrar.Unregister(ctx, sub.Endpoint); err != nil {
			logf(s.logger, "origin unregistration failed: %v", err)
		}
	}

	s.mu.Lock()
	s.keys = nil
	s.sub = nil
	s.uaid = ""
	s.vapidKey = nil
	s.mu.Unlock()

	if err := s.store.Remove(ctx, allKeys...); err != nil {
		return fmt.Errorf("pushservice: erase state: %w", err)
	}
	s.setLifecycle(LifecycleReset)
	logf(s.logger, "reset completed")
	return nil
}

// handleSession mirrors the relay session into storage. A new UAID for a
// subscription the origin already knows means the relay dropped the old
// channel, so the subscription is marked unregistered.
func (s *Service) handleSession(sess autopushws.Session) {
	s.mu.Lock()
	prev := s.uaid
	s.uaid = sess.UAID
	var stale *SubscriptionInfo
	if s.sub != nil && s.sub.Registered && prev != "" && sess.UAID != prev {
		s.sub.Registered = false
		s.sub.UpdatedAt = s.clock.Now()
		cp := *s.sub
		stale = &cp
	}
	s.mu.Unlock()

	values := map[string]any{keyUAID: sess.UAID}
	if len(sess.ChannelIDs) > 0 {
		values[keyChannelIDs] = sess.ChannelIDs
	}
	if stale != nil {
		logf(s.logger, "relay assigned a new uaid (%s → %s), subscription needs re-registration", prev, sess.UAID)
		values[keySubscription] = stale
	}
	if err := s.save(context.Background(), values); err != nil {
		logf(s.logger, "persist session: %v", err)
	}
}

// handleNotification decrypts and publishes one notification. Failures are
// logged and dropped; the relay does not redeliver.
func (s *Service) handleNotification(n autopushws.Notification) {
	if n.Data == "" {
		logf(s.logger, "notification without data on channel %s", n.ChannelID)
		return
	}
	s.mu.Lock()
	keys := s.keys
	s.mu.Unlock()
	if keys == nil {
		logf(s.logger, "crypto keys not available, dropping notification")
		return
	}

	payload, err := ece.Parse(n.Data)
	if err != nil {
		logf(s.logger, "failed to parse notification: %v", err)
		return
	}
	plaintext, err := ece.Decrypt(payload, keys)
	if err != nil {
		logf(s.logger, "failed to decrypt notification: %v", err)
		return
	}
	ev, err := decodeEvent(plaintext)
	if err != nil {
		logf(s.logger, "failed to process notification: %v", err)
		return
	}

	rec := &ReceivedEvent{Event: ev, ChannelID: n.ChannelID, ReceivedAt: s.clock.Now()}
	s.mu.Lock()
	s.lastEvent = rec
	s.mu.Unlock()

	logf(s.logger, "event: %s", ev.Title)
	s.events.Publish(ev)
}

// logf logs a message if the logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
