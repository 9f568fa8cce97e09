package autopushws

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HelloResult is the relay's answer to a hello.
type HelloResult struct {
	UAID       string
	Status     int
	UseWebPush bool
}

// RegisterResult is the relay's answer to a successful register.
type RegisterResult struct {
	ChannelID    string
	PushEndpoint string
}

// SendHello authenticates the socket. uaid and channelIDs identify a
// previous session to resume; pass "" and nil to request a new identity.
//
// A 409 or 410 answer clears the session and returns an error wrapping
// ErrIdentityExpired. Other non-200 statuses return a *StatusError.
func (c *Conn) SendHello(ctx context.Context, uaid string, channelIDs []string) (HelloResult, error) {
	ids := append([]string{}, channelIDs...)
	w := &helloWait{ch: make(chan helloReply, 1), channelIDs: ids}

	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return HelloResult{}, ErrNotConnected
	}
	if c.hello != nil {
		c.hello.ch <- helloReply{err: errors.New("autopushws: hello superseded")}
	}
	c.hello = w
	c.mu.Unlock()

	req := helloRequest{MessageType: "hello", UAID: uaid, ChannelIDs: ids, UseWebPush: true}
	if err := c.writeFrame(ctx, req, "HELLO"); err != nil {
		c.clearHello(w)
		return HelloResult{}, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		if r.err != nil {
			return HelloResult{}, r.err
		}
		res := HelloResult{
			UAID:       r.msg.UAID,
			Status:     r.msg.Status,
			UseWebPush: r.msg.UseWebPush != nil && *r.msg.UseWebPush,
		}
		switch r.msg.Status {
		case 200:
			return res, nil
		case 409, 410:
			return res, fmt.Errorf("%w (status %d)", ErrIdentityExpired, r.msg.Status)
		default:
			return res, &StatusError{Op: "hello", Status: r.msg.Status}
		}
	case <-timer.C:
		c.clearHello(w)
		return HelloResult{}, ErrHandshakeTimeout
	case <-ctx.Done():
		c.clearHello(w)
		return HelloResult{}, ctx.Err()
	}
}

func (c *Conn) clearHello(w *helloWait) {
	c.mu.Lock()
	if c.hello == w {
		c.hello = nil
	}
	c.mu.Unlock()
}

// RegisterChannel asks the relay for a push endpoint for channelID. key is
// the application server's public key, base64url encoded; it may be empty.
func (c *Conn) RegisterChannel(ctx context.Context, channelID, key string) (RegisterResult, error) {
	pendingKey := "register_" + channelID
	ch := make(chan registerReply, 1)

	c.mu.Lock()
	if c.ws == nil {
		c.mu.Unlock()
		return RegisterResult{}, ErrNotConnected
	}
	if _, busy := c.pending[pendingKey]; busy {
		c.mu.Unlock()
		return RegisterResult{}, fmt.Errorf("autopushws: register already pending for channel %s", channelID)
	}
	c.pending[pendingKey] = ch
	c.mu.Unlock()

	req := registerRequest{MessageType: "register", ChannelID: channelID, Key: key}
	if err := c.writeFrame(ctx, req, "REGISTER"); err != nil {
		c.clearPending(pendingKey, ch)
		return RegisterResult{}, err
	}

	timer := time.NewTimer(c.requestTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		if r.err != nil {
			return RegisterResult{}, r.err
		}
		return RegisterResult{ChannelID: r.msg.ChannelID, PushEndpoint: r.msg.PushEndpoint}, nil
	case <-timer.C:
		c.clearPending(pendingKey, ch)
		return RegisterResult{}, ErrRegistrationTimeout
	case <-ctx.Done():
		c.clearPending(pendingKey, ch)
		return RegisterResult{}, ctx.Err()
	}
}

func (c *Conn) clearPending(key string, ch chan registerReply) {
	c.mu.Lock()
	if c.pending[key] == ch {
		delete(c.pending, key)
	}
	c.mu.Unlock()
}

// UnregisterChannel tells the relay to drop channelID and forgets it
// locally. Send failures are logged, not returned.
func (c *Conn) UnregisterChannel(ctx context.Context, channelID string) {
	req := unregisterRequest{MessageType: "unregister", ChannelID: channelID}
	if err := c.writeFrame(ctx, req, "UNREGISTER"); err != nil {
		logf(c.logger, "autopush: unregister %s: %v", channelID, err)
	}
	c.mu.Lock()
	c.session.removeChannel(channelID)
	c.mu.Unlock()
}

// SendPing sends a keep-alive. It is a no-op until the socket is
// authenticated; failures are logged.
func (c *Conn) SendPing(ctx context.Context) {
	switch st := c.State(); st {
	case StateAuthenticated:
	case StateOpen:
		logf(c.logger, "autopush: cannot send PING: not authenticated")
		return
	default:
		logf(c.logger, "autopush: cannot send PING: websocket %s", st)
		return
	}
	if err := c.writeFrame(ctx, pingFrame{}, "PING"); err != nil {
		logf(c.logger, "autopush: ping failed: %v", err)
	}
}

// --- Inbound dispatch ---

func (c *Conn) handleMessage(ctx context.Context, gen uint64, msg Message) {
	switch m := msg.(type) {
	case HelloMessage:
		c.handleHello(gen, m)
	case RegisterMessage:
		c.handleRegister(gen, m)
	case UnregisterMessage:
		logf(c.logger, "autopush: unregister acknowledged: channel=%s status=%d", m.ChannelID, m.Status)
	case Notification:
		c.handleNotification(ctx, m)
	case PingMessage:
		if err := c.writeFrame(ctx, pingFrame{}, "PONG"); err != nil {
			logf(c.logger, "autopush: pong failed: %v", err)
		}
	case PongMessage:
		logf(c.logger, "autopush: PONG received, connection is alive")
	case UnknownMessage:
		logf(c.logger, "autopush: unhandled message type %q", m.Type)
	}
}

func (c *Conn) handleHello(gen uint64, m HelloMessage) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	w := c.hello
	c.hello = nil

	var confirmed *Session
	switch {
	case m.Status == 409 || m.Status == 410:
		logf(c.logger, "autopush: uaid expired (status %d), clearing identity", m.Status)
		c.session = Session{}
		if c.state == StateAuthenticated {
			c.state = StateOpen
		}
	case m.Status != 200:
		logf(c.logger, "autopush: hello failed: status %d", m.Status)
	default:
		c.session.UAID = m.UAID
		if w != nil && len(w.channelIDs) > 0 {
			c.session.ChannelIDs = append([]string(nil), w.channelIDs...)
			logf(c.logger, "autopush: restored channels: %v", c.session.ChannelIDs)
		}
		c.state = StateAuthenticated
		c.attempts = 0
		c.schedulePingLocked()
		s := c.session.clone()
		confirmed = &s
		logf(c.logger, "autopush: handshake successful, uaid=%s", m.UAID)
	}
	c.mu.Unlock()

	if confirmed != nil && c.onSession != nil {
		c.onSession(*confirmed)
	}
	if w != nil {
		w.ch <- helloReply{msg: m}
	}
}

func (c *Conn) handleRegister(gen uint64, m RegisterMessage) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	key := "register_" + m.ChannelID
	ch := c.pending[key]
	delete(c.pending, key)

	var (
		reply     registerReply
		confirmed *Session
	)
	if m.Status == 200 && m.PushEndpoint != "" {
		c.session.addChannel(m.ChannelID)
		reply.msg = m
		s := c.session.clone()
		confirmed = &s
		logf(c.logger, "autopush: registration successful: %s", m.PushEndpoint)
	} else {
		reply.err = &StatusError{Op: "register", Status: m.Status}
		logf(c.logger, "autopush: registration failed: status %d", m.Status)
	}
	c.mu.Unlock()

	if confirmed != nil && c.onSession != nil {
		c.onSession(*confirmed)
	}
	if ch != nil {
		ch <- reply
	}
}

func (c *Conn) handleNotification(ctx context.Context, m Notification) {
	logf(c.logger, "autopush: notification: channel=%s version=%s data=%d bytes",
		m.ChannelID, m.Version, len(m.Data))

	ack := ackRequest{
		MessageType: "ack",
		Updates:     []ackUpdate{{ChannelID: m.ChannelID, Version: m.Version}},
	}
	if err := c.writeFrame(ctx, ack, "ACK"); err != nil {
		logf(c.logger, "autopush: ack failed: %v", err)
	}

	if c.onNotification != nil {
		c.onNotification(m)
	}
}

func isIdentityExpired(err error) bool {
	return errors.Is(err, ErrIdentityExpired)
}
