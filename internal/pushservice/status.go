package pushservice

import (
	"time"

	"github.com/gwillem/nicopush-go/internal/autopushws"
)

// Lifecycle is the orchestrator state.
type Lifecycle int

const (
	LifecycleIdle Lifecycle = iota
	LifecycleSubscribing
	LifecycleSubscribed
	LifecycleStopped
	LifecycleReset
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleIdle:
		return "idle"
	case LifecycleSubscribing:
		return "subscribing"
	case LifecycleSubscribed:
		return "subscribed"
	case LifecycleStopped:
		return "stopped"
	case LifecycleReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Connection states reported by Status.ConnectionState.
const (
	ConnNotInitialized = "NOT_INITIALIZED"
	ConnConnected      = "CONNECTED"
	ConnDisconnected   = "DISCONNECTED"
)

// Status is a read-only view of the service for diagnostics.
type Status struct {
	Enabled         bool              `json:"enabled"`
	Lifecycle       string            `json:"lifecycle"`
	Connected       bool              `json:"connected"`
	ConnectionState string            `json:"connectionState"`
	RelayState      string            `json:"relayState"`
	UAID            string            `json:"uaid,omitempty"`
	ChannelID       string            `json:"channelId,omitempty"`
	Subscription    *SubscriptionInfo `json:"subscription,omitempty"`
	LastEvent       *ReceivedEvent    `json:"lastEvent,omitempty"`
	CurrentAttempts int               `json:"currentAttempts"`
	MaxAttempts     int               `json:"maxAttempts"`
	LastConnectedAt *time.Time        `json:"lastConnectedAt,omitempty"`
}

func (s *Service) setLifecycle(l Lifecycle) {
	s.mu.Lock()
	s.lifecycle = l
	s.mu.Unlock()
}

// Lifecycle returns the orchestrator state.
func (s *Service) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle
}

// Status returns the current diagnostics.
func (s *Service) Status() Status {
	s.mu.Lock()
	conn := s.conn
	st := Status{
		Enabled:   s.lifecycle == LifecycleSubscribing || s.lifecycle == LifecycleSubscribed,
		Lifecycle: s.lifecycle.String(),
	}
	if s.sub != nil {
		cp := *s.sub
		st.Subscription = &cp
	}
	if s.lastEvent != nil {
		cp := *s.lastEvent
		st.LastEvent = &cp
	}
	s.mu.Unlock()

	if conn == nil {
		st.ConnectionState = ConnNotInitialized
		st.RelayState = autopushws.StateNoSocket.String()
		st.MaxAttempts = autopushws.DefaultBackoff.MaxAttempts
		return st
	}

	state := conn.State()
	st.Connected = state.IsOpen()
	st.RelayState = state.String()
	st.ConnectionState = ConnDisconnected
	if st.Connected {
		st.ConnectionState = ConnConnected
	}
	sess := conn.Session()
	st.UAID = sess.UAID
	if len(sess.ChannelIDs) > 0 {
		st.ChannelID = sess.ChannelIDs[0]
	}
	st.CurrentAttempts, st.MaxAttempts = conn.ReconnectAttempts()
	if t := conn.LastConnectedAt(); !t.IsZero() {
		st.LastConnectedAt = &t
	}
	return st
}
