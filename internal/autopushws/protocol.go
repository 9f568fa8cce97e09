package autopushws

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is one inbound relay frame. The set of implementations is closed;
// frames the client does not understand decode to UnknownMessage.
type Message interface {
	messageType() string
}

// HelloMessage answers a hello.
type HelloMessage struct {
	Status     int
	UAID       string
	UseWebPush *bool
}

// RegisterMessage answers a register.
type RegisterMessage struct {
	Status       int
	ChannelID    string
	PushEndpoint string
}

// UnregisterMessage answers an unregister.
type UnregisterMessage struct {
	Status    int
	ChannelID string
}

// Notification is a push message delivered on a channel. Version is kept
// verbatim so the ack echoes exactly what the relay sent.
type Notification struct {
	ChannelID string
	Version   json.RawMessage
	Data      string
	Headers   map[string]any
}

// PingMessage is a relay-initiated ping; the client answers with {}.
type PingMessage struct{}

// PongMessage is the empty object the relay sends back for a client ping.
type PongMessage struct{}

// UnknownMessage carries any frame with an unrecognised messageType.
type UnknownMessage struct {
	Type string
	Raw  []byte
}

func (HelloMessage) messageType() string      { return "hello" }
func (RegisterMessage) messageType() string   { return "register" }
func (UnregisterMessage) messageType() string { return "unregister" }
func (Notification) messageType() string      { return "notification" }
func (PingMessage) messageType() string       { return "ping" }
func (PongMessage) messageType() string       { return "pong" }
func (m UnknownMessage) messageType() string  { return m.Type }

// inbound is the union of every field the relay may send.
type inbound struct {
	MessageType  string          `json:"messageType"`
	Status       int             `json:"status"`
	UAID         string          `json:"uaid"`
	UseWebPush   *bool           `json:"use_webpush"`
	ChannelID    string          `json:"channelID"`
	PushEndpoint string          `json:"pushEndpoint"`
	Version      json.RawMessage `json:"version"`
	Data         string          `json:"data"`
	Headers      map[string]any  `json:"headers"`
}

// decodeMessage classifies a text frame. An empty object is a pong; a frame
// without messageType that names a channel is a notification.
func decodeMessage(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("autopushws: decode message: %w", err)
	}
	if len(fields) == 0 {
		return PongMessage{}, nil
	}

	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("autopushws: decode message: %w", err)
	}

	typ := strings.ToLower(in.MessageType)
	if typ == "" && in.ChannelID != "" {
		typ = "notification"
	}

	switch typ {
	case "hello":
		return HelloMessage{Status: in.Status, UAID: in.UAID, UseWebPush: in.UseWebPush}, nil
	case "register":
		return RegisterMessage{Status: in.Status, ChannelID: in.ChannelID, PushEndpoint: in.PushEndpoint}, nil
	case "unregister":
		return UnregisterMessage{Status: in.Status, ChannelID: in.ChannelID}, nil
	case "notification":
		return Notification{ChannelID: in.ChannelID, Version: in.Version, Data: in.Data, Headers: in.Headers}, nil
	case "ping":
		return PingMessage{}, nil
	default:
		return UnknownMessage{Type: in.MessageType, Raw: append([]byte(nil), data...)}, nil
	}
}

// Outbound frames.

type helloRequest struct {
	MessageType string   `json:"messageType"`
	UAID        string   `json:"uaid"`
	ChannelIDs  []string `json:"channelIDs"`
	UseWebPush  bool     `json:"use_webpush"`
}

type registerRequest struct {
	MessageType string `json:"messageType"`
	ChannelID   string `json:"channelID"`
	Key         string `json:"key,omitempty"`
}

type unregisterRequest struct {
	MessageType string `json:"messageType"`
	ChannelID   string `json:"channelID"`
}

type ackUpdate struct {
	ChannelID string          `json:"channelID"`
	Version   json.RawMessage `json:"version,omitempty"`
}

type ackRequest struct {
	MessageType string      `json:"messageType"`
	Updates     []ackUpdate `json:"updates"`
}

type pingFrame struct{}
