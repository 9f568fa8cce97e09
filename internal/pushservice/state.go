package pushservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gwillem/nicopush-go/pkg/ece"
)

// Storage keys.
const (
	keyKeys         = "pushKeys"
	keySubscription = "pushSubscription"
	keyUAID         = "pushUaid"
	keyChannelIDs   = "pushChannelIds"
)

var allKeys = []string{keyKeys, keySubscription, keyUAID, keyChannelIDs}

// SubscriptionKeys are the subscriber's public key and auth secret in
// standard base64, the encoding the origin's registration API expects.
type SubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// SubscriptionInfo describes the push subscription registered with the relay.
// Registered becomes true only after the origin accepted the endpoint.
type SubscriptionInfo struct {
	Endpoint       string           `json:"endpoint"`
	ExpirationTime *time.Time       `json:"expirationTime"`
	Keys           SubscriptionKeys `json:"keys"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	Registered     bool             `json:"registered"`
}

// Snapshot is the persisted subscription state.
type Snapshot struct {
	Keys         *ece.KeyMaterial
	KeysErr      error // set when stored keys exist but could not be imported
	Subscription *SubscriptionInfo
	UAID         string
	ChannelIDs   []string
}

// ChannelID returns the first persisted channel id, or "".
func (s *Snapshot) ChannelID() string {
	if len(s.ChannelIDs) == 0 {
		return ""
	}
	return s.ChannelIDs[0]
}

// loadSnapshot reads every persisted value. Values that fail to decode are
// logged and treated as absent.
func (s *Service) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	vals, err := s.store.Get(ctx, allKeys...)
	if err != nil {
		return nil, fmt.Errorf("pushservice: load state: %w", err)
	}
	snap := new(Snapshot)

	if raw, ok := vals[keyKeys]; ok {
		var exp ece.ExportedKeys
		if err := json.Unmarshal(raw, &exp); err != nil {
			snap.KeysErr = fmt.Errorf("%w: %v", ece.ErrMalformedKeys, err)
		} else if km, err := ece.ImportKeys(exp); err != nil {
			if !errors.Is(err, ece.ErrNoKeys) {
				snap.KeysErr = err
			}
		} else {
			snap.Keys = km
		}
		if snap.KeysErr != nil {
			logf(s.logger, "failed to restore crypto keys: %v", snap.KeysErr)
		}
	}

	if raw, ok := vals[keySubscription]; ok {
		var sub SubscriptionInfo
		if err := json.Unmarshal(raw, &sub); err != nil {
			logf(s.logger, "ignoring unreadable subscription: %v", err)
		} else {
			snap.Subscription = &sub
		}
	}

	if raw, ok := vals[keyUAID]; ok {
		if err := json.Unmarshal(raw, &snap.UAID); err != nil {
			logf(s.logger, "ignoring unreadable uaid: %v", err)
		}
	}
	if raw, ok := vals[keyChannelIDs]; ok {
		if err := json.Unmarshal(raw, &snap.ChannelIDs); err != nil {
			logf(s.logger, "ignoring unreadable channel ids: %v", err)
		}
	}
	return snap, nil
}

// save JSON-encodes each non-nil value and writes them in one call.
func (s *Service) save(ctx context.Context, values map[string]any) error {
	enc := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("pushservice: encode %s: %w", k, err)
		}
		enc[k] = data
	}
	if err := s.store.Set(ctx, enc); err != nil {
		return fmt.Errorf("pushservice: save state: %w", err)
	}
	return nil
}

// LoadSnapshot returns the persisted state without connecting.
func (s *Service) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	return s.loadSnapshot(ctx)
}
