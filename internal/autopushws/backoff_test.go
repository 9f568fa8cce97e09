package autopushws

import (
	"testing"
	"time"
)

func TestDefaultBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, w := range want {
		got, ok := DefaultBackoff.Delay(i + 1)
		if !ok || got != w {
			t.Errorf("Delay(%d) = %s, %v; want %s, true", i+1, got, ok, w)
		}
	}
	if _, ok := DefaultBackoff.Delay(6); ok {
		t.Error("Delay(6) should exceed the budget")
	}
	if _, ok := DefaultBackoff.Delay(0); ok {
		t.Error("Delay(0) should be refused")
	}
}

func TestStateString(t *testing.T) {
	if StateOpen.String() != "CONNECTED" || StateDisconnected.String() != "DISCONNECTED" {
		t.Fatal("unexpected state names")
	}
	if !StateAuthenticated.IsOpen() || StateClosing.IsOpen() {
		t.Fatal("IsOpen mismatch")
	}
}

func TestSessionChannels(t *testing.T) {
	var s Session
	s.addChannel("a")
	s.addChannel("b")
	s.addChannel("a")
	if len(s.ChannelIDs) != 2 {
		t.Fatalf("channels = %v", s.ChannelIDs)
	}
	c := s.clone()
	s.removeChannel("a")
	if len(s.ChannelIDs) != 1 || s.ChannelIDs[0] != "b" {
		t.Fatalf("after remove = %v", s.ChannelIDs)
	}
	if len(c.ChannelIDs) != 2 || c.ChannelIDs[0] != "a" {
		t.Fatalf("clone aliased original: %v", c.ChannelIDs)
	}
}
