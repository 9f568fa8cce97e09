package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gwillem/nicopush-go"
)

func TestEnvConfigFlagsOverride(t *testing.T) {
	t.Setenv("NICOPUSH_DB", "/tmp/env.db")
	t.Setenv("NICOPUSH_RELAY_URL", "wss://env.example")
	t.Setenv("NICOPUSH_VAPID_INDEX", "1")

	cfg, err := loadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB != "/tmp/env.db" || cfg.VAPIDIndex != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}

	idx := 0
	cfg.override(globalOpts{RelayURL: "wss://flag.example", VAPIDIndex: &idx})
	if cfg.RelayURL != "wss://flag.example" {
		t.Errorf("RelayURL = %q, flag should win", cfg.RelayURL)
	}
	if cfg.DB != "/tmp/env.db" {
		t.Errorf("DB = %q, env should survive an unset flag", cfg.DB)
	}
	if cfg.VAPIDIndex != 0 {
		t.Errorf("VAPIDIndex = %d, want 0", cfg.VAPIDIndex)
	}
}

func TestEnvConfigVAPIDIndexDefault(t *testing.T) {
	cfg, err := loadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.VAPIDIndex != -1 {
		t.Errorf("VAPIDIndex = %d, want -1 when unset", cfg.VAPIDIndex)
	}
}

func TestPrintEvent(t *testing.T) {
	ev := nicopush.Event{Title: "New video", Body: "uploaded", OnClickURL: "https://nico.ms/sm9"}
	at := time.Date(2025, 9, 14, 3, 0, 0, 0, time.UTC)

	var human bytes.Buffer
	if err := printEvent(&human, ev, at, false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(human.String(), "New video: uploaded") || !strings.Contains(human.String(), "https://nico.ms/sm9") {
		t.Errorf("human output = %q", human.String())
	}

	var line bytes.Buffer
	if err := printEvent(&line, ev, at, true); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(line.Bytes(), &got); err != nil {
		t.Fatalf("json output %q: %v", line.String(), err)
	}
	if got["title"] != "New video" || got["onClickUrl"] != "https://nico.ms/sm9" || got["receivedAt"] != "2025-09-14T03:00:00Z" {
		t.Errorf("json output = %v", got)
	}
}

func TestSelftestCommand(t *testing.T) {
	cmd := &selftestCommand{Message: `{"title":"t"}`, Padding: 4}
	if err := cmd.Execute(nil); err != nil {
		t.Fatal(err)
	}
}
