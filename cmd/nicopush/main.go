// Command nicopush receives niconico Web Push notifications from the
// command line.
//
// Usage:
//
//	nicopush listen      Subscribe and print incoming notifications
//	nicopush status      Show persisted and live subscription state
//	nicopush keys        Show the subscriber's p256dh and auth values
//	nicopush reset       Unsubscribe and erase all state
//	nicopush selftest    Run a local encrypt/decrypt round trip
package main

import (
	"fmt"
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/gwillem/nicopush-go"
	"github.com/gwillem/nicopush-go/internal/originapi"
)

type globalOpts struct {
	DB         string `long:"db" description:"Path to database file"`
	Store      string `long:"store" description:"Storage backend (sqlite, bolt, memory)"`
	RelayURL   string `long:"relay" description:"Autopush relay WebSocket URL"`
	Session    string `long:"session" description:"niconico user_session cookie"`
	VAPIDKey   string `long:"vapid-key" description:"Application server key (base64url), skips service worker scraping"`
	VAPIDIndex *int   `long:"vapid-index" description:"Index of the key array holding the VAPID key in the service worker"`
	Verbose    bool   `short:"v" long:"verbose" description:"Enable verbose logging"`

	Listen   listenCommand   `command:"listen" description:"Subscribe and print incoming notifications"`
	Status   statusCommand   `command:"status" description:"Show subscription state"`
	Keys     keysCommand     `command:"keys" description:"Show the subscriber's p256dh and auth values"`
	Reset    resetCommand    `command:"reset" description:"Unsubscribe and erase all state"`
	SelfTest selftestCommand `command:"selftest" description:"Run a local encrypt/decrypt round trip"`
}

var opts globalOpts

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.SubcommandsOptional = false

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// clientOpts merges environment defaults with command line flags.
func clientOpts() ([]nicopush.Option, error) {
	cfg, err := loadEnvConfig()
	if err != nil {
		return nil, err
	}
	cfg.override(opts)

	var copts []nicopush.Option
	if cfg.DB != "" {
		copts = append(copts, nicopush.WithDBPath(cfg.DB))
	}
	if cfg.Store != "" {
		copts = append(copts, nicopush.WithStoreBackend(cfg.Store))
	}
	if cfg.RelayURL != "" {
		copts = append(copts, nicopush.WithRelayURL(cfg.RelayURL))
	}
	if cfg.Session != "" {
		copts = append(copts, nicopush.WithSessionCookie(cfg.Session))
	}
	if cfg.VAPIDKey != "" {
		key, err := originapi.ParseStaticKey(cfg.VAPIDKey)
		if err != nil {
			return nil, fmt.Errorf("--vapid-key: %w", err)
		}
		copts = append(copts, nicopush.WithVAPIDKey(key))
	}
	if cfg.VAPIDIndex >= 0 {
		copts = append(copts, nicopush.WithVAPIDIndex(cfg.VAPIDIndex))
	}
	if opts.Verbose {
		copts = append(copts, nicopush.WithLogger(log.New(os.Stderr, "", log.LstdFlags)))
	}
	return copts, nil
}

func openClient() (*nicopush.Client, error) {
	copts, err := clientOpts()
	if err != nil {
		return nil, err
	}
	return nicopush.Open(copts...)
}
