package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"
)

type statusCommand struct {
	Live bool `long:"live" description:"Connect to the relay before reporting"`
	JSON bool `long:"json" description:"Print status as JSON"`
}

func (cmd *statusCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if cmd.Live {
		if err := c.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	snap, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	st := c.Status()

	if cmd.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"uaid":         snap.UAID,
			"channelIds":   snap.ChannelIDs,
			"hasKeys":      snap.Keys != nil,
			"subscription": snap.Subscription,
			"live":         st,
		})
	}

	fmt.Printf("UAID:        %s\n", orNone(snap.UAID))
	fmt.Printf("Channel:     %s\n", orNone(snap.ChannelID()))
	switch {
	case snap.Keys != nil:
		fmt.Printf("Keys:        present\n")
	case snap.KeysErr != nil:
		fmt.Printf("Keys:        unreadable (%v)\n", snap.KeysErr)
	default:
		fmt.Printf("Keys:        none\n")
	}
	if sub := snap.Subscription; sub != nil {
		fmt.Printf("Endpoint:    %s\n", sub.Endpoint)
		fmt.Printf("Registered:  %v\n", sub.Registered)
		fmt.Printf("Updated:     %s\n", sub.UpdatedAt.Local().Format(time.DateTime))
	} else {
		fmt.Printf("Endpoint:    (not subscribed)\n")
	}
	fmt.Printf("Lifecycle:   %s\n", st.Lifecycle)
	fmt.Printf("Connection:  %s (relay %s, attempts %d/%d)\n",
		st.ConnectionState, st.RelayState, st.CurrentAttempts, st.MaxAttempts)
	if st.LastConnectedAt != nil {
		fmt.Printf("Connected:   %s\n", st.LastConnectedAt.Local().Format(time.DateTime))
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
