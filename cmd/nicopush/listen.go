package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"golang.org/x/term"

	"github.com/gwillem/nicopush-go"
)

type listenCommand struct {
	N    int  `short:"n" description:"Maximum number of notifications to receive (0 = unlimited)" default:"0"`
	JSON bool `long:"json" description:"Print one JSON object per line (default when stdout is not a terminal)"`
}

type eventLine struct {
	ReceivedAt time.Time `json:"receivedAt"`
	nicopush.Event
}

func (cmd *listenCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	events := c.Events(ctx)
	if err := c.Start(ctx); err != nil {
		if !errors.Is(err, nicopush.ErrRemoteRegistrationFailed) {
			return err
		}
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		fmt.Fprintln(os.Stderr, "Connected to the relay, but niconico does not know this endpoint yet.")
	}

	asJSON := cmd.JSON || !term.IsTerminal(int(os.Stdout.Fd()))
	if !asJSON {
		st := c.Status()
		fmt.Printf("Subscribed (uaid=%s channel=%s)\n", st.UAID, st.ChannelID)
		fmt.Println("Listening for notifications... (Ctrl+C to stop)")
	}

	count := 0
	for ev := range events {
		if err := printEvent(os.Stdout, ev, time.Now(), asJSON); err != nil {
			return err
		}
		count++
		if cmd.N > 0 && count >= cmd.N {
			break
		}
	}
	return nil
}

func printEvent(w io.Writer, ev nicopush.Event, at time.Time, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(eventLine{ReceivedAt: at.UTC(), Event: ev})
	}
	_, err := fmt.Fprintf(w, "[%s] %s: %s\n", at.Format("2006-01-02 15:04:05"), ev.Title, ev.Body)
	if err == nil && ev.OnClickURL != "" {
		_, err = fmt.Fprintf(w, "    %s\n", ev.OnClickURL)
	}
	return err
}
