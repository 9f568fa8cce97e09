package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

type resetCommand struct{}

func (cmd *resetCommand) Execute(args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Reset(ctx); err != nil {
		return err
	}
	fmt.Println("Push subscription removed.")
	return nil
}
