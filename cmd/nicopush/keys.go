package main

import (
	"context"
	"fmt"
)

type keysCommand struct{}

func (cmd *keysCommand) Execute(args []string) error {
	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	p256dh, auth, err := c.Keys(context.Background())
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}
	fmt.Printf("p256dh: %s\n", p256dh)
	fmt.Printf("auth:   %s\n", auth)
	return nil
}
