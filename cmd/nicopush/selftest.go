package main

import (
	"fmt"

	"github.com/gwillem/nicopush-go/pkg/ece"
)

type selftestCommand struct {
	Message string `short:"m" long:"message" default:"{\"title\":\"selftest\",\"body\":\"ok\"}" description:"Plaintext to encrypt"`
	Padding int    `short:"p" long:"padding" default:"0" description:"Padding bytes to add before encrypting"`
}

// Execute encrypts a message to a fresh subscriber key, then parses and
// decrypts it the way an incoming notification is handled.
func (cmd *selftestCommand) Execute(args []string) error {
	keys, err := ece.GenerateKeys()
	if err != nil {
		return err
	}
	fmt.Printf("Subscriber p256dh: %s\n", keys.P256DH())

	payload, err := ece.Encrypt([]byte(cmd.Message), keys.PublicKey, keys.AuthSecret, ece.EncryptOptions{Padding: cmd.Padding})
	if err != nil {
		return fmt.Errorf("encrypt: %w", err)
	}
	data := ece.EncodeURL(payload.Marshal())
	fmt.Printf("Encrypted payload: %d bytes (rs=%d)\n", len(payload.Marshal()), payload.RecordSize)

	parsed, err := ece.Parse(data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	plain, err := ece.Decrypt(parsed, keys)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}
	if plain != cmd.Message {
		return fmt.Errorf("round trip mismatch: got %q", plain)
	}
	fmt.Printf("Decrypted: %s\n", plain)
	fmt.Println("OK")
	return nil
}
