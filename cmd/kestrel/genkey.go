package main

import (
	"crypto/rand"
	"fmt"

	"github.com/spf13/cobra"
)

var genKeyRunes = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890")

// randomKey returns a cryptographically random string of n characters
// drawn from genKeyRunes.
func randomKey(n int) (string, error) {
	idx := make([]byte, n)
	if _, err := rand.Read(idx); err != nil {
		return "", err
	}

	out := make([]rune, n)
	for i, b := range idx {
		out[i] = genKeyRunes[int(b)%len(genKeyRunes)]
	}
	return string(out), nil
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a random secret suitable for a cluster handshake token",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := randomKey(64)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}
