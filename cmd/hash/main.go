// Package main bcrypt-hashes a password read from stdin with the same cost the
// server uses. It is used to seed or repair account rows by hand without
// running the registration flow.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/vaultplay/storefront-auth/internal/auth"
)

func main() {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("failed to read password from stdin: %v", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		log.Fatal("empty password")
	}

	hash, err := auth.Passwords.Hash(password)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}
	fmt.Println(hash)
}
