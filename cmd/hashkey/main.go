package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const (
	// Minimum accepted key length
	minKeyLength = 16
	// Default bcrypt cost for new hashes
	defaultCost = 12
)

// secretReader reads one line of hidden input.
type secretReader func() ([]byte, error)

func readTerminal() ([]byte, error) {
	return term.ReadPassword(syscall.Stdin)
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	cost := bcryptCost(os.Getenv("BCRYPT_COST"))

	var err error
	switch command := os.Args[1]; command {
	case "hash":
		err = hashKey(os.Stdout, readTerminal, cost)
	case "generate":
		err = generateKey(os.Stdout, cost)
	case "verify":
		err = verifyKey(os.Stdout, readTerminal, os.Getenv("API_KEY_HASH"))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitizeCommand(command))
		printUsage(os.Stdout)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// Anything outside [a-zA-Z0-9_-] is replaced with '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "FFmpeg API Key Management")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: hashkey <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  hash      - Hash a key for API_KEY_HASH")
	fmt.Fprintln(w, "  generate  - Create a random key and its hash")
	fmt.Fprintln(w, "  verify    - Check a key against API_KEY_HASH")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  API_KEY_HASH - Hash checked by verify")
	fmt.Fprintf(w, "  BCRYPT_COST  - Cost for new hashes (default: %d)\n", defaultCost)
}

// bcryptCost parses BCRYPT_COST, falling back to defaultCost when it is
// unset or outside bcrypt's range.
func bcryptCost(value string) int {
	cost, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return defaultCost
	}
	return cost
}

func validateKey(key, confirm []byte) error {
	if !bytes.Equal(key, confirm) {
		return errors.New("keys do not match")
	}
	if len(bytes.TrimSpace(key)) != len(key) {
		return errors.New("key must not start or end with whitespace")
	}
	if len(key) < minKeyLength {
		return fmt.Errorf("key must be at least %d characters", minKeyLength)
	}
	return nil
}

func hashKey(out io.Writer, read secretReader, cost int) error {
	fmt.Fprint(out, "API Key: ")
	key, err := read()
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("reading key: %w", err)
	}

	fmt.Fprint(out, "Confirm API Key: ")
	confirm, err := read()
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("reading key: %w", err)
	}

	if err := validateKey(key, confirm); err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword(key, cost)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}

	fmt.Fprintf(out, "API_KEY_HASH=%s\n", hash)
	return nil
}

func generateKey(out io.Writer, cost int) error {
	key := strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}

	fmt.Fprintf(out, "API key (give to clients): %s\n", key)
	fmt.Fprintf(out, "API_KEY_HASH=%s\n", hash)
	return nil
}

func verifyKey(out io.Writer, read secretReader, hash string) error {
	if hash == "" {
		return errors.New("API_KEY_HASH is not set")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("API_KEY_HASH is not a bcrypt hash: %w", err)
	}

	fmt.Fprint(out, "API Key: ")
	key, err := read()
	fmt.Fprintln(out)
	if err != nil {
		return fmt.Errorf("reading key: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), key); err != nil {
		return errors.New("key does not match API_KEY_HASH")
	}

	fmt.Fprintln(out, "Key matches API_KEY_HASH.")
	return nil
}
